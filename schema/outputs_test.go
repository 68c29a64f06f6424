package schema

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestOutputRecordRoundTrip(t *testing.T) {
	records := []OutputRecord{
		ExecuteResultRecord("42", 3),
		DisplayDataRecord([]byte{0x89, 'P', 'N', 'G'}, "a figure"),
		StreamRecord(StreamStderr, "warning: deprecated\n"),
		ErrorRecord("ValueError", "bad input", []string{"Traceback", "ValueError: bad input"}),
	}
	data, err := json.Marshal(records)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var got []OutputRecord
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(got) != len(records) {
		t.Fatalf("expected %d records, got %d", len(records), len(got))
	}
	if got[0].Text != "42" || got[0].ExecutionCount != 3 {
		t.Fatalf("execute_result mismatch: %+v", got[0])
	}
	if string(got[1].Image) != string(records[1].Image) || got[1].Caption != "a figure" {
		t.Fatalf("display_data mismatch: %+v", got[1])
	}
	if got[2].StreamName != StreamStderr {
		t.Fatalf("stream mismatch: %+v", got[2])
	}
	if got[3].EName != "ValueError" || len(got[3].Traceback) != 2 {
		t.Fatalf("error mismatch: %+v", got[3])
	}
}

func TestOutputRecordWireShape(t *testing.T) {
	data, err := json.Marshal(StreamRecord(StreamStdout, "hi\n"))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	for _, want := range []string{`"output_type":"stream"`, `"name":"stdout"`} {
		if !strings.Contains(string(data), want) {
			t.Fatalf("wire shape missing %s: %s", want, data)
		}
	}
}

func TestNotebookSerialization(t *testing.T) {
	nb := NewNotebook()
	data, err := json.Marshal(nb)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	for _, want := range []string{`"nbformat":4`, `"cells":[]`} {
		if !strings.Contains(string(data), want) {
			t.Fatalf("notebook shape missing %s: %s", want, data)
		}
	}
}

func TestDisplayDataWithoutImageOmitsPNGEntry(t *testing.T) {
	data, err := json.Marshal(DisplayDataRecord(nil, "<pandas.DataFrame>"))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var wire map[string]any
	if err := json.Unmarshal(data, &wire); err != nil {
		t.Fatalf("unmarshal wire: %v", err)
	}
	payload, ok := wire["data"].(map[string]any)
	if !ok {
		t.Fatalf("missing data object: %s", data)
	}
	if _, present := payload["image/png"]; present {
		t.Fatalf("empty image must not be persisted: %s", data)
	}
	if payload["text/plain"] != "<pandas.DataFrame>" {
		t.Fatalf("text repr missing: %s", data)
	}
}
