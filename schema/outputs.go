package schema

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// OutputType discriminates notebook cell outputs.
type OutputType string

const (
	// OutputExecuteResult carries the plain-text result of an execution.
	OutputExecuteResult OutputType = "execute_result"
	// OutputDisplayData carries rich display payloads such as figures.
	OutputDisplayData OutputType = "display_data"
	// OutputStream carries stdout/stderr text.
	OutputStream OutputType = "stream"
	// OutputError carries a kernel-reported exception.
	OutputError OutputType = "error"
)

// StreamName names a kernel output stream.
type StreamName string

const (
	// StreamStdout is the kernel's stdout stream.
	StreamStdout StreamName = "stdout"
	// StreamStderr is the kernel's stderr stream.
	StreamStderr StreamName = "stderr"
)

// OutputRecord is one kernel output message retained verbatim for notebook
// persistence. The aggregate stdout/stderr strings on ExecResult are a
// derived view; records are the source of truth.
type OutputRecord struct {
	Type           OutputType
	Text           string
	StreamName     StreamName
	Image          []byte
	Caption        string
	ExecutionCount int
	EName          string
	EValue         string
	Traceback      []string
}

// ExecuteResultRecord builds an execute_result record.
func ExecuteResultRecord(text string, count int) OutputRecord {
	return OutputRecord{Type: OutputExecuteResult, Text: text, ExecutionCount: count}
}

// DisplayDataRecord builds a display_data record holding a PNG payload.
func DisplayDataRecord(image []byte, caption string) OutputRecord {
	return OutputRecord{Type: OutputDisplayData, Image: image, Caption: caption}
}

// StreamRecord builds a stream record.
func StreamRecord(name StreamName, text string) OutputRecord {
	return OutputRecord{Type: OutputStream, StreamName: name, Text: text}
}

// ErrorRecord builds an error record.
func ErrorRecord(ename, evalue string, traceback []string) OutputRecord {
	return OutputRecord{Type: OutputError, EName: ename, EValue: evalue, Traceback: traceback}
}

// nbformat v4 wire shapes.
type executeResultJSON struct {
	OutputType     OutputType        `json:"output_type"`
	ExecutionCount int               `json:"execution_count"`
	Data           map[string]string `json:"data"`
	Metadata       map[string]any    `json:"metadata"`
}

type displayDataJSON struct {
	OutputType OutputType        `json:"output_type"`
	Data       map[string]string `json:"data"`
	Metadata   map[string]any    `json:"metadata"`
}

type streamJSON struct {
	OutputType OutputType `json:"output_type"`
	Name       StreamName `json:"name"`
	Text       string     `json:"text"`
}

type errorJSON struct {
	OutputType OutputType `json:"output_type"`
	EName      string     `json:"ename"`
	EValue     string     `json:"evalue"`
	Traceback  []string   `json:"traceback"`
}

// MarshalJSON renders the record in the notebook cell-output format.
func (r OutputRecord) MarshalJSON() ([]byte, error) {
	switch r.Type {
	case OutputExecuteResult:
		return json.Marshal(executeResultJSON{
			OutputType:     r.Type,
			ExecutionCount: r.ExecutionCount,
			Data:           map[string]string{"text/plain": r.Text},
			Metadata:       map[string]any{},
		})
	case OutputDisplayData:
		data := map[string]string{}
		if len(r.Image) > 0 {
			data["image/png"] = base64.StdEncoding.EncodeToString(r.Image)
		}
		if r.Caption != "" {
			data["text/plain"] = r.Caption
		}
		return json.Marshal(displayDataJSON{OutputType: r.Type, Data: data, Metadata: map[string]any{}})
	case OutputStream:
		return json.Marshal(streamJSON{OutputType: r.Type, Name: r.StreamName, Text: r.Text})
	case OutputError:
		traceback := r.Traceback
		if traceback == nil {
			traceback = []string{}
		}
		return json.Marshal(errorJSON{OutputType: r.Type, EName: r.EName, EValue: r.EValue, Traceback: traceback})
	default:
		return nil, fmt.Errorf("unknown output type %q", r.Type)
	}
}

// UnmarshalJSON parses a notebook cell output back into a record.
func (r *OutputRecord) UnmarshalJSON(data []byte) error {
	var probe struct {
		OutputType OutputType `json:"output_type"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return err
	}
	switch probe.OutputType {
	case OutputExecuteResult:
		var v executeResultJSON
		if err := json.Unmarshal(data, &v); err != nil {
			return err
		}
		*r = OutputRecord{Type: v.OutputType, Text: v.Data["text/plain"], ExecutionCount: v.ExecutionCount}
		return nil
	case OutputDisplayData:
		var v displayDataJSON
		if err := json.Unmarshal(data, &v); err != nil {
			return err
		}
		image, err := base64.StdEncoding.DecodeString(v.Data["image/png"])
		if err != nil {
			return fmt.Errorf("decode image payload: %w", err)
		}
		*r = OutputRecord{Type: v.OutputType, Image: image, Caption: v.Data["text/plain"]}
		return nil
	case OutputStream:
		var v streamJSON
		if err := json.Unmarshal(data, &v); err != nil {
			return err
		}
		*r = OutputRecord{Type: v.OutputType, StreamName: v.Name, Text: v.Text}
		return nil
	case OutputError:
		var v errorJSON
		if err := json.Unmarshal(data, &v); err != nil {
			return err
		}
		*r = OutputRecord{Type: v.OutputType, EName: v.EName, EValue: v.EValue, Traceback: v.Traceback}
		return nil
	default:
		return fmt.Errorf("unknown output type %q", probe.OutputType)
	}
}

// ExecResult aggregates one execution. Outputs preserve kernel emission
// order; Stdout and Stderr are views folded from the same messages.
type ExecResult struct {
	Stdout         string
	Stderr         string
	Outputs        []OutputRecord
	ExecutionCount int
}
