package gateway

import (
	"encoding/json"
	"net/http"
	"strings"
	"testing"

	"pkt.systems/jovian/schema"
)

func TestEnsureDirectoriesCreatesMissingSegments(t *testing.T) {
	existing := map[string]bool{"conversations": true}
	var created []string
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/contents/", func(w http.ResponseWriter, r *http.Request) {
		p := strings.TrimPrefix(r.URL.Path, "/api/contents/")
		if existing[p] {
			_, _ = w.Write([]byte(`{"type":"directory"}`))
			return
		}
		w.WriteHeader(http.StatusNotFound)
	})
	mux.HandleFunc("PUT /api/contents/", func(w http.ResponseWriter, r *http.Request) {
		p := strings.TrimPrefix(r.URL.Path, "/api/contents/")
		existing[p] = true
		created = append(created, p)
		w.WriteHeader(http.StatusCreated)
	})
	client := testClient(t, mux)

	if err := client.EnsureDirectories(t.Context(), "conversations/c1/files"); err != nil {
		t.Fatalf("ensure directories: %v", err)
	}
	if len(created) != 2 || created[0] != "conversations/c1" || created[1] != "conversations/c1/files" {
		t.Fatalf("unexpected creates %v", created)
	}
}

func TestEnsureDirectoriesToleratesConflict(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/contents/", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	mux.HandleFunc("PUT /api/contents/", func(w http.ResponseWriter, r *http.Request) {
		// Another actor created the directory first.
		w.WriteHeader(http.StatusConflict)
	})
	client := testClient(t, mux)

	if err := client.EnsureDirectories(t.Context(), "conversations/c1"); err != nil {
		t.Fatalf("ensure directories under race: %v", err)
	}
}

func TestGetNotebookAbsent(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/contents/", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	client := testClient(t, mux)

	_, found, err := client.GetNotebook(t.Context(), "conversations/c1/notebook.ipynb")
	if err != nil {
		t.Fatalf("get notebook: %v", err)
	}
	if found {
		t.Fatalf("expected absent notebook")
	}
}

func TestPutThenGetNotebook(t *testing.T) {
	var stored contentsPayload
	mux := http.NewServeMux()
	mux.HandleFunc("PUT /api/contents/", func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&stored); err != nil {
			t.Errorf("decode put: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("GET /api/contents/", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(stored)
	})
	client := testClient(t, mux)

	notebook := schema.NewNotebook()
	notebook.Cells = append(notebook.Cells, schema.Cell{
		ID:       "cell-1",
		CellType: "code",
		Source:   "print('hi')",
		Metadata: map[string]any{},
		Outputs:  []schema.OutputRecord{schema.StreamRecord(schema.StreamStdout, "hi\n")},
	})
	if err := client.PutNotebook(t.Context(), "conversations/c1/notebook.ipynb", notebook); err != nil {
		t.Fatalf("put notebook: %v", err)
	}
	if stored.Type != "notebook" {
		t.Fatalf("expected notebook payload, got %q", stored.Type)
	}

	got, found, err := client.GetNotebook(t.Context(), "conversations/c1/notebook.ipynb")
	if err != nil {
		t.Fatalf("get notebook: %v", err)
	}
	if !found {
		t.Fatalf("expected notebook present")
	}
	if len(got.Cells) != 1 || got.Cells[0].Source != "print('hi')" {
		t.Fatalf("round trip mismatch: %+v", got)
	}
}

func TestPutFileBase64(t *testing.T) {
	var stored contentsPayload
	mux := http.NewServeMux()
	mux.HandleFunc("PUT /api/contents/", func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&stored); err != nil {
			t.Errorf("decode put: %v", err)
		}
		w.WriteHeader(http.StatusCreated)
	})
	client := testClient(t, mux)

	if err := client.PutFile(t.Context(), "conversations/c1/files/figure.png", []byte{1, 2, 3}); err != nil {
		t.Fatalf("put file: %v", err)
	}
	if stored.Type != "file" || stored.Format != "base64" {
		t.Fatalf("unexpected payload %+v", stored)
	}
	var content string
	if err := json.Unmarshal(stored.Content, &content); err != nil {
		t.Fatalf("decode content: %v", err)
	}
	if content != "AQID" {
		t.Fatalf("unexpected base64 content %q", content)
	}
}
