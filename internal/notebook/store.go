// Package notebook reconciles and appends to the per-conversation notebook
// document. Persistence here is best-effort by design: the code already
// ran, so a store failure must never fail the overall execution.
package notebook

import (
	"context"
	"path"

	"github.com/google/uuid"

	"pkt.systems/jovian/schema"
	"pkt.systems/pslog"
)

// Contents is the notebook-server contents API surface the store needs.
// Implemented by the gateway client.
type Contents interface {
	EnsureDirectories(ctx context.Context, dir string) error
	GetNotebook(ctx context.Context, notebookPath string) (schema.Notebook, bool, error)
	PutNotebook(ctx context.Context, notebookPath string, notebook schema.Notebook) error
}

// Store reconciles notebook documents over a contents API.
type Store struct {
	contents Contents
	log      pslog.Logger
}

// NewStore constructs a notebook store.
func NewStore(contents Contents, logger pslog.Logger) *Store {
	if logger == nil {
		logger = pslog.Ctx(context.Background())
	}
	return &Store{contents: contents, log: logger}
}

// GetOrCreateDocument ensures the directory hierarchy for notebookPath
// exists and returns the document there, or a fresh empty one when absent.
// The empty document is not written until the first append and save.
func (s *Store) GetOrCreateDocument(ctx context.Context, notebookPath string) (schema.Notebook, error) {
	if err := s.contents.EnsureDirectories(ctx, path.Dir(notebookPath)); err != nil {
		return schema.Notebook{}, err
	}
	notebook, found, err := s.contents.GetNotebook(ctx, notebookPath)
	if err != nil {
		return schema.Notebook{}, err
	}
	if !found {
		s.log.Debug("initializing empty notebook", "path", notebookPath)
		return schema.NewNotebook(), nil
	}
	return notebook, nil
}

// AppendCell pushes one executed cell onto the document. Prior cells are
// never rewritten; cell order is execution order.
func AppendCell(notebook *schema.Notebook, source string, outputs []schema.OutputRecord, executionCount int) {
	if outputs == nil {
		outputs = []schema.OutputRecord{}
	}
	notebook.Cells = append(notebook.Cells, schema.Cell{
		ID:             uuid.NewString(),
		CellType:       "code",
		Source:         source,
		Metadata:       map[string]any{},
		Outputs:        outputs,
		ExecutionCount: executionCount,
	})
}

// Save persists the full document.
func (s *Store) Save(ctx context.Context, notebookPath string, notebook schema.Notebook) error {
	return s.contents.PutNotebook(ctx, notebookPath, notebook)
}

// Record appends one execution to the conversation's notebook end to end:
// reconcile, append, save. The returned error is informational; callers
// log and swallow it.
func (s *Store) Record(ctx context.Context, conversation schema.ConversationID, source string, outputs []schema.OutputRecord, executionCount int) error {
	notebookPath := schema.NotebookPath(conversation)
	notebook, err := s.GetOrCreateDocument(ctx, notebookPath)
	if err != nil {
		return err
	}
	AppendCell(&notebook, source, outputs, executionCount)
	return s.Save(ctx, notebookPath, notebook)
}
