package schema

// Notebook is the append-only document persisted per conversation. The
// document is always fully rewritten on save, never patched.
type Notebook struct {
	Cells         []Cell         `json:"cells"`
	Metadata      map[string]any `json:"metadata"`
	NBFormat      int            `json:"nbformat"`
	NBFormatMinor int            `json:"nbformat_minor"`
}

// Cell is one executed code cell. Cell order is execution order.
type Cell struct {
	ID             string         `json:"id"`
	CellType       string         `json:"cell_type"`
	Source         string         `json:"source"`
	Metadata       map[string]any `json:"metadata"`
	Outputs        []OutputRecord `json:"outputs"`
	ExecutionCount int            `json:"execution_count"`
}

// NewNotebook returns an empty document. It is not persisted until the
// first cell is appended and saved.
func NewNotebook() Notebook {
	return Notebook{
		Cells:         []Cell{},
		Metadata:      map[string]any{},
		NBFormat:      4,
		NBFormatMinor: 5,
	}
}
