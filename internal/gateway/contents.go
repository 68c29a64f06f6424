package gateway

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"path"
	"strings"

	"pkt.systems/jovian/schema"
)

type contentsPayload struct {
	Type    string          `json:"type"`
	Format  string          `json:"format,omitempty"`
	Content json.RawMessage `json:"content,omitempty"`
}

// EnsureDirectories creates every missing directory segment of dir,
// tolerating concurrent creation by another actor.
func (c *Client) EnsureDirectories(ctx context.Context, dir string) error {
	dir = strings.Trim(dir, "/")
	if dir == "" {
		return nil
	}
	segments := strings.Split(dir, "/")
	current := ""
	for _, segment := range segments {
		current = path.Join(current, segment)
		resp, err := c.do(ctx, http.MethodGet, c.apiURL("contents", current), nil, map[int]bool{
			http.StatusOK:       true,
			http.StatusNotFound: true,
		})
		if err != nil {
			return err
		}
		discard(resp)
		switch resp.StatusCode {
		case http.StatusOK:
			continue
		case http.StatusNotFound:
		default:
			return schema.NewError(schema.KindProtocol, fmt.Sprintf("contents lookup returned status %d", resp.StatusCode))
		}

		body, err := json.Marshal(contentsPayload{Type: "directory"})
		if err != nil {
			return err
		}
		resp, err = c.do(ctx, http.MethodPut, c.apiURL("contents", current), body, map[int]bool{
			http.StatusOK:       true,
			http.StatusCreated:  true,
			http.StatusConflict: true,
		})
		if err != nil {
			return err
		}
		discard(resp)
		switch resp.StatusCode {
		case http.StatusOK, http.StatusCreated:
		case http.StatusConflict:
			// Created concurrently; the directory exists either way.
		default:
			return schema.NewError(schema.KindProtocol, fmt.Sprintf("directory create returned status %d", resp.StatusCode))
		}
	}
	return nil
}

// GetNotebook fetches the notebook document at the logical path. A missing
// document is reported as absent, not as an error.
func (c *Client) GetNotebook(ctx context.Context, notebookPath string) (schema.Notebook, bool, error) {
	resp, err := c.do(ctx, http.MethodGet, c.apiURL("contents", notebookPath), nil, map[int]bool{
		http.StatusOK:       true,
		http.StatusNotFound: true,
	})
	if err != nil {
		return schema.Notebook{}, false, err
	}
	switch resp.StatusCode {
	case http.StatusNotFound:
		discard(resp)
		return schema.Notebook{}, false, nil
	case http.StatusOK:
	default:
		discard(resp)
		return schema.Notebook{}, false, schema.NewError(schema.KindProtocol, fmt.Sprintf("notebook fetch returned status %d", resp.StatusCode))
	}
	var payload contentsPayload
	if err := decodeInto(resp, &payload); err != nil {
		return schema.Notebook{}, false, err
	}
	var notebook schema.Notebook
	if err := json.Unmarshal(payload.Content, &notebook); err != nil {
		return schema.Notebook{}, false, schema.WrapError(schema.KindProtocol, "decode notebook content", err)
	}
	return notebook, true, nil
}

// PutNotebook writes the full notebook document to the logical path. The
// document is always rewritten whole, never patched.
func (c *Client) PutNotebook(ctx context.Context, notebookPath string, notebook schema.Notebook) error {
	content, err := json.Marshal(notebook)
	if err != nil {
		return err
	}
	body, err := json.Marshal(contentsPayload{Type: "notebook", Content: content})
	if err != nil {
		return err
	}
	resp, err := c.do(ctx, http.MethodPut, c.apiURL("contents", notebookPath), body, map[int]bool{
		http.StatusOK:      true,
		http.StatusCreated: true,
	})
	if err != nil {
		return err
	}
	discard(resp)
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return schema.NewError(schema.KindProtocol, fmt.Sprintf("notebook save returned status %d", resp.StatusCode))
	}
	return nil
}

func encodeBase64(data []byte) string {
	return base64.StdEncoding.EncodeToString(data)
}

// PutFile writes raw bytes (base64 transport encoding) to the logical
// path. Used for generated artifacts such as figures.
func (c *Client) PutFile(ctx context.Context, filePath string, data []byte) error {
	content, err := json.Marshal(encodeBase64(data))
	if err != nil {
		return err
	}
	body, err := json.Marshal(contentsPayload{Type: "file", Format: "base64", Content: content})
	if err != nil {
		return err
	}
	resp, err := c.do(ctx, http.MethodPut, c.apiURL("contents", filePath), body, map[int]bool{
		http.StatusOK:      true,
		http.StatusCreated: true,
	})
	if err != nil {
		return err
	}
	discard(resp)
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return schema.NewError(schema.KindProtocol, fmt.Sprintf("file save returned status %d", resp.StatusCode))
	}
	return nil
}
