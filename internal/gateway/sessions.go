package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"pkt.systems/jovian/internal/logx"
	"pkt.systems/jovian/schema"
)

// KernelName is the runtime started for new sessions.
const KernelName = "python3"

type createSessionRequest struct {
	Path   string           `json:"path"`
	Name   string           `json:"name"`
	Type   string           `json:"type"`
	Kernel createKernelSpec `json:"kernel"`
}

type createKernelSpec struct {
	Name string         `json:"name"`
	Env  map[string]any `json:"env,omitempty"`
}

// GetOrCreateSession reconciles the kernel session for a conversation's
// notebook path. An existing session is attached as-is, preserving kernel
// state from prior executions; otherwise a fresh kernel is started, tagged
// with the owning tenant. The lookup-then-create is not atomic against a
// true concurrent first use of the same path; callers serialize per
// conversation.
func (c *Client) GetOrCreateSession(ctx context.Context, tenant schema.TenantID, conversation schema.ConversationID) (schema.Session, error) {
	log := logx.WithConversation(ctx, tenant, conversation)
	notebookPath := schema.NotebookPath(conversation)

	resp, err := c.do(ctx, http.MethodGet, c.apiURL("sessions"), nil, map[int]bool{http.StatusOK: true})
	if err != nil {
		return schema.Session{}, err
	}
	if resp.StatusCode != http.StatusOK {
		discard(resp)
		return schema.Session{}, schema.NewError(schema.KindProtocol, fmt.Sprintf("session list returned status %d", resp.StatusCode))
	}
	var sessions []schema.Session
	if err := decodeInto(resp, &sessions); err != nil {
		return schema.Session{}, err
	}
	for _, session := range sessions {
		if session.Path == notebookPath {
			logx.WithSession(log, session.ID).Debug("attached to existing session", "kernel", session.Kernel.ID)
			return session, nil
		}
	}

	body, err := json.Marshal(createSessionRequest{
		Path: notebookPath,
		Name: schema.NotebookName,
		Type: "notebook",
		Kernel: createKernelSpec{
			Name: KernelName,
			Env:  map[string]any{"JOVIAN_TENANT": string(tenant)},
		},
	})
	if err != nil {
		return schema.Session{}, err
	}
	resp, err = c.do(ctx, http.MethodPost, c.apiURL("sessions"), body, map[int]bool{
		http.StatusOK:      true,
		http.StatusCreated: true,
	})
	if err != nil {
		return schema.Session{}, err
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		discard(resp)
		return schema.Session{}, schema.NewError(schema.KindProtocol, fmt.Sprintf("session create returned status %d", resp.StatusCode))
	}
	var session schema.Session
	if err := decodeInto(resp, &session); err != nil {
		return schema.Session{}, err
	}
	logx.WithSession(log, session.ID).Info("started kernel session", "kernel", session.Kernel.ID)
	return session, nil
}
