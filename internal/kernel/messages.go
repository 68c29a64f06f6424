// Package kernel executes code against a live notebook kernel over its
// message protocol and folds the asynchronous output stream into a
// structured result.
package kernel

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Message types seen on the kernel channels.
const (
	TypeExecuteRequest = "execute_request"
	TypeExecuteReply   = "execute_reply"
	TypeExecuteResult  = "execute_result"
	TypeDisplayData    = "display_data"
	TypeStream         = "stream"
	TypeError          = "error"
	TypeStatus         = "status"
)

// Channel names of the kernel protocol.
const (
	ChannelShell = "shell"
	ChannelIOPub = "iopub"
)

// Header identifies a message and its type.
type Header struct {
	MsgID    string `json:"msg_id"`
	MsgType  string `json:"msg_type"`
	Session  string `json:"session"`
	Username string `json:"username"`
	Date     string `json:"date"`
	Version  string `json:"version"`
}

// Message is one frame of the kernel wire protocol.
type Message struct {
	Header       Header          `json:"header"`
	ParentHeader Header          `json:"parent_header"`
	Metadata     map[string]any  `json:"metadata"`
	Content      json.RawMessage `json:"content"`
	Channel      string          `json:"channel"`
}

// protocolVersion is the kernel messaging version spoken here.
const protocolVersion = "5.3"

// NewExecuteRequest builds an execute_request frame for the shell channel.
func NewExecuteRequest(session, code string) (Message, error) {
	content, err := json.Marshal(map[string]any{
		"code":             code,
		"silent":           false,
		"store_history":    true,
		"user_expressions": map[string]any{},
		"allow_stdin":      false,
		"stop_on_error":    true,
	})
	if err != nil {
		return Message{}, err
	}
	return Message{
		Header: Header{
			MsgID:    uuid.NewString(),
			MsgType:  TypeExecuteRequest,
			Session:  session,
			Username: "jovian",
			Date:     time.Now().UTC().Format(time.RFC3339),
			Version:  protocolVersion,
		},
		Metadata: map[string]any{},
		Content:  content,
		Channel:  ChannelShell,
	}, nil
}

// ExecuteResultContent is the payload of execute_result messages.
type ExecuteResultContent struct {
	ExecutionCount int               `json:"execution_count"`
	Data           map[string]string `json:"data"`
}

// DisplayDataContent is the payload of display_data messages.
type DisplayDataContent struct {
	Data map[string]string `json:"data"`
}

// StreamContent is the payload of stream messages.
type StreamContent struct {
	Name string `json:"name"`
	Text string `json:"text"`
}

// ErrorContent is the payload of error messages.
type ErrorContent struct {
	EName     string   `json:"ename"`
	EValue    string   `json:"evalue"`
	Traceback []string `json:"traceback"`
}

// StatusContent is the payload of status messages.
type StatusContent struct {
	ExecutionState string `json:"execution_state"`
}

// ExecuteReplyContent is the payload of execute_reply messages.
type ExecuteReplyContent struct {
	Status         string `json:"status"`
	ExecutionCount int    `json:"execution_count"`
}
