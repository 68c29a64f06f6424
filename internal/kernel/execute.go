package kernel

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"regexp"
	"strings"

	"pkt.systems/jovian/schema"
	"pkt.systems/pslog"
)

// DefaultDisplayCaption stands in when no display-data callback is
// supplied, so the caller's output never silently drops a figure.
const DefaultDisplayCaption = "an image has been generated and displayed"

// DisplayHandler receives a decoded image payload and returns the caption
// text folded into stdout in its place.
type DisplayHandler func(image []byte) string

var ansiEscape = regexp.MustCompile(`\x1b\[[0-9;]*m`)

// Execute sends code to the kernel behind ch and consumes its output
// stream until the execution completes. Every classified message is
// retained verbatim in the result's Outputs, in kernel emission order; the
// stdout/stderr strings are folded views of the same messages. A nil
// channel is a fatal precondition, not a retryable failure.
func Execute(ctx context.Context, ch Channel, session string, code string, onDisplay DisplayHandler) (schema.ExecResult, error) {
	if ch == nil {
		return schema.ExecResult{}, schema.WrapError(schema.KindFatal, "execute", schema.ErrNoKernel)
	}
	log := pslog.Ctx(ctx)

	request, err := NewExecuteRequest(session, code)
	if err != nil {
		return schema.ExecResult{}, err
	}
	if err := ch.Send(ctx, request); err != nil {
		return schema.ExecResult{}, schema.WrapError(schema.KindTransient, "send execute request", err)
	}

	var (
		result    schema.ExecResult
		stdout    strings.Builder
		stderr    strings.Builder
		replySeen bool
		idleSeen  bool
	)
	for !(replySeen && idleSeen) {
		msg, err := ch.Recv(ctx)
		if err != nil {
			return schema.ExecResult{}, schema.WrapError(schema.KindTransient, "read kernel message", err)
		}
		if msg.ParentHeader.MsgID != request.Header.MsgID {
			continue
		}

		switch msg.Header.MsgType {
		case TypeExecuteResult:
			var content ExecuteResultContent
			if err := json.Unmarshal(msg.Content, &content); err != nil {
				log.Warn("undecodable execute_result", "err", err)
				continue
			}
			text := content.Data["text/plain"]
			stdout.WriteString(text)
			result.ExecutionCount = content.ExecutionCount
			result.Outputs = append(result.Outputs, schema.ExecuteResultRecord(text, content.ExecutionCount))

		case TypeDisplayData:
			var content DisplayDataContent
			if err := json.Unmarshal(msg.Content, &content); err != nil {
				log.Warn("undecodable display_data", "err", err)
				continue
			}
			encoded := strings.TrimSpace(content.Data["image/png"])
			if encoded == "" {
				// Rich output without a figure (HTML or text-only
				// reprs). Nothing to store; fold the text form in.
				text := content.Data["text/plain"]
				if text == "" {
					text = DefaultDisplayCaption
				}
				stdout.WriteString(text)
				result.Outputs = append(result.Outputs, schema.DisplayDataRecord(nil, text))
				continue
			}
			image, err := base64.StdEncoding.DecodeString(encoded)
			if err != nil {
				log.Warn("undecodable display image", "err", err)
				continue
			}
			caption := DefaultDisplayCaption
			if onDisplay != nil {
				caption = onDisplay(image)
			}
			stdout.WriteString(caption)
			result.Outputs = append(result.Outputs, schema.DisplayDataRecord(image, caption))

		case TypeStream:
			var content StreamContent
			if err := json.Unmarshal(msg.Content, &content); err != nil {
				log.Warn("undecodable stream message", "err", err)
				continue
			}
			if content.Name == string(schema.StreamStderr) {
				stderr.WriteString(content.Text)
			} else {
				stdout.WriteString(content.Text)
			}
			result.Outputs = append(result.Outputs, schema.StreamRecord(schema.StreamName(content.Name), content.Text))

		case TypeError:
			var content ErrorContent
			if err := json.Unmarshal(msg.Content, &content); err != nil {
				log.Warn("undecodable error message", "err", err)
				continue
			}
			stderr.WriteString(stripANSI(strings.Join(content.Traceback, "\n")))
			stderr.WriteString("\n")
			result.Outputs = append(result.Outputs, schema.ErrorRecord(content.EName, content.EValue, content.Traceback))

		case TypeStatus:
			var content StatusContent
			if err := json.Unmarshal(msg.Content, &content); err != nil {
				continue
			}
			if content.ExecutionState == "idle" {
				idleSeen = true
			}

		case TypeExecuteReply:
			var content ExecuteReplyContent
			if err := json.Unmarshal(msg.Content, &content); err == nil && content.ExecutionCount != 0 {
				result.ExecutionCount = content.ExecutionCount
			}
			replySeen = true
		}
	}

	result.Stdout = stdout.String()
	result.Stderr = stderr.String()
	log.Debug("execution complete",
		"execution_count", result.ExecutionCount,
		"outputs", len(result.Outputs),
		"stdout_len", len(result.Stdout),
		"stderr_len", len(result.Stderr),
	)
	return result, nil
}

// stripANSI removes color escapes from kernel tracebacks.
func stripANSI(s string) string {
	return ansiEscape.ReplaceAllString(s, "")
}
