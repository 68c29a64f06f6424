package schema

import (
	"path"
	"strings"
)

// tenantRune reports whether r is allowed in a tenant id.
func tenantRune(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z':
		return true
	case r >= 'A' && r <= 'Z':
		return true
	case r >= '0' && r <= '9':
		return true
	case r == '_' || r == '-' || r == '.':
		return true
	}
	return false
}

// SanitizeTenant restricts a raw tenant id to [A-Za-z0-9._-]. Disallowed
// runes map to '-'; leading and trailing separators are trimmed. An id that
// sanitizes to nothing is invalid.
func SanitizeTenant(raw string) (TenantID, error) {
	var b strings.Builder
	for _, r := range raw {
		if tenantRune(r) {
			b.WriteRune(r)
			continue
		}
		b.WriteByte('-')
	}
	cleaned := strings.Trim(b.String(), "._-")
	if cleaned == "" {
		return "", ErrInvalidTenant
	}
	return TenantID(cleaned), nil
}

// NotebookName is the document file name used for every conversation.
const NotebookName = "notebook.ipynb"

// ConversationDir returns the server-side directory for a conversation.
func ConversationDir(conversation ConversationID) string {
	return path.Join("conversations", string(conversation))
}

// NotebookPath returns the logical path of a conversation's notebook. The
// path doubles as the kernel session key.
func NotebookPath(conversation ConversationID) string {
	return path.Join(ConversationDir(conversation), NotebookName)
}

// FilesDir returns the directory holding generated artifacts (figures)
// for a conversation.
func FilesDir(conversation ConversationID) string {
	return path.Join(ConversationDir(conversation), "files")
}
