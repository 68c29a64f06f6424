package logx

import (
	"context"

	"pkt.systems/jovian/schema"
	"pkt.systems/pslog"
)

type contextKey int

const (
	tenantKey contextKey = iota
	conversationKey
)

// Ctx returns the logger bound to the provided context.
func Ctx(ctx context.Context) pslog.Logger {
	return pslog.Ctx(ctx)
}

// WithTenant annotates the logger with the tenant id if present.
func WithTenant(ctx context.Context, tenant schema.TenantID) pslog.Logger {
	log := pslog.Ctx(ctx)
	if tenant != "" {
		if current, ok := ctx.Value(tenantKey).(schema.TenantID); ok && current == tenant {
			return log
		}
		log = log.With("tenant", tenant)
	}
	return log
}

// WithConversation annotates the logger with tenant and conversation ids.
func WithConversation(ctx context.Context, tenant schema.TenantID, conversation schema.ConversationID) pslog.Logger {
	log := WithTenant(ctx, tenant)
	if conversation != "" {
		if current, ok := ctx.Value(conversationKey).(schema.ConversationID); ok && current == conversation {
			return log
		}
		log = log.With("conversation", conversation)
	}
	return log
}

// WithSession annotates the logger with a kernel session id when available.
func WithSession(log pslog.Logger, sessionID schema.SessionID) pslog.Logger {
	if sessionID != "" {
		log = log.With("session", sessionID)
	}
	return log
}

// ContextWithTenant stores the tenant marker on the context for log
// de-duplication.
func ContextWithTenant(ctx context.Context, tenant schema.TenantID) context.Context {
	if ctx == nil || tenant == "" {
		return ctx
	}
	return context.WithValue(ctx, tenantKey, tenant)
}

// ContextWithConversation stores the conversation marker on the context for
// log de-duplication.
func ContextWithConversation(ctx context.Context, conversation schema.ConversationID) context.Context {
	if ctx == nil || conversation == "" {
		return ctx
	}
	return context.WithValue(ctx, conversationKey, conversation)
}

// ContextWithConversationLogger attaches the logger plus tenant and
// conversation markers to the context.
func ContextWithConversationLogger(ctx context.Context, log pslog.Logger, tenant schema.TenantID, conversation schema.ConversationID) context.Context {
	ctx = pslog.ContextWithLogger(ctx, log)
	return ContextWithConversation(ContextWithTenant(ctx, tenant), conversation)
}
