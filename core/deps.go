package core

import (
	"context"

	"pkt.systems/jovian/internal/eventbus"
	"pkt.systems/jovian/internal/kernel"
	"pkt.systems/jovian/internal/linkrewrite"
	"pkt.systems/jovian/schema"
	"pkt.systems/pslog"
)

// Hub ensures the tenant's remote execution server exists and is ready.
type Hub interface {
	EnsureReady(ctx context.Context, tenant schema.TenantID, onProgress func(schema.ProgressEvent)) (schema.ServerState, error)
}

// ServerClient is a ready tenant server: session reconciliation, kernel
// connections, and notebook persistence.
type ServerClient interface {
	GetOrCreateSession(ctx context.Context, tenant schema.TenantID, conversation schema.ConversationID) (schema.Session, error)
	ConnectKernel(ctx context.Context, kernelID schema.KernelID) (kernel.Channel, error)
	RecordExecution(ctx context.Context, conversation schema.ConversationID, source string, outputs []schema.OutputRecord, executionCount int) error
	SaveArtifact(ctx context.Context, path string, data []byte) error
}

// Provider builds a ServerClient for a ready server endpoint.
type Provider interface {
	ForEndpoint(endpoint string) (ServerClient, error)
}

// ServiceDeps captures optional dependencies for the core service.
type ServiceDeps struct {
	Hub          Hub
	Provider     Provider
	Bus          *eventbus.Bus
	LinkResolver linkrewrite.Resolver
	Logger       pslog.Logger
}
