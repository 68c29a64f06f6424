package core

import (
	"context"
	"strings"

	"pkt.systems/jovian/internal/gateway"
	"pkt.systems/jovian/internal/kernel"
	"pkt.systems/jovian/internal/notebook"
	"pkt.systems/jovian/internal/retryx"
	"pkt.systems/jovian/schema"
	"pkt.systems/pslog"
)

// GatewayProvider builds gateway-backed server clients for ready tenant
// server endpoints.
type GatewayProvider struct {
	token  string
	retry  retryx.Policy
	logger pslog.Logger
}

// NewGatewayProvider constructs a Provider that talks Jupyter server APIs.
func NewGatewayProvider(token string, retry retryx.Policy, logger pslog.Logger) *GatewayProvider {
	return &GatewayProvider{token: token, retry: retry, logger: logger}
}

// ForEndpoint builds a ServerClient bound to one tenant server.
func (p *GatewayProvider) ForEndpoint(endpoint string) (ServerClient, error) {
	gw, err := gateway.NewClient(gateway.Config{
		BaseURL: endpoint,
		Token:   p.token,
		Retry:   p.retry,
	}, p.logger)
	if err != nil {
		return nil, err
	}
	return &serverClient{
		gw:        gw,
		notebooks: notebook.NewStore(gw, p.logger),
	}, nil
}

type serverClient struct {
	gw        *gateway.Client
	notebooks *notebook.Store
}

func (c *serverClient) GetOrCreateSession(ctx context.Context, tenant schema.TenantID, conversation schema.ConversationID) (schema.Session, error) {
	return c.gw.GetOrCreateSession(ctx, tenant, conversation)
}

func (c *serverClient) ConnectKernel(ctx context.Context, kernelID schema.KernelID) (kernel.Channel, error) {
	return kernel.Connect(ctx, c.gw.WebSocketURL(kernelID), c.gw.Token())
}

func (c *serverClient) RecordExecution(ctx context.Context, conversation schema.ConversationID, source string, outputs []schema.OutputRecord, executionCount int) error {
	return c.notebooks.Record(ctx, conversation, source, outputs, executionCount)
}

func (c *serverClient) SaveArtifact(ctx context.Context, path string, data []byte) error {
	if dir := parentDir(path); dir != "" {
		if err := c.gw.EnsureDirectories(ctx, dir); err != nil {
			return err
		}
	}
	return c.gw.PutFile(ctx, path, data)
}

func parentDir(path string) string {
	idx := strings.LastIndex(path, "/")
	if idx <= 0 {
		return ""
	}
	return path[:idx]
}
