// Package core orchestrates code execution for conversations: server
// lifecycle, session reconciliation, kernel execution, notebook
// persistence, and output link rewriting.
package core

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"

	"pkt.systems/jovian/internal/eventbus"
	"pkt.systems/jovian/internal/kernel"
	"pkt.systems/jovian/internal/linkrewrite"
	"pkt.systems/jovian/internal/logx"
	"pkt.systems/jovian/schema"
	"pkt.systems/pslog"
)

// UsageText describes the tool. Returned verbatim for empty code, which
// distinguishes "describe yourself" calls from real executions.
const UsageText = "Executes Python code in a persistent notebook kernel. " +
	"Variables, imports, and files persist across calls within the same conversation. " +
	"Generated figures are stored alongside the notebook and referenced by sandbox links. " +
	"Pass the code to run as the 'code' argument."

// FallbackMessage is the fixed, non-leaking reply for any unexpected
// internal failure.
const FallbackMessage = "error: the sandbox is currently unavailable, please try again later"

// Config controls core behavior.
type Config struct {
	// LinkSentinel is the link scheme rewritten in results.
	LinkSentinel string
	// PartialThreshold bounds the link rewriter's hold streak.
	PartialThreshold int
}

// Service executes code on behalf of (tenant, conversation) callers.
type Service interface {
	// Invoke runs code and returns the canonical {"stdout","stderr"} JSON
	// string, or a fixed fallback message on unexpected failure.
	Invoke(ctx context.Context, tenant string, conversation schema.ConversationID, code string) string
	// Execute is Invoke without the string boundary; errors propagate.
	Execute(ctx context.Context, tenant string, conversation schema.ConversationID, code string) (schema.ExecResult, error)
}

type tenantState struct {
	endpoint string
	client   ServerClient
}

type conversationState struct {
	session schema.Session
	channel kernel.Channel
}

type service struct {
	cfg      Config
	hub      Hub
	provider Provider
	bus      *eventbus.Bus
	resolver linkrewrite.Resolver
	logger   pslog.Logger

	mu            sync.Mutex
	ready         map[schema.TenantID]tenantState
	conversations map[schema.ConversationID]*conversationState
}

// NewService constructs the core service.
func NewService(cfg Config, deps ServiceDeps) (Service, error) {
	if deps.Hub == nil {
		return nil, fmt.Errorf("hub dependency is required")
	}
	if deps.Provider == nil {
		return nil, fmt.Errorf("provider dependency is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = pslog.Ctx(context.Background())
	}
	if deps.Bus == nil {
		deps.Bus = eventbus.New(logger)
	}
	return &service{
		cfg:           cfg,
		hub:           deps.Hub,
		provider:      deps.Provider,
		bus:           deps.Bus,
		resolver:      deps.LinkResolver,
		logger:        logger,
		ready:         make(map[schema.TenantID]tenantState),
		conversations: make(map[schema.ConversationID]*conversationState),
	}, nil
}

type invokeResult struct {
	Stdout string `json:"stdout"`
	Stderr string `json:"stderr"`
}

// Invoke is the LLM-facing boundary: it never leaks internal error detail
// and always returns syntactically valid output.
func (s *service) Invoke(ctx context.Context, tenant string, conversation schema.ConversationID, code string) (reply string) {
	log := s.logger
	defer func() {
		if r := recover(); r != nil {
			log.Error("invoke panicked", "panic", r)
			reply = FallbackMessage
		}
	}()

	if strings.TrimSpace(code) == "" {
		return UsageText
	}

	result, err := s.Execute(ctx, tenant, conversation, code)
	if err != nil {
		log.Error("invoke failed", "conversation", conversation, "err", err)
		return FallbackMessage
	}

	stdout := result.Stdout
	if s.resolver != nil {
		rewriter := linkrewrite.New(linkrewrite.Config{
			Sentinel:         s.cfg.LinkSentinel,
			PartialThreshold: s.cfg.PartialThreshold,
		}, s.resolver)
		stdout = rewriter.ProcessToken(stdout) + rewriter.Flush()
	}

	payload, err := json.Marshal(invokeResult{Stdout: stdout, Stderr: result.Stderr})
	if err != nil {
		log.Error("invoke result marshal failed", "err", err)
		return FallbackMessage
	}
	return string(payload)
}

// Execute runs code for a conversation against its (possibly cold) tenant
// server and persists the execution as a notebook cell.
func (s *service) Execute(ctx context.Context, rawTenant string, conversation schema.ConversationID, code string) (schema.ExecResult, error) {
	tenant, err := schema.SanitizeTenant(rawTenant)
	if err != nil {
		return schema.ExecResult{}, err
	}
	log := logx.WithConversation(ctx, tenant, conversation)
	ctx = logx.ContextWithConversationLogger(ctx, log, tenant, conversation)

	client, err := s.clientFor(ctx, tenant)
	if err != nil {
		return schema.ExecResult{}, err
	}

	conv, err := s.conversationFor(ctx, client, tenant, conversation)
	if err != nil {
		return schema.ExecResult{}, err
	}

	onDisplay := s.displayHandler(ctx, client, conversation)
	result, err := kernel.Execute(ctx, conv.channel, string(conv.session.ID), code, onDisplay)
	if err != nil {
		// A broken channel poisons the cache; the next call reconnects.
		s.dropConversation(conversation)
		s.bus.PublishExecution(tenant, eventbus.ExecutionEvent{Conversation: conversation, Failed: true})
		return schema.ExecResult{}, err
	}

	// Best-effort persistence: the code already ran and the result is
	// already in hand, so a store failure must not fail the call.
	if err := client.RecordExecution(ctx, conversation, code, result.Outputs, result.ExecutionCount); err != nil {
		log.Warn("notebook persistence failed", "err", err)
	}

	s.bus.PublishExecution(tenant, eventbus.ExecutionEvent{
		Conversation:   conversation,
		ExecutionCount: result.ExecutionCount,
		Outputs:        len(result.Outputs),
	})
	return result, nil
}

// clientFor returns the tenant's server client, warming the server first
// when needed. Readiness is cached per process; once a tenant caches as
// ready, repeated calls make no network round-trips here.
func (s *service) clientFor(ctx context.Context, tenant schema.TenantID) (ServerClient, error) {
	s.mu.Lock()
	state, ok := s.ready[tenant]
	s.mu.Unlock()
	if ok {
		return state.client, nil
	}

	log := logx.WithTenant(ctx, tenant)
	log.Info("ensuring tenant server")
	serverState, err := s.hub.EnsureReady(ctx, tenant, func(event schema.ProgressEvent) {
		s.bus.PublishProgress(tenant, event)
	})
	if err != nil {
		return nil, err
	}
	switch serverState.Phase {
	case schema.ServerReady:
	case schema.ServerFailed:
		return nil, schema.WrapError(schema.KindFailed, serverState.Reason, schema.ErrServerFailed)
	default:
		return nil, schema.NewError(schema.KindProtocol, fmt.Sprintf("unexpected server phase %q", serverState.Phase))
	}

	client, err := s.provider.ForEndpoint(serverState.Endpoint)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.ready[tenant] = tenantState{endpoint: serverState.Endpoint, client: client}
	s.mu.Unlock()
	return client, nil
}

// conversationFor returns the conversation's session and kernel channel,
// creating both on first use. The channel stays open for the conversation
// lifetime.
func (s *service) conversationFor(ctx context.Context, client ServerClient, tenant schema.TenantID, conversation schema.ConversationID) (*conversationState, error) {
	s.mu.Lock()
	conv, ok := s.conversations[conversation]
	s.mu.Unlock()
	if ok && conv.channel != nil {
		return conv, nil
	}

	session, err := client.GetOrCreateSession(ctx, tenant, conversation)
	if err != nil {
		return nil, err
	}
	channel, err := client.ConnectKernel(ctx, session.Kernel.ID)
	if err != nil {
		return nil, err
	}
	conv = &conversationState{session: session, channel: channel}
	s.mu.Lock()
	s.conversations[conversation] = conv
	s.mu.Unlock()
	return conv, nil
}

func (s *service) dropConversation(conversation schema.ConversationID) {
	s.mu.Lock()
	conv := s.conversations[conversation]
	delete(s.conversations, conversation)
	s.mu.Unlock()
	if conv != nil && conv.channel != nil {
		_ = conv.channel.Close()
	}
}

// displayHandler stores generated figures under the conversation's files
// area and folds a sandbox link into stdout. Storage failures fall back to
// the default caption so the figure is still mentioned.
func (s *service) displayHandler(ctx context.Context, client ServerClient, conversation schema.ConversationID) kernel.DisplayHandler {
	return func(image []byte) string {
		name := fmt.Sprintf("figure-%s.png", uuid.NewString()[:8])
		artifactPath := schema.FilesDir(conversation) + "/" + name
		if err := client.SaveArtifact(ctx, artifactPath, image); err != nil {
			logx.Ctx(ctx).Warn("figure save failed", "path", artifactPath, "err", err)
			return kernel.DefaultDisplayCaption
		}
		sentinel := s.cfg.LinkSentinel
		if sentinel == "" {
			sentinel = linkrewrite.DefaultSentinel
		}
		return fmt.Sprintf("![%s](%s/%s)", name, sentinel, artifactPath)
	}
}
