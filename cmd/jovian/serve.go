package main

import (
	"strings"
	"time"

	"github.com/spf13/cobra"

	"pkt.systems/jovian/core"
	"pkt.systems/jovian/httpapi"
	"pkt.systems/jovian/internal/appconfig"
	"pkt.systems/jovian/internal/eventbus"
	"pkt.systems/jovian/internal/hub"
	"pkt.systems/jovian/internal/linkrewrite"
	"pkt.systems/jovian/internal/retryx"
	"pkt.systems/pslog"
)

func newServeCmd() *cobra.Command {
	var cfgPath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the jovian HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := pslog.Ctx(cmd.Context())
			cfg, err := appconfig.Load(cfgPath)
			if err != nil {
				return err
			}

			bus := eventbus.New(logger)
			service, err := buildService(cfg, bus, logger)
			if err != nil {
				return err
			}

			server := httpapi.NewServer(httpapi.Config{
				Addr:  cfg.HTTP.Addr,
				Token: cfg.HTTP.Token,
			}, service, bus)

			logger.Info("jovian serving", "addr", cfg.HTTP.Addr, "hub", cfg.Hub.BaseURL)
			return httpapi.ListenAndServe(cmd.Context(), cfg.HTTP.Addr, server.Handler())
		},
	}
	cmd.Flags().StringVarP(&cfgPath, "config", "c", "", "path to config.yaml")
	return cmd
}

func buildService(cfg appconfig.Config, bus *eventbus.Bus, logger pslog.Logger) (core.Service, error) {
	retry := retryPolicy(cfg.Retry)
	hubClient, err := hub.NewClient(hub.Config{
		BaseURL:     cfg.Hub.BaseURL,
		Token:       cfg.Hub.Token,
		IdleTimeout: time.Duration(cfg.Hub.IdleTimeoutSeconds) * time.Second,
		Retry:       retry,
	}, logger)
	if err != nil {
		return nil, err
	}
	provider := core.NewGatewayProvider(cfg.Gateway.Token, retry, logger)

	return core.NewService(core.Config{
		LinkSentinel:     cfg.Links.Sentinel,
		PartialThreshold: cfg.Links.PartialThreshold,
	}, core.ServiceDeps{
		Hub:          hubClient,
		Provider:     provider,
		Bus:          bus,
		LinkResolver: linkResolver(cfg.Links),
		Logger:       logger,
	})
}

func retryPolicy(cfg appconfig.RetryConfig) retryx.Policy {
	policy := retryx.DefaultPolicy()
	if cfg.MaxAttempts > 0 {
		policy.MaxAttempts = cfg.MaxAttempts
	}
	if cfg.BaseDelayMillis > 0 {
		policy.BaseDelay = time.Duration(cfg.BaseDelayMillis) * time.Millisecond
	}
	if cfg.MaxDelaySeconds > 0 {
		policy.MaxDelay = time.Duration(cfg.MaxDelaySeconds) * time.Second
	}
	return policy
}

// linkResolver maps sandbox links to public URLs when a public base is
// configured. Without one, links pass through untouched.
func linkResolver(cfg appconfig.LinksConfig) linkrewrite.Resolver {
	base := strings.TrimRight(cfg.PublicBaseURL, "/")
	if base == "" {
		return nil
	}
	return func(match, sentinelURL, path string) string {
		label := linkLabel(match)
		return "[" + label + "](" + base + "/" + strings.TrimLeft(path, "/") + ")"
	}
}

func linkLabel(match string) string {
	if idx := strings.Index(match, "]("); idx > 0 {
		return strings.TrimPrefix(match[:idx], "[")
	}
	return match
}
