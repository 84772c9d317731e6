// Command loom runs the agent runtime from a terminal: an interactive chat
// REPL with in-band approval commands, a one-shot run mode, and an optional
// Prometheus endpoint.
package main

import (
	"fmt"
	"net/http"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/wovenbot/loom/internal/agent"
	"github.com/wovenbot/loom/internal/agent/providers"
	"github.com/wovenbot/loom/internal/config"
	"github.com/wovenbot/loom/internal/observability"
	"github.com/wovenbot/loom/internal/sessions"
	"github.com/wovenbot/loom/internal/tools"
)

// Build information, populated by ldflags.
var (
	version = "dev"
	commit  = "none"
)

var configPath string

func main() {
	if err := buildRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "loom",
		Short:        "Loom - multi-channel AI agent runtime",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to the YAML config (default: built-in defaults, LOOM_CONFIG honoured)")

	root.AddCommand(
		buildChatCmd(),
		buildRunCmd(),
		buildVersionCmd(),
	)
	return root
}

func buildVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("loom %s (commit %s)\n", version, commit)
		},
	}
}

func loadConfig() (*config.Config, error) {
	path := configPath
	if path == "" {
		path = os.Getenv("LOOM_CONFIG")
	}
	if path == "" {
		return config.Default(), nil
	}
	return config.Load(path)
}

// buildRuntime wires a runtime from the config: logger, store, provider
// chain, metrics, and the built-in tool set.
func buildRuntime(cfg *config.Config) (*agent.Runtime, error) {
	logger := observability.NewLogger(observability.LogConfig{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})

	var metrics *observability.Metrics
	if cfg.Metrics.Enabled {
		metrics = observability.NewMetrics(prometheus.DefaultRegisterer)
		go func() {
			logger.Info("metrics listening", "addr", cfg.Metrics.Addr)
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			if err := http.ListenAndServe(cfg.Metrics.Addr, mux); err != nil {
				logger.Error("metrics server failed", "error", err)
			}
		}()
	}

	var store sessions.Store
	switch cfg.Session.Store {
	case "sqlite":
		s, err := sessions.OpenSQLiteStore(cfg.Session.Path)
		if err != nil {
			return nil, fmt.Errorf("open session store: %w", err)
		}
		store = s
	default:
		store = sessions.NewMemoryStore()
	}

	primary, primaryCfg, err := providers.FromConfig(agent.ModelConfig{
		Provider:    cfg.Model.Provider,
		Model:       cfg.Model.Model,
		APIKey:      cfg.Model.APIKey,
		BaseURL:     cfg.Model.BaseURL,
		MaxTokens:   cfg.Model.MaxTokens,
		Temperature: cfg.Model.Temperature,
	})
	if err != nil {
		return nil, err
	}
	// The runtime reads the model back out of the config, so the preset fill
	// has to land there too.
	cfg.Model.Model = primaryCfg.Model

	var fallbacks []agent.Fallback
	for _, fb := range cfg.Fallbacks {
		client, fbCfg, err := providers.FromConfig(agent.ModelConfig{
			Provider:    fb.Provider,
			Model:       fb.Model,
			APIKey:      fb.APIKey,
			BaseURL:     fb.BaseURL,
			MaxTokens:   fb.MaxTokens,
			Temperature: fb.Temperature,
		})
		if err != nil {
			return nil, fmt.Errorf("fallback %s: %w", fb.Provider, err)
		}
		fallbacks = append(fallbacks, agent.Fallback{Config: fbCfg, Client: client})
	}

	registry := agent.NewToolRegistry()
	tools.RegisterBuiltins(registry)

	return agent.NewRuntime(agent.RuntimeOptions{
		Config:    cfg,
		Provider:  primary,
		Fallbacks: fallbacks,
		Store:     store,
		Registry:  registry,
		Logger:    logger,
		Metrics:   metrics,
	}), nil
}
