package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"path/filepath"
	"time"

	"github.com/CraigThomasParsons/mason/backlogclient"
	"github.com/CraigThomasParsons/mason/compiler"
	"github.com/CraigThomasParsons/mason/domain"
	"github.com/CraigThomasParsons/mason/engine"
	"github.com/CraigThomasParsons/mason/internal/config"
	"github.com/CraigThomasParsons/mason/internal/logging"
	"github.com/CraigThomasParsons/mason/internal/metrics"
	"github.com/CraigThomasParsons/mason/internal/telemetry"
	"github.com/CraigThomasParsons/mason/pollloop"
	"github.com/CraigThomasParsons/mason/providers/apiadapter"
	"github.com/CraigThomasParsons/mason/providers/cliadapter"
	"github.com/CraigThomasParsons/mason/providers/localadapter"
	"github.com/CraigThomasParsons/mason/qaqueue"
	"github.com/CraigThomasParsons/mason/registry"
	"github.com/CraigThomasParsons/mason/selector"
	"github.com/spf13/cobra"
)

func runDaemon(cmd *cobra.Command, args []string) error {
	configPath := ""
	if len(args) == 1 {
		configPath = args[0]
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("masond: %w", err)
	}

	logger := logging.New(logging.Config{
		Level:   cfg.LogLevel(),
		Format:  logging.Format(cfg.LogFormat()),
		Service: "masond",
	})

	tracer, err := telemetry.New(telemetry.Config{Enabled: cfg.TelemetryEnabled(), ServiceName: "masond"})
	if err != nil {
		return fmt.Errorf("masond: telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tracer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("telemetry_shutdown_failed", map[string]interface{}{"error": err.Error()})
		}
	}()

	metricsReg := metrics.New(nil) // registers the Mason metric set against the default registerer served by /metrics

	defs := providerDefinitions(cfg)
	reg := registry.New(defs, cfg.RateLimitCooldown())

	backlog := backlogclient.New(cfg.DevBacklogAPIURL(), tracer.Transport(nil))
	queue := qaqueue.New(cfg.QAQueueAPIURL(), tracer.Transport(nil))

	adapters := buildAdapters(defs, cfg.ArtifactsRoot(), logger)

	comp := compiler.New(compiler.Config{
		MaxTasksPerStory:   cfg.MaxTasksPerStory(),
		DefaultMaxAttempts: cfg.DefaultMaxAttempts(),
	}, nil)

	sel := selector.New(reg, queue, cfg.HighLoadThreshold(), logger.WithComponent("selector"))
	eng := engine.New(sel, adapters, queue, tracer, metricsReg, logger.WithComponent("engine"))
	loop := pollloop.New(backlog, queue, comp, eng, cfg.PollInterval(), logger.WithComponent("pollloop"))

	adminServer := startAdminServer(cfg.MetricsAddr(), reg, logger)
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = adminServer.Shutdown(shutdownCtx)
	}()

	stopCooldownGauge := startCooldownGaugeUpdater(cmd.Context(), reg, metricsReg)
	defer stopCooldownGauge()

	loop.Run(cmd.Context())
	return nil
}

// startCooldownGaugeUpdater periodically recomputes ProvidersOnCooldown
// from the registry's enabled-vs-available provider counts and returns a
// function that stops the updater.
func startCooldownGaugeUpdater(ctx context.Context, reg *registry.Registry, metricsReg *metrics.Registry) func() {
	ticker := time.NewTicker(10 * time.Second)
	done := make(chan struct{})
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				onCooldown := len(reg.EnabledProviders()) - len(reg.AvailableProviders())
				if onCooldown < 0 {
					onCooldown = 0
				}
				metricsReg.SetProvidersOnCooldown(onCooldown)
			case <-ctx.Done():
				return
			case <-done:
				return
			}
		}
	}()
	return func() { close(done) }
}

// providerDefinitions converts the providers document into domain
// definitions, skipping entries without a name. The type is not checked
// here; buildAdapters skips entries whose type it does not recognize.
func providerDefinitions(cfg *config.Config) []domain.ProviderDefinition {
	raw := cfg.EnabledProviders()
	defs := make([]domain.ProviderDefinition, 0, len(raw))
	for _, p := range raw {
		name, _ := p["name"].(string)
		if name == "" {
			continue
		}
		typ := domain.ProviderType(fmt.Sprintf("%v", p["type"]))
		priority := 99
		if v, ok := p["priority"].(int); ok {
			priority = v
		} else if v, ok := p["priority"].(float64); ok {
			priority = int(v)
		}
		weight := 1.0
		if v, ok := p["confidence_weight"].(float64); ok {
			weight = v
		}
		defs = append(defs, domain.ProviderDefinition{
			Name:             name,
			Priority:         priority,
			Type:             typ,
			Adapter:          name,
			ConfidenceWeight: weight,
			Enabled:          true,
			Config:           p,
		})
	}
	return defs
}

// buildAdapters constructs one engine.Adapter per provider definition,
// dispatched on its type, and logs provider_initialized for each.
// artifactsRoot is the configured parent directory for cliadapter's
// per-task working directories.
func buildAdapters(defs []domain.ProviderDefinition, artifactsRoot string, logger logging.Logger) map[string]engine.Adapter {
	adapters := make(map[string]engine.Adapter, len(defs))
	for _, d := range defs {
		var adapter engine.Adapter
		switch d.Type {
		case domain.ProviderTypeCLI:
			workDirRoot := ""
			if artifactsRoot != "" {
				workDirRoot = filepath.Join(artifactsRoot, d.Name)
			}
			adapter = cliadapter.New(cliadapter.Config{
				Name:        d.Name,
				Executable:  stringField(d.Config, "executable"),
				WorkDirRoot: workDirRoot,
			})
		case domain.ProviderTypeLocal:
			adapter = localadapter.New(localadapter.Config{
				Name:  d.Name,
				Host:  stringField(d.Config, "host"),
				Model: stringField(d.Config, "model"),
			})
		case domain.ProviderTypeAPI:
			adapter = apiadapter.New(apiadapter.Config{
				Name:        d.Name,
				BaseURL:     stringField(d.Config, "base_url"),
				Model:       stringField(d.Config, "model"),
				BearerToken: stringField(d.Config, "api_key"),
			})
		default:
			logger.Warn("provider_type_unrecognized", map[string]interface{}{"provider": d.Name, "type": string(d.Type)})
			continue
		}
		adapters[d.Name] = adapter
		logger.Info("provider_initialized", map[string]interface{}{"provider": d.Name, "type": string(d.Type)})
	}
	return adapters
}

func stringField(cfg map[string]any, key string) string {
	if cfg == nil {
		return ""
	}
	s, _ := cfg[key].(string)
	return s
}

// startAdminServer mounts /metrics and the operator-only
// POST /admin/reset-cooldowns debug endpoint.
func startAdminServer(addr string, reg *registry.Registry, logger logging.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/admin/reset-cooldowns", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		reg.ResetCooldowns()
		logger.Info("cooldowns_reset", nil)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	})

	server := &http.Server{Addr: addr, Handler: mux}
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("admin_server_failed", map[string]interface{}{"error": err.Error()})
		}
	}()
	return server
}
