// MAGI consensus engine server — provides the HTTP/WebSocket API described
// in spec §6 and drives the three-persona deliberation pipeline.
package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/codeready-toolchain/magi/pkg/api"
	"github.com/codeready-toolchain/magi/pkg/concurrency"
	"github.com/codeready-toolchain/magi/pkg/config"
	"github.com/codeready-toolchain/magi/pkg/events"
	"github.com/codeready-toolchain/magi/pkg/guardrails"
	"github.com/codeready-toolchain/magi/pkg/llmclient"
	"github.com/codeready-toolchain/magi/pkg/notify"
	"github.com/codeready-toolchain/magi/pkg/persona"
	"github.com/codeready-toolchain/magi/pkg/schema"
	"github.com/codeready-toolchain/magi/pkg/security"
	"github.com/codeready-toolchain/magi/pkg/session"
	"github.com/codeready-toolchain/magi/pkg/template"
	"github.com/codeready-toolchain/magi/pkg/tokenbudget"
	"github.com/codeready-toolchain/magi/pkg/version"
)

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func main() {
	configDir := flag.String("config-dir",
		getEnv("CONFIG_DIR", "./config"),
		"Path to configuration directory")
	flag.Parse()

	envPath := filepath.Join(*configDir, ".env")
	if err := godotenv.Load(envPath); err != nil {
		log.Printf("Warning: could not load %s: %v", envPath, err)
		log.Printf("Continuing with existing environment variables...")
	} else {
		log.Printf("Loaded environment from %s", envPath)
	}

	httpAddr := ":" + getEnv("HTTP_PORT", "8080")

	log.Printf("Starting MAGI %s", version.Full())
	log.Printf("HTTP address: %s", httpAddr)
	log.Printf("Config directory: %s", *configDir)

	ctx := context.Background()

	cfg, err := config.Load(ctx, *configDir)
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}
	stats := cfg.Stats()
	log.Printf("Loaded %d LLM providers, %d personas", stats.LLMProviders, stats.Personas)

	deps, err := buildDeps(cfg, *configDir)
	if err != nil {
		log.Fatalf("failed to build engine dependencies: %v", err)
	}

	sessions := session.NewManager(*deps)
	defer sessions.Stop()

	server := api.NewServer(sessions)

	listener, err := net.Listen("tcp", httpAddr)
	if err != nil {
		log.Fatalf("failed to bind %s: %v", httpAddr, err)
	}

	go func() {
		if err := server.StartWithListener(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("HTTP server failed: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	log.Println("shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
	}
}

// buildDeps constructs every process-wide, shared collaborator
// session.Manager needs: the single ConcurrencyController semaphore, the
// persona manager, the Vote schema validator, the token budget manager, the
// security filter, the guardrails chain, the event broadcaster, and the
// optional Slack notifier. Per §5/§9, ConcurrencyController is the one
// piece of genuinely global mutable state in the process and is
// constructed exactly once, here, then injected everywhere it is needed.
func buildDeps(cfg *config.Config, configDir string) (*session.Deps, error) {
	personaMgr, err := buildPersonaManager(cfg, configDir)
	if err != nil {
		return nil, err
	}

	voteSchemaPath := resolvePath(configDir, cfg.Defaults.Schema.VoteSchemaPath)
	voteSchema, err := schema.Compile("vote", voteSchemaPath)
	if err != nil {
		return nil, err
	}

	// No Summarizer implementation ships with this module either (it would
	// call an LLM); EnforceBudget's head/tail truncation fallback applies
	// whenever summarizer is nil.
	var summarizer tokenbudget.Summarizer
	tokenBudget, err := tokenbudget.NewManager(cfg.Defaults.TokenBudget.EncodingModel, summarizer)
	if err != nil {
		return nil, err
	}

	secFilter := security.NewFilter(cfg.Defaults.Security.HashMode)

	// No concrete guardrails.Provider implementations ship with this
	// module (§1: pluggable semantic checks are a named external
	// collaborator); the chain starts empty and a deployment wires its own
	// providers in before passing Deps to session.NewManager.
	grd := guardrails.NewAdapter(nil, 0, cfg.Defaults.Guardrails.Policy)

	concurrencyCtrl := concurrency.NewController(cfg.Defaults.Concurrency.LLMConcurrencyLimit, prometheus.DefaultRegisterer)

	broadcaster := events.NewBroadcaster()

	var notifier session.Notifier
	if cfg.Defaults.Notify.Enabled {
		slackNotifier := notify.New(cfg.Defaults.Notify.SlackToken, cfg.Defaults.Notify.SlackChannel, cfg.Defaults.Notify.DashboardURL)
		if slackNotifier != nil {
			notifier = slackNotifier
		} else {
			slog.Warn("notify.enabled is true but slack_token/slack_channel are not both set; notifications disabled")
		}
	}

	return &session.Deps{
		Config:      cfg,
		Personas:    personaMgr,
		Transports:  llmclient.UnconfiguredResolver{},
		Concurrency: concurrencyCtrl,
		VoteSchema:  voteSchema,
		TokenBudget: tokenBudget,
		Security:    secFilter,
		Guardrails:  grd,
		Broadcaster: broadcaster,
		Notifier:    notifier,
	}, nil
}

// buildPersonaManager constructs the persona.Manager, overriding a
// persona's built-in base instruction from <configDir>/<template.dir>/
// <persona>.tmpl when the operator has configured one.
func buildPersonaManager(cfg *config.Config, configDir string) (*persona.Manager, error) {
	templateDir := resolvePath(configDir, cfg.Defaults.Template.Dir)
	if _, err := os.Stat(templateDir); err != nil {
		return persona.NewManager(cfg.PersonaRegistry)
	}

	loader := template.NewLoader(template.FileSource{Dir: templateDir}, cfg.Defaults.Template.TTL)
	return persona.NewManagerWithTemplates(cfg.PersonaRegistry, loader)
}

// resolvePath joins a config-relative path against configDir unless it is
// already absolute.
func resolvePath(configDir, p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(configDir, p)
}
