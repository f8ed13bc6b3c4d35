// Command hyperagentd is the Hyperagent coordination daemon. It serves the
// persona, task, and event APIs, runs the configured agent workers, and
// drives the controller gate's idle watchdog.
package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/GoCodeAlone/hyperagent/agent"
	"github.com/GoCodeAlone/hyperagent/config"
	"github.com/GoCodeAlone/hyperagent/controller"
	"github.com/GoCodeAlone/hyperagent/eventlog"
	"github.com/GoCodeAlone/hyperagent/internal/version"
	"github.com/GoCodeAlone/hyperagent/persona"
	"github.com/GoCodeAlone/hyperagent/provider"
	"github.com/GoCodeAlone/hyperagent/provider/mock"
	"github.com/GoCodeAlone/hyperagent/server"
	"github.com/GoCodeAlone/hyperagent/task"
)

var configPath = flag.String("config", "hyperagent.yaml", "path to config file")

func main() {
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if errors.Is(err, os.ErrNotExist) {
		cfg = config.DefaultConfig()
	} else if err != nil {
		log.Fatalf("Failed to load config %s: %v", *configPath, err)
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel(cfg.LogLevel),
	}))
	slog.SetDefault(logger)

	logger.Info("starting hyperagentd",
		"version", version.Version,
		"commit", version.Commit,
	)

	tasks, err := task.NewSQLiteStore(filepath.Join(cfg.DataDir, "tasks.db"))
	if err != nil {
		log.Fatalf("Failed to open task store: %v", err)
	}
	defer tasks.Close()

	events, err := eventlog.New(filepath.Join(cfg.DataDir, "logs"))
	if err != nil {
		log.Fatalf("Failed to open event log: %v", err)
	}

	personas, err := persona.NewStore(filepath.Join(cfg.DataDir, "agents"))
	if err != nil {
		log.Fatalf("Failed to open persona store: %v", err)
	}

	backend, err := newBackend(cfg.Provider)
	if err != nil {
		log.Fatalf("Failed to configure provider: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var workers []*agent.Worker
	var runtimes []*agent.Runtime
	for _, wc := range cfg.Workers {
		p, err := personas.Get(wc.PersonaID)
		if err != nil {
			log.Fatalf("Failed to resolve persona for worker %s: %v", wc.ID, err)
		}
		rt := agent.NewRuntime(wc.ID, tasks, events, logger)
		rt.SetHeartbeatInterval(cfg.WatchdogInterval())
		a := agent.NewLLMAgent(wc.AgentType, p, backend, cfg.Provider.MaxTokens)
		w := agent.NewWorker(rt, a, cfg.PollInterval(), logger)
		if err := w.Start(ctx); err != nil {
			log.Fatalf("Failed to start worker %s: %v", wc.ID, err)
		}
		workers = append(workers, w)
		runtimes = append(runtimes, rt)
		logger.Info("worker started", "id", wc.ID, "agent_type", wc.AgentType, "persona", wc.PersonaID)
	}

	gate := controller.NewGate(events, filepath.Join(cfg.DataDir, "summaries"), cfg.MaxContextEvents, logger)
	go watchdogLoop(ctx, gate, events, backend, runtimes, cfg.WatchdogInterval(), logger)

	srv := server.New(cfg.Server, personas, tasks, events, backend, logger)
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("shutting down", "signal", sig.String())
	case err := <-errCh:
		if err != nil {
			logger.Error("server failed", "err", err)
		}
	}

	cancel()
	for _, w := range workers {
		w.Stop()
	}
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", "err", err)
	}
	logger.Info("shutdown complete")
}

// watchdogLoop periodically re-evaluates the gate over each conversation with
// fresh events. When the gate decides to speak, the narration prompt is fed
// to the generation backend and the narration appended as a user-visible
// event; suppressions are journaled by the gate itself.
func watchdogLoop(ctx context.Context, gate *controller.Gate, events *eventlog.Log, backend provider.Streamer, runtimes []*agent.Runtime, interval time.Duration, logger *slog.Logger) {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	lastScan := time.Now()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			for _, rt := range runtimes {
				if rt.HeartbeatDue(now) {
					logger.Warn("worker heartbeat overdue",
						"id", rt.ID(), "last", rt.LastHeartbeat().Format(time.RFC3339))
				}
			}

			fresh, err := events.Since(lastScan)
			if err != nil {
				logger.Error("watchdog scan", "err", err)
				continue
			}
			lastScan = now
			for _, conversationID := range conversationIDs(fresh) {
				narrate(ctx, gate, events, backend, conversationID, logger)
			}
		}
	}
}

func narrate(ctx context.Context, gate *controller.Gate, events *eventlog.Log, backend provider.Streamer, conversationID string, logger *slog.Logger) {
	recent, err := events.Tail(conversationID, 0)
	if err != nil {
		logger.Error("narrate: tail events", "conversation", conversationID, "err", err)
		return
	}
	decision := gate.Decide(nil, recent)

	contextText, err := gate.BuildContextWindow(conversationID, recent)
	if err != nil {
		logger.Error("narrate: build context", "conversation", conversationID, "err", err)
		return
	}
	prompt, err := gate.RenderNarration(decision.Actions, contextText, decision.SpeakNow, conversationID)
	if err != nil {
		logger.Error("narrate: render", "conversation", conversationID, "err", err)
		return
	}
	if prompt == "" {
		return
	}

	fragments, err := backend.Stream(ctx, provider.Request{Prompt: prompt})
	if err != nil {
		logger.Error("narrate: generation", "conversation", conversationID, "err", err)
		return
	}
	var text strings.Builder
	for fragment := range fragments {
		if fragment.Err != nil {
			logger.Error("narrate: stream", "conversation", conversationID, "err", fragment.Err)
			return
		}
		text.WriteString(fragment.Text)
	}
	if _, err := events.Append(eventlog.Event{
		ConversationID: conversationID,
		Type:           eventlog.TypeNarration,
		Payload:        map[string]any{"text": strings.TrimSpace(text.String())},
		Visibility:     eventlog.VisibilityUser,
	}); err != nil {
		logger.Error("narrate: append", "conversation", conversationID, "err", err)
	}
}

// conversationIDs returns the distinct conversation ids in order of first
// appearance. Gate bookkeeping events don't count as activity, otherwise
// every evaluation would schedule the next one.
func conversationIDs(events []eventlog.Event) []string {
	seen := make(map[string]bool)
	var ids []string
	for _, ev := range events {
		switch ev.Type {
		case eventlog.TypeNarration, eventlog.TypeNarrationSuppressed, eventlog.TypeSummaryRefresh:
			continue
		}
		if ev.ConversationID == "" || seen[ev.ConversationID] {
			continue
		}
		seen[ev.ConversationID] = true
		ids = append(ids, ev.ConversationID)
	}
	return ids
}

func newBackend(cfg config.ProviderConfig) (provider.Streamer, error) {
	switch cfg.Kind {
	case "", "ollama":
		return provider.NewOllama(cfg.BaseURL, cfg.Model), nil
	case "mock":
		return mock.New(), nil
	default:
		return nil, errors.New("unknown provider kind: " + cfg.Kind)
	}
}

func logLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
