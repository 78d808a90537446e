package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/brieflens/brieflens/internal/agent"
	"github.com/brieflens/brieflens/internal/config"
	"github.com/brieflens/brieflens/internal/digest"
	"github.com/brieflens/brieflens/internal/llm"
	"github.com/brieflens/brieflens/internal/memory"
	"github.com/brieflens/brieflens/internal/server"
	"github.com/brieflens/brieflens/internal/session"
	"github.com/brieflens/brieflens/internal/storage"
	"github.com/brieflens/brieflens/internal/storage/postgres"
	"github.com/brieflens/brieflens/internal/storage/sqlite"
	"github.com/brieflens/brieflens/internal/tools"
)

// splitStore combines the local session/turn store with a possibly remote
// long-term store.
type splitStore struct {
	storage.SessionStore
	storage.TurnStore
	storage.LongTermStore
}

func main() {
	configPath := flag.String("config", "", "Path to YAML config file (optional)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Sessions and turns always live in the local SQLite store; the
	// long-term store may be remote.
	local, err := sqlite.New(cfg.Storage.DataPath + "/brieflens.db")
	if err != nil {
		log.Fatalf("Failed to initialize storage: %v", err)
	}
	defer local.Close()

	var store storage.Store = local
	if cfg.Storage.Engine == "postgres" {
		pgStore, err := postgres.New(cfg.Storage.PostgresDSN)
		if err != nil {
			log.Fatalf("Failed to initialize postgres long-term store: %v", err)
		}
		defer pgStore.Close()
		store = splitStore{SessionStore: local, TurnStore: local, LongTermStore: pgStore}
		log.Println("Using postgres long-term store")
	}

	clients, err := llm.NewClients(cfg.LLM)
	if err != nil {
		log.Fatalf("Failed to initialize LLM clients: %v", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// Memory layers. The digest provider also serves per-user preferences.
	digestClient := digest.NewClient(digest.ClientConfig{
		BaseURL: cfg.Digest.BaseURL,
		Timeout: cfg.Digest.Timeout,
	})
	digestLayer := memory.NewDigestContext(digestClient)
	prefsLayer := memory.NewPreferenceContext(digestClient)
	longterm := memory.NewLongTerm(store, clients.Embedder, cfg.Agent.LongTermTimeout)

	// Tools.
	var searcher tools.Searcher
	if cfg.Search.BaseURL != "" {
		searcher = tools.NewSearchClient(tools.SearchClientConfig{
			BaseURL: cfg.Search.BaseURL,
			APIKey:  cfg.Search.APIKey,
			Timeout: cfg.Search.Timeout,
		})
	} else {
		log.Println("Warning: no search backend configured, live search disabled")
	}
	registry := tools.NewRegistry(
		tools.NewRetrievalTool(longterm),
		tools.NewRelatedItemsTool(longterm),
		tools.NewLiveSearchTool(searcher),
		tools.NewLinkExtractionTool(cfg.Search.Timeout),
	)
	executor := tools.NewExecutor(registry, cfg.Agent.ToolTimeout, cfg.Agent.ToolPhaseTimeout)

	orchestrator := agent.New(digestLayer, prefsLayer, longterm, store, clients.Streamer, executor, agent.Options{
		RetrievalTopK:      cfg.Agent.RetrievalTopK,
		ContextBudgetChars: cfg.Agent.ContextBudgetChars,
		ShortTermTurns:     cfg.Agent.ShortTermTurns,
		ShortTermTools:     cfg.Agent.ShortTermToolRecords,
	})

	summarizer := session.NewSummarizer(store, longterm, clients.Generator, 0)
	sessions := session.NewManager(store, summarizer, orchestrator)

	addr, hub, err := server.Start(ctx, cfg, sessions, orchestrator, store)
	if err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
	orchestrator.Notify = func(event agent.TurnEvent) { hub.Broadcast(event) }
	sessions.OnSummarized = func(sessionID string) {
		hub.Broadcast(map[string]string{"type": "session_summarized", "session_id": sessionID})
	}

	go sessions.RunIdleSweeper(ctx, time.Minute, cfg.Agent.SessionIdleTimeout)

	log.Printf("brieflens API listening on %s", addr)
	<-ctx.Done()
	log.Println("Shutting down...")

	// Best-effort: fold still-active conversations into long-term memory
	// before exit. A zero idle cutoff matches every active session.
	drainCtx, drainCancel := context.WithTimeout(context.Background(), 10*time.Second)
	if closed, err := sessions.CloseIdleSessions(drainCtx, 0); err != nil {
		log.Printf("Warning: shutdown session sweep failed: %v", err)
	} else if closed > 0 {
		log.Printf("Summarized %d active sessions on shutdown", closed)
	}
	drainCancel()

	// Give the server's shutdown goroutine a moment to drain.
	time.Sleep(200 * time.Millisecond)
}
