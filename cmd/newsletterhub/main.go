package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"golang.org/x/sync/errgroup"

	"github.com/zapidan/newsletter-hub-sub001/internal/config"
	"github.com/zapidan/newsletter-hub-sub001/internal/engine"
	"github.com/zapidan/newsletter-hub-sub001/internal/fetch"
	"github.com/zapidan/newsletter-hub-sub001/internal/logging"
	"github.com/zapidan/newsletter-hub-sub001/internal/otel"
	"github.com/zapidan/newsletter-hub-sub001/internal/store"
	"github.com/zapidan/newsletter-hub-sub001/internal/ui/inbox"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		log.Fatalf("Failed to get home directory: %v", err)
	}
	dataDir := filepath.Join(homeDir, ".newsletterhub")
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		log.Fatalf("Failed to create data directory: %v", err)
	}

	if err := logging.Init(dataDir); err != nil {
		log.Fatalf("Failed to init logging: %v", err)
	}
	defer logging.Close()

	st, err := store.Open(filepath.Join(dataDir, "newsletterhub.db"))
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer st.Close()

	eventFile, err := os.OpenFile(filepath.Join(dataDir, "events.jsonl"),
		os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		log.Fatalf("Failed to open event log: %v", err)
	}
	defer eventFile.Close()
	events := otel.NewLogger(eventFile)
	defer events.Close()
	ring := otel.NewRingBuffer(otel.DefaultRingSize)
	events.SetRingBuffer(ring)
	events.Info(otel.KindStartup, "main", "session start")

	fetcher, err := buildFetcher(cfg, st, events)
	if err != nil {
		log.Fatalf("Failed to configure fetch source: %v", err)
	}

	eng := engine.New(engine.Options{
		Fetcher:              fetcher,
		Cache:                st,
		Logger:               events,
		PageSize:             cfg.API.PageSize,
		DebounceInterval:     time.Duration(cfg.Filtering.DebounceMs) * time.Millisecond,
		PreferLocalFiltering: cfg.Filtering.PreferLocalFiltering,
	})
	eng.Start(ctx)
	defer eng.Close()

	program := tea.NewProgram(inbox.New(ctx, eng, ring, cfg.UI.ShowDiagnosis), tea.WithAltScreen())

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		_, err := program.Run()
		return err
	})
	g.Go(func() error {
		<-ctx.Done()
		program.Quit()
		return nil
	})

	if err := g.Wait(); err != nil {
		logging.Error("program exited with error", "err", err)
	}
	events.Info(otel.KindShutdown, "main", "session end")
}

// buildFetcher picks the fetch source: the newsletter API when a base URL is
// configured, otherwise the RSS bridge over the configured feeds.
func buildFetcher(cfg *config.Config, st *store.Store, events *otel.Logger) (fetch.Fetcher, error) {
	if cfg.API.BaseURL != "" {
		return fetch.NewHTTPFetcher(cfg.API.BaseURL, cfg.API.Token,
			time.Duration(cfg.API.RateLimitMs)*time.Millisecond), nil
	}
	if len(cfg.Feeds) > 0 {
		feeds := make([]fetch.BridgeFeed, len(cfg.Feeds))
		for i, f := range cfg.Feeds {
			feeds[i] = fetch.BridgeFeed{Name: f.Name, URL: f.URL, SourceID: f.SourceID}
		}
		return fetch.NewBridge(feeds, st, events), nil
	}
	return nil, fmt.Errorf("no API URL or feeds configured; edit %s", config.ConfigPath())
}
