package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"linkwatch/internal/config"
	"linkwatch/internal/demo"
	"linkwatch/internal/discovery"
	"linkwatch/internal/domain"
	"linkwatch/internal/handler"
	"linkwatch/internal/hub"
	"linkwatch/internal/repository/sqlite"
	"linkwatch/internal/service"
	"linkwatch/internal/topology"
)

func main() {
	configPath := flag.String("config", "", "Optional YAML config file path")
	addr := flag.String("addr", "", "HTTP listen address (overrides config)")
	flag.Parse()

	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Println("Starting linkwatch server...")

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if *addr != "" {
		cfg.ListenAddr = *addr
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// Event bus with bounded per-subscriber buffers and history ring.
	bus := service.NewBus(cfg.EventHistorySize, cfg.SubscriberBuffer)
	defer bus.Close()

	store := topology.NewStore(bus, cfg.IdleTimeout())

	if cfg.DemoMode {
		if err := demo.Seed(store); err != nil {
			log.Fatalf("Failed to seed demo topology: %v", err)
		}
	}

	var wg sync.WaitGroup

	sweeper := topology.NewSweeper(store, cfg.SweepInterval())
	wg.Add(1)
	go func() {
		defer wg.Done()
		sweeper.Run(ctx)
	}()

	eventHub := hub.New(bus, store)
	api := handler.New(store, bus, eventHub)

	if cfg.EventJournalPath != "" {
		journal, err := sqlite.NewJournal(cfg.EventJournalPath)
		if err != nil {
			log.Fatalf("Failed to open event journal: %v", err)
		}
		defer journal.Close()
		api.SetJournal(journal)

		sub := bus.Subscribe()
		wg.Add(1)
		go func() {
			defer wg.Done()
			journal.Consume(ctx, sub.Events())
		}()
		log.Printf("Event journal enabled: %s", cfg.EventJournalPath)
	}

	sources, err := buildSources(ctx, cfg, &wg)
	if err != nil {
		log.Fatalf("Failed to configure discovery: %v", err)
	}
	if len(sources) > 0 {
		pipeline := discovery.NewPipeline(store, sources...)
		wg.Add(1)
		go func() {
			defer wg.Done()
			pipeline.Run(ctx)
		}()
	}

	server := &http.Server{
		Addr:        cfg.ListenAddr,
		Handler:     api.Routes(),
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	go func() {
		<-ctx.Done()
		log.Println("Shutting down...")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("HTTP shutdown: %v", err)
		}
	}()

	log.Printf("Listening on %s (discovery=%s, demo=%v)", cfg.ListenAddr, cfg.DiscoveryMode, cfg.DemoMode)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatalf("HTTP server: %v", err)
	}

	wg.Wait()
	log.Println("Server stopped")
}

// buildSources assembles the discovery sources for the configured mode
func buildSources(ctx context.Context, cfg *config.Config, wg *sync.WaitGroup) ([]discovery.Source, error) {
	switch cfg.DiscoveryMode {
	case config.ModeSysfs:
		return []discovery.Source{
			discovery.NewSysfsSource(cfg.PollInterval(), cfg.InterfaceFilter),
			discovery.NewNetlinkSource(),
		}, nil

	case config.ModeHubble:
		endpoints, err := discovery.LoadEndpointMap(cfg.EndpointMapPath)
		if err != nil {
			return nil, err
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := endpoints.Watch(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Printf("Endpoint map watch ended: %v", err)
			}
		}()
		return []discovery.Source{
			discovery.NewHubbleSource(cfg.HubbleRelayAddr, endpoints),
		}, nil

	case config.ModeNone:
		log.Println("Discovery disabled; topology driven by API and agents")
		return nil, nil
	}
	return nil, domain.Validationf("unsupported discovery mode %q", cfg.DiscoveryMode)
}
