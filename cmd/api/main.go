package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/rzzdr/options-risk-desk/config"
	"github.com/rzzdr/options-risk-desk/internal/desk"
	"github.com/rzzdr/options-risk-desk/internal/kafka"
	"github.com/rzzdr/options-risk-desk/internal/portfolio"
	"github.com/rzzdr/options-risk-desk/internal/websocket"
	"github.com/rzzdr/options-risk-desk/pkg/api"
	"github.com/rzzdr/options-risk-desk/pkg/metrics"
	"github.com/rzzdr/options-risk-desk/pkg/utils/logger"
)

var (
	configFile = flag.String("config", config.GetConfigPath(), "Path to configuration file")
)

func main() {
	flag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		logger.GetLogger("api.main").Fatalf("Failed to load configuration: %v", err)
	}

	logger.Init(cfg.App.LogLevel, cfg.App.Environment)
	log := logger.GetLogger("api.main")
	log.Infof("Starting %s API service", cfg.App.Name)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	recorder := metrics.NewRecorder()

	grid, err := portfolio.NewSpotGrid(portfolio.GridConfig{
		Lower:  cfg.Grid.Lower,
		Upper:  cfg.Grid.Upper,
		Points: cfg.Grid.Points,
	})
	if err != nil {
		log.Fatalf("Invalid spot grid: %v", err)
	}

	service := desk.NewService(portfolio.NewAggregator(grid), cfg.Defaults, recorder)

	hub := websocket.NewHub(service, cfg.Websocket, recorder)
	service.AddPublisher(hub)

	var producer *kafka.Producer
	if cfg.Kafka.Enabled {
		codec, err := kafka.NewCodec(cfg.Kafka.Encoding)
		if err != nil {
			log.Fatalf("Failed to create snapshot codec: %v", err)
		}
		client := kafka.NewClient(cfg.Kafka)
		producer = kafka.NewProducer(client.NewWriter(cfg.Kafka.Topics.Snapshots), codec, cfg.Kafka.Breaker)
		service.AddPublisher(producer)
	}

	apiServer := api.NewServer(cfg.API, service, hub, recorder)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		hub.Run(gctx)
		return nil
	})

	g.Go(func() error {
		return apiServer.Start()
	})

	g.Go(func() error {
		<-gctx.Done()
		log.Info("Initiating shutdown")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.API.ShutdownTimeout)
		defer cancel()
		return apiServer.Stop(shutdownCtx)
	})

	runErr := g.Wait()
	if runErr != nil {
		log.Errorf("API service stopped with error: %v", runErr)
	}

	if producer != nil {
		if err := producer.Close(); err != nil {
			log.Errorf("Kafka producer shutdown error: %v", err)
		}
	}

	log.Info("Shutdown complete")
	_ = log.Sync()

	if runErr != nil {
		os.Exit(1)
	}
}
