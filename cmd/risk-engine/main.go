package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/rzzdr/options-risk-desk/config"
	"github.com/rzzdr/options-risk-desk/internal/desk"
	"github.com/rzzdr/options-risk-desk/internal/kafka"
	"github.com/rzzdr/options-risk-desk/internal/portfolio"
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
		logger.GetLogger("risk-engine.main").Fatalf("Failed to load configuration: %v", err)
	}

	logger.Init(cfg.App.LogLevel, cfg.App.Environment)
	log := logger.GetLogger("risk-engine.main")
	log.Infof("Starting %s risk engine", cfg.App.Name)

	if !cfg.Kafka.Enabled {
		log.Fatal("The risk engine is driven by Kafka commands; set kafka.enabled")
	}

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

	codec, err := kafka.NewCodec(cfg.Kafka.Encoding)
	if err != nil {
		log.Fatalf("Failed to create snapshot codec: %v", err)
	}

	client := kafka.NewClient(cfg.Kafka)
	producer := kafka.NewProducer(client.NewWriter(cfg.Kafka.Topics.Snapshots), codec, cfg.Kafka.Breaker)
	service.AddPublisher(producer)

	consumer := kafka.NewConsumer(client.NewReader(cfg.Kafka.Topics.Commands), service.HandleCommand, recorder)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return consumer.Run(gctx)
	})

	// Republish the book periodically so late subscribers converge
	g.Go(func() error {
		interval := cfg.Metrics.Interval
		if interval <= 0 {
			interval = 15 * time.Second
		}
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				service.Refresh(gctx)
				recorder.RecordGoroutineCount()
			}
		}
	})

	var promServer *metrics.PrometheusServer
	if cfg.Metrics.Prometheus.Enabled {
		promServer = metrics.NewPrometheusServer(cfg.Metrics.Prometheus.Port, recorder)
		g.Go(promServer.Start)
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return promServer.Stop(shutdownCtx)
		})
	}

	runErr := g.Wait()
	if runErr != nil {
		log.Errorf("Risk engine stopped with error: %v", runErr)
	}

	if err := consumer.Close(); err != nil {
		log.Errorf("Kafka consumer shutdown error: %v", err)
	}
	if err := producer.Close(); err != nil {
		log.Errorf("Kafka producer shutdown error: %v", err)
	}

	log.Info("Shutdown complete")
	_ = log.Sync()

	if runErr != nil {
		os.Exit(1)
	}
}
