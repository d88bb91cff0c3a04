package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/cuongbtq/traffic-export/internal/config"
	"github.com/cuongbtq/traffic-export/internal/credentials"
	"github.com/cuongbtq/traffic-export/internal/exportapi"
	"github.com/cuongbtq/traffic-export/internal/materialize"
	"github.com/cuongbtq/traffic-export/internal/segments"
	"github.com/cuongbtq/traffic-export/internal/watermark"
	"github.com/cuongbtq/traffic-export/internal/worker"
	"github.com/cuongbtq/traffic-export/internal/worker/domain"
	"github.com/cuongbtq/traffic-export/internal/worker/storage"
	"github.com/cuongbtq/traffic-export/shared/database"
	"github.com/cuongbtq/traffic-export/shared/rabbitmq"
)

// service is a fully wired worker plus the clients it owns
type service struct {
	worker       *worker.Worker
	dbClient     *database.Client
	rabbitClient *rabbitmq.Client
}

func (s *service) close() {
	if s.dbClient != nil {
		s.dbClient.Close()
	}
	if s.rabbitClient != nil {
		s.rabbitClient.Close()
	}
}

// newService wires the export worker from configuration
func (a *app) newService(ctx context.Context) (*service, error) {
	cfg := a.cfg
	log := a.logger.Logger

	apiKey, err := resolveAPIKey(ctx, cfg, a.promptKey)
	if err != nil {
		return nil, err
	}

	segmentIDs, err := segments.Load(cfg.Job.SegmentsPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load segments: %w", err)
	}

	log.Info("Segments loaded",
		slog.String("path", cfg.Job.SegmentsPath),
		slog.Int("count", len(segmentIDs)),
	)

	client := exportapi.New(apiKey,
		exportapi.WithBaseURL(cfg.API.BaseURL),
		exportapi.WithVersion(cfg.API.Version),
		exportapi.WithTimeout(cfg.API.RequestTimeout),
		exportapi.WithInsecureSkipVerify(cfg.API.InsecureSkipVerify),
		exportapi.WithLogger(log),
	)

	materializer, err := materialize.New(&materialize.Config{
		OutputDir: cfg.Storage.OutputDir,
		TempDir:   cfg.Storage.TempDir,
		Logger:    log,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize materializer: %w", err)
	}

	svc := &service{}
	wcfg := &worker.Config{
		Logger:       log,
		Client:       client,
		Materializer: materializer,
		Watermark:    watermark.NewStore(cfg.Storage.WatermarkPath, log),
		Template: worker.RequestTemplate{
			Times: domain.TimeWindow{
				Start: cfg.Job.StartTime,
				End:   cfg.Job.EndTime,
			},
			DaysOfWeek: cfg.Job.DaysOfWeek,
			Granularity: domain.Granularity{
				Value: cfg.Job.BinSize,
				Unit:  cfg.Job.GranularityUnit,
			},
			Columns:           cfg.Job.Columns,
			QualityThresholds: cfg.Job.QualityThresholds,
			SegmentIDs:        segmentIDs,
			TravelTimeUnits:   cfg.Job.TravelTimeUnits,
		},
		Policy: worker.Policy{
			PollInterval:         cfg.Lifecycle.PollInterval,
			Timeout:              cfg.Lifecycle.Timeout,
			SubmitAttempts:       cfg.Lifecycle.SubmitAttempts,
			SubmitBaseDelay:      cfg.Lifecycle.SubmitBaseDelay,
			Resubmissions:        *cfg.Lifecycle.Resubmissions,
			RateLimitCooldown:    cfg.Lifecycle.RateLimitCooldown,
			StatusErrorTolerance: cfg.Lifecycle.StatusErrorTolerance,
		},
	}

	if cfg.History.Enabled {
		dbClient, err := initDatabase(ctx, &cfg.History, log)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize run history: %w", err)
		}
		svc.dbClient = dbClient
		wcfg.Recorder = storage.NewStorage(dbClient.GetDB(), log)
		log.Info("Run history enabled", slog.String("driver", cfg.History.Driver))
	}

	if cfg.Notify.Enabled {
		rabbitClient, err := initRabbitMQ(&cfg.Notify.RabbitMQ, log)
		if err != nil {
			svc.close()
			return nil, fmt.Errorf("failed to initialize RabbitMQ: %w", err)
		}
		svc.rabbitClient = rabbitClient
		wcfg.Notifier = worker.NewBrokerNotifier(rabbitClient)
		log.Info("RabbitMQ connection established")
	}

	svc.worker = worker.NewWorker(wcfg)
	return svc, nil
}

// resolveAPIKey checks the config file, then TRAFFIC_API_KEY, then the terminal
func resolveAPIKey(ctx context.Context, cfg *config.Config, prompt bool) (string, error) {
	chain := credentials.Chain{
		credentials.Static(cfg.API.APIKey),
		credentials.Env{Name: "TRAFFIC_API_KEY"},
	}
	if prompt && stdinIsTerminal() {
		chain = append(chain, credentials.Prompt{Label: "Export API key"})
	}

	key, err := chain.APIKey(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to resolve API key: %w", err)
	}
	return key, nil
}

// initDatabase opens the run history database and applies the schema
func initDatabase(ctx context.Context, cfg *config.HistoryConfig, logger *slog.Logger) (*database.Client, error) {
	dbClient, err := database.NewClient(&database.Config{
		Driver:          cfg.Driver,
		Path:            cfg.Path,
		Host:            cfg.Host,
		Port:            cfg.Port,
		User:            cfg.User,
		Password:        cfg.Password,
		Database:        cfg.Database,
		SSLMode:         cfg.SSLMode,
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.ConnMaxIdleTime,
	}, logger)
	if err != nil {
		return nil, err
	}

	if err := dbClient.Migrate(ctx); err != nil {
		dbClient.Close()
		return nil, err
	}
	return dbClient, nil
}

// initRabbitMQ initializes the RabbitMQ publisher
func initRabbitMQ(cfg *config.RabbitMQConfig, logger *slog.Logger) (*rabbitmq.Client, error) {
	rabbitConfig := &rabbitmq.Config{
		Host:               cfg.Host,
		Port:               cfg.Port,
		User:               cfg.User,
		Password:           cfg.Password,
		VHost:              cfg.VHost,
		ExchangeName:       cfg.Exchange.Name,
		ExchangeType:       cfg.Exchange.Type,
		ExchangeDurable:    cfg.Exchange.Durable,
		ExchangeAutoDelete: cfg.Exchange.AutoDelete,
		QueueName:          cfg.Queue.Name,
		QueueDurable:       cfg.Queue.Durable,
		RoutingKey:         cfg.RoutingKey,
		RetryAttempts:      cfg.Connection.RetryAttempts,
		RetryInterval:      cfg.Connection.RetryInterval,
		Heartbeat:          cfg.Connection.Heartbeat,
		PublishRetries:     cfg.Publish.RetryAttempts,
		PublishRetryDelay:  cfg.Publish.RetryInterval,
		PublishBackoffMult: cfg.Publish.BackoffMultiplier,
	}

	return rabbitmq.NewClient(rabbitConfig, logger)
}

// stdinIsTerminal reports whether an interactive prompt can be shown
func stdinIsTerminal() bool {
	fi, err := os.Stdin.Stat()
	if err != nil {
		return false
	}
	return fi.Mode()&os.ModeCharDevice != 0
}
