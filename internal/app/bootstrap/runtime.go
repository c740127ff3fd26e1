// Package bootstrap assembles the service from configuration: connection
// pools, transports, workers and the HTTP surface.
package bootstrap

import (
	"context"
	"crypto/tls"
	"database/sql"
	"fmt"
	"net/http"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"

	"github.com/stayloop/guestops/internal/api/router"
	"github.com/stayloop/guestops/internal/company"
	"github.com/stayloop/guestops/internal/config"
	"github.com/stayloop/guestops/internal/events"
	"github.com/stayloop/guestops/internal/http/handlers"
	"github.com/stayloop/guestops/internal/http/middleware"
	"github.com/stayloop/guestops/internal/ledger"
	"github.com/stayloop/guestops/internal/messaging"
	"github.com/stayloop/guestops/internal/messaging/templates"
	"github.com/stayloop/guestops/internal/notify"
	"github.com/stayloop/guestops/internal/pipeline"
	"github.com/stayloop/guestops/internal/properties"
	"github.com/stayloop/guestops/internal/reminder"
	"github.com/stayloop/guestops/internal/settings"
	"github.com/stayloop/guestops/internal/suggest"
	"github.com/stayloop/guestops/internal/thread"
	"github.com/stayloop/guestops/internal/worker/sender"
	"github.com/stayloop/guestops/pkg/logging"
)

// Runtime holds the assembled service.
type Runtime struct {
	Config   *config.Config
	Logger   *logging.Logger
	Handler  http.Handler
	Pool     *pgxpool.Pool
	AlertDB  *sql.DB
	Redis    *redis.Client
	Pipeline *pipeline.Worker
	Reminder *reminder.Worker
	Drainer  *sender.Worker
	Janitor  *events.Janitor
}

// billerAdapter narrows the ledger to the dispatcher's Biller.
type billerAdapter struct {
	ledger *ledger.Ledger
}

func (b billerAdapter) CanDebit(ctx context.Context, companyID uuid.UUID, amount int64) error {
	return b.ledger.CanDebit(ctx, companyID, amount)
}

func (b billerAdapter) Debit(ctx context.Context, companyID uuid.UUID, amount int64, billingType string, referenceID uuid.UUID) error {
	_, err := b.ledger.Debit(ctx, companyID, amount, ledger.TxnType(billingType), referenceID)
	return err
}

// New assembles the runtime from configuration.
func New(ctx context.Context, cfg *config.Config) (*Runtime, error) {
	logger := logging.New(cfg.LogLevel)

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("bootstrap: ping postgres: %w", err)
	}

	alertDB, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("bootstrap: open alert db: %w", err)
	}

	var redisClient *redis.Client
	if cfg.RedisAddr != "" {
		opts := &redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
		}
		if cfg.RedisTLS {
			opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
		}
		redisClient = redis.NewClient(opts)
	}

	companyLedger := ledger.New(pool, logger)
	companyStore := company.NewStore(pool)
	threadStore := thread.NewStore(pool, logger)
	propertyStore := properties.NewStore(pool)
	templateStore := templates.NewStore(pool)
	reminderStore := reminder.NewStore(pool)
	processedStore := events.NewProcessedStore(pool)

	transports, err := buildTransports(ctx, cfg, logger)
	if err != nil {
		pool.Close()
		return nil, err
	}

	costs := messaging.Costs{
		messaging.BillingAIReply:     cfg.CostAIReply,
		messaging.BillingManualReply: cfg.CostManualReply,
		messaging.BillingReminder:    cfg.CostReminder,
	}
	dispatcher := messaging.NewDispatcher(threadStore, billerAdapter{companyLedger},
		transports, costs, cfg.SendRetryBaseDelay, logger)

	alerts := notify.NewService(alertDB, cfg.AlertBotURL, cfg.AlertRatePerMinute, logger)
	gate := suggest.NewGate(dispatcher, threadStore, alerts, logger)
	suggestClient := suggest.NewClient(cfg.SuggestBaseURL, cfg.SuggestTimeout, logger)

	loader := settings.NewLoader(pool, propertyStore, redisClient, cfg.SettingsCacheTTL, settings.Defaults{
		ConfidenceThreshold: cfg.ConfidenceThreshold,
		EscalationIntents:   cfg.EscalationIntents,
		QuietHoursStart:     cfg.QuietHoursStart,
		QuietHoursEnd:       cfg.QuietHoursEnd,
	}, logger)

	queue, err := buildQueue(ctx, cfg, logger)
	if err != nil {
		pool.Close()
		return nil, err
	}
	pipelineWorker := pipeline.NewWorker(queue, loader, suggestClient, gate, propertyStore, threadStore, cfg.WorkerCount, logger)

	reminderWorker := reminder.NewWorker(propertyStore, reminderStore, templateStore, threadStore,
		dispatcher, cfg.ReminderTickInterval, cfg.ReminderGraceWindow, logger)
	drainer := sender.New(threadStore, propertyStore, dispatcher,
		cfg.ReminderTickInterval, cfg.SendRetryMaxAttempts, logger)
	janitor := events.NewJanitor(processedStore, time.Hour, 7*24*time.Hour, logger)

	webhooks := handlers.NewWebhooks(processedStore, propertyStore, threadStore, queue, logger)
	threadsAPI := handlers.NewThreads(threadStore, propertyStore, dispatcher, logger)
	companiesAPI := handlers.NewCompanies(companyStore, companyLedger, logger)
	settingsAPI := handlers.NewSettings(propertyStore, loader, logger)
	alertsAPI := handlers.NewAlerts(alerts, logger)
	limiter := middleware.NewRateLimiter(cfg.WebhookRatePerSecond, cfg.WebhookBurst)

	handler := router.New(router.Deps{
		Webhooks:    webhooks,
		Threads:     threadsAPI,
		Companies:   companiesAPI,
		Settings:    settingsAPI,
		Alerts:      alertsAPI,
		RateLimiter: limiter,
		Logger:      logger,
	})

	return &Runtime{
		Config:   cfg,
		Logger:   logger,
		Handler:  handler,
		Pool:     pool,
		AlertDB:  alertDB,
		Redis:    redisClient,
		Pipeline: pipelineWorker,
		Reminder: reminderWorker,
		Drainer:  drainer,
		Janitor:  janitor,
	}, nil
}

// Close releases the runtime's connections.
func (r *Runtime) Close() {
	if r.Redis != nil {
		_ = r.Redis.Close()
	}
	if r.AlertDB != nil {
		_ = r.AlertDB.Close()
	}
	if r.Pool != nil {
		r.Pool.Close()
	}
}

func buildTransports(ctx context.Context, cfg *config.Config, logger *logging.Logger) ([]messaging.Transport, error) {
	transports := []messaging.Transport{
		messaging.NewTelnyxSMS(cfg.TelnyxAPIKey, cfg.TelnyxMessagingProfileID, logger),
	}

	email, err := buildEmailTransport(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	if email != nil {
		transports = append(transports, email)
	}
	return transports, nil
}

func buildEmailTransport(ctx context.Context, cfg *config.Config, logger *logging.Logger) (messaging.Transport, error) {
	provider := cfg.EmailProvider
	if provider == "auto" {
		switch {
		case cfg.SendGridAPIKey != "" && cfg.SESFromEmail != "":
			provider = "failover"
		case cfg.SendGridAPIKey != "":
			provider = "sendgrid"
		case cfg.SESFromEmail != "":
			provider = "ses"
		default:
			provider = ""
		}
	}
	switch provider {
	case "sendgrid":
		return messaging.NewSendGridEmail(cfg.SendGridAPIKey, cfg.SendGridFromName, logger), nil
	case "ses":
		client, err := sesClient(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return messaging.NewSESEmail(client, logger), nil
	case "failover":
		client, err := sesClient(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return messaging.NewFailoverEmail(
			messaging.NewSendGridEmail(cfg.SendGridAPIKey, cfg.SendGridFromName, logger),
			messaging.NewSESEmail(client, logger),
			logger,
		), nil
	case "":
		return nil, nil
	}
	return nil, fmt.Errorf("bootstrap: unknown email provider %q", provider)
}

func sesClient(ctx context.Context, cfg *config.Config) (*sesv2.Client, error) {
	awsCfg, err := loadAWSConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return sesv2.NewFromConfig(awsCfg), nil
}

func buildQueue(ctx context.Context, cfg *config.Config, logger *logging.Logger) (pipeline.Queue, error) {
	if cfg.UseMemoryQueue {
		return pipeline.NewMemoryQueue(256), nil
	}
	awsCfg, err := loadAWSConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	client := sqs.NewFromConfig(awsCfg, func(o *sqs.Options) {
		if cfg.AWSEndpointOverride != "" {
			o.BaseEndpoint = &cfg.AWSEndpointOverride
		}
	})
	return pipeline.NewSQSQueue(client, cfg.InboundQueueURL, logger), nil
}

func loadAWSConfig(ctx context.Context, cfg *config.Config) (aws.Config, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.AWSRegion),
	}
	if cfg.AWSAccessKeyID != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AWSAccessKeyID, cfg.AWSSecretAccessKey, "")))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return aws.Config{}, fmt.Errorf("bootstrap: load aws config: %w", err)
	}
	return awsCfg, nil
}

// StartWorkers launches the background loops and returns after ctx ends.
func (r *Runtime) StartWorkers(ctx context.Context) {
	done := make(chan struct{}, 4)
	go func() { r.Pipeline.Run(ctx); done <- struct{}{} }()
	go func() { r.Reminder.Run(ctx); done <- struct{}{} }()
	go func() { r.Drainer.Run(ctx); done <- struct{}{} }()
	go func() { r.Janitor.Run(ctx); done <- struct{}{} }()
	for i := 0; i < 4; i++ {
		select {
		case <-done:
		case <-time.After(30 * time.Second):
			r.Logger.Warn("worker did not stop in time")
			return
		}
	}
}
