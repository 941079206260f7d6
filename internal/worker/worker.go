package worker

import (
	"context"
	"fmt"

	"github.com/codecraft-store/entitlement-api/internal/config"
	"github.com/codecraft-store/entitlement-api/internal/domain/license"
	"github.com/codecraft-store/entitlement-api/internal/domain/product"
	"github.com/codecraft-store/entitlement-api/internal/domain/purchase"
	"github.com/codecraft-store/entitlement-api/internal/notify"
	"github.com/codecraft-store/entitlement-api/internal/processor/mercadopago"
	"github.com/codecraft-store/entitlement-api/internal/tasks"
	"github.com/hibiken/asynq"
	"go.uber.org/zap"
)

// Deps gathers everything the background task handlers need.
type Deps struct {
	Purchases purchase.Repository
	Products  product.Repository
	Licenses  license.Repository
	Processor mercadopago.Client
	Applier   tasks.StatusApplier
	Invoices  notify.InvoiceGenerator
	Emails    notify.EmailNotifier
	Artifacts notify.ArtifactResolver
}

func RunWorkers(cfg *config.Config, deps Deps, logger *zap.Logger) (<-chan error, func(context.Context)) {
	errChan := make(chan error, 2)

	redisConnOpts := asynq.RedisClientOpt{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	}

	srv := asynq.NewServer(
		redisConnOpts,
		asynq.Config{
			Concurrency: 10,
			Queues: map[string]int{
				"critical": 6,
				"default":  3,
				"low":      1,
			},
			ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
				log := logger.Named("AsynqServerErrorHandler")
				log.Error("Asynq task processing failed",
					zap.String("task_type", task.Type()),
					zap.ByteString("payload", task.Payload()),
					zap.Error(err),
				)
			}),
			Logger: NewAsynqLoggerAdapter(logger.Named("AsynqServer")),
		},
	)

	mux := asynq.NewServeMux()

	invoiceHandler := tasks.NewInvoiceHandler(deps.Purchases, deps.Products, deps.Invoices, logger)
	mux.HandleFunc(tasks.TypeInvoiceGenerate, invoiceHandler.ProcessTask)

	emailHandler := tasks.NewEmailHandler(deps.Purchases, deps.Products, deps.Licenses, deps.Emails, deps.Artifacts, logger)
	mux.HandleFunc(tasks.TypeEmailConfirm, emailHandler.ProcessTask)

	reconcileHandler := tasks.NewReconcileHandler(deps.Purchases, deps.Processor, deps.Applier, logger)
	mux.HandleFunc(tasks.TypePurchaseReconcile, reconcileHandler.ProcessTask)

	go func() {
		logger.Info("Starting Asynq Server...")
		if err := srv.Run(mux); err != nil {
			logger.Error("Asynq Server run failed", zap.Error(err))
			errChan <- fmt.Errorf("asynq server error: %w", err)
		}
		logger.Info("Asynq Server stopped.")
	}()

	scheduler := asynq.NewScheduler(
		redisConnOpts,
		&asynq.SchedulerOpts{
			Logger: NewAsynqLoggerAdapter(logger.Named("AsynqScheduler")),
		},
	)

	reconcileTask, err := tasks.NewPurchaseReconcileTask(asynq.Queue("low"))
	if err != nil {
		logger.Error("Failed to create reconcile task for scheduler", zap.Error(err))
		errChan <- fmt.Errorf("scheduler task creation error: %w", err)
	} else {
		entryID, err := scheduler.Register("@every 30m", reconcileTask)
		if err != nil {
			logger.Error("Could not register periodic reconciliation sweep", zap.Error(err))
			errChan <- fmt.Errorf("scheduler registration error: %w", err)
		} else {
			logger.Info("Registered periodic pending purchase reconciliation", zap.String("entry_id", entryID), zap.String("schedule", "@every 30m"))
		}
	}

	go func() {
		logger.Info("Starting Asynq Scheduler...")
		if err := scheduler.Run(); err != nil {
			logger.Error("Asynq Scheduler run failed", zap.Error(err))
			errChan <- fmt.Errorf("asynq scheduler error: %w", err)
		}
		logger.Info("Asynq Scheduler stopped.")
	}()

	shutdownFunc := func(ctx context.Context) {
		logger.Info("Shutting down Asynq Scheduler...")
		scheduler.Shutdown()
		logger.Info("Asynq Scheduler stopped.")

		logger.Info("Shutting down Asynq Server...")
		srv.Shutdown()
		logger.Info("Asynq Server stopped.")
	}

	return errChan, shutdownFunc
}

type asynqLoggerAdapter struct {
	logger *zap.Logger
}

func NewAsynqLoggerAdapter(logger *zap.Logger) *asynqLoggerAdapter {
	return &asynqLoggerAdapter{logger: logger.WithOptions(zap.AddCallerSkip(1))}
}

func (l *asynqLoggerAdapter) Debug(args ...interface{}) {
	l.logger.Debug(fmt.Sprint(args...))
}
func (l *asynqLoggerAdapter) Info(args ...interface{}) {
	l.logger.Info(fmt.Sprint(args...))
}
func (l *asynqLoggerAdapter) Warn(args ...interface{}) {
	l.logger.Warn(fmt.Sprint(args...))
}
func (l *asynqLoggerAdapter) Error(args ...interface{}) {
	l.logger.Error(fmt.Sprint(args...))
}
func (l *asynqLoggerAdapter) Fatal(args ...interface{}) {
	l.logger.Fatal(fmt.Sprint(args...))
}
