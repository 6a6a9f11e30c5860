package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"github.com/gofiber/fiber/v2/middleware/basicauth"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/monitor"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/ManuelReschke/Taskly/app/controllers"
	"github.com/ManuelReschke/Taskly/app/repository"
	"github.com/ManuelReschke/Taskly/internal/pkg/accounts"
	"github.com/ManuelReschke/Taskly/internal/pkg/billing"
	"github.com/ManuelReschke/Taskly/internal/pkg/cache"
	"github.com/ManuelReschke/Taskly/internal/pkg/database"
	"github.com/ManuelReschke/Taskly/internal/pkg/entitlements"
	"github.com/ManuelReschke/Taskly/internal/pkg/env"
	"github.com/ManuelReschke/Taskly/internal/pkg/jobqueue"
	"github.com/ManuelReschke/Taskly/internal/pkg/mail"
	"github.com/ManuelReschke/Taskly/internal/pkg/metrics/counter"
	"github.com/ManuelReschke/Taskly/internal/pkg/notify"
	"github.com/ManuelReschke/Taskly/internal/pkg/plancatalog"
	"github.com/ManuelReschke/Taskly/internal/pkg/reminders"
	"github.com/ManuelReschke/Taskly/internal/pkg/router"
)

func main() {
	app, manager := NewApplication()
	manager.Start()

	go func() {
		addr := fmt.Sprintf("%s:%s", env.GetEnv("APP_HOST", "0.0.0.0"), env.GetEnv("APP_PORT", "4000"))
		if err := app.Listen(addr); err != nil {
			log.Fatalf("[Taskly] Server stopped: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("[Taskly] Shutting down...")
	if err := app.ShutdownWithTimeout(15 * time.Second); err != nil {
		log.Errorf("[Taskly] HTTP shutdown error: %v", err)
	}
	manager.Stop()
}

// NewApplication connects the stores, builds the services and returns the
// HTTP app together with the not yet started background manager.
func NewApplication() (*fiber.App, *jobqueue.Manager) {
	env.SetupEnvFile()
	database.SetupDatabase()
	cache.SetupCache()

	db := database.GetDB()
	repository.InitializeFactory(db)
	repos := repository.GetGlobalFactory()
	users := repos.GetUserRepository()

	manager := jobqueue.GetManager()
	queue := manager.GetQueue()

	catalog := plancatalog.NewCatalogFromDB(db, billing.NewStripePriceMirror(env.GetEnv("BILLING_CURRENCY", "usd")))
	ledger := billing.NewLedgerFromDB(db, catalog, notify.NewBillingNotifier(queue))
	tracker := entitlements.NewTrackerFromDB(db, ledger)
	scheduler := reminders.NewSchedulerFromFactory(db, repos, notify.NewDispatcher(queue), env.GetEnvInt("REMINDER_BATCH_SIZE", reminders.DefaultBatchSize))
	accountService := accounts.NewService(db)
	translator := billing.NewStripeTranslatorFromEnv()

	if n, err := accountService.BackfillSubscriptions(context.Background()); err != nil {
		log.Errorf("[Taskly] Subscription backfill failed: %v", err)
	} else if n > 0 {
		log.Infof("[Taskly] Created free subscriptions for %d users", n)
	}

	deliveries := counter.NewDeliveries()
	newWorker(users).WithRecorder(deliveries).RegisterHandlers(queue)
	jobqueue.RegisterBillingEvents(queue, ledger, translator)

	manager.SetReminderSweep(func(ctx context.Context) error {
		_, err := scheduler.RunOnce(ctx)
		return err
	})
	retention := time.Duration(env.GetEnvInt("USAGE_RETENTION_DAYS", 90)) * 24 * time.Hour
	manager.SetHousekeeping(tracker.PurgeTask(retention))

	app := fiber.New(fiber.Config{
		BodyLimit: 1 << 20,
	})

	// recovery and logging
	app.Use(recover.New(), logger.New())

	adminUser := env.GetEnv("ADMIN_USER", "")
	adminPassword := env.GetEnv("ADMIN_PASSWORD", "")

	// fiber metrics
	if adminUser != "" && adminPassword != "" {
		app.Get("/metrics", basicauth.New(basicauth.Config{
			Users: map[string]string{adminUser: adminPassword},
		}), monitor.New())
	}

	// ROUTER
	router.InstallRouter(app, router.Controllers{
		Quota:     controllers.NewQuotaController(tracker),
		Reminders: controllers.NewReminderController(scheduler),
		Billing: controllers.NewBillingController(ledger, translator, queue,
			billing.NewStripeCheckout(ledger, env.GetEnv("FRONTEND_URL", "http://localhost:3000")), catalog, users),
		Users: controllers.NewUserController(accountService, users),
		Admin: controllers.NewAdminController(catalog, queue, deliveries),
	}, router.Config{
		ServiceAPIKey: env.GetEnv("SERVICE_API_KEY", ""),
		AdminUser:     adminUser,
		AdminPassword: adminPassword,
	})

	return app, manager
}

// newWorker builds the delivery worker. A channel whose provider cannot be
// configured stays unset and its jobs fail permanently.
func newWorker(users repository.UserRepository) *notify.Worker {
	var push notify.PushGateway
	if fcm, err := notify.NewFCMGatewayFromEnv(context.Background()); err != nil {
		log.Warnf("[Taskly] Push notifications disabled: %v", err)
	} else {
		push = fcm
	}

	var voice notify.VoiceGateway
	if tw, err := notify.NewTwilioGatewayFromEnv(); err != nil {
		log.Warnf("[Taskly] Voice calls disabled: %v", err)
	} else {
		voice = tw
	}

	return notify.NewWorker(users, push, voice, mail.NewSMTPMailer(mail.SMTPConfigFromEnv()))
}
