package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"civicpulse-be/backend"
	"civicpulse-be/config"
	"civicpulse-be/controllers"
	"civicpulse-be/logger"
	"civicpulse-be/middlewares"
	"civicpulse-be/notify"
	"civicpulse-be/outbox"
	"civicpulse-be/reputation"
	"civicpulse-be/routes"
	"civicpulse-be/store"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"
)

func main() {
	logger.Initialize()
	log := logger.WithComponent("main")

	settings, err := config.Load()
	if err != nil {
		log.WithField("error", err.Error()).Fatal("Invalid configuration")
	}
	if settings.Production() {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	b, closeBackend, err := openBackend(ctx, settings)
	if err != nil {
		log.WithField("error", err.Error()).Fatal("Failed to open backend")
	}
	defer closeBackend()

	// Redis is optional: without it there is no outbox, no live
	// notifications and no daily submission limit.
	var rdb *redis.Client
	if settings.RedisEnabled() {
		rdb, err = config.ConnectRedis(ctx, settings)
		if err != nil {
			log.WithField("error", err.Error()).Warn("Continuing without Redis")
			rdb = nil
		} else {
			defer rdb.Close()
		}
	}

	inbox := notify.NewInbox(b, rdb, "")
	ledger := reputation.NewLedger(b, inbox)

	opts := store.Options{Timeout: settings.BackendTimeout}
	var box *outbox.Redis
	if rdb != nil {
		box = outbox.NewRedis(rdb, outbox.DefaultKey)
		opts.Outbox = box
	}
	issues := store.New(b, ledger, opts)

	limits := routes.IssueLimits{
		Upvote: middlewares.Throttle(middlewares.NewUserRateLimiter(rate.Every(time.Second), 5)),
	}
	if rdb != nil {
		limits.Submit = middlewares.IssueRateLimiter(rdb, settings.IssueLimitPrefix, settings.IssueDailyLimit)
	}

	auth := controllers.NewAuthController(b, ledger, settings.JWTSecret)
	auth.Domain = settings.Domain
	auth.Production = settings.Production()

	router := routes.SetupRoutes(routes.Deps{
		Auth:          auth,
		Issues:        controllers.NewIssueController(issues),
		Notifications: controllers.NewNotificationController(inbox),
		RequireUser:   middlewares.AuthMiddleware(settings.JWTSecret),
		Limits:        limits,
		CORSOrigin:    settings.CORSOrigin,
	})

	if box != nil {
		if n, err := box.Recover(ctx); err != nil {
			log.WithField("error", err.Error()).Warn("Failed to recover claimed outbox entries")
		} else if n > 0 {
			log.WithField("recovered", n).Info("Recovered claimed outbox entries")
		}
		go replayOutbox(ctx, issues, box, settings.OutboxReplayInterval)
	}

	srv := &http.Server{
		Addr:    ":" + settings.Port,
		Handler: router,
	}

	go func() {
		log.WithField("port", settings.Port).Info("Server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithField("error", err.Error()).Fatal("Server failed")
		}
	}()

	<-ctx.Done()
	log.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout(settings.BackendTimeout))
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithField("error", err.Error()).Error("Server forced to shutdown")
	}
	if err := issues.Drain(shutdownCtx); err != nil {
		log.WithField("error", err.Error()).Warn("Background writes still pending at exit")
	}

	log.Info("Server exiting")
}

// shutdownTimeout leaves room for a background create that started just
// before the signal to finish its backend call.
func shutdownTimeout(backendTimeout time.Duration) time.Duration {
	const grace = 5 * time.Second
	if backendTimeout <= 0 {
		backendTimeout = store.DefaultTimeout
	}
	return backendTimeout + grace
}

func openBackend(ctx context.Context, s config.Settings) (backend.Backend, func(), error) {
	log := logger.WithComponent("main")

	if s.StoreMode == config.StoreMemory {
		log.Warn("Using the in-memory backend, data is lost on restart")
		return backend.NewMemory(), func() {}, nil
	}

	db, err := config.ConnectDB(ctx, s)
	if err != nil {
		return nil, nil, err
	}
	closeFn := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := db.Client().Disconnect(ctx); err != nil {
			log.WithField("error", err.Error()).Warn("Failed to disconnect from MongoDB")
		}
	}

	m := backend.NewMongo(db)
	if err := m.EnsureIndexes(ctx); err != nil {
		closeFn()
		return nil, nil, err
	}
	return m, closeFn, nil
}

func replayOutbox(ctx context.Context, issues *store.IssueStore, box *outbox.Redis, every time.Duration) {
	log := logger.WithComponent("outbox")
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		n, err := issues.ReplayOutbox(ctx)
		pending, _ := box.Len(ctx)
		entry := log.WithField("replayed", n).WithField("pending", pending)
		if err != nil {
			entry.WithField("error", err.Error()).Warn("Outbox replay stopped early")
			continue
		}
		if n > 0 {
			entry.Info("Outbox replayed")
		}
	}
}

