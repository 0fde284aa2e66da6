package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/mind-engage/certprep/internal/access"
	api "github.com/mind-engage/certprep/internal/api/http"
	auth "github.com/mind-engage/certprep/internal/auth/middleware"
	"github.com/mind-engage/certprep/internal/billing"
	"github.com/mind-engage/certprep/internal/config"
	"github.com/mind-engage/certprep/internal/grading"
	"github.com/mind-engage/certprep/internal/logger"
	"github.com/mind-engage/certprep/internal/quiz"
	"github.com/mind-engage/certprep/internal/stats"
	"github.com/mind-engage/certprep/internal/storage"
	syncx "github.com/mind-engage/certprep/internal/sync"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP gateway",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd)
	},
}

func runServe(cmd *cobra.Command) error {
	cfg := loadConfig(cmd)
	log, err := logger.New(cfg.LogMode)
	if err != nil {
		return err
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// --- DB ---
	octx, cancel := context.WithTimeout(ctx, 10*time.Second)
	dbh, err := openDB(octx, cfg)
	cancel()
	if err != nil {
		return err
	}
	defer dbh.Close()

	store := quiz.NewSQLStore(dbh)
	billStore := billing.NewSQLStore(dbh)
	gate := access.NewGate(billStore, log)
	events := syncx.NewEventRepo(dbh, string(cfg.Mode))

	// --- Finalize lock: Redis when configured, in-process otherwise ---
	var locker quiz.Locker
	if cfg.RedisAddr != "" {
		l, rdb, err := quiz.NewRedisLocker(ctx, cfg.RedisAddr)
		if err != nil {
			return err
		}
		defer rdb.Close()
		locker = l
		log.Info("finalize locks via redis", "addr", cfg.RedisAddr)
	}

	grader := grading.NewDefaultGrader(grading.WithMode(grading.ParseMode(cfg.ScoringMode)))
	quizSvc := quiz.NewService(store, gate, nil, grader, locker, events, log, quiz.Options{
		EnforceTimer: cfg.EnforceTimer,
		SweepBatch:   cfg.SweepBatch,
	})

	// --- Billing ---
	plans, err := billing.NewCatalog(cfg.PriceStandard, cfg.PriceAllAccess)
	if err != nil {
		return err
	}
	if cfg.PaystackSecretKey == "" {
		log.Warn("PAYSTACK_SECRET_KEY not set; checkout and webhooks will fail")
	}
	gw := billing.NewClient(billing.ClientConfig{SecretKey: cfg.PaystackSecretKey, BaseURL: cfg.PaystackBaseURL})
	billSvc := billing.NewService(billStore, gw, plans, events, log, billing.Options{
		WebhookSecret: cfg.PaystackSecretKey,
		CallbackURL:   cfg.PaystackCallbackURL,
		Period:        cfg.SubscriptionPeriod,
	})

	bs, err := storage.NewFSStore(cfg.BlobBasePath, cfg.PublicURL, cfg.AuthHMACSecret)
	if err != nil {
		return err
	}

	origins := cfg.CORSOriginsOffline
	if cfg.Mode == config.ModeOnline {
		origins = cfg.CORSOriginsOnline
	}
	router := api.NewRouter(api.Deps{
		DB:      dbh,
		Auth:    auth.NewAuthService(cfg.AuthHMACSecret, cfg.TokenTTL),
		Users:   auth.NewUsers(dbh),
		Store:   store,
		Quiz:    quizSvc,
		Gate:    gate,
		Billing: billSvc,
		Stats:   stats.New(dbh),
		Blobs:   bs,
		Events:  events,
		Log:     log,

		CORSOrigins:        origins,
		UpgradeURL:         cfg.PublicURL + "/billing/plans",
		AllowClaimFallback: cfg.Mode == config.ModeOffline,
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("listening", "addr", cfg.HTTPAddr, "mode", cfg.Mode, "db", cfg.DBDriver)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		log.Info("shutting down")
		return srv.Shutdown(sctx)
	})
	if cfg.AbandonAfter > 0 {
		g.Go(func() error {
			sweepLoop(gctx, quizSvc, cfg.AbandonAfter, cfg.SweepEvery, log)
			return nil
		})
	}
	return g.Wait()
}

// sweepLoop finalizes sessions left open longer than after, every tick.
func sweepLoop(ctx context.Context, svc *quiz.Service, after, every time.Duration, log *logger.Logger) {
	if every <= 0 {
		every = 10 * time.Minute
	}
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			n, err := svc.SweepAbandoned(ctx, now.Add(-after))
			if err != nil {
				log.Warn("abandoned-session sweep failed", "error", err)
				continue
			}
			if n > 0 {
				log.Info("abandoned sessions finalized", "count", n)
			}
		}
	}
}
