// cmd/server/main.go
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/javajoker/imi-market/internal/authz"
	"github.com/javajoker/imi-market/internal/config"
	"github.com/javajoker/imi-market/internal/database"
	"github.com/javajoker/imi-market/internal/engine"
	"github.com/javajoker/imi-market/internal/i18n"
	"github.com/javajoker/imi-market/internal/metrics"
	"github.com/javajoker/imi-market/internal/middleware"
	"github.com/javajoker/imi-market/internal/payout"
	"github.com/javajoker/imi-market/internal/router"
	"github.com/javajoker/imi-market/internal/services"
	"github.com/javajoker/imi-market/internal/utils"
)

// Version is injected at build time.
var Version = "dev"

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "imi-market",
		Short:         "IP licensing marketplace server",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          runServe,
	}
	root.AddCommand(
		&cobra.Command{
			Use:   "serve",
			Short: "Run the HTTP API",
			RunE:  runServe,
		},
		&cobra.Command{
			Use:   "migrate",
			Short: "Apply database migrations and exit",
			RunE:  runMigrate,
		},
		newTokenCommand(),
	)
	return root
}

func setup() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Error("Failed to load configuration")
		return nil, err
	}
	if err := setupLogging(cfg.Log); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setupLogging(cfg config.LogConfig) error {
	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		return fmt.Errorf("invalid LOG_LEVEL %q: %w", cfg.Level, err)
	}
	logrus.SetLevel(level)
	if cfg.Format == "text" {
		logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	} else {
		logrus.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339Nano})
	}
	return nil
}

func runMigrate(*cobra.Command, []string) error {
	cfg, err := setup()
	if err != nil {
		return err
	}
	db, err := database.Initialize(cfg.Database)
	if err != nil {
		logrus.WithError(err).Error("Failed to initialize database")
		return err
	}
	defer database.Close(db)
	if err := database.RunMigrations(db); err != nil {
		logrus.WithError(err).Error("Failed to run migrations")
		return err
	}
	logrus.Info("Migrations applied")
	return nil
}

func newTokenCommand() *cobra.Command {
	var (
		address string
		caps    []string
		ttl     int
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue an access token for an address",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := setup()
			if err != nil {
				return err
			}
			if !common.IsHexAddress(address) {
				return fmt.Errorf("--address %q is not a hex address", address)
			}
			capabilities := make([]authz.Capability, 0, len(caps))
			for _, c := range caps {
				capability := authz.Capability(strings.TrimSpace(c))
				if !capability.Valid() {
					return fmt.Errorf("unknown capability %q", c)
				}
				capabilities = append(capabilities, capability)
			}
			if ttl <= 0 {
				ttl = cfg.JWT.AccessTokenTTL
			}
			utils.SetJWTSecret(cfg.JWT.SecretKey)
			token, err := utils.GenerateJWT(common.HexToAddress(address), capabilities, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&address, "address", "", "address the token is issued to")
	cmd.Flags().StringSliceVar(&caps, "cap", nil, "capabilities to grant (admin, arbitrator)")
	cmd.Flags().IntVar(&ttl, "ttl", 0, "token lifetime in hours (default JWT_ACCESS_TTL)")
	cmd.MarkFlagRequired("address")
	return cmd
}

func runServe(*cobra.Command, []string) error {
	cfg, err := setup()
	if err != nil {
		return err
	}
	log := logrus.StandardLogger()

	if err := i18n.Initialize(cfg.I18n.DefaultLocale); err != nil {
		log.WithError(err).Error("Failed to initialize i18n")
		return err
	}
	utils.SetJWTSecret(cfg.JWT.SecretKey)

	db, err := database.Initialize(cfg.Database)
	if err != nil {
		log.WithError(err).Error("Failed to initialize database")
		return err
	}
	defer database.Close(db)
	if err := database.RunMigrations(db); err != nil {
		log.WithError(err).Error("Failed to run migrations")
		return err
	}

	eng, err := engine.New(cfg.Marketplace.EngineConfig(), engine.WithLogger(log))
	if err != nil {
		log.WithError(err).Error("Failed to build marketplace engine")
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	snapshots := services.NewSnapshotService(eng, database.NewSnapshotRepository(db), log)
	if err := snapshots.Restore(ctx); err != nil {
		log.WithError(err).Error("Failed to restore engine state")
		return err
	}

	m := metrics.New()
	journal := services.NewJournalService(database.NewJournalRepository(db), log)
	eng.OnCommit(m.ObserveCommit)
	eng.OnCommit(journal.Record)

	var (
		stripe  payout.Executor
		funding services.Funding
	)
	if cfg.Payment.StripeSecretKey != "" {
		st := payout.NewStripe(cfg.Payment)
		stripe, funding = st, st
	}
	storage, err := services.NewStorageService(cfg.AWS)
	if err != nil {
		log.WithError(err).Error("Failed to initialize evidence storage")
		return err
	}
	limiter := middleware.NewRateLimiter(rate.Limit(cfg.Server.RateLimit), cfg.Server.RateBurst)

	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := router.Initialize(cfg, router.Services{
		Auth:     services.NewAuthService(cfg.JWT),
		Assets:   services.NewAssetService(eng),
		Ledger:   services.NewLedgerService(eng, database.NewPayoutRepository(db), stripe, funding, m),
		Licenses: services.NewLicenseService(eng),
		Market:   services.NewMarketService(eng),
		Disputes: services.NewDisputeService(eng, storage),
		Journal:  journal,
		Audit:    database.NewAuditRepository(db),
		Metrics:  m,
		Limiter:  limiter,
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port),
		Handler:      r,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		IdleTimeout:  time.Duration(cfg.Server.IdleTimeout) * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.WithFields(logrus.Fields{"addr": srv.Addr, "version": Version}).Info("Starting server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("failed to start server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		snapshots.Run(gctx, cfg.Snapshot.Interval)
		return nil
	})
	g.Go(func() error {
		limiter.Cleanup(gctx.Done())
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("Shutting down server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.WithError(err).Error("Server stopped with error")
		return err
	}
	log.Info("Server exited")
	return nil
}
