package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/relaydesk/backend/internal/auth"
	"github.com/relaydesk/backend/internal/authz"
	"github.com/relaydesk/backend/internal/config"
	"github.com/relaydesk/backend/internal/database"
	"github.com/relaydesk/backend/internal/logging"
	"github.com/relaydesk/backend/internal/notifications"
	"github.com/relaydesk/backend/internal/server"
	"github.com/relaydesk/backend/internal/updates"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

var (
	cfgFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "relaydesk-api",
		Short: "Support-desk relay backend service",
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}

	setupFlags(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupFlags(cmd *cobra.Command) {
	config.ApplyDefaults(viper.GetViper())
	defaults := config.NewViper()
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	cmd.PersistentFlags().String("http-address", defaults.GetString("http.address"), "HTTP listen address")
	cmd.PersistentFlags().String("database-path", defaults.GetString("database.path"), "SQLite database path")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("signing-secret", "", "Session signing secret (overrides env)")
	cmd.PersistentFlags().Int("token-ttl-minutes", defaults.GetInt("auth.token_ttl_minutes"), "Session token TTL in minutes")
	cmd.PersistentFlags().String("webhook-secret", "", "Shared webhook HMAC secret (overrides env)")
	cmd.PersistentFlags().Bool("webhook-allow-unsigned", defaults.GetBool("webhook.allow_unsigned"), "Accept unsigned webhook deliveries")
	cmd.PersistentFlags().Int("dedup-window-minutes", defaults.GetInt("notifications.dedup_window_minutes"), "Notification dedup window in minutes")
	cmd.PersistentFlags().Int("heartbeat-seconds", defaults.GetInt("stream.heartbeat_seconds"), "SSE heartbeat interval in seconds")
	cmd.PersistentFlags().Int("updates-max-batch", defaults.GetInt("updates.max_batch"), "Catch-up query batch cap")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "auth.signing_secret", "signing-secret")
	bindFlag(cmd, "auth.token_ttl_minutes", "token-ttl-minutes")
	bindFlag(cmd, "webhook.secret", "webhook-secret")
	bindFlag(cmd, "webhook.allow_unsigned", "webhook-allow-unsigned")
	bindFlag(cmd, "notifications.dedup_window_minutes", "dedup-window-minutes")
	bindFlag(cmd, "stream.heartbeat_seconds", "heartbeat-seconds")
	bindFlag(cmd, "updates.max_batch", "updates-max-batch")
}

func bindFlag(cmd *cobra.Command, key, flag string) {
	if err := viper.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func initConfig() error {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}

	if err := viper.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if cfgFile != "" && errors.As(err, &configNotFound) {
			return err
		}
	}

	return nil
}

func runServer(ctx context.Context) error {
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}

	logger, err := logging.NewLogger(appConfig.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	db, err := database.OpenSQLite(appConfig.DatabasePath, logger)
	if err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	tokenManager := auth.NewTokenIssuer(auth.TokenIssuerConfig{
		SigningSecret: []byte(appConfig.SigningSecret),
		Issuer:        "relaydesk-auth",
		Audience:      "relaydesk-api",
		TokenTTL:      appConfig.TokenTTL,
	})

	recipients, err := authz.NewService(authz.ServiceConfig{Database: db})
	if err != nil {
		return err
	}

	updateLog, err := updates.NewLog(updates.LogConfig{
		Database: db,
		MaxBatch: appConfig.UpdatesMaxBatch,
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	notificationService, err := notifications.NewService(notifications.ServiceConfig{
		Database:    db,
		IDProvider:  notifications.NewUUIDProvider(),
		DedupWindow: appConfig.NotificationDedupWindow,
		Logger:      logger,
	})
	if err != nil {
		return err
	}

	registry := server.NewRegistry(logger)
	verifier := updates.NewVerifier(appConfig.WebhookSecret)
	if !verifier.Enabled() {
		logger.Warn("webhook signature verification disabled; deliveries are accepted unauthenticated")
	}

	handler, err := server.NewHTTPHandler(server.Dependencies{
		TokenManager:    tokenManager,
		Recipients:      recipients,
		UpdateLog:       updateLog,
		Notifications:   notificationService,
		Registry:        registry,
		Verifier:        verifier,
		Classifier:      updates.NewClassifier(appConfig.FirstContactTolerance),
		Logger:          logger,
		StreamHeartbeat: appConfig.StreamHeartbeat,
	})
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:    appConfig.HTTPAddress,
		Handler: handler,
	}

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go runNotificationPurge(signalCtx, notificationService, appConfig.NotificationPurgeEvery, logger)

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", zap.String("address", appConfig.HTTPAddress))
		err := httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-signalCtx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func runNotificationPurge(ctx context.Context, service *notifications.Service, every time.Duration, logger *zap.Logger) {
	if every <= 0 {
		return
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			deleted, err := service.PurgeExpired(ctx)
			if err != nil {
				logger.Error("notification purge failed", zap.Error(err))
				continue
			}
			if deleted > 0 {
				logger.Info("expired notifications purged", zap.Int64("deleted", deleted))
			}
		}
	}
}
