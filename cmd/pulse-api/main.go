package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/MeridianCRM/pulse/backend/internal/auth"
	"github.com/MeridianCRM/pulse/backend/internal/config"
	"github.com/MeridianCRM/pulse/backend/internal/crm"
	"github.com/MeridianCRM/pulse/backend/internal/database"
	"github.com/MeridianCRM/pulse/backend/internal/logging"
	"github.com/MeridianCRM/pulse/backend/internal/notify"
	"github.com/MeridianCRM/pulse/backend/internal/server"
	"github.com/MeridianCRM/pulse/backend/internal/users"
)

var (
	cfgFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "pulse-api",
		Short: "Pulse CRM notification feed service",
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
	cmd.PersistentFlags().String("crm-base-url", defaults.GetString("crm.base_url"), "CRM API base URL")
	cmd.PersistentFlags().String("crm-api-token", defaults.GetString("crm.api_token"), "CRM API bearer token")
	cmd.PersistentFlags().Int("token-ttl-minutes", defaults.GetInt("auth.token_ttl_minutes"), "Session token TTL in minutes")
	cmd.PersistentFlags().Int("refresh-interval-minutes", defaults.GetInt("notify.refresh_interval_minutes"), "Feed refresh interval in minutes")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("signing-secret", "", "Session token signing secret (overrides env)")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "crm.base_url", "crm-base-url")
	bindFlag(cmd, "crm.api_token", "crm-api-token")
	bindFlag(cmd, "auth.token_ttl_minutes", "token-ttl-minutes")
	bindFlag(cmd, "notify.refresh_interval_minutes", "refresh-interval-minutes")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "auth.signing_secret", "signing-secret")
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
		Issuer:        "pulse-auth",
		Audience:      "pulse-api",
		TokenTTL:      appConfig.TokenTTL,
	})

	identityService, err := users.NewService(users.ServiceConfig{
		Database: db,
		Clock:    time.Now,
	})
	if err != nil {
		return err
	}

	feedStore, err := notify.NewFeedStore(notify.FeedStoreConfig{
		Database: db,
		Clock:    time.Now,
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	crmClient := crm.NewClient(appConfig.CRMBaseURL, appConfig.CRMAPIToken)
	activityBus := notify.NewActivityBus()

	feedManager, err := notify.NewManager(ctx, notify.ManagerConfig{
		Sources:         notify.Sources(crmClient),
		Store:           feedStore,
		Bus:             activityBus,
		RefreshInterval: appConfig.RefreshInterval,
		Clock:           time.Now,
		Logger:          logger,
	})
	if err != nil {
		return err
	}
	defer feedManager.Close()

	handler, err := server.NewHTTPHandler(server.Dependencies{
		TokenManager: tokenManager,
		Identities:   identityService,
		FeedManager:  feedManager,
		ActivityBus:  activityBus,
		Logger:       logger,
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
