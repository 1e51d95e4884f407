package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/haackjogos-ops/evitaretres-seguranca-web-sub000/internal/annotate"
	"github.com/haackjogos-ops/evitaretres-seguranca-web-sub000/internal/auth"
	"github.com/haackjogos-ops/evitaretres-seguranca-web-sub000/internal/certificates"
	"github.com/haackjogos-ops/evitaretres-seguranca-web-sub000/internal/config"
	"github.com/haackjogos-ops/evitaretres-seguranca-web-sub000/internal/content"
	"github.com/haackjogos-ops/evitaretres-seguranca-web-sub000/internal/database"
	"github.com/haackjogos-ops/evitaretres-seguranca-web-sub000/internal/ids"
	"github.com/haackjogos-ops/evitaretres-seguranca-web-sub000/internal/logging"
	"github.com/haackjogos-ops/evitaretres-seguranca-web-sub000/internal/media"
	"github.com/haackjogos-ops/evitaretres-seguranca-web-sub000/internal/realtime"
	"github.com/haackjogos-ops/evitaretres-seguranca-web-sub000/internal/registrations"
	"github.com/haackjogos-ops/evitaretres-seguranca-web-sub000/internal/server"
	"github.com/haackjogos-ops/evitaretres-seguranca-web-sub000/internal/settings"
	"github.com/haackjogos-ops/evitaretres-seguranca-web-sub000/internal/storage"
	"github.com/haackjogos-ops/evitaretres-seguranca-web-sub000/internal/users"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const sessionIssuer = "evitare-site"

var (
	cfgFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "evitare-site",
		Short: "Evitare occupational safety site and admin panel",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}

	setupFlags(rootCmd)
	rootCmd.AddCommand(newSeedAdminCommand())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupFlags(cmd *cobra.Command) {
	config.ApplyDefaults(viper.GetViper())
	defaults := config.NewViper()
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	cmd.PersistentFlags().String("http-address", defaults.GetString("http.address"), "HTTP listen address")
	cmd.PersistentFlags().String("site-origin", defaults.GetString("site.origin"), "Public origin used in verification links")
	cmd.PersistentFlags().String("database-driver", defaults.GetString("database.driver"), "Database driver (sqlite, postgres)")
	cmd.PersistentFlags().String("database-path", defaults.GetString("database.path"), "SQLite database path")
	cmd.PersistentFlags().String("database-dsn", defaults.GetString("database.dsn"), "Postgres connection string")
	cmd.PersistentFlags().String("storage-backend", defaults.GetString("storage.backend"), "Object storage backend (local, supabase)")
	cmd.PersistentFlags().String("storage-dir", defaults.GetString("storage.local_dir"), "Directory for locally stored uploads")
	cmd.PersistentFlags().Int("session-ttl-minutes", defaults.GetInt("auth.session_ttl_minutes"), "Admin session TTL in minutes")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("signing-secret", "", "Session signing secret (overrides env)")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "site.origin", "site-origin")
	bindFlag(cmd, "database.driver", "database-driver")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "database.dsn", "database-dsn")
	bindFlag(cmd, "storage.backend", "storage-backend")
	bindFlag(cmd, "storage.local_dir", "storage-dir")
	bindFlag(cmd, "auth.session_ttl_minutes", "session-ttl-minutes")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "auth.signing_secret", "signing-secret")
}

func bindFlag(cmd *cobra.Command, key, flag string) {
	if err := viper.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func initConfig() error {
	if err := config.LoadDotEnv(); err != nil {
		return err
	}
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

func newSeedAdminCommand() *cobra.Command {
	var email, password string
	cmd := &cobra.Command{
		Use:   "seed-admin",
		Short: "Create an admin account or reset its password",
		RunE: func(cmd *cobra.Command, args []string) error {
			appConfig, err := config.Load(viper.GetViper())
			if err != nil {
				return err
			}
			logger, err := logging.NewLogger(appConfig.LogLevel)
			if err != nil {
				return err
			}
			defer logger.Sync() //nolint:errcheck

			db, closeDB, err := openDatabase(appConfig, logger)
			if err != nil {
				return err
			}
			defer closeDB()

			accounts, err := users.NewService(users.ServiceConfig{
				Database:   db,
				IDProvider: ids.NewUUIDProvider(),
				Logger:     logger,
			})
			if err != nil {
				return err
			}
			admin, err := accounts.EnsureAdmin(cmd.Context(), email, password)
			if err != nil {
				return err
			}
			logger.Info("admin account ready", zap.String("user_id", admin.ID), zap.String("email", admin.Email))
			return nil
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "Admin e-mail")
	cmd.Flags().StringVar(&password, "password", "", "Admin password")
	_ = cmd.MarkFlagRequired("email")
	_ = cmd.MarkFlagRequired("password")
	return cmd
}

func openDatabase(appConfig config.AppConfig, logger *zap.Logger) (*gorm.DB, func(), error) {
	db, err := database.Open(database.Config{
		Driver: appConfig.DatabaseDriver,
		Path:   appConfig.DatabasePath,
		DSN:    appConfig.DatabaseDSN,
	}, logger)
	if err != nil {
		return nil, nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, nil, err
	}
	return db, func() { _ = sqlDB.Close() }, nil
}

func openStore(appConfig config.AppConfig, logger *zap.Logger) (storage.ObjectStore, string, error) {
	switch appConfig.StorageBackend {
	case config.StorageSupabase:
		store, err := storage.NewSupabaseStore(storage.SupabaseConfig{
			URL:    appConfig.SupabaseURL,
			Key:    appConfig.SupabaseKey,
			Bucket: appConfig.StorageBucket,
			Logger: logger,
		})
		return store, "", err
	default:
		store, err := storage.NewLocalStore(appConfig.StorageLocalDir)
		if err != nil {
			return nil, "", err
		}
		return store, store.Root(), nil
	}
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

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, closeDB, err := openDatabase(appConfig, logger)
	if err != nil {
		return err
	}
	defer closeDB()

	dispatcher := realtime.NewDispatcher()
	var publisher realtime.Publisher = dispatcher
	if appConfig.DatabaseDriver == config.DriverPostgres {
		bridge, err := realtime.NewPGBridge(realtime.PGBridgeConfig{
			Database: db,
			DSN:      appConfig.DatabaseDSN,
			Local:    dispatcher,
			Logger:   logger,
		})
		if err != nil {
			return fmt.Errorf("start realtime bridge: %w", err)
		}
		go bridge.Run(signalCtx)
		publisher = bridge
	}

	settingsService, err := settings.NewService(settings.ServiceConfig{
		Database:  db,
		Publisher: publisher,
		Logger:    logger,
	})
	if err != nil {
		return err
	}
	if err := settingsService.Init(signalCtx); err != nil {
		return err
	}
	go settingsService.WatchChanges(signalCtx, dispatcher)

	catalogue, err := content.LoadCatalogue()
	if err != nil {
		return err
	}
	idProvider := ids.NewUUIDProvider()
	store, mediaRoot, err := openStore(appConfig, logger)
	if err != nil {
		return err
	}
	uploader, err := media.NewUploader(media.UploaderConfig{
		Store:      store,
		IDProvider: idProvider,
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	collections, err := content.NewRegistry(content.RegistryConfig{
		Database:   db,
		Catalogue:  catalogue,
		IDProvider: idProvider,
		Publisher:  publisher,
		Retirer:    uploader,
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	registrationService, err := registrations.NewService(registrations.ServiceConfig{
		Database:   db,
		IDProvider: idProvider,
		Publisher:  publisher,
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	certificateService, err := certificates.NewService(certificates.ServiceConfig{
		Database:   db,
		IDProvider: idProvider,
		Publisher:  publisher,
		SiteOrigin: appConfig.SiteOrigin,
		Retirer:    uploader,
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	annotations, err := annotate.NewService(annotate.ServiceConfig{
		Certificates: certificateService,
		Backgrounds: &annotate.Loader{
			Store:      store,
			Rasterizer: annotate.CommandRasterizer{Command: appConfig.RasterizerPath},
		},
		Uploader:   uploader,
		IDProvider: idProvider,
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	accounts, err := users.NewService(users.ServiceConfig{
		Database:   db,
		IDProvider: idProvider,
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	tokenIssuer, err := auth.NewTokenIssuer(auth.TokenIssuerConfig{
		SigningSecret: []byte(appConfig.SigningSecret),
		Issuer:        sessionIssuer,
		TokenTTL:      appConfig.SessionTTL,
	})
	if err != nil {
		return err
	}
	sessionValidator, err := auth.NewSessionValidator(auth.SessionValidatorConfig{
		SigningSecret: []byte(appConfig.SigningSecret),
		Issuer:        sessionIssuer,
		CookieName:    appConfig.CookieName,
	})
	if err != nil {
		return err
	}

	handler, err := server.NewHTTPHandler(server.Dependencies{
		Collections:   collections,
		Settings:      settingsService,
		Registrations: registrationService,
		Certificates:  certificateService,
		Annotations:   annotations,
		Uploader:      uploader,
		Accounts:      accounts,
		Tokens:        tokenIssuer,
		Sessions:      sessionValidator,
		Realtime:      dispatcher,
		MediaRoot:     mediaRoot,
		Logger:        logger,
	})
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:              appConfig.HTTPAddress,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting",
			zap.String("address", appConfig.HTTPAddress),
			zap.String("origin", appConfig.SiteOrigin),
			zap.String("database", appConfig.DatabaseDriver),
			zap.String("storage", appConfig.StorageBackend))
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
