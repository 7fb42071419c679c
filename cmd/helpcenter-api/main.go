package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/MarcoPoloResearchLab/helpcenter/internal/analytics"
	"github.com/MarcoPoloResearchLab/helpcenter/internal/auth"
	"github.com/MarcoPoloResearchLab/helpcenter/internal/blocks"
	"github.com/MarcoPoloResearchLab/helpcenter/internal/config"
	"github.com/MarcoPoloResearchLab/helpcenter/internal/content"
	"github.com/MarcoPoloResearchLab/helpcenter/internal/database"
	"github.com/MarcoPoloResearchLab/helpcenter/internal/logging"
	"github.com/MarcoPoloResearchLab/helpcenter/internal/metrics"
	"github.com/MarcoPoloResearchLab/helpcenter/internal/server"
	"github.com/MarcoPoloResearchLab/helpcenter/internal/storage"
)

var (
	cfgFile string
	envFile string
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "helpcenter-api",
		Short: "Help center content and analytics API",
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}

	setupFlags(rootCmd)
	rootCmd.AddCommand(newHashPasswordCommand())
	return rootCmd
}

func setupFlags(cmd *cobra.Command) {
	config.ApplyDefaults(viper.GetViper())
	defaults := config.NewViper()
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	cmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "Path to a dotenv file loaded before configuration")
	cmd.PersistentFlags().String("http-address", defaults.GetString("http.address"), "HTTP listen address")
	cmd.PersistentFlags().String("database-path", defaults.GetString("database.path"), "SQLite database path")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("log-format", defaults.GetString("log.format"), "Log format (json, console)")
	cmd.PersistentFlags().String("storage-driver", defaults.GetString("storage.driver"), "Upload storage driver (local, s3)")
	cmd.PersistentFlags().String("redis-address", defaults.GetString("redis.address"), "Redis address for the analytics report cache")
	cmd.PersistentFlags().String("signing-secret", "", "Session signing secret (overrides env)")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "log.format", "log-format")
	bindFlag(cmd, "storage.driver", "storage-driver")
	bindFlag(cmd, "redis.address", "redis-address")
	bindFlag(cmd, "auth.signing_secret", "signing-secret")
}

func bindFlag(cmd *cobra.Command, key, flag string) {
	if err := viper.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func initConfig() error {
	if err := config.LoadDotEnv(envFile); err != nil {
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

func newHashPasswordCommand() *cobra.Command {
	var password string
	cmd := &cobra.Command{
		Use:   "hash-password",
		Short: "Print the argon2id hash to configure as admin.password_hash",
		Long:  "Hashes the admin password given with --password, or read as the first line of stdin.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			raw := password
			if raw == "" {
				line, err := readFirstLine(cmd.InOrStdin())
				if err != nil {
					return err
				}
				raw = line
			}
			hash, err := auth.HashPassword(raw)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), hash)
			return err
		},
	}
	cmd.Flags().StringVar(&password, "password", "", "Password to hash (read from stdin when empty)")
	return cmd
}

func readFirstLine(reader io.Reader) (string, error) {
	line, err := bufio.NewReader(reader).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func runServer(ctx context.Context) error {
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}

	logger, err := logging.NewLogger(appConfig.LogLevel, appConfig.LogFormat)
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

	collectors := metrics.New()
	ids := content.NewUUIDProvider()

	cache, closeCache, err := newReportCache(ctx, appConfig.Redis, logger)
	if err != nil {
		return err
	}
	defer closeCache()

	store, err := content.NewStore(content.StoreConfig{
		Database:   db,
		Clock:      time.Now,
		IDProvider: ids,
		Logger:     logger,
		OnChange:   analytics.InvalidateOnChange(cache, logger),
	})
	if err != nil {
		return err
	}

	recorder, err := analytics.NewRecorder(analytics.RecorderConfig{
		Database:   db,
		Clock:      time.Now,
		IDProvider: ids,
		Cache:      cache,
		Metrics:    collectors,
		Logger:     logger,
	})
	if err != nil {
		return err
	}
	analyticsService, err := analytics.NewService(analytics.ServiceConfig{
		Database: db,
		Catalog:  store,
		Cache:    cache,
		Metrics:  collectors,
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	passwords, err := auth.NewPasswordVerifier(appConfig.AdminPasswordHash)
	if err != nil {
		return fmt.Errorf("admin.password_hash: %w", err)
	}
	tokenIssuer, err := auth.NewTokenIssuer(auth.TokenIssuerConfig{
		SigningSecret: []byte(appConfig.SigningSecret),
		Issuer:        appConfig.TokenIssuer,
		Audience:      appConfig.TokenAudience,
		TokenTTL:      appConfig.TokenTTL,
	})
	if err != nil {
		return err
	}
	sessionValidator, err := auth.NewSessionValidator(auth.SessionValidatorConfig{
		SigningSecret: []byte(appConfig.SigningSecret),
		Issuer:        appConfig.TokenIssuer,
		Audience:      appConfig.TokenAudience,
		CookieName:    appConfig.CookieName,
	})
	if err != nil {
		return err
	}
	links, err := auth.NewLinkSigner([]byte(appConfig.SigningSecret))
	if err != nil {
		return err
	}

	uploader, uploadsDir, err := newUploader(ctx, appConfig.Storage, collectors, logger)
	if err != nil {
		return err
	}

	digest, err := analytics.NewDigestJob(analyticsService, appConfig.DigestSchedule, logger)
	if err != nil {
		return fmt.Errorf("analytics.digest_schedule: %w", err)
	}
	digest.Start()
	defer digest.Stop()

	handler, err := server.NewHTTPHandler(server.Dependencies{
		Content:        store,
		Analytics:      analyticsService,
		Recorder:       recorder,
		Uploader:       uploader,
		Passwords:      passwords,
		Tokens:         tokenIssuer,
		Sessions:       sessionValidator,
		Links:          links,
		Metrics:        collectors,
		Logger:         logger,
		UploadsDir:     uploadsDir,
		AllowedOrigins: appConfig.AllowedOrigins,
		SecureCookies:  appConfig.SecureCookies,
		MaxUploadBytes: appConfig.MaxUploadBytes,
		TrackingRate:   rate.Limit(appConfig.TrackingRate),
		TrackingBurst:  appConfig.TrackingBurst,
	})
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:              appConfig.HTTPAddress,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", zap.String("address", appConfig.HTTPAddress), zap.String("storage_driver", appConfig.Storage.Driver))
		err := httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-signalCtx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), appConfig.ShutdownTimeout)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

// newReportCache connects the shared redis cache when configured and falls
// back to a per-process cache otherwise.
func newReportCache(ctx context.Context, cfg config.RedisConfig, logger *zap.Logger) (analytics.Cache, func(), error) {
	if cfg.Address == "" {
		return analytics.NewMemoryCache(), func() {}, nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("redis %s: %w", cfg.Address, err)
	}
	cache, err := analytics.NewRedisCache(client, cfg.KeyPrefix, cfg.TTL)
	if err != nil {
		_ = client.Close()
		return nil, nil, err
	}
	logger.Info("analytics report cache connected", zap.String("address", cfg.Address))
	return cache, func() { _ = client.Close() }, nil
}

// newUploader builds the configured upload backend. The returned directory is
// served under /uploads and is empty for remote storage.
func newUploader(ctx context.Context, cfg config.StorageConfig, collectors *metrics.Metrics, logger *zap.Logger) (blocks.Uploader, string, error) {
	switch cfg.Driver {
	case config.StorageDriverS3:
		client, err := storage.NewS3Client(ctx, storage.S3Settings{
			Region:          cfg.S3.Region,
			Endpoint:        cfg.S3.Endpoint,
			AccessKeyID:     cfg.S3.AccessKeyID,
			SecretAccessKey: cfg.S3.SecretAccessKey,
		})
		if err != nil {
			return nil, "", err
		}
		uploader, err := storage.NewS3Uploader(storage.S3Config{
			Client:        client,
			Bucket:        cfg.S3.Bucket,
			Prefix:        cfg.S3.Prefix,
			PublicBaseURL: cfg.PublicBaseURL,
			Metrics:       collectors,
			Logger:        logger,
		})
		return uploader, "", err
	default:
		uploader, err := storage.NewLocalUploader(storage.LocalConfig{
			Root:          cfg.LocalRoot,
			PublicBaseURL: cfg.PublicBaseURL,
			Metrics:       collectors,
			Logger:        logger,
		})
		if err != nil {
			return nil, "", err
		}
		return uploader, uploader.Root(), nil
	}
}
