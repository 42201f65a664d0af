package cmd

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

	"github.com/spf13/cobra"

	"devqa/api/internal/ai"
	"devqa/api/internal/app"
	"devqa/api/internal/config"
	"devqa/api/internal/email"
	"devqa/api/internal/logging"
	"devqa/api/internal/objects"
	"devqa/api/internal/realtime"
	"devqa/api/internal/search"
	"devqa/api/internal/session"
	"devqa/api/internal/store"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP and WebSocket API",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	var (
		dataStore app.DataStore
		pgSearch  *search.PgSearch
	)
	switch strings.ToLower(strings.TrimSpace(cfg.StoreDriver)) {
	case "memory":
		logger.Warn(ctx, "using in-memory store; data is lost on restart")
		dataStore = store.NewMemoryStore()
	case "", "postgres":
		pg, err := openPostgres(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer pg.DB().Close()
		dataStore = pg
		pgSearch = search.NewPgSearch(pg.DB())
	default:
		return fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
	}

	opts := []app.Option{
		app.WithAI(ai.NewBridge(ai.Config{APIKey: cfg.LLMAPIKey, BaseURL: cfg.LLMBaseURL, Model: cfg.LLMModel})),
	}

	if strings.TrimSpace(cfg.RedisURL) != "" {
		sessions, err := session.NewRedisStore(cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("redis connection failed: %w", err)
		}
		defer sessions.Close()
		logger.Info(ctx, "token sessions stored in redis")
		opts = append(opts, app.WithSessions(sessions))
	}

	searchSvc, closeSearch := newSearchService(ctx, cfg, pgSearch, logger)
	defer closeSearch()
	if searchSvc != nil {
		opts = append(opts, app.WithSearch(searchSvc))
	}

	if strings.TrimSpace(cfg.S3Endpoint) != "" {
		objectStore, err := objects.NewMinio(objects.Config{
			Endpoint:  cfg.S3Endpoint,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
			Bucket:    cfg.S3Bucket,
			UseSSL:    cfg.S3UseSSL,
		})
		if err != nil {
			return err
		}
		if err := objectStore.EnsureBucket(ctx); err != nil {
			logger.Warn(ctx, "screenshot bucket check failed", "bucket", cfg.S3Bucket, "error", err)
		}
		opts = append(opts, app.WithObjects(objectStore))
	}

	mailer := email.NewService(email.Config{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.SMTPUsername,
		Password: cfg.SMTPPassword,
		From:     cfg.SMTPFrom,
		FromName: cfg.SMTPFromName,
	})
	if mailer.IsConfigured() {
		opts = append(opts, app.WithMailer(mailer))
	}

	registry := realtime.NewRegistry(logger.With("component", "realtime"))
	service := app.New(cfg, dataStore, registry, logger, opts...)
	httpServer := app.NewHTTPServer(service, cfg.CORSOrigins, logger.With("component", "http"))

	// No read or write timeouts: live execution sockets stay open indefinitely.
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info(ctx, "DevQA API listening", "addr", cfg.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sigCh:
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error(shutdownCtx, "shutdown error", "error", err)
	}
	return nil
}

// newSearchService wires Meilisearch in front of the PostgreSQL searcher.
// The service is nil when neither is available, which leaves the app on its
// in-memory fallback. The returned func drains pending index writes.
func newSearchService(ctx context.Context, cfg config.Config, pgSearch *search.PgSearch, logger logging.Logger) (*search.Service, func()) {
	var meili *search.Meili
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meili = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey, logger.With("component", "meilisearch"))
	}
	if meili == nil && pgSearch == nil {
		return nil, func() {}
	}

	var (
		primary  search.Backend
		fallback search.Searcher
		loader   search.RecordLoader
	)
	if meili != nil {
		primary = meili
	}
	if pgSearch != nil {
		fallback, loader = pgSearch, pgSearch
	}
	svc := search.NewService(primary, fallback, loader, logger.With("component", "search"))
	if meili == nil {
		return svc, svc.Wait
	}
	go svc.ReindexAll(ctx)
	return svc, func() {
		svc.Wait()
		meili.Close()
	}
}
