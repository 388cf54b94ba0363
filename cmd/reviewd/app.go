package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"go.mongodb.org/mongo-driver/mongo"
	"gorm.io/gorm"

	"github.com/tbourn/go-review-backend/internal/checklist"
	"github.com/tbourn/go-review-backend/internal/config"
	"github.com/tbourn/go-review-backend/internal/extract"
	httpapi "github.com/tbourn/go-review-backend/internal/http"
	"github.com/tbourn/go-review-backend/internal/http/middleware"
	"github.com/tbourn/go-review-backend/internal/ledger"
	"github.com/tbourn/go-review-backend/internal/observability"
	"github.com/tbourn/go-review-backend/internal/repo"
	"github.com/tbourn/go-review-backend/internal/scoring"
	"github.com/tbourn/go-review-backend/internal/services"
)

const (
	shutdownTimeout = 30 * time.Second
	janitorInterval = time.Hour
)

// deps owns every connection the service needs. Close releases them in
// reverse order of acquisition.
type deps struct {
	db      *gorm.DB
	svc     *services.SubmissionService
	closers []func(context.Context) error
}

func (d *deps) Close(ctx context.Context) {
	for i := len(d.closers) - 1; i >= 0; i-- {
		if err := d.closers[i](ctx); err != nil {
			log.Warn().Err(err).Msg("close dependency")
		}
	}
}

// newService builds the scoring pipeline. l may be nil for commands that
// only score.
func newService(cfg config.Config, l *ledger.Ledger) (*services.SubmissionService, error) {
	schema, err := checklist.ParseSchema(cfg.Scorer.ChecklistSchema)
	if err != nil {
		return nil, err
	}
	sc := scoring.NewClient(scoring.Options{
		BaseURL:   cfg.Scorer.URL,
		Model:     cfg.Scorer.Model,
		APIKey:    cfg.Scorer.APIKey,
		MaxTokens: cfg.Scorer.MaxTokens,
		Timeout:   cfg.Scorer.Timeout,
	})
	svc := services.NewSubmissionService(l, extract.PDF{}, sc, checklist.New(schema))
	svc.ScoringTimeout = cfg.Scorer.Timeout
	return svc, nil
}

// openDeps opens the idempotency database, the configured document store
// and the optional Redis locker, migrating schemas and indexes on the way.
func openDeps(ctx context.Context, cfg config.Config) (_ *deps, err error) {
	d := &deps{}
	defer func() {
		if err != nil {
			d.Close(context.Background())
		}
	}()

	if dir := filepath.Dir(cfg.Store.DBPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	db, err := repo.OpenSQLite(cfg.Store.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", cfg.Store.DBPath, err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	d.db = db
	d.closers = append(d.closers, func(context.Context) error { return sqlDB.Close() })
	if err := repo.AutoMigrate(db); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}

	var store repo.Store
	switch cfg.Store.Driver {
	case config.DriverMongo:
		client, err := repo.ConnectMongo(ctx, cfg.Store.MongoURI)
		if err != nil {
			return nil, fmt.Errorf("connect mongo: %w", err)
		}
		d.closers = append(d.closers, client.Disconnect)
		ms := repo.NewMongoStore(mongoCollection(client, cfg.Store))
		if err := ms.EnsureIndexes(ctx); err != nil {
			return nil, fmt.Errorf("mongo indexes: %w", err)
		}
		store = ms
	default:
		store = repo.NewGormStore(db)
	}
	store = repo.NewRetryingStore(store, cfg.Store.Retries, cfg.Store.RetryDelay)

	var opts []ledger.Option
	if cfg.Redis.Addr != "" {
		rc, err := ledger.NewRedisClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			return nil, fmt.Errorf("connect redis %s: %w", cfg.Redis.Addr, err)
		}
		d.closers = append(d.closers, closeRedis(rc))
		opts = append(opts, ledger.WithLocker(ledger.NewRedisLocker(rc, cfg.Redis.LockTTL)))
	}
	if cfg.Cache.Size > 0 {
		opts = append(opts, ledger.WithCache(ledger.NewVersionCache(cfg.Cache.Size, cfg.Cache.TTL)))
	}

	d.svc, err = newService(cfg, ledger.New(store, opts...))
	if err != nil {
		return nil, err
	}
	log.Info().
		Str("driver", cfg.Store.Driver).
		Bool("redis_lock", cfg.Redis.Addr != "").
		Int("version_cache", cfg.Cache.Size).
		Msg("store ready")
	return d, nil
}

func mongoCollection(c *mongo.Client, cfg config.StoreConfig) *mongo.Collection {
	return c.Database(cfg.MongoDatabase).Collection(cfg.MongoCollection)
}

func closeRedis(c *redis.Client) func(context.Context) error {
	return func(context.Context) error { return c.Close() }
}

func (a *cli) serve(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := observability.Setup(ctx, a.cfg.OTEL, version)
	if err != nil {
		return fmt.Errorf("tracing: %w", err)
	}
	defer func() { _ = shutdownTracing(context.Background()) }()

	d, err := openDeps(ctx, a.cfg)
	if err != nil {
		return err
	}
	defer d.Close(context.Background())

	gin.SetMode(a.cfg.Server.GinMode)
	r := gin.New()
	httpapi.RegisterRoutes(r, d.svc, d.db, a.cfg)

	srv := &http.Server{
		Addr:              ":" + a.cfg.Server.Port,
		Handler:           r,
		ReadTimeout:       a.cfg.Server.ReadTimeout,
		ReadHeaderTimeout: a.cfg.Server.ReadHeaderTimeout,
		WriteTimeout:      a.cfg.Server.WriteTimeout,
		IdleTimeout:       a.cfg.Server.IdleTimeout,
		MaxHeaderBytes:    a.cfg.Server.MaxHeaderBytes,
	}

	go purgeIdempotency(ctx, d.db, janitorInterval)

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", srv.Addr).Str("version", version).Msg("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		log.Info().Msg("shutting down")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	}

	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		return fmt.Errorf("graceful shutdown: %w", err)
	}
	log.Info().Msg("http server stopped")
	return nil
}

// purgeIdempotency drops expired idempotency records until ctx ends.
func purgeIdempotency(ctx context.Context, db *gorm.DB, every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			n, err := repo.PurgeIdempotency(ctx, db, now)
			if err != nil {
				log.Warn().Err(err).Msg("purge idempotency records")
				continue
			}
			if n > 0 {
				log.Debug().Int64("removed", n).Msg("purged idempotency records")
			}
		}
	}
}

func (a *cli) migrate(cmd *cobra.Command, _ []string) error {
	d, err := openDeps(cmd.Context(), a.cfg)
	if err != nil {
		return err
	}
	d.Close(context.Background())
	fmt.Fprintf(cmd.OutOrStdout(), "migrated %s store\n", a.cfg.Store.Driver)
	return nil
}

type scoreOutput struct {
	File      string          `json:"file"`
	Title     string          `json:"title"`
	Pages     int             `json:"pages"`
	Checklist string          `json:"checklist"`
	Kind      string          `json:"kind"`
	Degraded  bool            `json:"degraded"`
	Results   json.RawMessage `json:"results"`
}

func (a *cli) score(cmd *cobra.Command, args []string) error {
	data, err := os.ReadFile(args[0])
	if err != nil {
		return err
	}
	svc, err := newService(a.cfg, nil)
	if err != nil {
		return err
	}
	doc, res, err := svc.Score(cmd.Context(), data)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(scoreOutput{
		File:      filepath.Base(args[0]),
		Title:     services.NormalizeTitle(doc.Title),
		Pages:     doc.Pages,
		Checklist: svc.Template.Version,
		Kind:      string(res.Kind),
		Degraded:  res.Degraded(),
		Results:   res.Payload,
	})
}

func (a *cli) purge(cmd *cobra.Command, _ []string) error {
	user, _ := cmd.Flags().GetString("user")
	title, _ := cmd.Flags().GetString("title")

	d, err := openDeps(cmd.Context(), a.cfg)
	if err != nil {
		return err
	}
	defer d.Close(context.Background())

	n, err := d.svc.Purge(cmd.Context(), user, title)
	if err != nil {
		return err
	}
	log.Info().Str("user_id", user).Str("title", title).Int64("removed", n).Msg("purged submission")
	fmt.Fprintf(cmd.OutOrStdout(), "removed %d submission(s)\n", n)
	return nil
}

func (a *cli) token(cmd *cobra.Command, _ []string) error {
	user, _ := cmd.Flags().GetString("user")
	ttl, _ := cmd.Flags().GetDuration("ttl")
	if a.cfg.Auth.JWTSecret == "" {
		return errors.New("JWT_SECRET is not set")
	}
	if ttl <= 0 {
		return fmt.Errorf("--ttl must be positive, got %s", ttl)
	}
	tok, err := middleware.IssueToken(a.cfg.Auth.JWTSecret, user, ttl)
	if err != nil {
		return err
	}
	log.Info().Str("user_id", user).Dur("ttl", ttl).Msg("issued token")
	fmt.Fprintln(cmd.OutOrStdout(), tok)
	return nil
}
