// Package httpapi wires the Gin transport to the submission service,
// middleware and route handlers.
//
// Middleware order matters:
//  1. OpenTelemetry, so every request is traced
//  2. RequestID, Logger, Recovery
//  3. Metrics
//  4. gzip (PDF bodies excluded), CORS, security headers
//
// The API group adds identity, no-store caching, and on POST routes the
// upload cap, idempotency validation and the rate limiter, in that order so
// a replayed request bypasses the limiter.
package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"gorm.io/gorm"

	_ "github.com/tbourn/go-review-backend/api/swagger"
	"github.com/tbourn/go-review-backend/internal/config"
	"github.com/tbourn/go-review-backend/internal/http/handlers"
	"github.com/tbourn/go-review-backend/internal/http/middleware"
	"github.com/tbourn/go-review-backend/internal/repo"
	"github.com/tbourn/go-review-backend/internal/report"
	"github.com/tbourn/go-review-backend/internal/services"
)

// idempotencyStore adapts the repo idempotency functions to the middleware
// lookup and the handler recorder.
type idempotencyStore struct {
	db  *gorm.DB
	ttl time.Duration
}

func (s idempotencyStore) lookup(ctx context.Context, userID, title, key string, now time.Time) (middleware.Replay, bool, error) {
	rec, err := repo.GetIdempotency(ctx, s.db, userID, title, key, now)
	if errors.Is(err, repo.ErrNotFound) {
		return middleware.Replay{}, false, nil
	}
	if err != nil {
		return middleware.Replay{}, false, err
	}
	return middleware.Replay{Title: rec.Title, Version: rec.VersionNumber, Status: rec.Status}, true, nil
}

// Remember implements handlers.IdempotencyRecorder.
func (s idempotencyStore) Remember(ctx context.Context, userID, title, key string, version, status int) error {
	_, err := repo.CreateIdempotency(ctx, s.db, userID, title, key, version, status, s.ttl)
	return err
}

// RegisterRoutes attaches middleware, health endpoints and the versioned API to r.
// idemDB holds idempotency records regardless of the document store driver.
func RegisterRoutes(r *gin.Engine, svc *services.SubmissionService, idemDB *gorm.DB, cfg config.Config) {
	r.HandleMethodNotAllowed = true

	r.Use(otelgin.Middleware(cfg.OTEL.ServiceName))
	r.Use(middleware.RequestID())
	r.Use(middleware.Logger())
	r.Use(middleware.Recovery())
	r.Use(middleware.Metrics())
	r.Use(gzip.Gzip(gzip.DefaultCompression, gzip.WithExcludedExtensions([]string{".pdf"})))
	r.Use(corsMiddleware(cfg.CORS.AllowedOrigins)...)
	r.Use(middleware.SecurityHeaders(middleware.SecurityOptions{
		EnableHSTS:   cfg.Security.EnableHSTS,
		HSTSMaxAge:   cfg.Security.HSTSMaxAge,
		EnablePolicy: true,
	}))

	r.NoRoute(func(c *gin.Context) {
		handlers.Fail(c, http.StatusNotFound, handlers.ErrCodeNotFound, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		handlers.Fail(c, http.StatusMethodNotAllowed, handlers.ErrCodeMethodNotAllowed, "method not allowed")
	})

	r.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	r.GET("/ready", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if err := svc.Ready(ctx); err != nil {
			middleware.LoggerFrom(c).Warn().Err(err).Msg("readiness check failed")
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	if cfg.Server.SwaggerEnabled {
		r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	idem := idempotencyStore{db: idemDB, ttl: cfg.IdempotencyTTL}
	h := handlers.New(svc, idem, report.Render)

	api := groupWithPrefix(r, cfg.Server.APIBasePath)
	api.Use(middleware.Auth(middleware.AuthOptions{
		Secret:      cfg.Auth.JWTSecret,
		AllowHeader: cfg.Auth.AllowHeaderIdentity,
		LoginURL:    cfg.Auth.LoginURL,
	}))
	api.Use(middleware.SecurityHeaders(middleware.SecurityOptions{NoStore: true}))

	rl := middleware.NewRateLimiter(cfg.RateRPS, cfg.RateBurst, middleware.KeyByUserOrIP())
	idemCheck := middleware.IdempotencyValidator(middleware.IdempotencyOptions{
		Title: func(c *gin.Context) string { return services.NormalizeTitle(c.PostForm("title")) },
	}, idem.lookup)
	upload := []gin.HandlerFunc{limitBody(cfg.Server.MaxUploadBytes), idemCheck, rl.Handler()}

	api.POST("/submissions", append(upload, h.CreateSubmission)...)
	api.POST("/submissions/versions", append(upload, h.AddVersion)...)
	api.POST("/analyze", limitBody(cfg.Server.MaxUploadBytes), rl.Handler(), h.Analyze)

	api.GET("/titles", h.ListTitles)
	api.GET("/versions", h.ListVersions)
	api.GET("/versions/:number", h.GetVersion)
	api.GET("/versions/:number/report.pdf", h.VersionReport)
}

var (
	corsMethods = []string{"GET", "POST", "OPTIONS"}
	corsHeaders = []string{"Origin", "Content-Type", "Accept", "Authorization", middleware.HeaderUserID, middleware.HeaderIdempotencyKey}
	corsExpose  = []string{"X-Request-ID", "Content-Length", "Content-Disposition", "ETag", "Idempotent-Replayed"}
)

// corsMiddleware allows every origin when none are configured, otherwise it
// echoes allowlisted origins.
func corsMiddleware(origins []string) []gin.HandlerFunc {
	if len(origins) == 0 {
		return []gin.HandlerFunc{
			func(c *gin.Context) {
				c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
				c.Next()
			},
			cors.New(cors.Config{
				AllowAllOrigins: true,
				AllowMethods:    corsMethods,
				AllowHeaders:    corsHeaders,
				ExposeHeaders:   corsExpose,
				MaxAge:          12 * time.Hour,
			}),
		}
	}

	allowed := make(map[string]struct{}, len(origins))
	for _, o := range origins {
		allowed[o] = struct{}{}
	}
	return []gin.HandlerFunc{
		func(c *gin.Context) {
			if origin := c.GetHeader("Origin"); origin != "" {
				if _, ok := allowed[origin]; ok {
					h := c.Writer.Header()
					h.Set("Access-Control-Allow-Origin", origin)
					h.Add("Vary", "Origin")
				}
			}
			c.Next()
		},
		cors.New(cors.Config{
			AllowOrigins:  origins,
			AllowMethods:  corsMethods,
			AllowHeaders:  corsHeaders,
			ExposeHeaders: corsExpose,
			MaxAge:        12 * time.Hour,
		}),
	}
}

// limitBody caps the request body at maxBytes. Reads past the cap fail with
// *http.MaxBytesError.
func limitBody(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}

// groupWithPrefix mounts a group at prefix, treating "/" (or empty) as root.
func groupWithPrefix(r *gin.Engine, prefix string) *gin.RouterGroup {
	if prefix == "" || prefix == "/" {
		return r.Group("")
	}
	return r.Group(prefix)
}
