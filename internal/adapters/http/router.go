package http

import (
	"context"

	"github.com/dkeye/Tasting/internal/adapters/signal"
	"github.com/dkeye/Tasting/internal/app"
	"github.com/dkeye/Tasting/internal/app/orch"
	"github.com/dkeye/Tasting/internal/config"
	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

const cookieName = "TastingSession"

// Deps is everything the router hands requests to.
type Deps struct {
	Orch      *orch.Orchestrator
	Lifecycle *app.Lifecycle
	Signal    *signal.SignalWSController
}

type handlers struct {
	Deps
	validate *validator.Validate
}

func SetupRouter(ctx context.Context, cfg *config.Config, deps Deps) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	store := cookie.NewStore([]byte(cfg.Secret))
	store.Options(sessions.Options{Path: "/", MaxAge: 3600 * 24 * 7, HttpOnly: true})
	r.Use(sessions.Sessions(cookieName, store))

	h := &handlers{Deps: deps, validate: validator.New(validator.WithRequiredStructEnabled())}

	r.GET("/healthz", func(c *gin.Context) { c.String(200, "ok") })
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/api")
	if cfg.Dev.Fixtures {
		dev := api.Group("/dev")
		dev.POST("/login", h.devLogin)
		dev.POST("/sessions/:id/seed", RequireIdentity(), h.devSeed)
		log.Warn().Str("module", "adapters.http").Msg("fixture routes enabled")
	}

	authed := api.Group("", RequireIdentity())
	authed.GET("/ws/signal", func(c *gin.Context) {
		user := CurrentUser(c)
		log.Debug().Str("module", "adapters.http").Str("user", string(user.ID)).Msg("ws signal endpoint hit")
		deps.Signal.HandleSignal(ctx, c, user)
	})

	authed.GET("/me", h.me)
	authed.PUT("/me/auto-moderators/:userId", h.setAutoModerator(true))
	authed.DELETE("/me/auto-moderators/:userId", h.setAutoModerator(false))

	s := authed.Group("/sessions")
	s.POST("", h.createSession)
	s.GET("/:id", h.getSession)
	s.GET("/:id/presence", h.presence)
	s.POST("/:id/end", h.endSession)
	s.POST("/:id/archive", h.archiveSession)
	s.POST("/:id/unarchive", h.unarchiveSession)
	s.POST("/:id/transfer", h.transferHost)
	s.PUT("/:id/livestream", h.updateLivestream)
	s.PUT("/:id/tags", h.updateTags)

	log.Info().Str("module", "adapters.http").Bool("fixtures", cfg.Dev.Fixtures).Msg("router setup")
	return r
}
