package http

import (
	"log/slog"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/lukesavage/convohub/internal/auth"
	"github.com/lukesavage/convohub/internal/cache"
	"github.com/lukesavage/convohub/internal/chat"
	"github.com/lukesavage/convohub/internal/config"
	"github.com/lukesavage/convohub/internal/http/handlers"
	"github.com/lukesavage/convohub/internal/http/middlewares"
	"github.com/lukesavage/convohub/internal/observability"
	"github.com/lukesavage/convohub/internal/registry"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
)

type Deps struct {
	Cfg       config.Config
	Log       *slog.Logger
	JWT       *auth.Manager
	Registry  *registry.Coordinator
	Assembler *chat.Assembler
	Prom      *observability.Prom
	PromReg   *prometheus.Registry

	// named store pings for readiness
	Pings map[string]func() error
}

func NewRouter(d Deps) *gin.Engine {
	if d.Cfg.Env != "dev" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()

	// middleware

	r.Use(gin.Recovery())
	r.Use(RequestID())
	r.Use(RequestLogger(d.Log))
	r.Use(otelgin.Middleware("convohub"))
	r.Use(middlewares.SecurityHeaders())

	if len(d.Cfg.AllowedOrigins) > 0 {
		r.Use(middlewares.CORSMiddleware(d.Cfg.AllowedOrigins))
	}

	r.Use(middlewares.RequireJSON())
	r.Use(middlewares.MaxBodyBytes(1 << 20))

	if d.Prom != nil {
		r.Use(d.Prom.GinHandleMiddleware())
	}

	// health + metrics

	h := handlers.NewHealthHandler(d.Pings)
	r.GET("/healthz", h.Healthz)
	r.GET("/readyz", h.Readyz)

	if d.PromReg != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(d.PromReg, promhttp.HandlerOpts{})))
	}

	// wire up handlers

	listCache := cache.New(5 * time.Second)

	authHandler := handlers.NewAuthHandler(d.Registry, listCache)
	usersHandler := handlers.NewUsersHandler(d.Registry, listCache)
	chatHandler := handlers.NewChatHandler(d.Assembler)

	authMw := middlewares.NewAuthMiddleware(d.JWT)

	// unauthenticated endpoints get an IP rate limit
	authLimiter := middlewares.NewRateLimiter(20, time.Minute)

	api := r.Group("/api")

	api.POST("/register", authLimiter.RateLimiterMiddleware(middlewares.KeyByIP), authHandler.Register)
	api.POST("/login", authLimiter.RateLimiterMiddleware(middlewares.KeyByIP), authHandler.Login)

	// completion calls are the expensive path; keyed per user so one busy
	// client cannot starve the rest behind the same NAT
	chatLimiter := middlewares.NewRateLimiter(30, time.Minute)

	protected := api.Group("")
	protected.Use(authMw.RequireAuth())

	protected.GET("/users", usersHandler.List)
	protected.POST("/chatbot", chatLimiter.RateLimiterMiddleware(middlewares.KeyByUserOrIP), chatHandler.Chatbot)

	return r
}
