package http

import (
	"context"
	"log/slog"
	"time"

	"github.com/geocoder89/storefront/internal/auth"
	"github.com/geocoder89/storefront/internal/domain/user"
	"github.com/geocoder89/storefront/internal/http/handlers"
	"github.com/geocoder89/storefront/internal/http/middlewares"
	"github.com/geocoder89/storefront/internal/observability"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
)

const (
	maxBodyBytes          = 1 << 20
	defaultLoginLimit     = 10
	defaultLoginWindow    = 15 * time.Minute
	defaultRegisterLimit  = 3
	defaultRegisterWindow = time.Hour
	defaultProfileLimit   = 20
	defaultProfileWindow  = 15 * time.Minute
)

type Deps struct {
	Env         string
	ServiceName string

	Service *auth.Service
	// Ping backs /readyz; nil reports ready.
	Ping func(ctx context.Context) error

	Prom     *observability.Prom
	Gatherer prometheus.Gatherer

	// Nil limiters fall back to in-process windows of the default size.
	LoginLimiter    middlewares.Limiter
	RegisterLimiter middlewares.Limiter
	// ProfileLimiter budgets profile updates per caller.
	ProfileLimiter middlewares.Limiter

	CORSOrigins []string
}

func NewRouter(log *slog.Logger, d Deps) *gin.Engine {
	if d.Env != "dev" && d.Env != "test" {
		gin.SetMode(gin.ReleaseMode)
	}
	if d.ServiceName == "" {
		d.ServiceName = "storefront-api"
	}
	if d.LoginLimiter == nil {
		d.LoginLimiter = middlewares.NewRateLimiter(defaultLoginLimit, defaultLoginWindow)
	}
	if d.RegisterLimiter == nil {
		d.RegisterLimiter = middlewares.NewRateLimiter(defaultRegisterLimit, defaultRegisterWindow)
	}
	if d.ProfileLimiter == nil {
		d.ProfileLimiter = middlewares.NewRateLimiter(defaultProfileLimit, defaultProfileWindow)
	}

	r := gin.New()

	// middleware
	r.Use(gin.Recovery())
	r.Use(middlewares.RequestID())
	r.Use(otelgin.Middleware(d.ServiceName))
	if d.Prom != nil {
		r.Use(d.Prom.GinHandleMiddleware())
	}
	r.Use(middlewares.RequestLogger(log))
	r.Use(middlewares.SecurityHeaders())
	r.Use(middlewares.CORSMiddleware(d.CORSOrigins))
	r.Use(middlewares.MaxBodyBytes(maxBodyBytes))
	r.Use(middlewares.RequireJSON())

	// health
	h := handlers.NewHealthHandler(d.Ping)
	r.GET("/healthz", h.Healthz)
	r.GET("/readyz", h.Readyz)

	if d.Gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(d.Gatherer, promhttp.HandlerOpts{})))
	}

	var onLimited func(string)
	if d.Prom != nil {
		onLimited = d.Prom.IncRateLimited
	}

	loginLimit := middlewares.RateLimit(middlewares.RateLimitConfig{
		Limiter:   d.LoginLimiter,
		Scope:     "login",
		Message:   "Too many login attempts, please try again later",
		Log:       log,
		OnLimited: onLimited,
	})
	registerLimit := middlewares.RateLimit(middlewares.RateLimitConfig{
		Limiter:   d.RegisterLimiter,
		Scope:     "register",
		Message:   "Too many accounts created, please try again later",
		Log:       log,
		OnLimited: onLimited,
	})

	// runs after RequireAuth, so the key is the caller's id
	profileLimit := middlewares.RateLimit(middlewares.RateLimitConfig{
		Limiter:   d.ProfileLimiter,
		Scope:     "profile",
		KeyFn:     middlewares.KeyByUserOrIP,
		Message:   "Too many profile updates, please try again later",
		Log:       log,
		OnLimited: onLimited,
	})

	authMW := middlewares.NewAuthMiddleware(d.Service)
	users := handlers.NewUsersHandler(d.Service)

	api := r.Group("/api/users")
	{
		api.POST("", registerLimit, users.Register)
		api.POST("/login", loginLimit, users.Login)
		api.POST("/refresh", users.Refresh)

		api.POST("/admin/login", loginLimit, users.AdminLogin)
		api.POST("/admin/register", registerLimit, authMW.OptionalAuth(), users.AdminRegister)

		me := api.Group("", authMW.RequireAuth())
		me.GET("/profile", users.GetProfile)
		me.PUT("/profile", profileLimit, users.UpdateProfile)
		me.GET("/permissions/:permission", users.CheckPermission)

		admin := api.Group("", authMW.RequireAuth(), middlewares.RequirePermission(user.PermManageUsers))
		admin.GET("", users.ListUsers)
		admin.GET("/:id", users.GetUser)
		admin.PUT("/:id", users.UpdateUser)
		admin.DELETE("/:id", users.DeleteUser)
	}

	return r
}
