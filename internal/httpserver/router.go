package httpserver

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/zwy923/onebox/internal/handler"
	"github.com/zwy923/onebox/pkg/otel"
)

type Pinger interface {
	Ping(ctx context.Context) error
}

// ReadyCheck is an extra dependency checked by /readyz.
type ReadyCheck struct {
	Name  string
	Check Pinger
}

type Router struct {
	Engine *gin.Engine
}

// NewRouter wires the API. Routes under /api require a bearer token when
// jwtSecret is set.
func NewRouter(
	emailHandler *handler.EmailHandler,
	accountHandler *handler.AccountHandler,
	jwtSecret string,
	store Pinger,
	logger *zap.Logger,
	checks ...ReadyCheck,
) *Router {
	r := gin.New()
	r.Use(gin.Recovery(), otel.GinMiddleware(), TraceMiddleware(), MetricsMiddleware(), LoggingMiddleware(logger))

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.HEAD("/healthz", func(c *gin.Context) {
		c.Status(http.StatusOK)
	})
	r.GET("/readyz", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), time.Second)
		defer cancel()

		if err := store.Ping(ctx); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "store_not_ready", "error": err.Error()})
			return
		}
		for _, rc := range checks {
			if err := rc.Check.Ping(ctx); err != nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{"status": rc.Name + "_not_ready", "error": err.Error()})
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/api")
	if jwtSecret != "" {
		api.Use(AuthMiddleware(jwtSecret))
	}
	{
		api.GET("/emails", emailHandler.Search)
		api.POST("/emails/send", emailHandler.Send)
		api.GET("/emails/:account/:id", emailHandler.Get)
		api.PATCH("/emails/:account/:id/category", emailHandler.SetCategory)
		api.POST("/emails/:account/:id/recategorize", emailHandler.Recategorize)
		api.POST("/classify", emailHandler.Classify)
		api.GET("/accounts", accountHandler.List)
	}

	return &Router{Engine: r}
}

// Server returns an http.Server for the router, for graceful shutdown.
func (r *Router) Server(addr string) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           r.Engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
}
