package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/smallbiznis/valora-integrations/internal/config"
	"github.com/smallbiznis/valora-integrations/internal/http/handler"
	httpmiddleware "github.com/smallbiznis/valora-integrations/internal/http/middleware"
	"github.com/smallbiznis/valora-integrations/internal/middleware"
	"github.com/smallbiznis/valora-integrations/internal/provider"
)

// NewRouter wires Gin routes and middleware.
func NewRouter(cfg config.Config, integrationHandler *handler.IntegrationHandler, registry *provider.Registry, rateLimiter *middleware.RateLimiter) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(httpmiddleware.RequestLogger(nil))
	if rateLimiter != nil {
		r.Use(rateLimiter.Handler())
	}
	r.Use(middleware.CORS(cfg))
	r.Use(httpmiddleware.Actor())
	r.Use(otelgin.Middleware(cfg.ServiceName))

	v1 := r.Group("/v1")
	{
		providers := v1.Group("/providers")
		{
			providers.GET("", func(c *gin.Context) {
				c.JSON(http.StatusOK, gin.H{"providers": registry.Names()})
			})
			providers.POST("/:provider/connect", integrationHandler.Connect)
		}

		integrations := v1.Group("/integrations")
		{
			integrations.GET("", integrationHandler.List)
			// The provider redirects the user's browser here; no gateway
			// auth headers are present on this hop.
			integrations.GET("/callback", integrationHandler.Callback)
			integrations.POST("/:id/refresh", integrationHandler.Refresh)
			integrations.POST("/:id/revoke", integrationHandler.Revoke)
			integrations.GET("/:id/consents", integrationHandler.Consents)
		}
	}

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	return r
}
