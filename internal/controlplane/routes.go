package controlplane

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/ulule/limiter/v3"
	"github.com/ulule/limiter/v3/drivers/store/memory"

	mgin "github.com/ulule/limiter/v3/drivers/middleware/gin"

	"github.com/opensync/syftboxd/internal/controlplane/middleware"
	"github.com/opensync/syftboxd/internal/version"
)

func init() {
	gin.SetMode(gin.ReleaseMode)
}

// RouteConfig carries everything SetupRoutes needs beyond the handler
// dependencies themselves.
type RouteConfig struct {
	Token string
}

func setupRoutes(stats *httpStats, registry UploadRegistry, sync SyncTrigger, cfg RouteConfig) http.Handler {
	r := gin.New()

	rateLimiter := limiter.New(memory.NewStore(), limiter.Rate{
		Period: 1 * time.Second,
		Limit:  20,
	})

	statusH := newStatusHandler(stats)
	syncH := newSyncHandler(registry, sync)
	uploadH := newUploadHandler(registry, sync)

	r.Use(gin.Recovery())
	r.Use(middleware.CORS())
	r.Use(middleware.Gzip())
	r.Use(mgin.NewMiddleware(rateLimiter))
	r.Use(stats.middleware())

	r.GET("/", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"name": version.AppName, "version": version.Version}) })

	v1 := r.Group("/v1")
	v1.Use(middleware.TokenAuth(middleware.TokenAuthConfig{Token: cfg.Token}))
	{
		v1.GET("/status", statusH.Status)

		v1Sync := v1.Group("/sync")
		{
			v1Sync.GET("/status", syncH.Status)
			v1Sync.POST("/now", syncH.Now)
		}

		v1Uploads := v1.Group("/uploads")
		{
			v1Uploads.GET("/", uploadH.List)
			v1Uploads.GET("/:id", uploadH.Get)
			v1Uploads.DELETE("/:id", uploadH.Cancel)
			v1Uploads.POST("/:id/pause", uploadH.Pause)
			v1Uploads.POST("/:id/resume", uploadH.Resume)
			v1Uploads.POST("/:id/restart", uploadH.Restart)
		}
	}

	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	})
	r.NoMethod(func(c *gin.Context) {
		c.JSON(http.StatusMethodNotAllowed, gin.H{"error": "method not allowed"})
	})

	return r.Handler()
}
