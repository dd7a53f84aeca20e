package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/scoutline/discovery/internal/common"
	"github.com/scoutline/discovery/internal/config"
	"github.com/scoutline/discovery/internal/discovery"
	"github.com/scoutline/discovery/internal/httpapi/handlers"
	"github.com/scoutline/discovery/internal/httpapi/middleware"
	"github.com/scoutline/discovery/internal/provider"
	"github.com/scoutline/discovery/internal/store/redisstore"
)

func NewRouter(db *gorm.DB, cfg config.Config, rds *redisstore.Store, registry *provider.Registry, dispatcher discovery.Dispatcher) *gin.Engine {
	r := gin.New()
	r.HandleMethodNotAllowed = true
	r.Use(gin.Logger())
	r.Use(middleware.Recovery())

	r.NoRoute(func(c *gin.Context) {
		common.Fail(c, http.StatusNotFound, 40400, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		common.Fail(c, http.StatusMethodNotAllowed, 40500, "method not allowed")
	})

	r.Use(middleware.RequestID())

	h := handlers.NewHandler(db, cfg, rds, registry, dispatcher)

	r.GET("/ping", func(c *gin.Context) { common.OK(c, gin.H{"pong": true}) })

	// Queue transport callbacks (signed)
	webhooks := r.Group("/webhooks")
	webhooks.Use(middleware.SignatureRequired(cfg.SigningKeyCurrent, cfg.SigningKeyNext, cfg.DisableSignatureVerify))
	webhooks.POST("/process", h.ProcessWebhook)
	webhooks.POST("/dead-letter", h.DeadLetterWebhook)

	// Client API (JWT required)
	authGroup := r.Group("/")
	authGroup.Use(middleware.AuthRequired(cfg.JWTSecret))
	authGroup.POST("/jobs", h.CreateJob)
	authGroup.GET("/status", h.Status)

	return r
}
