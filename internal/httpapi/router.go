package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/suPer8Hu/gopherchat-stream/internal/common"
	"github.com/suPer8Hu/gopherchat-stream/internal/config"
	"github.com/suPer8Hu/gopherchat-stream/internal/httpapi/handlers"
	"github.com/suPer8Hu/gopherchat-stream/internal/httpapi/middleware"
	"github.com/suPer8Hu/gopherchat-stream/internal/stream"
	"gorm.io/gorm"
)

func NewRouter(db *gorm.DB, cfg config.Config, svc *stream.Service) *gin.Engine {
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

	h := handlers.NewHandler(db, cfg, svc)

	r.GET("/ping", h.Ping)

	authGroup := r.Group("/")
	authGroup.Use(middleware.AuthRequired(cfg.JWTSecret))
	authGroup.POST("/chat/:chat_id/stream", h.CreateStream)
	authGroup.GET("/chat/:chat_id/stream/active", h.GetActiveStream)
	authGroup.GET("/stream/jobs/:job_id", h.GetStreamJob)
	authGroup.POST("/stream/sweep", h.SweepStaleJobs)
	return r
}
