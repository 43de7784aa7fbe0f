package handlers

import (
	"github.com/suPer8Hu/gopherchat-stream/internal/config"
	"github.com/suPer8Hu/gopherchat-stream/internal/stream"
	"gorm.io/gorm"
)

type Handler struct {
	DB        *gorm.DB
	Cfg       config.Config
	StreamSvc *stream.Service
}

func NewHandler(db *gorm.DB, cfg config.Config, svc *stream.Service) *Handler {
	return &Handler{DB: db, Cfg: cfg, StreamSvc: svc}
}
