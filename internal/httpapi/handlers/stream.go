package handlers

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/suPer8Hu/gopherchat-stream/internal/ai"
	"github.com/suPer8Hu/gopherchat-stream/internal/common"
	"github.com/suPer8Hu/gopherchat-stream/internal/httpapi/middleware"
	"github.com/suPer8Hu/gopherchat-stream/internal/stream"
	"gorm.io/gorm"
)

func (h *Handler) Ping(c *gin.Context) {
	common.OK(c, gin.H{"pong": true})
}

func userIDFromContext(c *gin.Context) (uint64, bool) {
	v, ok := c.Get(middleware.UserIDKey)
	if !ok {
		return 0, false
	}
	id, ok := v.(uint64)
	return id, ok
}

type createStreamReq struct {
	ClientMessageID string          `json:"client_message_id"`
	Model           string          `json:"model" binding:"required"`
	Provider        string          `json:"provider" binding:"required"`
	Messages        []ai.Message    `json:"messages" binding:"required"`
	Options         json.RawMessage `json:"options"`
	APIKey          string          `json:"api_key"`
}

// CreateStream admits a streaming job for a conversation and returns its
// id; the completion runs in the background.
func (h *Handler) CreateStream(c *gin.Context) {
	uid, okk := userIDFromContext(c)
	if !okk {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}

	chatID := c.Param("chat_id")
	if chatID == "" {
		common.Fail(c, http.StatusBadRequest, 10002, "chat_id required")
		return
	}

	var req createStreamReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}
	if len(req.Messages) == 0 {
		common.Fail(c, http.StatusBadRequest, 10003, "messages required")
		return
	}

	jobID, err := h.StreamSvc.Create(c.Request.Context(), stream.CreateParams{
		ChatID:          chatID,
		UserID:          uid,
		ClientMessageID: req.ClientMessageID,
		Model:           req.Model,
		Provider:        req.Provider,
		Messages:        req.Messages,
		Options:         req.Options,
		Credential:      req.APIKey,
	})
	if err != nil {
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			common.Fail(c, http.StatusNotFound, 40401, "conversation not found")
		case errors.Is(err, stream.ErrStreamInProgress):
			common.Fail(c, http.StatusConflict, 40901, "stream already in progress")
		case errors.Is(err, stream.ErrQuotaExceeded):
			common.Fail(c, http.StatusTooManyRequests, 42901, "daily ai quota exceeded")
		default:
			log.Printf("[CreateStream] uid=%d chat_id=%s err=%v", uid, chatID, err)
			common.Fail(c, http.StatusInternalServerError, 50001, "internal error")
		}
		return
	}

	common.OK(c, gin.H{"job_id": jobID})
}

func (h *Handler) GetStreamJob(c *gin.Context) {
	uid, okk := userIDFromContext(c)
	if !okk {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}
	jobID := c.Param("job_id")
	if jobID == "" {
		common.Fail(c, http.StatusBadRequest, 10002, "job_id required")
		return
	}

	view, err := h.StreamSvc.Query(c.Request.Context(), jobID, uid)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			common.Fail(c, http.StatusNotFound, 40402, "job not found")
			return
		}
		common.Fail(c, http.StatusInternalServerError, 50001, "internal error")
		return
	}

	common.OK(c, gin.H{"job": view})
}

// GetActiveStream returns the conversation's in-flight job, if any.
func (h *Handler) GetActiveStream(c *gin.Context) {
	uid, okk := userIDFromContext(c)
	if !okk {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}
	chatID := c.Param("chat_id")
	if chatID == "" {
		common.Fail(c, http.StatusBadRequest, 10002, "chat_id required")
		return
	}

	view, err := h.StreamSvc.QueryActiveByChat(c.Request.Context(), chatID, uid)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			common.Fail(c, http.StatusNotFound, 40403, "no active stream")
			return
		}
		common.Fail(c, http.StatusInternalServerError, 50001, "internal error")
		return
	}

	common.OK(c, gin.H{"job": view})
}

// SweepStaleJobs force-fails the caller's jobs stuck past the staleness
// threshold (a worker that died mid-stream never reaches Fail).
func (h *Handler) SweepStaleJobs(c *gin.Context) {
	uid, okk := userIDFromContext(c)
	if !okk {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}

	cleaned, total, err := h.StreamSvc.SweepStale(c.Request.Context(), uid)
	if err != nil {
		log.Printf("[SweepStaleJobs] uid=%d err=%v", uid, err)
		common.Fail(c, http.StatusInternalServerError, 50001, "internal error")
		return
	}

	common.OK(c, gin.H{"cleaned": cleaned, "total": total})
}
