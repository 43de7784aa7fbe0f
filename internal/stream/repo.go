package stream

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
)

type Repo struct {
	db *gorm.DB
}

func NewRepo(db *gorm.DB) *Repo {
	return &Repo{db: db}
}

func (r *Repo) GetConversation(ctx context.Context, chatID string) (*Conversation, error) {
	var c Conversation
	if err := r.db.WithContext(ctx).First(&c, "id = ?", chatID).Error; err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *Repo) SetConversationStreaming(ctx context.Context, chatID, jobID string) error {
	return r.db.WithContext(ctx).Model(&Conversation{}).
		Where("id = ?", chatID).
		Updates(map[string]any{
			"active_stream_id": jobID,
			"status":           ConversationStreaming,
		}).Error
}

func (r *Repo) ClearConversationStream(ctx context.Context, chatID string) error {
	return r.db.WithContext(ctx).Model(&Conversation{}).
		Where("id = ?", chatID).
		Updates(map[string]any{
			"active_stream_id": "",
			"status":           ConversationIdle,
		}).Error
}

func (r *Repo) CreateJob(ctx context.Context, job *StreamJob) error {
	return r.db.WithContext(ctx).Create(job).Error
}

func (r *Repo) GetJobByID(ctx context.Context, id string) (*StreamJob, error) {
	var j StreamJob
	if err := r.db.WithContext(ctx).First(&j, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &j, nil
}

// FindRunningByChat is the admission-time single-flight check. Read-then-
// insert, so not transactional; the redis lock in the service narrows the
// window.
func (r *Repo) FindRunningByChat(ctx context.Context, chatID string) (*StreamJob, error) {
	var j StreamJob
	err := r.db.WithContext(ctx).
		Where("chat_id = ? AND status = ?", chatID, JobRunning).
		First(&j).Error
	if err != nil {
		return nil, err
	}
	return &j, nil
}

// FindActiveByChat prefers a running job, falls back to pending.
func (r *Repo) FindActiveByChat(ctx context.Context, chatID string) (*StreamJob, error) {
	for _, status := range []JobStatus{JobRunning, JobPending} {
		var j StreamJob
		err := r.db.WithContext(ctx).
			Where("chat_id = ? AND status = ?", chatID, status).
			Order("created_at DESC").
			First(&j).Error
		if err == nil {
			return &j, nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}
	}
	return nil, gorm.ErrRecordNotFound
}

// MarkRunning performs the pending->running transition. A job already
// running or terminal is left alone (no-op on redelivery).
func (r *Repo) MarkRunning(ctx context.Context, id string, startedAt time.Time) error {
	return r.db.WithContext(ctx).Model(&StreamJob{}).
		Where("id = ? AND status = ?", id, JobPending).
		Updates(map[string]any{
			"status":     JobRunning,
			"started_at": startedAt,
		}).Error
}

// FlushProgress is the non-terminal partial update. Guarded on running so
// a late flush can never touch a job that already reached a terminal
// state.
func (r *Repo) FlushProgress(ctx context.Context, id, content, reasoning string) error {
	return r.db.WithContext(ctx).Model(&StreamJob{}).
		Where("id = ? AND status = ?", id, JobRunning).
		Updates(map[string]any{
			"content":   content,
			"reasoning": reasoning,
		}).Error
}

// MarkCompleted pins the final output and stamps completed_at. Returns
// whether this call performed the terminal transition (false when the job
// was already terminal).
func (r *Repo) MarkCompleted(ctx context.Context, id, content, reasoning string, completedAt time.Time) (bool, error) {
	res := r.db.WithContext(ctx).Model(&StreamJob{}).
		Where("id = ? AND status IN ?", id, []JobStatus{JobPending, JobRunning}).
		Updates(map[string]any{
			"status":       JobCompleted,
			"content":      content,
			"reasoning":    reasoning,
			"error":        nil,
			"completed_at": completedAt,
		})
	return res.RowsAffected > 0, res.Error
}

// MarkFailed records the terminal error. An empty partialContent keeps
// whatever content the last flush persisted rather than regressing it.
func (r *Repo) MarkFailed(ctx context.Context, id, errMsg, partialContent string, completedAt time.Time) (bool, error) {
	updates := map[string]any{
		"status":       JobError,
		"error":        errMsg,
		"completed_at": completedAt,
	}
	if partialContent != "" {
		updates["content"] = partialContent
	}
	res := r.db.WithContext(ctx).Model(&StreamJob{}).
		Where("id = ? AND status IN ?", id, []JobStatus{JobPending, JobRunning}).
		Updates(updates)
	return res.RowsAffected > 0, res.Error
}

// ListUnfinishedByUser returns the user's pending/running jobs, oldest
// first.
func (r *Repo) ListUnfinishedByUser(ctx context.Context, userID uint64) ([]StreamJob, error) {
	var jobs []StreamJob
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND status IN ?", userID, []JobStatus{JobPending, JobRunning}).
		Order("created_at ASC").
		Find(&jobs).Error
	if err != nil {
		return nil, err
	}
	return jobs, nil
}

// UpsertAssistantMessage inserts the final assistant message or, when the
// (chat_id, client_message_id) key already exists, patches it in place.
func (r *Repo) UpsertAssistantMessage(ctx context.Context, chatID, clientMessageID, content, reasoning string) error {
	res := r.db.WithContext(ctx).Model(&ChatMessage{}).
		Where("chat_id = ? AND client_message_id = ?", chatID, clientMessageID).
		Updates(map[string]any{
			"content":   content,
			"reasoning": reasoning,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected > 0 {
		return nil
	}

	err := r.db.WithContext(ctx).Create(&ChatMessage{
		ChatID:          chatID,
		ClientMessageID: clientMessageID,
		Role:            "assistant",
		Content:         content,
		Reasoning:       reasoning,
	}).Error
	if err == nil {
		return nil
	}

	// Lost the insert race: someone else created the row. Patch it.
	return r.db.WithContext(ctx).Model(&ChatMessage{}).
		Where("chat_id = ? AND client_message_id = ?", chatID, clientMessageID).
		Updates(map[string]any{
			"content":   content,
			"reasoning": reasoning,
		}).Error
}
