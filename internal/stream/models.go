package stream

import (
	"encoding/json"
	"time"

	"github.com/suPer8Hu/gopherchat-stream/internal/ai"
)

type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobError     JobStatus = "error"
)

func (s JobStatus) Terminal() bool {
	return s == JobCompleted || s == JobError
}

// StreamJob is one attempt to produce a streamed completion for a
// conversation turn. Content/Reasoning only grow while running and are
// pinned on the terminal transition; no field changes after that.
type StreamJob struct {
	ID string `gorm:"primaryKey;size:26"` // ULID length

	ChatID string `gorm:"size:64;not null;index:idx_stream_jobs_chat_status,priority:1"`
	UserID uint64 `gorm:"not null;index:idx_stream_jobs_user_status,priority:1"`

	// ClientMessageID keys the final assistant message upsert.
	ClientMessageID string `gorm:"size:64;not null"`

	Status JobStatus `gorm:"type:varchar(16);not null;index:idx_stream_jobs_chat_status,priority:2;index:idx_stream_jobs_user_status,priority:2"`

	Model    string `gorm:"type:varchar(128);not null"`
	Provider string `gorm:"type:varchar(32);not null"`

	// Messages is the prompt, JSON-encoded []ai.Message. Options is an
	// opaque caller bag passed through to the upstream request untouched.
	Messages string `gorm:"type:text;not null"`
	Options  string `gorm:"type:text"`

	// Credential is the caller-supplied API key for non-shared providers.
	Credential string `gorm:"type:varchar(255)" json:"-"`

	Content   string  `gorm:"type:text"`
	Reasoning string  `gorm:"type:text"`
	Error     *string `gorm:"type:text"`

	CreatedAt   time.Time
	StartedAt   *time.Time
	CompletedAt *time.Time
}

func (StreamJob) TableName() string { return "stream_jobs" }

func (j *StreamJob) PromptMessages() []ai.Message {
	var msgs []ai.Message
	if j.Messages != "" {
		_ = json.Unmarshal([]byte(j.Messages), &msgs)
	}
	return msgs
}

type ConversationStatus string

const (
	ConversationIdle      ConversationStatus = "idle"
	ConversationStreaming ConversationStatus = "streaming"
)

// Conversation is owned by the conversation subsystem; this engine writes
// only ActiveStreamID and Status, on job start and terminal transition.
type Conversation struct {
	ID     string `gorm:"primaryKey;size:64"`
	UserID uint64 `gorm:"index;not null"`

	ActiveStreamID string             `gorm:"size:26"`
	Status         ConversationStatus `gorm:"type:varchar(16);not null;default:idle"`

	CreatedAt time.Time
	UpdatedAt time.Time
}

func (Conversation) TableName() string { return "conversations" }

// ChatMessage is the durable assistant message a completed job upserts,
// keyed by (chat_id, client_message_id) so a retried completion patches in
// place instead of duplicating.
type ChatMessage struct {
	ID              uint64 `gorm:"primaryKey;autoIncrement"`
	ChatID          string `gorm:"size:64;not null;index:uniq_chat_msg_key,unique,priority:1"`
	ClientMessageID string `gorm:"size:64;not null;index:uniq_chat_msg_key,unique,priority:2"`
	Role            string `gorm:"type:varchar(16);not null"`
	Content         string `gorm:"type:text;not null"`
	Reasoning       string `gorm:"type:text"`
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

func (ChatMessage) TableName() string { return "chat_messages" }
