package stream

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/suPer8Hu/gopherchat-stream/internal/ai"
	"github.com/suPer8Hu/gopherchat-stream/internal/billing"
	"github.com/suPer8Hu/gopherchat-stream/internal/common"
	"github.com/suPer8Hu/gopherchat-stream/internal/config"
	"gorm.io/gorm"
)

// AdmissionLock narrows the read-then-insert single-flight race with an
// atomic per-conversation claim. Optional; a nil lock falls back to the
// best-effort DB check alone.
type AdmissionLock interface {
	TryAcquire(ctx context.Context, chatID, jobID string) (bool, error)
	Release(ctx context.Context, chatID, jobID string)
}

// Service owns the stream job state machine. It is the only writer of job
// rows and of the conversation's active-stream fields.
type Service struct {
	repo       *Repo
	client     *ai.Client
	gate       *billing.Gate
	dispatcher Dispatcher
	lock       AdmissionLock

	sharedProvider string
	sharedAPIKey   string
	flushEvery     int
	streamTimeout  time.Duration
	staleThreshold time.Duration

	now func() time.Time
}

func NewService(repo *Repo, client *ai.Client, gate *billing.Gate, dispatcher Dispatcher, lock AdmissionLock, cfg config.Config) *Service {
	flushEvery := cfg.FlushEvery
	if flushEvery <= 0 {
		flushEvery = 5
	}
	streamTimeout := cfg.StreamTimeout
	if streamTimeout <= 0 {
		streamTimeout = 5 * time.Minute
	}
	staleThreshold := cfg.StaleThreshold
	if staleThreshold <= 0 {
		staleThreshold = 5 * time.Minute
	}
	return &Service{
		repo:           repo,
		client:         client,
		gate:           gate,
		dispatcher:     dispatcher,
		lock:           lock,
		sharedProvider: cfg.SharedProvider,
		sharedAPIKey:   cfg.OpenRouterAPIKey,
		flushEvery:     flushEvery,
		streamTimeout:  streamTimeout,
		staleThreshold: staleThreshold,
		now:            time.Now,
	}
}

// SetDispatcher rebinds the execution sink; used when the dispatcher needs
// the service's Execute as its run function.
func (s *Service) SetDispatcher(d Dispatcher) { s.dispatcher = d }

type CreateParams struct {
	ChatID          string
	UserID          uint64
	ClientMessageID string
	Model           string
	Provider        string
	Messages        []ai.Message
	Options         json.RawMessage
	Credential      string
}

// Create admits and persists a pending job, marks the conversation
// streaming, and hands off to the dispatcher. It returns the job id before
// any upstream I/O happens. Ownership failures surface as
// gorm.ErrRecordNotFound to hide existence.
func (s *Service) Create(ctx context.Context, p CreateParams) (string, error) {
	conv, err := s.repo.GetConversation(ctx, p.ChatID)
	if err != nil {
		return "", err
	}
	if conv.UserID != p.UserID {
		return "", gorm.ErrRecordNotFound
	}

	if p.Provider == s.sharedProvider {
		allowed, err := s.gate.CheckRemaining(ctx, p.UserID)
		if err != nil {
			return "", err
		}
		if !allowed {
			return "", ErrQuotaExceeded
		}
	}

	jobID, err := common.NewULID()
	if err != nil {
		return "", err
	}

	if s.lock != nil {
		got, err := s.lock.TryAcquire(ctx, p.ChatID, jobID)
		if err != nil {
			// degrade to the DB check alone
			log.Printf("admission lock unavailable chat=%s err=%v", p.ChatID, err)
		} else if !got {
			return "", ErrStreamInProgress
		}
	}

	if _, err := s.repo.FindRunningByChat(ctx, p.ChatID); err == nil {
		s.releaseLock(ctx, p.ChatID, jobID)
		return "", ErrStreamInProgress
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		s.releaseLock(ctx, p.ChatID, jobID)
		return "", err
	}

	clientMessageID := strings.TrimSpace(p.ClientMessageID)
	if clientMessageID == "" {
		clientMessageID = uuid.NewString()
	}

	msgs, err := json.Marshal(p.Messages)
	if err != nil {
		s.releaseLock(ctx, p.ChatID, jobID)
		return "", err
	}

	job := &StreamJob{
		ID:              jobID,
		ChatID:          p.ChatID,
		UserID:          p.UserID,
		ClientMessageID: clientMessageID,
		Status:          JobPending,
		Model:           p.Model,
		Provider:        p.Provider,
		Messages:        string(msgs),
		Options:         string(p.Options),
		Credential:      p.Credential,
	}
	if err := s.repo.CreateJob(ctx, job); err != nil {
		s.releaseLock(ctx, p.ChatID, jobID)
		return "", err
	}

	if err := s.repo.SetConversationStreaming(ctx, p.ChatID, jobID); err != nil {
		log.Printf("set conversation streaming chat=%s job=%s err=%v", p.ChatID, jobID, err)
	}

	if err := s.dispatcher.Dispatch(ctx, jobID); err != nil {
		// The job would otherwise sit pending until the stale sweep.
		s.Fail(ctx, jobID, "dispatch failed: "+err.Error(), "")
		return "", err
	}
	return jobID, nil
}

// Execute is the asynchronous task body. All post-admission failures land
// in the job's error field via Fail; Execute itself never reports them to
// the caller.
func (s *Service) Execute(ctx context.Context, jobID string) {
	job, err := s.repo.GetJobByID(ctx, jobID)
	if err != nil {
		log.Printf("execute: job %s not loadable err=%v", jobID, err)
		return
	}
	if job.Status.Terminal() {
		// queue redelivery after a finished run
		return
	}

	if err := s.repo.MarkRunning(ctx, jobID, s.now()); err != nil {
		log.Printf("execute: mark running job=%s err=%v", jobID, err)
	}

	apiKey := job.Credential
	if job.Provider == s.sharedProvider {
		apiKey = s.sharedAPIKey
	}
	if strings.TrimSpace(apiKey) == "" {
		s.Fail(ctx, jobID, errNoAPIKey, "")
		return
	}

	cctx, cancel := context.WithTimeout(ctx, s.streamTimeout)
	defer cancel()

	var options json.RawMessage
	if job.Options != "" {
		options = json.RawMessage(job.Options)
	}

	body, err := s.client.StreamCompletion(cctx, apiKey, job.Model, job.PromptMessages(), options)
	if err != nil {
		s.Fail(ctx, jobID, err.Error(), "")
		return
	}
	defer body.Close()

	var content, reasoning strings.Builder
	var usage *ai.Usage
	sinceFlush := 0

	err = ai.Decode(body, func(d ai.Delta) error {
		if d.Usage != nil {
			usage = d.Usage // last one wins
		}
		if d.Content == "" && d.Reasoning == "" {
			return nil
		}
		content.WriteString(d.Content)
		reasoning.WriteString(d.Reasoning)

		sinceFlush++
		if sinceFlush >= s.flushEvery {
			sinceFlush = 0
			if err := s.Flush(cctx, jobID, content.String(), reasoning.String()); err != nil {
				// at-least-once; the next flush or the terminal write covers it
				log.Printf("flush job=%s err=%v", jobID, err)
			}
		}
		return nil
	})
	if err != nil {
		s.Fail(ctx, jobID, err.Error(), content.String())
		return
	}

	s.Complete(ctx, jobID, content.String(), reasoning.String(), usage)
}

// Flush persists accumulated partial output. Safe to repeat; a no-op once
// the job left running.
func (s *Service) Flush(ctx context.Context, jobID, content, reasoning string) error {
	return s.repo.FlushProgress(ctx, jobID, content, reasoning)
}

// Complete is the successful terminal transition: pin the output, release
// the conversation, upsert the final message, and charge the shared tier.
// Re-running it re-upserts the message (idempotent by key) but never
// double-charges.
func (s *Service) Complete(ctx context.Context, jobID, content, reasoning string, usage *ai.Usage) {
	job, err := s.repo.GetJobByID(ctx, jobID)
	if err != nil {
		log.Printf("complete: job %s not loadable err=%v", jobID, err)
		return
	}

	transitioned, err := s.repo.MarkCompleted(ctx, jobID, content, reasoning, s.now())
	if err != nil {
		log.Printf("complete: mark job=%s err=%v", jobID, err)
		return
	}

	if err := s.repo.ClearConversationStream(ctx, job.ChatID); err != nil {
		log.Printf("complete: clear conversation chat=%s err=%v", job.ChatID, err)
	}
	s.releaseLock(ctx, job.ChatID, job.ID)

	if err := s.repo.UpsertAssistantMessage(ctx, job.ChatID, job.ClientMessageID, content, reasoning); err != nil {
		log.Printf("complete: upsert message chat=%s key=%s err=%v", job.ChatID, job.ClientMessageID, err)
	}

	if transitioned && job.Provider == s.sharedProvider {
		cents, ok := billing.EstimateCostCents(usage, job.PromptMessages(), content)
		if ok && cents > 0 {
			if err := s.gate.Charge(ctx, job.UserID, cents); err != nil {
				log.Printf("complete: charge user=%d cents=%.4f err=%v", job.UserID, cents, err)
			}
		}
	}
}

// Fail is the error terminal transition. partialContent keeps whatever
// output had streamed before the failure; empty means keep the last
// flushed value. Failed jobs are never billed.
func (s *Service) Fail(ctx context.Context, jobID, errMsg, partialContent string) {
	job, err := s.repo.GetJobByID(ctx, jobID)
	if err != nil {
		log.Printf("fail: job %s not loadable err=%v", jobID, err)
		return
	}

	if _, err := s.repo.MarkFailed(ctx, jobID, errMsg, partialContent, s.now()); err != nil {
		log.Printf("fail: mark job=%s err=%v", jobID, err)
	}

	if err := s.repo.ClearConversationStream(ctx, job.ChatID); err != nil {
		log.Printf("fail: clear conversation chat=%s err=%v", job.ChatID, err)
	}
	s.releaseLock(ctx, job.ChatID, job.ID)
}

// JobView is the read-only projection Query exposes.
type JobView struct {
	ID              string    `json:"id"`
	Status          JobStatus `json:"status"`
	Content         string    `json:"content"`
	Reasoning       string    `json:"reasoning,omitempty"`
	Error           *string   `json:"error,omitempty"`
	ClientMessageID string    `json:"client_message_id"`
}

func viewOf(j *StreamJob) *JobView {
	return &JobView{
		ID:              j.ID,
		Status:          j.Status,
		Content:         j.Content,
		Reasoning:       j.Reasoning,
		Error:           j.Error,
		ClientMessageID: j.ClientMessageID,
	}
}

// Query returns the job projection, hiding jobs the caller does not own.
func (s *Service) Query(ctx context.Context, jobID string, callerID uint64) (*JobView, error) {
	job, err := s.repo.GetJobByID(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.UserID != callerID {
		return nil, gorm.ErrRecordNotFound
	}
	return viewOf(job), nil
}

// QueryActiveByChat returns the conversation's live job, preferring
// running over pending.
func (s *Service) QueryActiveByChat(ctx context.Context, chatID string, callerID uint64) (*JobView, error) {
	job, err := s.repo.FindActiveByChat(ctx, chatID)
	if err != nil {
		return nil, err
	}
	if job.UserID != callerID {
		return nil, gorm.ErrRecordNotFound
	}
	return viewOf(job), nil
}

// SweepStale force-fails the user's pending/running jobs older than the
// staleness threshold. A worker that dies mid-stream never reaches Fail;
// without this, such jobs block the conversation forever.
func (s *Service) SweepStale(ctx context.Context, userID uint64) (cleaned, total int, err error) {
	jobs, err := s.repo.ListUnfinishedByUser(ctx, userID)
	if err != nil {
		return 0, 0, err
	}

	cutoff := s.now().Add(-s.staleThreshold)
	for _, job := range jobs {
		if job.CreatedAt.After(cutoff) {
			continue
		}
		s.Fail(ctx, job.ID, errStale, "")
		cleaned++
	}
	return cleaned, len(jobs), nil
}

func (s *Service) releaseLock(ctx context.Context, chatID, jobID string) {
	if s.lock != nil {
		s.lock.Release(ctx, chatID, jobID)
	}
}
