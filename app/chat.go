package app

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/Tristan-Hancock/maya-web-sub000/app/models"
)

// Message text bounds. With an attachment the text may be empty (the
// document itself is the prompt).
const MaxMessageLen = 900

// Orchestrator drives one chat turn end to end: admission, conversation
// attach-or-create, upstream generation, bounded polling, extraction,
// and usage commit. The clock and sleeper are injectable so the poll
// loop is testable without wall-clock delays.
type Orchestrator struct {
	Completion   CompletionAPI
	Secrets      *Secrets
	PollInterval time.Duration
	Budget       time.Duration
	DocBudget    time.Duration

	clock func() time.Time
	sleep func(time.Duration)
}

func NewOrchestrator(completion CompletionAPI, secrets *Secrets) *Orchestrator {
	return &Orchestrator{
		Completion:   completion,
		Secrets:      secrets,
		PollInterval: 800 * time.Millisecond,
		Budget:       45 * time.Second,
		DocBudget:    60 * time.Second,
		clock:        time.Now,
		sleep:        time.Sleep,
	}
}

// SendMessage executes one turn. Quota increments and thread metadata
// land only after extraction succeeds; a reserved new-conversation
// slot is released on any later failure.
func (o *Orchestrator) SendMessage(ctx context.Context, anonUser string, req *models.SendMessageRequest) (*models.SendMessageResponse, error) {
	if err := validateMessage(req); err != nil {
		return nil, err
	}

	now := o.clock()
	acct, err := EnsureAccount(ctx, anonUser, now)
	if err != nil {
		return nil, err
	}
	pol := PolicyFor(acct)

	if err := CanSendPrompt(acct, pol); err != nil {
		return nil, err
	}
	if req.HasAttachment() {
		if err := CanUploadDoc(acct, pol); err != nil {
			return nil, err
		}
	}

	handle := req.Handle
	var conversationID, internalID string
	isNew := false
	reserved := false

	if handle != "" {
		internalID, err = UnsealHandle(o.Secrets.HandleKey, handle, anonUser)
		if err != nil {
			return nil, err
		}
		thread, err := getThread(ctx, internalID, anonUser)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				// A cryptographically valid handle for a deleted or
				// unknown thread is still just an invalid handle to
				// the caller.
				return nil, ErrInvalidHandle
			}
			return nil, err
		}
		conversationID = thread.ConversationID
	} else {
		if err := ReserveThreadSlot(ctx, acct, pol); err != nil {
			return nil, err
		}
		reserved = true
		defer func() {
			if reserved {
				ReleaseThreadSlot(ctx, anonUser, pol)
			}
		}()

		conversationID, err = o.Completion.CreateConversation(ctx)
		if err != nil {
			return nil, err
		}
		internalID = uuid.NewString()
		handle, err = SealHandle(o.Secrets.HandleKey, internalID, anonUser)
		if err != nil {
			return nil, err
		}
		isNew = true
	}

	fileID := ""
	if req.HasAttachment() {
		fileID, err = o.Completion.UploadDocument(ctx, req.AttachmentName, req.AttachmentData)
		if err != nil {
			return nil, err
		}
	}

	if err := o.Completion.AppendMessage(ctx, conversationID, req.Text, fileID); err != nil {
		return nil, err
	}

	runID, err := o.Completion.StartRun(ctx, conversationID)
	if err != nil {
		return nil, err
	}

	if err := o.pollRun(ctx, conversationID, runID, req.HasAttachment()); err != nil {
		return nil, err
	}

	reply, err := o.Completion.LatestAssistantText(ctx, conversationID)
	if err != nil {
		return nil, err
	}

	// The turn succeeded; everything from here is commit, and the
	// reservation is consumed rather than released.
	reserved = false

	if err := markPromptUsed(ctx, anonUser); err != nil {
		log.Printf("prompt usage commit failed user=%s err=%v", anonUser, err)
	}
	if req.HasAttachment() {
		if err := markDocUsed(ctx, anonUser); err != nil {
			log.Printf("doc usage commit failed user=%s err=%v", anonUser, err)
		}
	}

	commitAt := o.clock()
	if isNew {
		err = insertThreadIfAbsent(ctx, models.Thread{
			InternalID:     internalID,
			ConversationID: conversationID,
			AnonUser:       anonUser,
			Title:          threadTitle(req.Text),
			CreatedAt:      commitAt,
		})
	} else {
		err = touchThread(ctx, internalID, commitAt)
	}
	if err != nil {
		log.Printf("thread metadata persist failed user=%s err=%v", anonUser, err)
	}

	promptsSent.Inc()
	return &models.SendMessageResponse{Handle: handle, Reply: reply}, nil
}

// pollRun waits for the run to reach a terminal state. Retrieval-
// augmented runs (attachment present) get the longer budget. Expiry of
// the wall-clock budget is the sole cancellation mechanism.
func (o *Orchestrator) pollRun(ctx context.Context, conversationID, runID string, withDoc bool) error {
	budget := o.Budget
	if withDoc {
		budget = o.DocBudget
	}
	deadline := o.clock().Add(budget)

	for {
		status, err := o.Completion.GetRun(ctx, conversationID, runID)
		if err != nil {
			return err
		}
		switch status {
		case RunCompleted:
			return nil
		case RunFailed, RunExpired, RunCancelled:
			return ErrRunFailed
		case RunQueued, RunInProgress:
			// keep waiting
		default:
			// A state this gateway cannot drive (e.g. a tool-call
			// request) ends the run as a failure rather than hanging.
			return ErrRunFailed
		}

		if !o.clock().Add(o.PollInterval).Before(deadline) {
			return ErrRunTimeout
		}
		o.sleep(o.PollInterval)
	}
}

// DeleteThread removes a conversation on explicit user request,
// compensating the owner's prompt usage by the thread's message count
// and freeing its slot. startCooldown optionally stamps the voice
// cooldown window at the same time.
func (o *Orchestrator) DeleteThread(ctx context.Context, anonUser, handle string, startCooldown bool) (int, error) {
	internalID, err := UnsealHandle(o.Secrets.HandleKey, handle, anonUser)
	if err != nil {
		return 0, err
	}

	thread, err := deleteThread(ctx, internalID, anonUser)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, ErrInvalidHandle
		}
		return 0, err
	}

	// Best-effort compensation; failures are logged, never surfaced.
	if err := decrementPromptsUsed(ctx, anonUser, thread.MessageCount); err != nil {
		log.Printf("prompt rollback failed user=%s err=%v", anonUser, err)
	}
	if err := releaseThreadSlot(ctx, anonUser); err != nil {
		log.Printf("thread slot release failed user=%s err=%v", anonUser, err)
	}
	if err := o.Completion.DeleteConversation(ctx, thread.ConversationID); err != nil {
		log.Printf("upstream conversation delete failed user=%s err=%v", anonUser, err)
	}
	if startCooldown {
		if err := stampVoiceCooldown(ctx, anonUser, o.clock().UnixMilli()); err != nil {
			log.Printf("cooldown stamp failed user=%s err=%v", anonUser, err)
		}
	}

	return thread.MessageCount, nil
}

func validateMessage(req *models.SendMessageRequest) error {
	if len(req.Text) > MaxMessageLen {
		return ValidationError{Field: "text", Detail: "longer than 900 characters"}
	}
	if !req.HasAttachment() && len(req.Text) == 0 {
		return ValidationError{Field: "text", Detail: "empty message"}
	}
	return nil
}

func threadTitle(text string) string {
	if len(text) <= models.MaxThreadTitleLen {
		return text
	}
	return text[:models.MaxThreadTitleLen]
}
