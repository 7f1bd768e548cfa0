package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"kindred-chat/internal/domain/conversation"
	"kindred-chat/internal/domain/message"
	"kindred-chat/internal/notify"
	"kindred-chat/internal/redis"
	"kindred-chat/internal/repository"
	kindred_errors "kindred-chat/pkg/errors"
	"kindred-chat/pkg/logger"

	"github.com/google/uuid"
)

const (
	DefaultHistoryLimit = 50
	MaxHistoryLimit     = 200
	replySnippetRunes   = 120
)

// MessageRateLimiter throttles sends per user.
type MessageRateLimiter interface {
	AllowMessage(ctx context.Context, userID string) (*redis.RateLimitResult, error)
}

// AttachmentSigner turns stored object keys into fetchable URLs.
type AttachmentSigner interface {
	PresignGet(ctx context.Context, key string) (string, error)
}

// MessageObserver is told about deletions synchronously so cached previews can
// be patched without a reload.
type MessageObserver interface {
	MessageDeleted(ctx context.Context, m message.Message)
}

type SendMessageInput struct {
	ConversationID uuid.UUID
	SenderID       string
	Body           string
	ReplyToID      *uuid.UUID
	Attachments    []message.Attachment
}

type MessageService struct {
	convs    repository.ConversationRepository
	msgs     repository.MessageRepository
	users    *UserDirectory
	notifier notify.Notifier
	limiter  MessageRateLimiter
	signer   AttachmentSigner
	log      *logger.Logger
	now      func() time.Time

	notifyTimeout time.Duration
	pending       sync.WaitGroup

	mu        sync.RWMutex
	observers []MessageObserver
}

func NewMessageService(convs repository.ConversationRepository, msgs repository.MessageRepository, users *UserDirectory, notifier notify.Notifier, log *logger.Logger) *MessageService {
	if log == nil {
		log = logger.NewNop()
	}
	return &MessageService{
		convs:         convs,
		msgs:          msgs,
		users:         users,
		notifier:      notifier,
		log:           log.Named("messages"),
		now:           time.Now,
		notifyTimeout: 5 * time.Second,
	}
}

func (s *MessageService) WithRateLimiter(limiter MessageRateLimiter) *MessageService {
	s.limiter = limiter
	return s
}

func (s *MessageService) WithSigner(signer AttachmentSigner) *MessageService {
	s.signer = signer
	return s
}

// WithClock replaces the time source. Used by tests.
func (s *MessageService) WithClock(now func() time.Time) *MessageService {
	s.now = now
	return s
}

func (s *MessageService) AddObserver(o MessageObserver) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.observers = append(s.observers, o)
}

// Wait blocks until in-flight notifications have finished.
func (s *MessageService) Wait() {
	s.pending.Wait()
}

func (s *MessageService) SendMessage(ctx context.Context, in SendMessageInput) (message.Message, error) {
	if in.SenderID == "" {
		return message.Message{}, kindred_errors.ErrUnauthenticated
	}
	if strings.TrimSpace(in.Body) == "" && len(in.Attachments) == 0 {
		return message.Message{}, fmt.Errorf("%w: message body is required", kindred_errors.ErrInvalidInput)
	}
	if err := message.ValidateAttachments(in.Attachments); err != nil {
		return message.Message{}, fmt.Errorf("%w: %v", kindred_errors.ErrInvalidInput, err)
	}

	conv, err := participantConversation(ctx, s.convs, in.SenderID, in.ConversationID)
	if err != nil {
		return message.Message{}, err
	}

	var reply *message.ReplyRef
	if in.ReplyToID != nil {
		reply, err = s.replyRef(ctx, conv, *in.ReplyToID)
		if err != nil {
			return message.Message{}, err
		}
	}

	if err := s.checkRate(ctx, in.SenderID); err != nil {
		return message.Message{}, err
	}

	m := message.Message{
		ID:             uuid.New(),
		ConversationID: conv.ID,
		SenderID:       in.SenderID,
		Body:           in.Body,
		Status:         message.StatusSent,
		ReplyTo:        reply,
		Attachments:    in.Attachments,
		CreatedAt:      s.now().UTC(),
	}
	if err := s.msgs.Create(ctx, m); err != nil {
		return message.Message{}, err
	}

	s.notifyRecipient(ctx, conv.Other(in.SenderID), m)
	return s.present(ctx, m), nil
}

func (s *MessageService) replyRef(ctx context.Context, conv conversation.Conversation, id uuid.UUID) (*message.ReplyRef, error) {
	quoted, err := s.msgs.GetByID(ctx, id)
	if errors.Is(err, kindred_errors.ErrNotFound) {
		return nil, fmt.Errorf("%w: reply target does not exist", kindred_errors.ErrInvalidInput)
	}
	if err != nil {
		return nil, err
	}
	if quoted.ConversationID != conv.ID {
		return nil, fmt.Errorf("%w: reply target is in another conversation", kindred_errors.ErrInvalidInput)
	}
	sender, err := s.users.Snapshot(ctx, quoted.SenderID)
	if err != nil {
		return nil, err
	}
	return &message.ReplyRef{
		ID:         quoted.ID,
		SenderID:   quoted.SenderID,
		SenderName: sender.DisplayName,
		Snippet:    snippet(quoted.Preview()),
	}, nil
}

func (s *MessageService) checkRate(ctx context.Context, userID string) error {
	if s.limiter == nil {
		return nil
	}
	res, err := s.limiter.AllowMessage(ctx, userID)
	if err != nil {
		// fail open: the limiter is advisory
		s.log.WithContext(ctx).Warnf("message rate limit check: %v", err)
		return nil
	}
	if !res.Allowed {
		return fmt.Errorf("%w: retry in %s", kindred_errors.ErrRateLimited, res.ResetIn)
	}
	return nil
}

func (s *MessageService) notifyRecipient(ctx context.Context, recipientID string, m message.Message) {
	if s.notifier == nil {
		return
	}
	log := s.log.WithContext(ctx)
	s.pending.Add(1)
	go func() {
		defer s.pending.Done()
		nctx, cancel := context.WithTimeout(context.Background(), s.notifyTimeout)
		defer cancel()

		title := m.SenderID
		if sender, err := s.users.Snapshot(nctx, m.SenderID); err == nil {
			title = sender.DisplayName
		}
		err := s.notifier.Notify(nctx, recipientID, notify.Notification{
			Type:  notify.TypeMessage,
			ID:    m.ID.String(),
			Title: title,
			Body:  m.Preview(),
		})
		if err != nil {
			log.Warnf("notify %s about message %s: %v", recipientID, m.ID, err)
		}
	}()
}

// MarkAsRead marks every message the viewer received in the conversation as
// read and returns how many changed.
func (s *MessageService) MarkAsRead(ctx context.Context, conversationID uuid.UUID, viewerID string) (int64, error) {
	if _, err := participantConversation(ctx, s.convs, viewerID, conversationID); err != nil {
		return 0, err
	}
	return s.msgs.MarkConversationRead(ctx, conversationID, viewerID)
}

// MarkDelivered upgrades a received message from sent to delivered.
func (s *MessageService) MarkDelivered(ctx context.Context, messageID uuid.UUID, viewerID string) (message.Message, error) {
	m, err := s.msgs.GetByID(ctx, messageID)
	if err != nil {
		return message.Message{}, err
	}
	if _, err := participantConversation(ctx, s.convs, viewerID, m.ConversationID); err != nil {
		return message.Message{}, err
	}
	if m.SenderID == viewerID {
		return message.Message{}, fmt.Errorf("%w: sender cannot acknowledge delivery", kindred_errors.ErrInvalidInput)
	}

	changed, err := s.msgs.MarkDelivered(ctx, messageID)
	if err != nil {
		return message.Message{}, err
	}
	if changed {
		m.Status = m.Status.Advance(message.StatusDelivered)
	}
	return s.present(ctx, m), nil
}

// DeleteMessage tombstones a message. Only the sender may delete, and only
// within the mutation window. Deleting twice returns the tombstone unchanged.
func (s *MessageService) DeleteMessage(ctx context.Context, messageID uuid.UUID, requesterID string) (message.Message, error) {
	if requesterID == "" {
		return message.Message{}, kindred_errors.ErrUnauthenticated
	}
	m, err := s.msgs.GetByID(ctx, messageID)
	if err != nil {
		return message.Message{}, err
	}
	if m.SenderID != requesterID {
		return message.Message{}, fmt.Errorf("%w: %v", kindred_errors.ErrPermissionDenied, message.ErrNotSender)
	}
	if m.IsDeleted() {
		return m, nil
	}
	if err := m.DeletableBy(requesterID, s.now()); err != nil {
		return message.Message{}, fmt.Errorf("%w: %w", kindred_errors.ErrPermissionDenied, kindred_errors.ErrMutationWindow)
	}

	deleted, err := s.msgs.SoftDelete(ctx, messageID, s.now().UTC())
	if err != nil {
		return message.Message{}, err
	}

	s.mu.RLock()
	observers := append([]MessageObserver(nil), s.observers...)
	s.mu.RUnlock()
	for _, o := range observers {
		o.MessageDeleted(ctx, deleted)
	}
	return deleted, nil
}

// History pages backwards from before and returns messages oldest first.
func (s *MessageService) History(ctx context.Context, conversationID uuid.UUID, viewerID string, before time.Time, limit int) ([]message.Message, error) {
	if _, err := participantConversation(ctx, s.convs, viewerID, conversationID); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	if limit > MaxHistoryLimit {
		limit = MaxHistoryLimit
	}
	items, err := s.msgs.ListByConversation(ctx, conversationID, before, limit)
	if err != nil {
		return nil, err
	}
	for i := range items {
		items[i] = s.present(ctx, items[i])
	}
	return items, nil
}

// present signs attachment object keys for the caller.
func (s *MessageService) present(ctx context.Context, m message.Message) message.Message {
	if s.signer == nil || len(m.Attachments) == 0 {
		return m
	}
	out := make([]message.Attachment, len(m.Attachments))
	for i, a := range m.Attachments {
		out[i] = a
		if a.IsObjectKey() {
			if url, err := s.signer.PresignGet(ctx, a.ObjectKey()); err == nil {
				out[i].URL = url
			} else {
				s.log.WithContext(ctx).Warnf("presign attachment %s: %v", a.URL, err)
			}
		}
		thumb := message.Attachment{URL: a.Thumbnail}
		if thumb.IsObjectKey() {
			if url, err := s.signer.PresignGet(ctx, thumb.ObjectKey()); err == nil {
				out[i].Thumbnail = url
			}
		}
	}
	m.Attachments = out
	return m
}

func snippet(text string) string {
	if utf8.RuneCountInString(text) <= replySnippetRunes {
		return text
	}
	runes := []rune(text)
	return string(runes[:replySnippetRunes]) + "…"
}
