package session

import (
	"context"
	"sync"

	"kindred-chat/internal/changefeed"
	"kindred-chat/internal/directory"
	"kindred-chat/internal/domain/conversation"
	"kindred-chat/internal/domain/user"
	"kindred-chat/internal/lifecycle"
	"kindred-chat/pkg/logger"
)

type Session struct {
	ID       string
	Identity user.Identity

	manager   *Manager
	sink      Sink
	view      *directory.View
	sub       *changefeed.Subscription
	listener  *changefeed.Listener
	lease     *lease
	lifecycle *lifecycle.Coordinator
	stopWatch func()
	cancel    context.CancelFunc
	done      chan struct{}
	log       *logger.Logger

	closeOnce sync.Once
}

func (s *Session) SetAppState(ctx context.Context, state lifecycle.AppState) {
	s.lifecycle.SetAppState(ctx, state)
}

func (s *Session) Mount(ctx context.Context)   { s.lifecycle.Mount(ctx) }
func (s *Session) Unmount(ctx context.Context) { s.lifecycle.Unmount(ctx) }

// Present reports whether this session currently holds its user online.
func (s *Session) Present() bool { return s.lifecycle.Present() }

func (s *Session) Heartbeat(ctx context.Context) error {
	if !s.lifecycle.Present() {
		return nil
	}
	return s.manager.heartbeat(ctx, s.Identity.ID)
}

// Reload forces a full directory reload and pushes the result.
func (s *Session) Reload(ctx context.Context) bool {
	return s.listener.Reload(ctx)
}

func (s *Session) Conversations() []conversation.Summary {
	return s.view.Snapshot()
}

// Close releases presence through the grace period and stops the listener.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.manager.remove(s)
		s.stopWatch()
		s.lease.Release(context.Background())
		s.cancel()
		s.sub.Close()
		<-s.done
		s.log.Infof("session %s closed", s.ID)
	})
}
