package changefeed

import (
	"context"
	"slices"
	"time"

	"kindred-chat/internal/directory"
	"kindred-chat/internal/domain/change"
	"kindred-chat/internal/domain/conversation"
	"kindred-chat/pkg/logger"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Listener applies change events to one viewer's directory view. Inserts into
// known conversations are patched in memory, other row changes refresh a
// single conversation, and anything it cannot interpret reloads the list.
type Listener struct {
	view     *directory.View
	sub      *Subscription
	onChange func([]conversation.Summary)
	timeout  time.Duration
	log      *logger.Logger
}

func NewListener(view *directory.View, sub *Subscription, onChange func([]conversation.Summary), timeout time.Duration, log *logger.Logger) *Listener {
	if log == nil {
		log = logger.NewNop()
	}
	if onChange == nil {
		onChange = func([]conversation.Summary) {}
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Listener{
		view:     view,
		sub:      sub,
		onChange: onChange,
		timeout:  timeout,
		log:      log.Named("changefeed").With(zap.String("viewer_id", view.ViewerID())),
	}
}

// Run consumes events until ctx ends or the subscription is closed. Events
// that arrive together are handled as one batch.
func (l *Listener) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-l.sub.Resync():
			l.Reload(ctx)
		case e, ok := <-l.sub.Events():
			if !ok {
				return
			}
			batch := []change.Event{e}
		drain:
			for len(batch) < cap(l.sub.events) {
				select {
				case next, ok := <-l.sub.Events():
					if !ok {
						break drain
					}
					batch = append(batch, next)
				default:
					break drain
				}
			}
			l.HandleBatch(ctx, batch)
		}
	}
}

// Reload replaces the view and publishes it. Failures keep the stale list.
func (l *Listener) Reload(ctx context.Context) bool {
	rctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()
	if err := l.view.Reload(rctx); err != nil {
		l.log.WithContext(ctx).Warnf("reload conversations: %v", err)
		return false
	}
	l.onChange(l.view.Snapshot())
	return true
}

type plan struct {
	reload  bool
	patched bool
	refresh []uuid.UUID
}

func (p *plan) refreshOne(id uuid.UUID) {
	if !slices.Contains(p.refresh, id) {
		p.refresh = append(p.refresh, id)
	}
}

// Handle applies one event and reports whether the view changed.
func (l *Listener) Handle(ctx context.Context, e change.Event) bool {
	return l.HandleBatch(ctx, []change.Event{e})
}

func (l *Listener) HandleBatch(ctx context.Context, events []change.Event) bool {
	if !l.view.Loaded() {
		return l.Reload(ctx)
	}

	var p plan
	for _, e := range events {
		l.plan(&p, e)
		if p.reload {
			return l.Reload(ctx)
		}
	}

	changed := p.patched
	for _, id := range p.refresh {
		rctx, cancel := context.WithTimeout(ctx, l.timeout)
		err := l.view.Refresh(rctx, id)
		cancel()
		if err != nil {
			l.log.WithContext(ctx).Warnf("refresh conversation %s: %v", id, err)
			continue
		}
		changed = true
	}
	if changed {
		l.onChange(l.view.Snapshot())
	}
	return changed
}

func (l *Listener) plan(p *plan, e change.Event) {
	switch e.Table {
	case change.TableMessages:
		row, err := e.Message()
		if err != nil {
			p.reload = true
			return
		}
		m, err := directory.MessageFromRow(row)
		if err != nil {
			p.reload = true
			return
		}
		// Messages in conversations the view does not hold are covered by the
		// conversation row update that accompanies every insert.
		if _, known := l.view.Get(m.ConversationID); !known {
			return
		}
		if e.Type == change.Insert && !slices.Contains(p.refresh, m.ConversationID) && l.view.ApplyMessageInsert(m) {
			p.patched = true
			return
		}
		p.refreshOne(m.ConversationID)

	case change.TableConversations:
		row, err := e.Conversation()
		if err != nil {
			p.reload = true
			return
		}
		if !directory.Involves(row, l.view.ViewerID()) {
			return
		}
		id, err := uuid.Parse(row.ID)
		if err != nil {
			p.reload = true
			return
		}
		if e.Type == change.Delete || slices.Contains(row.DeletedBy, l.view.ViewerID()) {
			if l.view.Remove(id) {
				p.patched = true
			}
			return
		}
		if l.view.UpToDate(row) {
			return
		}
		p.refreshOne(id)

	default:
		p.reload = true
	}
}
