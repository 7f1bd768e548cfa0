package changefeed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"kindred-chat/internal/domain/change"
	"kindred-chat/internal/presence"
	"kindred-chat/pkg/logger"

	"github.com/jackc/pgx/v5"
)

// PGSource listens on a Postgres NOTIFY channel fed by the change triggers and
// publishes every decoded event to the broker.
type PGSource struct {
	dsn     string
	channel string
	broker  *Broker
	backoff presence.Backoff
	log     *logger.Logger
}

// NewPGSource listens on channel using its own connection built from dsn.
func NewPGSource(dsn, channel string, broker *Broker, log *logger.Logger) *PGSource {
	if log == nil {
		log = logger.NewNop()
	}
	return &PGSource{
		dsn:     dsn,
		channel: channel,
		broker:  broker,
		backoff: presence.DefaultBackoff(),
		log:     log.Named("pg-changefeed"),
	}
}

// Run blocks until ctx is cancelled, reconnecting with backoff. Subscribers
// are told to resync after every reconnect since notifications sent while
// disconnected are lost.
func (s *PGSource) Run(ctx context.Context) {
	bo := s.backoff.New()
	reconnecting := false
	for {
		err := s.listen(ctx, func() {
			if reconnecting {
				s.broker.Invalidate()
			}
			reconnecting = false
			bo.Reset()
		})
		if ctx.Err() != nil {
			return
		}
		reconnecting = true
		delay := bo.NextBackOff()
		s.log.Warnf("change feed connection lost (retry in %s): %v", delay, err)
		if !presence.Wait(ctx, delay) {
			return
		}
	}
}

func (s *PGSource) listen(ctx context.Context, onListening func()) error {
	conn, err := pgx.Connect(ctx, s.dsn)
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = conn.Close(closeCtx)
	}()

	if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{s.channel}.Sanitize()); err != nil {
		return fmt.Errorf("listen %s: %w", s.channel, err)
	}
	s.log.Infof("listening for changes on %s", s.channel)
	onListening()

	for {
		n, err := conn.WaitForNotification(ctx)
		if err != nil {
			return err
		}
		e, err := DecodeNotification(n.Payload)
		if err != nil {
			s.log.Warnf("discarding change notification: %v", err)
			s.broker.Invalidate()
			continue
		}
		s.broker.Publish(e)
	}
}

var ErrEmptyNotification = errors.New("empty change notification")

// DecodeNotification parses a trigger payload.
func DecodeNotification(payload string) (change.Event, error) {
	if payload == "" {
		return change.Event{}, ErrEmptyNotification
	}
	var e change.Event
	if err := json.Unmarshal([]byte(payload), &e); err != nil {
		return change.Event{}, fmt.Errorf("decode change notification: %w", err)
	}
	if e.Table == "" || e.Type == "" {
		return change.Event{}, fmt.Errorf("decode change notification: missing table or type")
	}
	return e, nil
}
