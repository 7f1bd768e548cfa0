package logger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestWithContextAddsKnownIDs(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	l := &Logger{Logger: zap.New(core)}

	ctx := context.WithValue(context.Background(), RequestIdKey, "req-1")
	ctx = context.WithValue(ctx, UserIdKey, "u-001")
	ctx = context.WithValue(ctx, SessionIdKey, "sess-1")
	l.WithContext(ctx).Infof("hello %s", "world")
	l.WithContext(context.Background()).Infof("bare")

	entries := logs.All()
	assert.Len(t, entries, 2)
	assert.Equal(t, "hello world", entries[0].Message)
	assert.Equal(t, map[string]interface{}{
		"request_id": "req-1",
		"user_id":    "u-001",
		"session_id": "sess-1",
	}, entries[0].ContextMap())
	assert.Empty(t, entries[1].ContextMap())
}
