package repository_test

import (
	"context"
	"flag"
	"log"
	"os"
	"testing"
	"time"

	"kindred-chat/internal/domain/conversation"
	"kindred-chat/internal/domain/message"
	"kindred-chat/internal/pgtest"
	"kindred-chat/internal/repository"
	kindred_errors "kindred-chat/pkg/errors"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var pg *pgtest.Postgres

func TestMain(m *testing.M) {
	flag.Parse()
	if !testing.Short() {
		var err error
		pg, err = pgtest.Start(context.Background(), "../../migrations", "")
		if err != nil {
			log.Printf("postgres tests disabled: %v", err)
			pg = nil
		}
	}

	code := m.Run()
	if pg != nil {
		pg.Close()
	}
	os.Exit(code)
}

type pgRepos struct {
	users repository.UserRepository
	convs repository.ConversationRepository
	msgs  repository.MessageRepository
}

func postgresRepos(t *testing.T) pgRepos {
	t.Helper()
	if pg == nil {
		t.Skip("postgres container not available")
	}
	t.Cleanup(func() {
		require.NoError(t, pg.Reset(context.Background()))
	})
	return pgRepos{
		users: repository.NewUserRepository(pg.DB),
		convs: repository.NewConversationRepository(pg.DB),
		msgs:  repository.NewMessageRepository(pg.DB),
	}
}

func pgConversation(t *testing.T, r pgRepos, a, b string, at time.Time) conversation.Conversation {
	t.Helper()
	pair, err := conversation.CanonicalPair(a, b)
	require.NoError(t, err)
	c, err := r.convs.CreateIfAbsent(context.Background(), conversation.Conversation{
		ID:           uuid.New(),
		Participants: pair.Participants(),
		CreatedAt:    at,
		UpdatedAt:    at,
	})
	require.NoError(t, err)
	return c
}

func pgMessage(convID uuid.UUID, sender, body string, at time.Time) message.Message {
	return message.Message{
		ID:             uuid.New(),
		ConversationID: convID,
		SenderID:       sender,
		Body:           body,
		Status:         message.StatusSent,
		CreatedAt:      at,
	}
}

func TestPostgres_CreateIfAbsentKeepsFirstRow(t *testing.T) {
	r := postgresRepos(t)
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	first := pgConversation(t, r, "u-001", "u-002", t0)
	second := pgConversation(t, r, "u-002", "u-001", t0.Add(time.Minute))

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, [2]string{"u-001", "u-002"}, second.Participants)
	assert.True(t, t0.Equal(second.CreatedAt))
}

func TestPostgres_CreateMessageBumpsAndRestores(t *testing.T) {
	r := postgresRepos(t)
	ctx := context.Background()
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	c := pgConversation(t, r, "u-001", "u-002", t0)
	require.NoError(t, r.convs.AddDeletedBy(ctx, c.ID, "u-002"))
	require.NoError(t, r.convs.AddDeletedBy(ctx, c.ID, "u-002"))

	got, err := r.convs.GetByID(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"u-002"}, got.DeletedBy)

	require.NoError(t, r.msgs.Create(ctx, pgMessage(c.ID, "u-001", "Hello", t0.Add(time.Minute))))
	// an older timestamp never moves updated_at backwards
	require.NoError(t, r.msgs.Create(ctx, pgMessage(c.ID, "u-001", "late", t0.Add(time.Second))))

	got, err = r.convs.GetByID(ctx, c.ID)
	require.NoError(t, err)
	assert.True(t, t0.Add(time.Minute).Equal(got.UpdatedAt))
	assert.Empty(t, got.DeletedBy)

	assert.ErrorIs(t, r.convs.AddDeletedBy(ctx, uuid.New(), "u-001"), kindred_errors.ErrNotFound)
}

func TestPostgres_ListForViewerSummaries(t *testing.T) {
	r := postgresRepos(t)
	ctx := context.Background()
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	older := pgConversation(t, r, "u-001", "u-003", t0)
	newer := pgConversation(t, r, "u-001", "u-002", t0)
	empty := pgConversation(t, r, "u-001", "u-004", t0.Add(-time.Hour))
	require.NoError(t, r.msgs.Create(ctx, pgMessage(older.ID, "u-003", "first", t0.Add(time.Second))))
	require.NoError(t, r.msgs.Create(ctx, pgMessage(newer.ID, "u-002", "a", t0.Add(2*time.Second))))
	require.NoError(t, r.msgs.Create(ctx, pgMessage(newer.ID, "u-002", "b", t0.Add(3*time.Second))))
	reply := pgMessage(newer.ID, "u-001", "c", t0.Add(4*time.Second))
	reply.ReplyTo = &message.ReplyRef{SenderID: "u-002", SenderName: "Bob", Snippet: "b"}
	require.NoError(t, r.msgs.Create(ctx, reply))

	items, err := r.convs.ListForViewer(ctx, "u-001")
	require.NoError(t, err)
	require.Len(t, items, 3)
	assert.Equal(t, newer.ID, items[0].Conversation.ID)
	assert.Equal(t, 2, items[0].UnreadCount)
	require.NotNil(t, items[0].LastMessage)
	assert.Equal(t, "c", items[0].LastMessage.Body)
	require.NotNil(t, items[0].LastMessage.ReplyTo)
	assert.Equal(t, "Bob", items[0].LastMessage.ReplyTo.SenderName)
	assert.Equal(t, older.ID, items[1].Conversation.ID)
	assert.Equal(t, 1, items[1].UnreadCount)
	assert.Equal(t, empty.ID, items[2].Conversation.ID)
	assert.Nil(t, items[2].LastMessage)

	theirs, err := r.convs.SummaryForViewer(ctx, "u-002", newer.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, theirs.UnreadCount)

	require.NoError(t, r.convs.AddDeletedBy(ctx, newer.ID, "u-001"))
	_, err = r.convs.SummaryForViewer(ctx, "u-001", newer.ID)
	assert.ErrorIs(t, err, kindred_errors.ErrNotFound)
	_, err = r.convs.SummaryForViewer(ctx, "u-002", newer.ID)
	assert.NoError(t, err)
}

func TestPostgres_ReadDeliveredAndSoftDelete(t *testing.T) {
	r := postgresRepos(t)
	ctx := context.Background()
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	c := pgConversation(t, r, "u-001", "u-002", t0)
	incoming := pgMessage(c.ID, "u-002", "hi", t0.Add(time.Second))
	incoming.Attachments = []message.Attachment{{Kind: message.KindImage, URL: "https://cdn/x.png"}}
	require.NoError(t, r.msgs.Create(ctx, incoming))

	ok, err := r.msgs.MarkDelivered(ctx, incoming.ID)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = r.msgs.MarkDelivered(ctx, incoming.ID)
	require.NoError(t, err)
	assert.False(t, ok)

	n, err := r.msgs.MarkConversationRead(ctx, c.ID, "u-001")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	n, err = r.msgs.MarkConversationRead(ctx, c.ID, "u-001")
	require.NoError(t, err)
	assert.Zero(t, n)

	first, err := r.msgs.SoftDelete(ctx, incoming.ID, t0.Add(time.Minute))
	require.NoError(t, err)
	second, err := r.msgs.SoftDelete(ctx, incoming.ID, t0.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, message.Tombstone, second.Body)
	assert.Empty(t, second.Attachments)
	require.True(t, second.DeletedAt.Valid)
	assert.True(t, first.DeletedAt.Time.Equal(second.DeletedAt.Time))
	assert.Equal(t, message.StatusRead, second.Status)

	_, err = r.msgs.SoftDelete(ctx, uuid.New(), t0)
	assert.ErrorIs(t, err, kindred_errors.ErrNotFound)
}

func TestPostgres_ListByConversationPagesBackwards(t *testing.T) {
	r := postgresRepos(t)
	ctx := context.Background()
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	c := pgConversation(t, r, "u-001", "u-002", t0)
	for i := 0; i < 5; i++ {
		require.NoError(t, r.msgs.Create(ctx, pgMessage(c.ID, "u-001", string(rune('a'+i)), t0.Add(time.Duration(i)*time.Second))))
	}

	page, err := r.msgs.ListByConversation(ctx, c.ID, time.Time{}, 2)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, "d", page[0].Body)
	assert.Equal(t, "e", page[1].Body)

	page, err = r.msgs.ListByConversation(ctx, c.ID, page[0].CreatedAt, 10)
	require.NoError(t, err)
	require.Len(t, page, 3)
	assert.Equal(t, "a", page[0].Body)
}

func TestPostgres_UsersPresenceColumns(t *testing.T) {
	r := postgresRepos(t)
	ctx := context.Background()
	require.NoError(t, r.users.EnsureUser(ctx, "u-001", "Alice"))
	require.NoError(t, r.users.EnsureUser(ctx, "u-002", "Bob"))
	require.NoError(t, r.users.UpdateOnlineStatus(ctx, "u-001", true))

	at := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, r.users.UpdateLastSeen(ctx, "u-001", at))

	u, err := r.users.GetUserByID(ctx, "u-001")
	require.NoError(t, err)
	assert.Equal(t, "Alice", u.DisplayName)
	assert.False(t, u.OnlineStatus)
	require.True(t, u.LastSeen.Valid)
	assert.True(t, at.Equal(u.LastSeen.Time))

	found, err := r.users.GetUsersByIDs(ctx, []string{"u-001", "u-002", "u-404"})
	require.NoError(t, err)
	assert.Len(t, found, 2)

	_, err = r.users.GetUserByID(ctx, "u-404")
	assert.ErrorIs(t, err, kindred_errors.ErrNotFound)
}
