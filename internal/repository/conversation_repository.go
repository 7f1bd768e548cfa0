package repository

import (
	"context"
	"database/sql"
	"fmt"

	"kindred-chat/internal/domain/conversation"
	"kindred-chat/internal/domain/message"
	kindred_errors "kindred-chat/pkg/errors"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

type postgresConversationRepository struct {
	db DBTX
}

func NewConversationRepository(db DBTX) ConversationRepository {
	return &postgresConversationRepository{db: db}
}

const conversationColumns = `c.id, c.participant_low, c.participant_high, c.deleted_by, c.created_at, c.updated_at`

func conversationDest(c *conversation.Conversation, deletedBy *pq.StringArray) []interface{} {
	return []interface{}{
		&c.ID,
		&c.Participants[0],
		&c.Participants[1],
		deletedBy,
		&c.CreatedAt,
		&c.UpdatedAt,
	}
}

func scanConversation(row rowScanner) (conversation.Conversation, error) {
	var (
		c         conversation.Conversation
		deletedBy pq.StringArray
	)
	if err := row.Scan(conversationDest(&c, &deletedBy)...); err != nil {
		return conversation.Conversation{}, err
	}
	c.DeletedBy = []string(deletedBy)
	return c, nil
}

func (r *postgresConversationRepository) GetByID(ctx context.Context, id uuid.UUID) (conversation.Conversation, error) {
	c, err := scanConversation(r.db.QueryRowContext(ctx,
		`SELECT `+conversationColumns+` FROM conversations c WHERE c.id = $1`, id))
	if err != nil {
		return conversation.Conversation{}, wrapErr("get conversation", err)
	}
	return c, nil
}

func (r *postgresConversationRepository) GetByPair(ctx context.Context, pair conversation.Pair) (conversation.Conversation, error) {
	c, err := scanConversation(r.db.QueryRowContext(ctx, `
        SELECT `+conversationColumns+`
        FROM conversations c
        WHERE c.participant_low = $1 AND c.participant_high = $2
    `, pair.Low, pair.High))
	if err != nil {
		return conversation.Conversation{}, wrapErr("get conversation by pair", err)
	}
	return c, nil
}

func (r *postgresConversationRepository) CreateIfAbsent(ctx context.Context, c conversation.Conversation) (conversation.Conversation, error) {
	_, err := r.db.ExecContext(ctx, `
        INSERT INTO conversations (id, participant_low, participant_high, deleted_by, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6)
        ON CONFLICT (participant_low, participant_high) DO NOTHING
    `, c.ID, c.Participants[0], c.Participants[1], pq.Array(nonNil(c.DeletedBy)), c.CreatedAt, c.UpdatedAt)
	if err != nil {
		return conversation.Conversation{}, wrapErr("create conversation", err)
	}
	return r.GetByPair(ctx, conversation.Pair{Low: c.Participants[0], High: c.Participants[1]})
}

func (r *postgresConversationRepository) AddDeletedBy(ctx context.Context, conversationID uuid.UUID, userID string) error {
	res, err := r.db.ExecContext(ctx, `
        UPDATE conversations
        SET deleted_by = CASE WHEN $2 = ANY(deleted_by) THEN deleted_by ELSE array_append(deleted_by, $2) END
        WHERE id = $1
    `, conversationID, userID)
	return requireRow("soft delete conversation", res, err)
}

func (r *postgresConversationRepository) RemoveDeletedBy(ctx context.Context, conversationID uuid.UUID, userID string) error {
	res, err := r.db.ExecContext(ctx, `
        UPDATE conversations SET deleted_by = array_remove(deleted_by, $2) WHERE id = $1
    `, conversationID, userID)
	return requireRow("restore conversation", res, err)
}

// summaryQuery selects visible conversations for $1 with the latest message and
// the viewer's unread count.
const summaryQuery = `
    SELECT ` + conversationColumns + `,
           lm.id, lm.sender_id, lm.body, lm.read, lm.delivery_status, lm.reply_to, lm.attachments, lm.created_at, lm.deleted_at,
           COALESCE(uc.unread, 0)
    FROM conversations c
    LEFT JOIN LATERAL (
        SELECT m.id, m.sender_id, m.body, m.read, m.delivery_status, m.reply_to, m.attachments, m.created_at, m.deleted_at
        FROM messages m
        WHERE m.conversation_id = c.id
        ORDER BY m.created_at DESC, m.id DESC
        LIMIT 1
    ) lm ON TRUE
    LEFT JOIN LATERAL (
        SELECT COUNT(*) AS unread
        FROM messages m
        WHERE m.conversation_id = c.id AND m.sender_id <> $1 AND m.read = FALSE AND m.deleted_at IS NULL
    ) uc ON TRUE
    WHERE (c.participant_low = $1 OR c.participant_high = $1) AND NOT ($1 = ANY(c.deleted_by))`

func scanSummary(row rowScanner) (conversation.Summary, error) {
	var (
		s           conversation.Summary
		deletedBy   pq.StringArray
		msgID       uuid.NullUUID
		senderID    sql.NullString
		body        sql.NullString
		read        sql.NullBool
		status      sql.NullString
		replyTo     []byte
		attachments []byte
		createdAt   sql.NullTime
		deletedAt   sql.NullTime
	)
	dest := append(conversationDest(&s.Conversation, &deletedBy),
		&msgID, &senderID, &body, &read, &status, &replyTo, &attachments, &createdAt, &deletedAt,
		&s.UnreadCount,
	)
	if err := row.Scan(dest...); err != nil {
		return conversation.Summary{}, err
	}
	s.Conversation.DeletedBy = []string(deletedBy)

	if msgID.Valid {
		m := message.Message{
			ID:             msgID.UUID,
			ConversationID: s.Conversation.ID,
			SenderID:       senderID.String,
			Body:           body.String,
			Read:           read.Bool,
			Status:         message.DeliveryStatus(status.String),
			CreatedAt:      createdAt.Time,
			DeletedAt:      deletedAt,
		}
		if err := decodeSidecars(&m, replyTo, attachments); err != nil {
			return conversation.Summary{}, err
		}
		s.LastMessage = &m
	}
	return s, nil
}

func (r *postgresConversationRepository) ListForViewer(ctx context.Context, viewerID string) ([]conversation.Summary, error) {
	rows, err := r.db.QueryContext(ctx, summaryQuery+`
    ORDER BY c.updated_at DESC, c.id`, viewerID)
	if err != nil {
		return nil, wrapErr("list conversations", err)
	}
	defer rows.Close()

	var items []conversation.Summary
	for rows.Next() {
		s, err := scanSummary(rows)
		if err != nil {
			return nil, wrapErr("scan conversation", err)
		}
		items = append(items, s)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapErr("list conversations", err)
	}
	return items, nil
}

func (r *postgresConversationRepository) SummaryForViewer(ctx context.Context, viewerID string, conversationID uuid.UUID) (conversation.Summary, error) {
	s, err := scanSummary(r.db.QueryRowContext(ctx, summaryQuery+` AND c.id = $2`, viewerID, conversationID))
	if err != nil {
		return conversation.Summary{}, wrapErr("conversation summary", err)
	}
	return s, nil
}

func requireRow(op string, res sql.Result, err error) error {
	if err != nil {
		return wrapErr(op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return wrapErr(op, err)
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", op, kindred_errors.ErrNotFound)
	}
	return nil
}

func nonNil(items []string) []string {
	if items == nil {
		return []string{}
	}
	return items
}
