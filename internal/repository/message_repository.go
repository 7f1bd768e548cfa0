package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"slices"
	"time"

	"kindred-chat/internal/domain/message"
	kindred_errors "kindred-chat/pkg/errors"

	"github.com/google/uuid"
)

type postgresMessageRepository struct {
	db DBTX
}

func NewMessageRepository(db DBTX) MessageRepository {
	return &postgresMessageRepository{db: db}
}

const messageColumns = `id, conversation_id, sender_id, body, read, delivery_status, reply_to, attachments, created_at, deleted_at`

func scanMessage(row rowScanner) (message.Message, error) {
	var (
		m           message.Message
		status      string
		replyTo     []byte
		attachments []byte
	)
	err := row.Scan(
		&m.ID,
		&m.ConversationID,
		&m.SenderID,
		&m.Body,
		&m.Read,
		&status,
		&replyTo,
		&attachments,
		&m.CreatedAt,
		&m.DeletedAt,
	)
	if err != nil {
		return message.Message{}, err
	}
	m.Status = message.DeliveryStatus(status)
	if err := decodeSidecars(&m, replyTo, attachments); err != nil {
		return message.Message{}, err
	}
	return m, nil
}

func decodeSidecars(m *message.Message, replyTo, attachments []byte) error {
	if len(replyTo) > 0 && string(replyTo) != "null" {
		var ref message.ReplyRef
		if err := json.Unmarshal(replyTo, &ref); err != nil {
			return fmt.Errorf("decode reply_to: %w", err)
		}
		m.ReplyTo = &ref
	}
	if len(attachments) > 0 && string(attachments) != "null" {
		if err := json.Unmarshal(attachments, &m.Attachments); err != nil {
			return fmt.Errorf("decode attachments: %w", err)
		}
		if len(m.Attachments) == 0 {
			m.Attachments = nil
		}
	}
	return nil
}

func encodeSidecars(m message.Message) (interface{}, string, error) {
	var replyTo interface{}
	if m.ReplyTo != nil {
		raw, err := json.Marshal(m.ReplyTo)
		if err != nil {
			return nil, "", fmt.Errorf("encode reply_to: %w", err)
		}
		replyTo = string(raw)
	}
	attachments := "[]"
	if len(m.Attachments) > 0 {
		raw, err := json.Marshal(m.Attachments)
		if err != nil {
			return nil, "", fmt.Errorf("encode attachments: %w", err)
		}
		attachments = string(raw)
	}
	return replyTo, attachments, nil
}

func (r *postgresMessageRepository) Create(ctx context.Context, m message.Message) error {
	replyTo, attachments, err := encodeSidecars(m)
	if err != nil {
		return err
	}
	return WithTx(ctx, r.db, func(tx DBTX) error {
		_, err := tx.ExecContext(ctx, `
            INSERT INTO messages (id, conversation_id, sender_id, body, read, delivery_status, reply_to, attachments, created_at)
            VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
        `, m.ID, m.ConversationID, m.SenderID, m.Body, m.Read, string(m.Status), replyTo, attachments, m.CreatedAt)
		if err != nil {
			return wrapErr("insert message", err)
		}

		res, err := tx.ExecContext(ctx, `
            UPDATE conversations
            SET updated_at = GREATEST(updated_at, $2), deleted_by = '{}'
            WHERE id = $1
        `, m.ConversationID, m.CreatedAt)
		if err != nil {
			return wrapErr("bump conversation", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return kindred_errors.ErrNotFound
		}
		return nil
	})
}

func (r *postgresMessageRepository) GetByID(ctx context.Context, id uuid.UUID) (message.Message, error) {
	m, err := scanMessage(r.db.QueryRowContext(ctx, `SELECT `+messageColumns+` FROM messages WHERE id = $1`, id))
	if err != nil {
		return message.Message{}, wrapErr("get message", err)
	}
	return m, nil
}

func (r *postgresMessageRepository) ListByConversation(ctx context.Context, conversationID uuid.UUID, before time.Time, limit int) ([]message.Message, error) {
	cursor := sql.NullTime{Time: before, Valid: !before.IsZero()}
	rows, err := r.db.QueryContext(ctx, `
        SELECT `+messageColumns+`
        FROM messages
        WHERE conversation_id = $1 AND ($2::timestamptz IS NULL OR created_at < $2)
        ORDER BY created_at DESC, id DESC
        LIMIT $3
    `, conversationID, cursor, limit)
	if err != nil {
		return nil, wrapErr("list messages", err)
	}
	defer rows.Close()

	items := make([]message.Message, 0, limit)
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, wrapErr("scan message", err)
		}
		items = append(items, m)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapErr("list messages", err)
	}
	slices.Reverse(items)
	return items, nil
}

func (r *postgresMessageRepository) MarkConversationRead(ctx context.Context, conversationID uuid.UUID, viewerID string) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
        UPDATE messages
        SET read = TRUE, delivery_status = 'read'
        WHERE conversation_id = $1 AND sender_id <> $2 AND (read = FALSE OR delivery_status <> 'read')
    `, conversationID, viewerID)
	if err != nil {
		return 0, wrapErr("mark read", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, wrapErr("mark read", err)
	}
	return n, nil
}

func (r *postgresMessageRepository) MarkDelivered(ctx context.Context, messageID uuid.UUID) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
        UPDATE messages SET delivery_status = 'delivered'
        WHERE id = $1 AND delivery_status = 'sent'
    `, messageID)
	if err != nil {
		return false, wrapErr("mark delivered", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, wrapErr("mark delivered", err)
	}
	return n > 0, nil
}

func (r *postgresMessageRepository) SoftDelete(ctx context.Context, messageID uuid.UUID, at time.Time) (message.Message, error) {
	m, err := scanMessage(r.db.QueryRowContext(ctx, `
        UPDATE messages
        SET body = $3, reply_to = NULL, attachments = '[]', deleted_at = COALESCE(deleted_at, $2)
        WHERE id = $1
        RETURNING `+messageColumns,
		messageID, at.UTC(), message.Tombstone))
	if err != nil {
		return message.Message{}, wrapErr("delete message", err)
	}
	return m, nil
}
