package repository

import (
	"context"
	"time"

	"kindred-chat/internal/domain/user"
)

type postgresUserRepository struct {
	db DBTX
}

func NewUserRepository(db DBTX) UserRepository {
	return &postgresUserRepository{db: db}
}

const userColumns = `id, display_name, avatar_url, tier, push_token, online_status, last_seen, created_at, updated_at`

func scanUser(row rowScanner) (user.User, error) {
	var u user.User
	err := row.Scan(
		&u.ID,
		&u.DisplayName,
		&u.AvatarURL,
		&u.Tier,
		&u.PushToken,
		&u.OnlineStatus,
		&u.LastSeen,
		&u.CreatedAt,
		&u.UpdatedAt,
	)
	return u, err
}

func (r *postgresUserRepository) GetUserByID(ctx context.Context, id string) (user.User, error) {
	u, err := scanUser(r.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id))
	if err != nil {
		return user.User{}, wrapErr("get user", err)
	}
	return u, nil
}

func (r *postgresUserRepository) GetUsersByIDs(ctx context.Context, ids []string) (map[string]user.User, error) {
	result := make(map[string]user.User, len(ids))
	if len(ids) == 0 {
		return result, nil
	}
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE id IN (`+buildPlaceholders(1, len(ids))+`)`, args...)
	if err != nil {
		return nil, wrapErr("get users", err)
	}
	defer rows.Close()

	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, wrapErr("scan user", err)
		}
		result[u.ID] = u
	}
	if err := rows.Err(); err != nil {
		return nil, wrapErr("get users", err)
	}
	return result, nil
}

func (r *postgresUserRepository) EnsureUser(ctx context.Context, id, displayName string) error {
	now := time.Now().UTC()
	_, err := r.db.ExecContext(ctx, `
        INSERT INTO users (id, display_name, avatar_url, tier, online_status, created_at, updated_at)
        VALUES ($1, $2, '', '', FALSE, $3, $3)
        ON CONFLICT (id) DO UPDATE
        SET display_name = EXCLUDED.display_name, updated_at = EXCLUDED.updated_at
        WHERE users.display_name IS DISTINCT FROM EXCLUDED.display_name AND EXCLUDED.display_name <> ''
    `, id, displayName, now)
	return wrapErr("ensure user", err)
}

func (r *postgresUserRepository) UpdateOnlineStatus(ctx context.Context, userID string, isOnline bool) error {
	res, err := r.db.ExecContext(ctx, `
        UPDATE users SET online_status = $2, updated_at = $3 WHERE id = $1
    `, userID, isOnline, time.Now().UTC())
	return requireRow("update online status", res, err)
}

func (r *postgresUserRepository) UpdateLastSeen(ctx context.Context, userID string, lastSeen time.Time) error {
	res, err := r.db.ExecContext(ctx, `
        UPDATE users SET last_seen = $2, online_status = FALSE, updated_at = $2 WHERE id = $1
    `, userID, lastSeen.UTC())
	return requireRow("update last seen", res, err)
}
