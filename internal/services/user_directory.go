package services

import (
	"context"
	"errors"
	"strings"

	"kindred-chat/internal/domain/user"
	"kindred-chat/internal/repository"
	kindred_errors "kindred-chat/pkg/errors"
	"kindred-chat/pkg/logger"
)

// SnapshotCache is the read-through cache in front of the users table.
type SnapshotCache interface {
	GetSnapshots(ctx context.Context, ids []string) (map[string]user.Snapshot, error)
	SetSnapshots(ctx context.Context, snapshots []user.Snapshot) error
	InvalidateUser(ctx context.Context, userID string) error
}

// UserDirectory resolves participant snapshots for conversation lists.
type UserDirectory struct {
	users repository.UserRepository
	cache SnapshotCache
	log   *logger.Logger
}

// NewUserDirectory builds a directory; cache may be nil.
func NewUserDirectory(users repository.UserRepository, cache SnapshotCache, log *logger.Logger) *UserDirectory {
	if log == nil {
		log = logger.NewNop()
	}
	return &UserDirectory{users: users, cache: cache, log: log.Named("user-directory")}
}

// EnsureUser records the identity provider's view of the caller.
func (d *UserDirectory) EnsureUser(ctx context.Context, identity user.Identity) error {
	if strings.TrimSpace(identity.ID) == "" {
		return kindred_errors.ErrUnauthenticated
	}
	if err := d.users.EnsureUser(ctx, identity.ID, identity.DisplayName); err != nil {
		return err
	}
	if d.cache != nil {
		if err := d.cache.InvalidateUser(ctx, identity.ID); err != nil {
			d.log.WithContext(ctx).Debugf("invalidate snapshot %s: %v", identity.ID, err)
		}
	}
	return nil
}

// Snapshots returns a snapshot for every id. Unknown users get a placeholder.
func (d *UserDirectory) Snapshots(ctx context.Context, ids []string) (map[string]user.Snapshot, error) {
	result := make(map[string]user.Snapshot, len(ids))
	ids = uniqueNonEmpty(ids)
	if len(ids) == 0 {
		return result, nil
	}

	if d.cache != nil {
		cached, err := d.cache.GetSnapshots(ctx, ids)
		if err != nil {
			d.log.WithContext(ctx).Warnf("snapshot cache read: %v", err)
		}
		for id, snap := range cached {
			result[id] = snap
		}
	}

	var missing []string
	for _, id := range ids {
		if _, ok := result[id]; !ok {
			missing = append(missing, id)
		}
	}
	if len(missing) == 0 {
		return result, nil
	}

	rows, err := d.users.GetUsersByIDs(ctx, missing)
	if err != nil {
		return nil, err
	}
	fresh := make([]user.Snapshot, 0, len(rows))
	for _, id := range missing {
		if u, ok := rows[id]; ok {
			snap := u.Snapshot()
			result[id] = snap
			fresh = append(fresh, snap)
			continue
		}
		result[id] = user.UnknownSnapshot(id)
	}

	if d.cache != nil && len(fresh) > 0 {
		if err := d.cache.SetSnapshots(ctx, fresh); err != nil {
			d.log.WithContext(ctx).Warnf("snapshot cache write: %v", err)
		}
	}
	return result, nil
}

// Exists reports whether id has a users row.
func (d *UserDirectory) Exists(ctx context.Context, id string) (bool, error) {
	_, err := d.users.GetUserByID(ctx, id)
	if errors.Is(err, kindred_errors.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Snapshot resolves a single user.
func (d *UserDirectory) Snapshot(ctx context.Context, id string) (user.Snapshot, error) {
	snaps, err := d.Snapshots(ctx, []string{id})
	if err != nil {
		return user.Snapshot{}, err
	}
	return snaps[id], nil
}

func uniqueNonEmpty(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
