// Package records keeps the historical relational log of users, messages and
// completed requests. Everything here is best-effort: the conversation never
// depends on a row being written.
package records

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// Repo persists records for one platform ("vk", "telegram").
type Repo struct {
	db       *sqlx.DB
	platform string
}

// New constructs a repository scoped to a platform.
func New(db *sqlx.DB, platform string) *Repo {
	return &Repo{db: db, platform: platform}
}

// EnsureUser upserts a platform user and returns the internal id.
func (r *Repo) EnsureUser(ctx context.Context, platformID int64) (int64, error) {
	const query = `
		INSERT INTO platform_user (platform, platform_id)
		VALUES ($1, $2)
		ON CONFLICT (platform, platform_id) DO UPDATE SET platform = EXCLUDED.platform
		RETURNING id`

	var id int64
	if err := r.db.GetContext(ctx, &id, query, r.platform, platformID); err != nil {
		return 0, fmt.Errorf("ensure user: %w", err)
	}
	return id, nil
}

// LogMessage stores one in- or outbound message line for a user.
func (r *Repo) LogMessage(ctx context.Context, platformID int64, outgoing bool, text string) error {
	userID, err := r.EnsureUser(ctx, platformID)
	if err != nil {
		return err
	}

	const query = `INSERT INTO message (user_id, outgoing, text) VALUES ($1, $2, $3)`
	if _, err := r.db.ExecContext(ctx, query, userID, outgoing, text); err != nil {
		return fmt.Errorf("log message: %w", err)
	}
	return nil
}

// SaveResult stores a completed request. Implements the engine's recorder contract.
func (r *Repo) SaveResult(ctx context.Context, platformID int64, screenshotPath, guardNumber, town, result string) error {
	userID, err := r.EnsureUser(ctx, platformID)
	if err != nil {
		return err
	}

	const query = `
		INSERT INTO user_request (user_id, image, guard_number, town, result)
		VALUES ($1, $2, $3, $4, $5)`
	if _, err := r.db.ExecContext(ctx, query, userID, screenshotPath, guardNumber, town, result); err != nil {
		return fmt.Errorf("save request: %w", err)
	}
	return nil
}
