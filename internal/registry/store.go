// Package registry persists device records and answers tag-targeting queries.
package registry

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"

	"push-dispatch/internal/common/errors"
	"push-dispatch/internal/common/logger"
	"push-dispatch/internal/models"
)

// Store is the Postgres-backed device registry. Registration is an upsert
// keyed on token, so a token can never appear twice.
type Store struct {
	db     *sql.DB
	logger logger.Logger
}

func NewStore(db *sql.DB, log logger.Logger) *Store {
	return &Store{
		db:     db,
		logger: log.WithFields(map[string]interface{}{"component": "registry"}),
	}
}

// FindByMatchingTags returns devices that carry at least one of the given
// tags. Result order is unspecified.
func (s *Store) FindByMatchingTags(ctx context.Context, tags []string) ([]models.DeviceRecord, error) {
	if len(tags) == 0 {
		return nil, errors.NewValidationError("tags must be a non-empty list")
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT token, platform, tags, locale, last_active_at FROM devices WHERE tags && $1`,
		pq.Array(tags),
	)
	if err != nil {
		return nil, errors.NewQueryExecutionFailedError("findByMatchingTags", err)
	}
	defer rows.Close()

	var records []models.DeviceRecord
	for rows.Next() {
		var rec models.DeviceRecord
		if err := rows.Scan(&rec.Token, &rec.Platform, pq.Array(&rec.Tags), &rec.Locale, &rec.LastActiveAt); err != nil {
			return nil, errors.NewQueryExecutionFailedError("findByMatchingTags", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewQueryExecutionFailedError("findByMatchingTags", err)
	}

	return records, nil
}

// UpsertByToken registers a device or replaces its attributes when the token
// already exists.
func (s *Store) UpsertByToken(ctx context.Context, rec models.DeviceRecord) error {
	if rec.Token == "" {
		return errors.NewValidationError("token must not be empty")
	}
	if !models.ValidPlatform(rec.Platform) {
		return errors.NewValidationError(fmt.Sprintf("invalid platform: %q", rec.Platform))
	}
	if rec.Locale == "" {
		rec.Locale = models.DefaultLocale
	}
	if rec.LastActiveAt.IsZero() {
		rec.LastActiveAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO devices (token, platform, tags, locale, last_active_at)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (token) DO UPDATE
		 SET platform = EXCLUDED.platform,
		     tags = EXCLUDED.tags,
		     locale = EXCLUDED.locale,
		     last_active_at = EXCLUDED.last_active_at`,
		rec.Token, rec.Platform, pq.Array(rec.Tags), rec.Locale, rec.LastActiveAt,
	)
	if err != nil {
		return errors.NewQueryExecutionFailedError("upsertByToken", err)
	}
	return nil
}

// PatchTags adds and removes tags on one device in a single statement.
// Removals win over additions when a tag appears in both lists.
func (s *Store) PatchTags(ctx context.Context, token string, add, remove []string) error {
	if token == "" {
		return errors.NewValidationError("token must not be empty")
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE devices
		 SET tags = (
		     SELECT COALESCE(array_agg(DISTINCT t), '{}')
		     FROM unnest(tags || $2::text[]) AS t
		     WHERE t <> ALL($3::text[])
		 ),
		 last_active_at = NOW()
		 WHERE token = $1`,
		token, pq.Array(add), pq.Array(remove),
	)
	if err != nil {
		return errors.NewQueryExecutionFailedError("patchTags", err)
	}

	affected, err := res.RowsAffected()
	if err == nil && affected == 0 {
		return errors.NewValidationError(fmt.Sprintf("unknown token: %q", token))
	}
	return nil
}

// RemoveByTokens deletes the given tokens from the registry. Removal is
// monotonic: a removed token reappears only through re-registration.
func (s *Store) RemoveByTokens(ctx context.Context, tokens []string) error {
	if len(tokens) == 0 {
		return nil
	}

	res, err := s.db.ExecContext(ctx,
		`DELETE FROM devices WHERE token = ANY($1)`,
		pq.Array(tokens),
	)
	if err != nil {
		return errors.NewQueryExecutionFailedError("removeByTokens", err)
	}

	if affected, err := res.RowsAffected(); err == nil {
		s.logger.Info("removed tokens", map[string]interface{}{
			"requested": len(tokens),
			"removed":   affected,
		})
	}
	return nil
}

// FindByTokenOrPrefix looks up a device by exact token, falling back to a
// prefix scan. Used by operator tooling, not by the dispatch path.
func (s *Store) FindByTokenOrPrefix(ctx context.Context, q string) ([]models.DeviceRecord, error) {
	if q == "" {
		return nil, errors.NewValidationError("token query must not be empty")
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT token, platform, tags, locale, last_active_at
		 FROM devices
		 WHERE token = $1 OR token LIKE $1 || '%'
		 LIMIT 50`,
		q,
	)
	if err != nil {
		return nil, errors.NewQueryExecutionFailedError("findByTokenOrPrefix", err)
	}
	defer rows.Close()

	var records []models.DeviceRecord
	for rows.Next() {
		var rec models.DeviceRecord
		if err := rows.Scan(&rec.Token, &rec.Platform, pq.Array(&rec.Tags), &rec.Locale, &rec.LastActiveAt); err != nil {
			return nil, errors.NewQueryExecutionFailedError("findByTokenOrPrefix", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}
