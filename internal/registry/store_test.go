package registry

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"push-dispatch/internal/common/errors"
	"push-dispatch/internal/common/logger"
	"push-dispatch/internal/models"
)

func newTestStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewStore(db, logger.NewTestLogger(t)), mock
}

func deviceRows(records ...models.DeviceRecord) *sqlmock.Rows {
	rows := sqlmock.NewRows([]string{"token", "platform", "tags", "locale", "last_active_at"})
	for _, rec := range records {
		rows.AddRow(rec.Token, rec.Platform, pq.Array(rec.Tags), rec.Locale, rec.LastActiveAt)
	}
	return rows
}

func TestFindByMatchingTags(t *testing.T) {
	now := time.Now().UTC()

	t.Run("matches any of the given tags", func(t *testing.T) {
		store, mock := newTestStore(t)

		mock.ExpectQuery(`SELECT token, platform, tags, locale, last_active_at FROM devices WHERE tags && \$1`).
			WithArgs(pq.Array([]string{"sports", "news"})).
			WillReturnRows(deviceRows(
				models.DeviceRecord{Token: "tok-1", Platform: "ios", Tags: []string{"sports"}, Locale: "en", LastActiveAt: now},
				models.DeviceRecord{Token: "tok-2", Platform: "android", Tags: []string{"news"}, Locale: "es", LastActiveAt: now},
			))

		records, err := store.FindByMatchingTags(context.Background(), []string{"sports", "news"})
		require.NoError(t, err)
		assert.Len(t, records, 2)
		assert.Equal(t, "tok-1", records[0].Token)
		assert.Equal(t, "es", records[1].Locale)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("empty tags is a validation error", func(t *testing.T) {
		store, _ := newTestStore(t)

		_, err := store.FindByMatchingTags(context.Background(), nil)
		require.Error(t, err)
		assert.Equal(t, errors.ErrCodeValidationFailed, errors.CodeOf(err))
	})

	t.Run("no matches returns empty result, not an error", func(t *testing.T) {
		store, mock := newTestStore(t)

		mock.ExpectQuery(`SELECT token, platform, tags, locale, last_active_at FROM devices WHERE tags && \$1`).
			WithArgs(pq.Array([]string{"nobody"})).
			WillReturnRows(deviceRows())

		records, err := store.FindByMatchingTags(context.Background(), []string{"nobody"})
		require.NoError(t, err)
		assert.Empty(t, records)
	})
}

func TestUpsertByToken(t *testing.T) {
	t.Run("inserts with conflict update on token", func(t *testing.T) {
		store, mock := newTestStore(t)

		mock.ExpectExec(`INSERT INTO devices .+ ON CONFLICT \(token\) DO UPDATE`).
			WithArgs("abc123", "ios", pq.Array([]string{"x"}), "en", sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(0, 1))

		err := store.UpsertByToken(context.Background(), models.DeviceRecord{
			Token:    "abc123",
			Platform: "ios",
			Tags:     []string{"x"},
		})
		require.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("defaults empty locale to en", func(t *testing.T) {
		store, mock := newTestStore(t)

		mock.ExpectExec(`INSERT INTO devices`).
			WithArgs("abc123", "android", pq.Array([]string{"a"}), "en", sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(0, 1))

		err := store.UpsertByToken(context.Background(), models.DeviceRecord{
			Token:    "abc123",
			Platform: "android",
			Tags:     []string{"a"},
			Locale:   "",
		})
		require.NoError(t, err)
	})

	t.Run("rejects unknown platform", func(t *testing.T) {
		store, _ := newTestStore(t)

		err := store.UpsertByToken(context.Background(), models.DeviceRecord{
			Token:    "abc123",
			Platform: "blackberry",
		})
		require.Error(t, err)
		assert.Equal(t, errors.ErrCodeValidationFailed, errors.CodeOf(err))
	})

	t.Run("rejects empty token", func(t *testing.T) {
		store, _ := newTestStore(t)

		err := store.UpsertByToken(context.Background(), models.DeviceRecord{Platform: "ios"})
		require.Error(t, err)
	})
}

func TestPatchTags(t *testing.T) {
	t.Run("adds and removes in one statement", func(t *testing.T) {
		store, mock := newTestStore(t)

		mock.ExpectExec(`UPDATE devices`).
			WithArgs("abc123", pq.Array([]string{"y"}), pq.Array([]string{"x"})).
			WillReturnResult(sqlmock.NewResult(0, 1))

		err := store.PatchTags(context.Background(), "abc123", []string{"y"}, []string{"x"})
		require.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("unknown token is a validation error", func(t *testing.T) {
		store, mock := newTestStore(t)

		mock.ExpectExec(`UPDATE devices`).
			WithArgs("nope", pq.Array([]string{"y"}), pq.Array([]string{})).
			WillReturnResult(sqlmock.NewResult(0, 0))

		err := store.PatchTags(context.Background(), "nope", []string{"y"}, []string{})
		require.Error(t, err)
		assert.Equal(t, errors.ErrCodeValidationFailed, errors.CodeOf(err))
	})
}

func TestRemoveByTokens(t *testing.T) {
	t.Run("deletes all given tokens", func(t *testing.T) {
		store, mock := newTestStore(t)

		mock.ExpectExec(`DELETE FROM devices WHERE token = ANY\(\$1\)`).
			WithArgs(pq.Array([]string{"t1", "t2"})).
			WillReturnResult(sqlmock.NewResult(0, 2))

		err := store.RemoveByTokens(context.Background(), []string{"t1", "t2"})
		require.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("no-op on empty input", func(t *testing.T) {
		store, mock := newTestStore(t)

		err := store.RemoveByTokens(context.Background(), nil)
		require.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestFindByTokenOrPrefix(t *testing.T) {
	store, mock := newTestStore(t)
	now := time.Now().UTC()

	mock.ExpectQuery(`WHERE token = \$1 OR token LIKE \$1 \|\| '%'`).
		WithArgs("abc").
		WillReturnRows(deviceRows(
			models.DeviceRecord{Token: "abc123", Platform: "ios", Tags: []string{"x"}, Locale: "en", LastActiveAt: now},
		))

	records, err := store.FindByTokenOrPrefix(context.Background(), "abc")
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "abc123", records[0].Token)
}
