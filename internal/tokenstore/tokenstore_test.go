package tokenstore

import (
	"context"
	stderrors "errors"
	"regexp"
	"testing"
	"time"

	"apns-workers/internal/apns/feedback"
	apperrors "apns-workers/internal/common/errors"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redismock/v9"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return mr, client
}

func TestRedisCache_MarkAndCheck(t *testing.T) {
	mr, client := setupRedis(t)
	cache := NewRedisCache(client, time.Hour)
	ctx := context.Background()

	invalid, err := cache.IsInvalid(ctx, "aabb")
	require.NoError(t, err)
	assert.False(t, invalid)

	at := time.Unix(1700000000, 0)
	require.NoError(t, cache.MarkInvalid(ctx, "aabb", at))

	invalid, err = cache.IsInvalid(ctx, "aabb")
	require.NoError(t, err)
	assert.True(t, invalid)

	stored, err := mr.Get("apns:invalid:aabb")
	require.NoError(t, err)
	assert.Equal(t, "1700000000", stored)
	assert.Equal(t, time.Hour, mr.TTL("apns:invalid:aabb"))

	mr.FastForward(2 * time.Hour)
	invalid, err = cache.IsInvalid(ctx, "aabb")
	require.NoError(t, err)
	assert.False(t, invalid, "entry expires after the ttl")
}

func TestRedisCache_Errors(t *testing.T) {
	client, mock := redismock.NewClientMock()
	cache := NewRedisCache(client, time.Minute)
	boom := stderrors.New("connection refused")

	mock.ExpectExists("apns:invalid:aabb").SetErr(boom)
	_, err := cache.IsInvalid(context.Background(), "aabb")
	assert.True(t, stderrors.Is(err, apperrors.ErrTokenStoreFailed))
	assert.True(t, stderrors.Is(err, boom))

	mock.ExpectSet("apns:invalid:aabb", "60", time.Minute).SetErr(boom)
	err = cache.MarkInvalid(context.Background(), "aabb", time.Unix(60, 0))
	assert.True(t, stderrors.Is(err, apperrors.ErrTokenStoreFailed))

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_DeactivateBatch(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	records := []feedback.Record{
		{Timestamp: 1700000000, Token: "aabb"},
		{Timestamp: 1700000001, Token: "ccdd"},
	}

	mock.ExpectBegin()
	prep := mock.ExpectPrepare(regexp.QuoteMeta("UPDATE device_tokens"))
	prep.ExpectExec().
		WithArgs("aabb", records[0].Time()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	prep.ExpectExec().
		WithArgs("ccdd", records[1].Time()).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	store := NewPostgresStore(db)
	n, err := store.DeactivateBatch(context.Background(), records)
	require.NoError(t, err)
	assert.Equal(t, 1, n, "re-registered token is left active")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_DeactivateBatchRollsBack(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	prep := mock.ExpectPrepare(regexp.QuoteMeta("UPDATE device_tokens"))
	prep.ExpectExec().WillReturnError(stderrors.New("deadlock detected"))
	mock.ExpectRollback()

	store := NewPostgresStore(db)
	_, err = store.DeactivateBatch(context.Background(), []feedback.Record{{Timestamp: 1, Token: "aabb"}})
	assert.True(t, stderrors.Is(err, apperrors.ErrTokenStoreFailed))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_DeactivateBatchEmpty(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	n, err := NewPostgresStore(db).DeactivateBatch(context.Background(), nil)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_IsActive(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	store := NewPostgresStore(db)
	query := regexp.QuoteMeta(isActiveQuery)

	mock.ExpectQuery(query).WithArgs("aabb").
		WillReturnRows(sqlmock.NewRows([]string{"active"}).AddRow(false))
	active, err := store.IsActive(context.Background(), "aabb")
	require.NoError(t, err)
	assert.False(t, active)

	mock.ExpectQuery(query).WithArgs("unknown").WillReturnRows(sqlmock.NewRows([]string{"active"}))
	active, err = store.IsActive(context.Background(), "unknown")
	require.NoError(t, err)
	assert.True(t, active)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_EnsureSchema(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS device_tokens")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	require.NoError(t, NewPostgresStore(db).EnsureSchema(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}
