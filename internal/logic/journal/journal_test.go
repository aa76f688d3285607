package journal

import (
	"context"
	"errors"
	"fmt"
	"jewl-sol/internal/logic/submitter"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedisStore(t *testing.T) (*RedisStatusStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewRedisStatusStore(rdb, time.Hour), mr
}

func outcome(sig string, status submitter.Status) submitter.Outcome {
	now := time.Now()
	return submitter.Outcome{
		Signature:    sig,
		Payer:        "payer",
		Status:       status,
		LastStep:     submitter.StepConfirming,
		ComputeLimit: 200_000,
		ComputePrice: 10,
		Broadcasts:   2,
		Slot:         123,
		StartedAt:    now.Add(-time.Second),
		FinishedAt:   now,
	}
}

func TestRedisStatusStore(t *testing.T) {
	store, mr := newRedisStore(t)
	ctx := context.Background()

	_, ok, err := store.GetStatus(ctx, "sig1")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, store.MarkStatus(ctx, "sig1", submitter.StatusConfirmed))
	status, ok, err := store.GetStatus(ctx, "sig1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, submitter.StatusConfirmed, status)
	assert.Equal(t, time.Hour, mr.TTL("journal:tx:sig1"))

	mr.FastForward(2 * time.Hour)
	_, ok, err = store.GetStatus(ctx, "sig1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestBatchUpsertChunksAndDedupes(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	store := NewDBStore(db)

	records := make([]*Record, 0, 1002)
	for i := 0; i < 1000; i++ {
		records = append(records, recordFromOutcome(outcome(fmt.Sprintf("sig%d", i), submitter.StatusConfirmed)))
	}
	// 第二批中同一签名出现两次，只写一行
	records = append(records,
		recordFromOutcome(outcome("dup", submitter.StatusFailed)),
		recordFromOutcome(outcome("dup", submitter.StatusConfirmed)),
	)

	mock.ExpectExec("INSERT INTO submission_journal").WillReturnResult(sqlmock.NewResult(0, 1000))
	mock.ExpectExec("INSERT INTO submission_journal").
		WithArgs("dup", "payer", "confirmed", "confirming", "", int64(200_000), int64(10), int64(2), int64(123), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, store.BatchUpsert(context.Background(), records))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDBGetStatus(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	store := NewDBStore(db)

	mock.ExpectQuery("SELECT status FROM submission_journal").WithArgs("sig1").
		WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow("expired"))
	mock.ExpectQuery("SELECT status FROM submission_journal").WithArgs("sig2").
		WillReturnRows(sqlmock.NewRows([]string{"status"}))

	status, ok, err := store.GetStatus(context.Background(), "sig1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, submitter.StatusExpired, status)

	_, ok, err = store.GetStatus(context.Background(), "sig2")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteBefore(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("DELETE FROM submission_journal").WillReturnResult(sqlmock.NewResult(0, 1000))
	mock.ExpectExec("DELETE FROM submission_journal").WillReturnResult(sqlmock.NewResult(0, 3))
	mock.ExpectExec("DELETE FROM submission_journal").WillReturnResult(sqlmock.NewResult(0, 0))

	n, err := NewDBStore(db).DeleteBefore(context.Background(), time.Now())
	require.NoError(t, err)
	assert.Equal(t, int64(1003), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestJournalRecordAndFlush(t *testing.T) {
	redisStore, _ := newRedisStore(t)
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	j := NewJournal(redisStore, NewDBStore(db), time.Minute)
	ctx := context.Background()

	require.NoError(t, j.Record(ctx, outcome("sig1", submitter.StatusConfirmed)))
	require.NoError(t, j.Record(ctx, outcome("", submitter.StatusRejected)))
	assert.Equal(t, 1, j.buffer.Len())

	status, ok, err := j.Status(ctx, "sig1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, submitter.StatusConfirmed, status)

	// 写库失败的记录保留到下一轮
	mock.ExpectExec("INSERT INTO submission_journal").WillReturnError(errors.New("connection reset"))
	assert.Error(t, j.Flush(ctx))
	assert.Equal(t, 1, j.buffer.Len())

	mock.ExpectExec("INSERT INTO submission_journal").WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, j.Flush(ctx))
	assert.Equal(t, 0, j.buffer.Len())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestJournalStatusFallsBackToDB(t *testing.T) {
	redisStore, _ := newRedisStore(t)
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	j := NewJournal(redisStore, NewDBStore(db), time.Minute)
	mock.ExpectQuery("SELECT status FROM submission_journal").WithArgs("old").
		WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow("failed"))

	status, ok, err := j.Status(context.Background(), "old")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, submitter.StatusFailed, status)

	// 回填后不再查库
	status, ok, err = j.Status(context.Background(), "old")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, submitter.StatusFailed, status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestJournalStopFlushes(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	j := NewJournal(nil, NewDBStore(db), time.Hour)
	done := make(chan struct{})
	go func() {
		j.Start()
		close(done)
	}()

	require.NoError(t, j.Record(context.Background(), outcome("sig1", submitter.StatusExpired)))
	mock.ExpectExec("INSERT INTO submission_journal").WillReturnResult(sqlmock.NewResult(0, 1))
	j.Stop()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Start did not return after Stop")
	}
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestJournalStopWaitsForInflightFlush(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	j := NewJournal(nil, NewDBStore(db), 20*time.Millisecond)
	mock.ExpectExec("INSERT INTO submission_journal").
		WillDelayFor(300 * time.Millisecond).
		WillReturnResult(sqlmock.NewResult(0, 1))

	go j.Start()
	require.Eventually(t, j.started.Load, time.Second, time.Millisecond)

	require.NoError(t, j.Record(context.Background(), outcome("sig1", submitter.StatusConfirmed)))
	// 等定时 flush 取走记录并进入慢写入
	require.Eventually(t, func() bool { return j.buffer.Len() == 0 }, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)

	begin := time.Now()
	j.Stop()
	assert.GreaterOrEqual(t, time.Since(begin), 100*time.Millisecond)
	assert.Equal(t, 0, j.buffer.Len())
	assert.NoError(t, mock.ExpectationsWereMet())
}
