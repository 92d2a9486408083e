package storage

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/perpsight/perpsight/internal/learning"
	"github.com/perpsight/perpsight/internal/signal"
)

func testPostgresStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return NewPostgresStoreWithQuerier(mock), mock
}

func TestPostgresStoreNilPool(t *testing.T) {
	assert.Nil(t, NewPostgresStore(nil))
}

func TestPostgresEnsureSchema(t *testing.T) {
	store, mock := testPostgresStore(t)

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS feedback_journal").
		WillReturnResult(pgxmock.NewResult("CREATE", 0))

	require.NoError(t, store.EnsureSchema(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresAppendFeedback(t *testing.T) {
	store, mock := testPostgresStore(t)
	now := time.Now()
	record := learning.FeedbackRecord{
		RefID:         "sig-1",
		Rating:        1,
		PatternNames:  []string{"cvd_divergence"},
		ResponseTimeS: 2.5,
		ReceivedAt:    now,
	}

	mock.ExpectExec("INSERT INTO feedback_journal").
		WithArgs("sig-1", 1, []string{"cvd_divergence"}, 2.5, now).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, store.AppendFeedback(context.Background(), record))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresAppendFeedbackDuplicateIsNoOp(t *testing.T) {
	store, mock := testPostgresStore(t)
	record := feedbackRecord("sig-1", 1, time.Now())

	// ON CONFLICT DO NOTHING reports zero rows; that is still success.
	mock.ExpectExec("INSERT INTO feedback_journal").
		WithArgs(record.RefID, record.Rating, record.PatternNames, record.ResponseTimeS, record.ReceivedAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 0))

	require.NoError(t, store.AppendFeedback(context.Background(), record))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresFeedbackByRef(t *testing.T) {
	store, mock := testPostgresStore(t)
	now := time.Now()

	rows := pgxmock.NewRows([]string{"ref_id", "rating", "pattern_names", "response_time_s", "received_at"}).
		AddRow("sig-1", 1, []string{"oi_buildup"}, 3.0, now)
	mock.ExpectQuery("SELECT (.+) FROM feedback_journal").
		WithArgs("sig-1").
		WillReturnRows(rows)

	got, err := store.FeedbackByRef(context.Background(), "sig-1")
	require.NoError(t, err)
	assert.Equal(t, "sig-1", got.RefID)
	assert.Equal(t, []string{"oi_buildup"}, got.PatternNames)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresFeedbackByRefNotFound(t *testing.T) {
	store, mock := testPostgresStore(t)

	mock.ExpectQuery("SELECT (.+) FROM feedback_journal").
		WithArgs("missing").
		WillReturnError(pgx.ErrNoRows)

	_, err := store.FeedbackByRef(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresFeedbackSince(t *testing.T) {
	store, mock := testPostgresStore(t)
	since := time.Now().Add(-7 * 24 * time.Hour)

	rows := pgxmock.NewRows([]string{"ref_id", "rating", "pattern_names", "response_time_s", "received_at"}).
		AddRow("a", 1, []string{"cvd_divergence"}, 1.0, since.Add(time.Hour)).
		AddRow("b", -1, []string{"oi_buildup"}, 2.0, since.Add(2*time.Hour))
	mock.ExpectQuery("SELECT (.+) FROM feedback_journal").
		WithArgs(since).
		WillReturnRows(rows)

	got, err := store.FeedbackSince(context.Background(), since)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "a", got[0].RefID)
	assert.Equal(t, -1, got[1].Rating)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresUpsertPattern(t *testing.T) {
	store, mock := testPostgresStore(t)
	now := time.Now()
	weight := learning.PatternWeight{
		Name:          "cvd_divergence",
		BaseWeight:    1.0,
		CurrentWeight: 1.15,
		MinConfidence: 0.70,
		History:       []learning.Adjustment{{Delta: 0.15, AppliedAt: now}},
		UpdatedAt:     now,
	}

	mock.ExpectExec("INSERT INTO pattern_weights").
		WithArgs("cvd_divergence", 1.0, 1.15, 0.70, pgxmock.AnyArg(), now).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, store.UpsertPattern(context.Background(), weight))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresPatternRoundTrip(t *testing.T) {
	store, mock := testPostgresStore(t)
	now := time.Now()
	history, err := json.Marshal([]learning.Adjustment{{Delta: -0.1, FeedbackCount: 4, AppliedAt: now}})
	require.NoError(t, err)

	rows := pgxmock.NewRows([]string{"pattern_name", "base_weight", "current_weight", "min_confidence", "history", "updated_at"}).
		AddRow("oi_buildup", 1.0, 0.9, 0.65, history, now)
	mock.ExpectQuery("SELECT (.+) FROM pattern_weights").
		WithArgs("oi_buildup").
		WillReturnRows(rows)

	got, err := store.Pattern(context.Background(), "oi_buildup")
	require.NoError(t, err)
	assert.Equal(t, 0.9, got.CurrentWeight)
	require.Len(t, got.History, 1)
	assert.Equal(t, -0.1, got.History[0].Delta)
	assert.Equal(t, 4, got.History[0].FeedbackCount)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresPatternNotFound(t *testing.T) {
	store, mock := testPostgresStore(t)

	mock.ExpectQuery("SELECT (.+) FROM pattern_weights").
		WithArgs("missing").
		WillReturnError(pgx.ErrNoRows)

	_, err := store.Pattern(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresUpsertSignal(t *testing.T) {
	store, mock := testPostgresStore(t)

	mock.ExpectExec("INSERT INTO signal_quality").
		WithArgs("sig-1", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, store.UpsertSignal(context.Background(), &signal.Signal{SignalID: "sig-1", Pair: "BTC"}))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRateSignal(t *testing.T) {
	store, mock := testPostgresStore(t)

	mock.ExpectExec("UPDATE signal_quality").
		WithArgs("sig-1", 1).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	require.NoError(t, store.RateSignal(context.Background(), "sig-1", 1))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRateSignalNotFound(t *testing.T) {
	store, mock := testPostgresStore(t)

	mock.ExpectExec("UPDATE signal_quality").
		WithArgs("missing", -1).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	assert.ErrorIs(t, store.RateSignal(context.Background(), "missing", -1), ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRecentSignals(t *testing.T) {
	store, mock := testPostgresStore(t)
	now := time.Now()
	payload, err := json.Marshal(&signal.Signal{SignalID: "sig-1", Pair: "BTC", Confidence: 72})
	require.NoError(t, err)
	rating := 1

	rows := pgxmock.NewRows([]string{"signal_id", "payload", "final_rating", "rated_at", "created_at"}).
		AddRow("sig-1", payload, &rating, &now, now).
		AddRow("sig-0", payload, nil, nil, now.Add(-time.Hour))
	mock.ExpectQuery("SELECT (.+) FROM signal_quality").
		WithArgs(25).
		WillReturnRows(rows)

	got, err := store.RecentSignals(context.Background(), 25)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "BTC", got[0].Signal.Pair)
	require.NotNil(t, got[0].FinalRating)
	assert.Equal(t, 1, *got[0].FinalRating)
	assert.Nil(t, got[1].FinalRating)
	assert.NoError(t, mock.ExpectationsWereMet())
}
