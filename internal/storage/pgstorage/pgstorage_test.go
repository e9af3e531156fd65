package pgstorage

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantloop/tradecore/internal/core/model"
)

func sampleDecision() model.TradeDecision {
	return model.TradeDecision{
		EnsembleDecision: model.EnsembleDecision{
			Action:     model.ActionBuy,
			Confidence: 0.82,
		},
		DecisionID: "dec-1",
		Instrument: "BTC/USDT",
	}
}

func sampleOutcome() model.TradeOutcome {
	return model.TradeOutcome{
		DecisionID:         "dec-1",
		Instrument:         "BTC/USDT",
		Side:               model.SideLong,
		EntryPrice:         100,
		ExitPrice:          110,
		ExitTimestamp:      time.Now(),
		RealizedPnL:        10,
		RealizedPnLPct:     0.10,
		AIProvider:         "trend-agent",
		DecisionConfidence: 0.82,
		ExitReason:         model.ExitTakeProfit,
	}
}

func TestSinkPersist(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	sink := New(mock, nil)
	decision := sampleDecision()

	mock.ExpectExec("INSERT INTO trade_decisions").
		WithArgs(decision.DecisionID, decision.Instrument, pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, sink.Persist(context.Background(), decision))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSinkAppendWithoutSemantic(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	sink := New(mock, nil) // nil semantic: recordKnowledge must not run
	outcome := sampleOutcome()

	mock.ExpectExec("INSERT INTO trade_outcomes").
		WithArgs(outcome.DecisionID, outcome.Instrument, outcome.ExitTimestamp, pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, sink.Append(context.Background(), outcome))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSinkList(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	sink := New(mock, nil)
	outcome := sampleOutcome()
	payload, err := json.Marshal(outcome)
	require.NoError(t, err)

	rows := pgxmock.NewRows([]string{"payload"}).
		AddRow(payload).
		AddRow([]byte(`not-json`)) // malformed row must be skipped, not fatal

	mock.ExpectQuery("SELECT payload FROM trade_outcomes").WillReturnRows(rows)

	out, err := sink.List(context.Background())
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, outcome.DecisionID, out[0].DecisionID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSinkSaveAndLoadRollup(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	sink := New(mock, nil)
	data := []byte(`{"providers":{"trend-agent":0.6}}`)

	mock.ExpectExec("INSERT INTO storage_rollups").
		WithArgs("provider_performance", data).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	require.NoError(t, sink.SaveRollup(context.Background(), "provider_performance", data))

	rows := pgxmock.NewRows([]string{"data"}).AddRow(data)
	mock.ExpectQuery("SELECT data FROM storage_rollups").
		WithArgs("provider_performance").
		WillReturnRows(rows)

	loaded, found, err := sink.LoadRollup(context.Background(), "provider_performance")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, data, loaded)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSinkLoadRollupNotFound(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	sink := New(mock, nil)

	mock.ExpectQuery("SELECT data FROM storage_rollups").
		WithArgs("missing").
		WillReturnError(pgx.ErrNoRows)

	_, found, err := sink.LoadRollup(context.Background(), "missing")
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSinkAtomicRename(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	sink := New(mock, nil)

	mock.ExpectExec("UPDATE storage_rollups SET name").
		WithArgs("provider_performance.tmp", "provider_performance").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	require.NoError(t, sink.AtomicRename("provider_performance.tmp", "provider_performance"))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSinkAtomicRenameNoStagedRow(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	sink := New(mock, nil)

	mock.ExpectExec("UPDATE storage_rollups SET name").
		WithArgs("missing.tmp", "dst").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err = sink.AtomicRename("missing.tmp", "dst")
	assert.Error(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}
