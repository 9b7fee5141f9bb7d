package sink

import (
	"database/sql"
	"errors"
	"math"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/ghalamif/AegisBridge/internal/domain"
)

type namer map[domain.ServerID]string

func (n namer) ServerName(id domain.ServerID) string { return n[id] }

func TestTimescaleSinkWriteBatch(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	sink := NewTimescaleSink(db, "exchange_results", namer{0: "A", 1: "B"})
	ts := time.Now()
	link := domain.ExchangeLink{SourceServerID: 0, SourceTag: "tagX", TargetServerID: 1, TargetTag: "tagY", ValueType: domain.TypeInt32}

	reports := []*domain.CycleReport{
		{
			RunID:      "run-1",
			CycleIndex: 7,
			Started:    ts,
			Elapsed:    250 * time.Millisecond,
			Results: []domain.LinkResult{
				{Link: link, Value: int32(42)},
				{Link: link, Kind: domain.KindRead, Err: errors.New("timeout")},
			},
		},
	}

	expectedQuery := regexp.QuoteMeta("INSERT INTO exchange_results (run_id, cycle, link_index, ts, source, target, value, ok, error, elapsed_seconds, overrun) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11),($12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22) ON CONFLICT (run_id, cycle, link_index) DO NOTHING")
	mock.ExpectBegin()
	mock.ExpectExec(expectedQuery).
		WithArgs(
			"run-1", int64(7), 0, ts, "A::tagX", "B::tagY", []byte("42"), true, sql.NullString{}, 0.25, false,
			"run-1", int64(7), 1, ts, "A::tagX", "B::tagY", []byte("null"), false, sql.NullString{String: "timeout", Valid: true}, 0.25, false,
		).
		WillReturnResult(sqlmock.NewResult(2, 2))
	mock.ExpectCommit()

	if err := sink.WriteBatch(reports); err != nil {
		t.Fatalf("write batch: %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestTimescaleSinkStoresNonFiniteValuesAsText(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	sink := NewTimescaleSink(db, "exchange_results", namer{0: "A", 1: "B"})
	ts := time.Now()
	link := domain.ExchangeLink{SourceServerID: 0, SourceTag: "temp", TargetServerID: 1, TargetTag: "temp", ValueType: domain.TypeDouble}

	reports := []*domain.CycleReport{
		{RunID: "run-1", CycleIndex: 1, Started: ts, Results: []domain.LinkResult{{Link: link, Value: int32(42)}}},
		{RunID: "run-1", CycleIndex: 2, Started: ts, Results: []domain.LinkResult{{Link: link, Value: math.NaN()}}},
		{RunID: "run-1", CycleIndex: 3, Started: ts, Results: []domain.LinkResult{{Link: link, Value: math.Inf(-1)}}},
	}

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO exchange_results").
		WithArgs(
			"run-1", int64(1), 0, ts, "A::temp", "B::temp", []byte("42"), true, sql.NullString{}, 0.0, false,
			"run-1", int64(2), 0, ts, "A::temp", "B::temp", []byte(`"NaN"`), true, sql.NullString{}, 0.0, false,
			"run-1", int64(3), 0, ts, "A::temp", "B::temp", []byte(`"-Inf"`), true, sql.NullString{}, 0.0, false,
		).
		WillReturnResult(sqlmock.NewResult(3, 3))
	mock.ExpectCommit()

	if err := sink.WriteBatch(reports); err != nil {
		t.Fatalf("write batch: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestTimescaleSinkRollsBackFailedChunk(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	results := make([]domain.LinkResult, maxRowsPerStatement+1)
	for i := range results {
		results[i] = domain.LinkResult{Value: i}
	}

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO exchange_results").WillReturnResult(sqlmock.NewResult(0, maxRowsPerStatement))
	mock.ExpectExec("INSERT INTO exchange_results").WillReturnError(errors.New("db down"))
	mock.ExpectRollback()

	sink := NewTimescaleSink(db, "exchange_results", nil)
	if err := sink.WriteBatch([]*domain.CycleReport{{Results: results}}); err == nil {
		t.Fatalf("expected exec error")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestTimescaleSinkWriteBatchNoReports(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	sink := NewTimescaleSink(db, "exchange_results", nil)
	if err := sink.WriteBatch(nil); err != nil {
		t.Fatalf("expected nil error for empty batch, got %v", err)
	}
	if err := sink.WriteBatch([]*domain.CycleReport{{CycleIndex: 1}}); err != nil {
		t.Fatalf("expected nil error for report without results, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestTimescaleSinkPropagatesExecError(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO exchange_results").WillReturnError(errors.New("db down"))
	mock.ExpectRollback()

	sink := NewTimescaleSink(db, "exchange_results", nil)
	err = sink.WriteBatch([]*domain.CycleReport{{Results: []domain.LinkResult{{Value: 1.5}}}})
	if err == nil {
		t.Fatalf("expected exec error")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestTimescaleSinkName(t *testing.T) {
	db, _, _ := sqlmock.New()
	defer db.Close()

	sink := NewTimescaleSink(db, "exchange_results", nil)
	if sink.Name() != "timescaledb" {
		t.Fatalf("expected sink name timescaledb, got %s", sink.Name())
	}
}
