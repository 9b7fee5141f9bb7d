package sink

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/ghalamif/AegisBridge/internal/domain"
	"github.com/ghalamif/AegisBridge/internal/ports"
)

const (
	resultColumns = 11
	// keeps every statement below the Postgres limit of 65535 bind parameters
	maxRowsPerStatement = 5000
)

// ServerNamer resolves server ids for human-readable row keys.
type ServerNamer interface {
	ServerName(id domain.ServerID) string
}

// TimescaleSink stores one row per link per cycle.
type TimescaleSink struct {
	db        *sql.DB
	tableName string
	names     ServerNamer
}

func NewTimescaleSink(db *sql.DB, table string, names ServerNamer) *TimescaleSink {
	return &TimescaleSink{db: db, tableName: table, names: names}
}

func (t *TimescaleSink) Name() string { return "timescaledb" }

type resultRow struct {
	report *domain.CycleReport
	index  int
	result domain.LinkResult
}

func (t *TimescaleSink) WriteBatch(reports []*domain.CycleReport) error {
	var rows []resultRow
	for _, r := range reports {
		if r == nil {
			continue
		}
		for i, res := range r.Results {
			rows = append(rows, resultRow{report: r, index: i, result: res})
		}
	}

	if len(rows) == 0 {
		return nil
	}

	// chunks commit together so a failed batch leaves no partial rows
	tx, err := t.db.Begin()
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	for start := 0; start < len(rows); start += maxRowsPerStatement {
		end := start + maxRowsPerStatement
		if end > len(rows) {
			end = len(rows)
		}
		if err := t.insert(tx, rows[start:end]); err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

func (t *TimescaleSink) insert(tx *sql.Tx, rows []resultRow) error {
	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(t.tableName)
	b.WriteString(" (run_id, cycle, link_index, ts, source, target, value, ok, error, elapsed_seconds, overrun) VALUES ")

	args := make([]any, 0, len(rows)*resultColumns)
	for i, row := range rows {
		if i > 0 {
			b.WriteString(",")
		}
		b.WriteString("(")
		for c := 1; c <= resultColumns; c++ {
			if c > 1 {
				b.WriteString(",")
			}
			fmt.Fprintf(&b, "$%d", len(args)+c)
		}
		b.WriteString(")")

		val, err := marshalValue(row.result.Value)
		if err != nil {
			return fmt.Errorf("marshal value: %w", err)
		}
		var errText sql.NullString
		if row.result.Err != nil {
			errText = sql.NullString{String: row.result.Err.Error(), Valid: true}
		}
		link := row.result.Link

		args = append(args,
			row.report.RunID,
			int64(row.report.CycleIndex),
			row.index,
			row.report.Started,
			tagKey(t.names, link.SourceServerID, link.SourceTag),
			tagKey(t.names, link.TargetServerID, link.TargetTag),
			val,
			row.result.Ok(),
			errText,
			row.report.ElapsedSeconds(),
			row.report.Overrun,
		)
	}

	b.WriteString(" ON CONFLICT (run_id, cycle, link_index) DO NOTHING")

	_, err := tx.Exec(b.String(), args...)
	return err
}

// marshalValue encodes v as JSON. NaN and Inf have no JSON form and are
// stored as their string representation.
func marshalValue(v any) ([]byte, error) {
	val, err := json.Marshal(v)
	var unsupported *json.UnsupportedValueError
	if errors.As(err, &unsupported) {
		return json.Marshal(fmt.Sprint(v))
	}
	return val, err
}

func tagKey(names ServerNamer, id domain.ServerID, tag string) string {
	name := fmt.Sprintf("server#%d", id)
	if names != nil {
		name = names.ServerName(id)
	}
	return name + "::" + tag
}

var _ ports.ReportSink = (*TimescaleSink)(nil)
