package ml

import (
	"context"
	"fmt"
	"sort"
	"time"

	"logwarden/core"

	"go.uber.org/zap"
)

// Numeric feature columns, always first and in this order.
const (
	ColumnHourOfDay = "hour_of_day"
	ColumnDayOfWeek = "day_of_week"
)

// EventSource provides the events the pipeline learns from.
type EventSource interface {
	ListEvents(ctx context.Context) ([]core.Event, error)
}

// Matrix is a dense, column-named feature table.
type Matrix struct {
	Columns []string
	Rows    [][]float64
}

// Empty reports whether the matrix has no rows.
func (m *Matrix) Empty() bool {
	return m == nil || len(m.Rows) == 0
}

// RowRef identifies the event behind a matrix row.
type RowRef struct {
	EventID   int64
	ActorID   string
	Action    string
	Resource  string
	Timestamp time.Time
}

// FeatureExtractor turns stored events into a feature matrix.
type FeatureExtractor struct {
	events EventSource
	logger *zap.SugaredLogger
}

// NewFeatureExtractor creates a feature extractor reading from events.
func NewFeatureExtractor(events EventSource, logger *zap.SugaredLogger) *FeatureExtractor {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &FeatureExtractor{events: events, logger: logger}
}

// FetchEvents reads every event, oldest first.
func (fe *FeatureExtractor) FetchEvents(ctx context.Context) ([]core.Event, error) {
	events, err := fe.events.ListEvents(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch events: %w", err)
	}
	fe.logger.Debugw("Fetched events for feature extraction", "count", len(events))
	return events, nil
}

// ExtractFeatures derives hour_of_day (0-23) and day_of_week (Monday=0) from
// each timestamp and one-hot encodes actor_id, action, resource and status
// into {field}_{value} columns. Only values present in this batch produce
// columns; they are sorted per field so the layout is deterministic. The
// returned refs are parallel to the matrix rows.
func ExtractFeatures(events []core.Event) (*Matrix, []RowRef) {
	m := &Matrix{}
	if len(events) == 0 {
		return m, nil
	}

	m.Columns = []string{ColumnHourOfDay, ColumnDayOfWeek}
	for _, field := range core.CategoricalFields {
		seen := make(map[string]struct{})
		for i := range events {
			v, _ := events[i].FieldValue(field)
			seen[v] = struct{}{}
		}
		values := make([]string, 0, len(seen))
		for v := range seen {
			values = append(values, v)
		}
		sort.Strings(values)
		for _, v := range values {
			m.Columns = append(m.Columns, oneHotColumn(field, v))
		}
	}
	index := columnIndex(m.Columns)

	m.Rows = make([][]float64, len(events))
	refs := make([]RowRef, len(events))
	for i := range events {
		e := &events[i]
		row := make([]float64, len(m.Columns))
		row[0] = float64(e.Timestamp.Hour())
		row[1] = float64(mondayFirstWeekday(e.Timestamp))
		for _, field := range core.CategoricalFields {
			v, _ := e.FieldValue(field)
			row[index[oneHotColumn(field, v)]] = 1
		}
		m.Rows[i] = row
		refs[i] = RowRef{
			EventID:   e.ID,
			ActorID:   e.ActorID,
			Action:    e.Action,
			Resource:  e.Resource,
			Timestamp: e.Timestamp,
		}
	}
	return m, refs
}

// Reindex returns m laid out in columns order. Columns missing from m are
// filled with zeros; columns of m not in columns are dropped.
func Reindex(m *Matrix, columns []string) *Matrix {
	out := &Matrix{Columns: append([]string(nil), columns...)}
	if m == nil {
		return out
	}
	src := columnIndex(m.Columns)
	out.Rows = make([][]float64, len(m.Rows))
	for i, row := range m.Rows {
		dst := make([]float64, len(columns))
		for j, col := range columns {
			if k, ok := src[col]; ok {
				dst[j] = row[k]
			}
		}
		out.Rows[i] = dst
	}
	return out
}

func oneHotColumn(field core.Field, value string) string {
	return string(field) + "_" + value
}

func columnIndex(columns []string) map[string]int {
	index := make(map[string]int, len(columns))
	for i, c := range columns {
		index[c] = i
	}
	return index
}

func mondayFirstWeekday(t time.Time) int {
	return (int(t.Weekday()) + 6) % 7
}
