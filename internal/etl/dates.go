package etl

import (
	"context"
	"time"

	"labhub/internal/database"
	"labhub/internal/observability"
	"labhub/internal/warehouse"
)

// DateKey returns the YYYYMMDD key of t's calendar day
func DateKey(t time.Time) int64 {
	return int64(t.Year()*10000 + int(t.Month())*100 + t.Day())
}

func calendarDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// GenerateDates returns one row per calendar day from start to end,
// inclusive. A reversed range is swapped.
func GenerateDates(start, end time.Time) []DateRow {
	start, end = calendarDay(start), calendarDay(end)
	if end.Before(start) {
		start, end = end, start
	}

	var rows []DateRow
	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		rows = append(rows, DateRow{
			DateKey:   DateKey(d),
			FullDate:  d,
			Day:       d.Day(),
			Month:     int(d.Month()),
			MonthName: d.Month().String(),
			Quarter:   (int(d.Month())-1)/3 + 1,
			Year:      d.Year(),
			DayOfWeek: d.Weekday().String(),
		})
	}
	return rows
}

// DateLoader generates Dim_Date from the event date range of the source
type DateLoader struct {
	src          Source
	upserter     *warehouse.Upserter
	defaultStart time.Time
	defaultEnd   time.Time
	logger       *observability.Logger
}

// NewDateLoader creates the date loader. The default range is used when the
// source has no events or the range query fails.
func NewDateLoader(src Source, upserter *warehouse.Upserter, defaultStart, defaultEnd time.Time, logger *observability.Logger) *DateLoader {
	return &DateLoader{
		src:          src,
		upserter:     upserter,
		defaultStart: defaultStart,
		defaultEnd:   defaultEnd,
		logger:       loaderLogger(logger, warehouse.TableDate),
	}
}

func (l *DateLoader) Table() string { return warehouse.TableDate }

// Extract returns the event date range, falling back to the default range
func (l *DateLoader) Extract(ctx context.Context) (time.Time, time.Time) {
	r, err := l.src.DateRange(ctx)
	if err != nil {
		l.logger.WithError(err).WarnWithFields("Date range query failed, using default range", l.defaultFields())
		return l.defaultStart, l.defaultEnd
	}
	if !r.Min.Valid || !r.Max.Valid {
		l.logger.WarnWithFields("No events in source, using default date range", l.defaultFields())
		return l.defaultStart, l.defaultEnd
	}

	l.logger.InfoWithFields("Date range discovered", map[string]interface{}{
		"min": r.Min.Time.Format("2006-01-02"),
		"max": r.Max.Time.Format("2006-01-02"),
	})
	return r.Min.Time, r.Max.Time
}

func (l *DateLoader) defaultFields() map[string]interface{} {
	return map[string]interface{}{
		"start": l.defaultStart.Format("2006-01-02"),
		"end":   l.defaultEnd.Format("2006-01-02"),
	}
}

func (l *DateLoader) Transform(start, end time.Time) []DateRow {
	return GenerateDates(start, end)
}

func (l *DateLoader) Upsert(ctx context.Context, tx database.Executor, rows []DateRow) (warehouse.UpsertResult, error) {
	return l.upserter.Upsert(ctx, tx, DateSpec, toValues(rows))
}

func (l *DateLoader) Run(ctx context.Context, tx database.Executor) (warehouse.UpsertResult, error) {
	return l.Upsert(ctx, tx, l.Transform(l.Extract(ctx)))
}
