package analytics

import (
	"fmt"
	"time"

	"github.com/radiusdt/vector-analytics/internal/models"
	"github.com/shopspring/decimal"
)

// Granularity is the width of a time bucket.
type Granularity string

const (
	Day     Granularity = "day"
	Week    Granularity = "week"
	Month   Granularity = "month"
	Quarter Granularity = "quarter"
	Year    Granularity = "year"
)

// ParseGranularity validates a granularity name.
func ParseGranularity(s string) (Granularity, error) {
	switch g := Granularity(s); g {
	case Day, Week, Month, Quarter, Year:
		return g, nil
	default:
		return "", fmt.Errorf("unknown granularity %q", s)
	}
}

// Range is a half-open instant range [From, To).
type Range struct {
	From time.Time
	To   time.Time
}

// Contains reports whether t is inside the range.
func (r Range) Contains(t time.Time) bool {
	return !t.Before(r.From) && t.Before(r.To)
}

// WindowRange converts an inclusive date window into the instant range
// covering its whole last day.
func WindowRange(w models.Window) Range {
	return Range{From: w.From, To: w.To.AddDate(0, 0, 1)}
}

// Date truncates t to midnight of its calendar day in loc.
func Date(t time.Time, loc *time.Location) time.Time {
	y, m, d := t.In(loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, loc)
}

// DaysBetween counts whole calendar days from a to b in loc.
func DaysBetween(a, b time.Time, loc *time.Location) int {
	ay, am, ad := a.In(loc).Date()
	by, bm, bd := b.In(loc).Date()
	da := time.Date(ay, am, ad, 0, 0, 0, 0, time.UTC)
	db := time.Date(by, bm, bd, 0, 0, 0, 0, time.UTC)
	return int((db.Unix() - da.Unix()) / 86400)
}

// Event is one value to fold into a bucket.
type Event struct {
	At     time.Time
	Amount decimal.Decimal
}

// OrderEvents returns one event per completed order.
func OrderEvents(orders []models.Order) []Event {
	events := make([]Event, 0, len(orders))
	for _, o := range orders {
		if o.Completed() {
			events = append(events, Event{At: o.PlacedAt, Amount: o.TotalAmount})
		}
	}
	return events
}

// Bucketer maps instants to calendar periods of one granularity.
type Bucketer struct {
	gran Granularity
	loc  *time.Location
}

// NewBucketer creates a bucketer; a nil loc means UTC.
func NewBucketer(g Granularity, loc *time.Location) (*Bucketer, error) {
	if _, err := ParseGranularity(string(g)); err != nil {
		return nil, err
	}
	if loc == nil {
		loc = time.UTC
	}
	return &Bucketer{gran: g, loc: loc}, nil
}

// Start returns the first instant of the period containing t.
func (b *Bucketer) Start(t time.Time) time.Time {
	y, m, d := t.In(b.loc).Date()
	switch b.gran {
	case Week:
		day := time.Date(y, m, d, 0, 0, 0, 0, b.loc)
		offset := (int(day.Weekday()) + 6) % 7 // Monday = 0
		return day.AddDate(0, 0, -offset)
	case Month:
		return time.Date(y, m, 1, 0, 0, 0, 0, b.loc)
	case Quarter:
		qm := time.Month((int(m)-1)/3*3 + 1)
		return time.Date(y, qm, 1, 0, 0, 0, 0, b.loc)
	case Year:
		return time.Date(y, time.January, 1, 0, 0, 0, 0, b.loc)
	default:
		return time.Date(y, m, d, 0, 0, 0, 0, b.loc)
	}
}

// Shift moves a period start by n periods.
func (b *Bucketer) Shift(start time.Time, n int) time.Time {
	switch b.gran {
	case Week:
		return start.AddDate(0, 0, 7*n)
	case Month:
		return start.AddDate(0, n, 0)
	case Quarter:
		return start.AddDate(0, 3*n, 0)
	case Year:
		return start.AddDate(n, 0, 0)
	default:
		return start.AddDate(0, 0, n)
	}
}

// Key renders the period label of a period start.
func (b *Bucketer) Key(start time.Time) string {
	t := start.In(b.loc)
	switch b.gran {
	case Week:
		y, w := t.ISOWeek()
		return fmt.Sprintf("%04d-W%02d", y, w)
	case Month:
		return t.Format("2006-01")
	case Quarter:
		return fmt.Sprintf("%04d-Q%d", t.Year(), (int(t.Month())-1)/3+1)
	case Year:
		return t.Format("2006")
	default:
		return t.Format("2006-01-02")
	}
}

// Trailing returns the inclusive date window of the last n periods ending
// with the period that contains asOf. The window stops at asOf's date.
func (b *Bucketer) Trailing(n int, asOf time.Time) models.Window {
	if n < 1 {
		n = 1
	}
	last := b.Start(asOf)
	return models.Window{
		From: b.Shift(last, -(n - 1)),
		To:   Date(asOf, b.loc),
	}
}

// Count returns how many periods intersect the inclusive window w without
// materializing them.
func (b *Bucketer) Count(w models.Window) int {
	if Date(w.To, b.loc).Before(Date(w.From, b.loc)) {
		return 0
	}
	from := b.Start(w.From)
	to := b.Start(w.To)
	months := (to.Year()-from.Year())*12 + int(to.Month()) - int(from.Month())
	switch b.gran {
	case Week:
		return DaysBetween(from, to, b.loc)/7 + 1
	case Month:
		return months + 1
	case Quarter:
		return months/3 + 1
	case Year:
		return to.Year() - from.Year() + 1
	default:
		return DaysBetween(from, to, b.loc) + 1
	}
}

// Series folds events inside the inclusive window w into contiguous
// buckets, one per period intersecting w, zero-filling empty periods.
func (b *Bucketer) Series(events []Event, w models.Window) []models.TimeBucket {
	from := Date(w.From, b.loc)
	to := Date(w.To, b.loc)
	if to.Before(from) {
		return []models.TimeBucket{}
	}
	rng := Range{From: from, To: to.AddDate(0, 0, 1)}

	var buckets []models.TimeBucket
	index := make(map[string]int)
	for start := b.Start(from); !start.After(to); start = b.Shift(start, 1) {
		key := b.Key(start)
		index[key] = len(buckets)
		buckets = append(buckets, models.TimeBucket{
			PeriodKey:   key,
			PeriodStart: start,
			PeriodEnd:   b.Shift(start, 1).AddDate(0, 0, -1),
			Revenue:     decimal.Zero,
		})
	}

	for _, e := range events {
		if !rng.Contains(e.At) {
			continue
		}
		i, ok := index[b.Key(b.Start(e.At))]
		if !ok {
			continue
		}
		buckets[i].Revenue = buckets[i].Revenue.Add(e.Amount)
		buckets[i].OrderCount++
	}
	return buckets
}
