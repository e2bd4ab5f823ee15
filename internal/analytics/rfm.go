package analytics

import (
	"sort"
	"time"

	"github.com/radiusdt/vector-analytics/internal/models"
	"github.com/shopspring/decimal"
)

// Bins is the number of quantile bins per RFM dimension.
const Bins = 5

// segmentRules is the decision table, evaluated top to bottom; first match
// wins. New Customers (F=1) must precede Potential Loyalists (F<=2).
var segmentRules = []struct {
	segment models.Segment
	match   func(r, f, m int) bool
}{
	{models.SegmentChampions, func(r, f, m int) bool { return r >= 4 && f >= 4 && m >= 4 }},
	{models.SegmentLoyal, func(r, f, m int) bool { return r >= 3 && f >= 3 }},
	{models.SegmentNew, func(r, f, m int) bool { return r >= 4 && f == 1 }},
	{models.SegmentPotentialLoyalists, func(r, f, m int) bool { return r >= 4 && f <= 2 }},
	{models.SegmentCannotLose, func(r, f, m int) bool { return r <= 2 && m >= 4 }},
	{models.SegmentAtRisk, func(r, f, m int) bool { return r <= 2 && f >= 3 }},
	{models.SegmentHibernating, func(r, f, m int) bool { return r <= 2 && f <= 2 && m <= 2 }},
}

// Classify maps bin scores to a segment.
func Classify(r, f, m int) models.Segment {
	for _, rule := range segmentRules {
		if rule.match(r, f, m) {
			return rule.segment
		}
	}
	return models.SegmentOther
}

// RFMResult is the scored population.
type RFMResult struct {
	AsOf       time.Time
	Population int // distinct customers seen
	NoActivity int // customers without a completed order
	Scores     []models.RFMScore
}

// TotalMonetary sums monetary value over scored customers.
func (r RFMResult) TotalMonetary() decimal.Decimal {
	total := decimal.Zero
	for _, s := range r.Scores {
		total = total.Add(s.Monetary)
	}
	return total
}

// ScoreRFM scores every customer with at least one completed order among
// orders. orders should already be limited to the analysis window; orders
// placed after asOf are ignored. Scores are ordered by customer id.
func ScoreRFM(customers []models.Customer, orders []models.Order, asOf time.Time, loc *time.Location) RFMResult {
	if loc == nil {
		loc = time.UTC
	}
	cutoff := Date(asOf, loc).AddDate(0, 0, 1)

	type acc struct {
		last      time.Time
		frequency int
		monetary  decimal.Decimal
	}
	seen := make(map[string]bool, len(customers))
	for _, c := range customers {
		seen[c.ID] = true
	}
	byCustomer := make(map[string]*acc)
	for _, o := range orders {
		seen[o.CustomerID] = true
		if !o.Completed() || !o.PlacedAt.Before(cutoff) {
			continue
		}
		a, ok := byCustomer[o.CustomerID]
		if !ok {
			a = &acc{monetary: decimal.Zero}
			byCustomer[o.CustomerID] = a
		}
		if o.PlacedAt.After(a.last) {
			a.last = o.PlacedAt
		}
		a.frequency++
		a.monetary = a.monetary.Add(o.TotalAmount)
	}

	scores := make([]models.RFMScore, 0, len(byCustomer))
	for id, a := range byCustomer {
		recency := DaysBetween(a.last, asOf, loc)
		if recency < 0 {
			recency = 0
		}
		scores = append(scores, models.RFMScore{
			CustomerID:  id,
			RecencyDays: recency,
			Frequency:   a.frequency,
			Monetary:    a.monetary,
		})
	}
	sort.Slice(scores, func(i, j int) bool { return scores[i].CustomerID < scores[j].CustomerID })

	// Each comparator orders worst first.
	assignBins(scores, func(a, b *models.RFMScore) int { return b.RecencyDays - a.RecencyDays },
		func(s *models.RFMScore, bin int) { s.R = bin })
	assignBins(scores, func(a, b *models.RFMScore) int { return a.Frequency - b.Frequency },
		func(s *models.RFMScore, bin int) { s.F = bin })
	assignBins(scores, func(a, b *models.RFMScore) int { return a.Monetary.Cmp(b.Monetary) },
		func(s *models.RFMScore, bin int) { s.M = bin })

	for i := range scores {
		scores[i].Segment = Classify(scores[i].R, scores[i].F, scores[i].M)
	}

	return RFMResult{
		AsOf:       Date(asOf, loc),
		Population: len(seen),
		NoActivity: len(seen) - len(scores),
		Scores:     scores,
	}
}

// assignBins ranks scores by cmp and sets a 1..Bins quantile per customer
// from the share of strictly worse customers, less / n. Equal values always
// share a bin and the worst value is always bin 1.
func assignBins(scores []models.RFMScore, cmp func(a, b *models.RFMScore) int, set func(*models.RFMScore, int)) {
	n := len(scores)
	if n == 0 {
		return
	}
	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(i, j int) bool {
		return cmp(&scores[order[i]], &scores[order[j]]) < 0
	})

	for lo := 0; lo < n; {
		hi := lo + 1
		for hi < n && cmp(&scores[order[lo]], &scores[order[hi]]) == 0 {
			hi++
		}
		bin := quantileBin(lo, n)
		for _, idx := range order[lo:hi] {
			set(&scores[idx], bin)
		}
		lo = hi
	}
}

// quantileBin computes floor(Bins * less / n) + 1 in integers.
func quantileBin(less, n int) int {
	bin := Bins*less/n + 1
	if bin > Bins {
		bin = Bins
	}
	return bin
}

// SummarizeRFM aggregates scores per segment, zero-filled, in decision
// table order. Segment counts and monetary totals are reconciled with the
// scored population.
func SummarizeRFM(res RFMResult) ([]models.SegmentSummary, error) {
	type acc struct {
		customers int
		recency   int
		frequency int
		monetary  decimal.Decimal
	}
	bySegment := make(map[models.Segment]*acc, len(models.Segments))
	for _, seg := range models.Segments {
		bySegment[seg] = &acc{monetary: decimal.Zero}
	}
	for _, s := range res.Scores {
		a := bySegment[s.Segment]
		a.customers++
		a.recency += s.RecencyDays
		a.frequency += s.Frequency
		a.monetary = a.monetary.Add(s.Monetary)
	}

	scored := len(res.Scores)
	summaries := make([]models.SegmentSummary, 0, len(models.Segments))
	counted := 0
	total := decimal.Zero
	for _, seg := range models.Segments {
		a := bySegment[seg]
		counted += a.customers
		total = total.Add(a.monetary)
		summaries = append(summaries, models.SegmentSummary{
			Segment:        seg,
			Customers:      a.customers,
			Share:          ratio(a.customers, scored),
			AvgRecencyDays: ratio(a.recency, a.customers),
			AvgFrequency:   ratio(a.frequency, a.customers),
			AvgMonetary:    avg(a.monetary, a.customers),
			TotalMonetary:  a.monetary,
		})
	}

	if err := reconcileCount("rfm segment customers", counted, scored); err != nil {
		return nil, err
	}
	if err := reconcile("rfm segment monetary", total, res.TotalMonetary()); err != nil {
		return nil, err
	}
	return summaries, nil
}

// SegmentRevenue groups the completed revenue of orders by the RFM segment
// of each buyer. Every completed order's customer must be scored in res.
func SegmentRevenue(res RFMResult, orders []models.Order) ([]models.SegmentRevenue, error) {
	segmentOf := make(map[string]models.Segment, len(res.Scores))
	for _, s := range res.Scores {
		segmentOf[s.CustomerID] = s.Segment
	}

	type acc struct {
		customers map[string]bool
		orders    int
		revenue   decimal.Decimal
	}
	bySegment := make(map[models.Segment]*acc, len(models.Segments))
	for _, seg := range models.Segments {
		bySegment[seg] = &acc{customers: make(map[string]bool), revenue: decimal.Zero}
	}

	total := decimal.Zero
	for _, o := range orders {
		if !o.Completed() {
			continue
		}
		total = total.Add(o.TotalAmount)
		seg, ok := segmentOf[o.CustomerID]
		if !ok {
			continue
		}
		a := bySegment[seg]
		a.customers[o.CustomerID] = true
		a.orders++
		a.revenue = a.revenue.Add(o.TotalAmount)
	}

	out := make([]models.SegmentRevenue, 0, len(models.Segments))
	sum := decimal.Zero
	for _, seg := range models.Segments {
		a := bySegment[seg]
		sum = sum.Add(a.revenue)
		share := 0.0
		if total.IsPositive() {
			share = a.revenue.Div(total).InexactFloat64()
		}
		out = append(out, models.SegmentRevenue{
			Segment:   seg,
			Customers: len(a.customers),
			Orders:    a.orders,
			Revenue:   a.revenue,
			Share:     share,
		})
	}
	if err := reconcile("revenue by segment", sum, total); err != nil {
		return nil, err
	}
	return out, nil
}
