package analytics

import (
	"fmt"
	"testing"
	"time"

	"github.com/radiusdt/vector-analytics/internal/models"
	"github.com/shopspring/decimal"
)

// buyer places n completed orders of amount each, the last one on last
// and the others one day apart before it.
func buyer(t *testing.T, id string, n int, amount int64, last string) []models.Order {
	t.Helper()
	end := mustDate(t, last)
	orders := make([]models.Order, 0, n)
	for i := 0; i < n; i++ {
		orders = append(orders, models.Order{
			ID:          fmt.Sprintf("%s-o%d", id, i),
			CustomerID:  id,
			PlacedAt:    end.AddDate(0, 0, -i).Add(12 * time.Hour),
			TotalAmount: decimal.NewFromInt(amount),
			Status:      models.OrderCompleted,
		})
	}
	return orders
}

func ladder(t *testing.T) ([]models.Customer, []models.Order) {
	t.Helper()
	var orders []models.Order
	orders = append(orders, buyer(t, "c1", 5, 100, "2024-06-29")...)
	orders = append(orders, buyer(t, "c2", 4, 80, "2024-06-20")...)
	orders = append(orders, buyer(t, "c3", 3, 60, "2024-05-01")...)
	orders = append(orders, buyer(t, "c4", 2, 50, "2024-03-01")...)
	orders = append(orders, buyer(t, "c5", 1, 40, "2024-01-01")...)
	orders = append(orders, models.Order{
		ID: "c7-o0", CustomerID: "c7", PlacedAt: mustDate(t, "2024-06-01"),
		TotalAmount: decimal.NewFromInt(30), Status: models.OrderCancelled,
	})

	customers := make([]models.Customer, 0, 7)
	for i := 1; i <= 7; i++ {
		customers = append(customers, models.Customer{ID: fmt.Sprintf("c%d", i)})
	}
	return customers, orders
}

func TestScoreRFM_SingleCustomerTakesBottomBins(t *testing.T) {
	orders := buyer(t, "solo", 1, 25, "2024-06-01")
	res := ScoreRFM(nil, orders, mustDate(t, "2024-06-30"), time.UTC)

	if len(res.Scores) != 1 {
		t.Fatalf("len(Scores) = %d, want 1", len(res.Scores))
	}
	s := res.Scores[0]
	if s.R != 1 || s.F != 1 || s.M != 1 {
		t.Fatalf("scores = %d/%d/%d, want 1/1/1", s.R, s.F, s.M)
	}
	if s.Segment != models.SegmentHibernating {
		t.Fatalf("segment = %s, want %s", s.Segment, models.SegmentHibernating)
	}
	if s.RecencyDays != 29 {
		t.Fatalf("RecencyDays = %d, want 29", s.RecencyDays)
	}
}

func TestScoreRFM_Ladder(t *testing.T) {
	customers, orders := ladder(t)
	res := ScoreRFM(customers, orders, mustDate(t, "2024-06-30"), time.UTC)

	if res.Population != 7 {
		t.Fatalf("Population = %d, want 7", res.Population)
	}
	if res.NoActivity != 2 {
		t.Fatalf("NoActivity = %d, want 2", res.NoActivity)
	}

	want := map[string]struct {
		r, f, m int
		seg     models.Segment
	}{
		"c1": {5, 5, 5, models.SegmentChampions},
		"c2": {4, 4, 4, models.SegmentChampions},
		"c3": {3, 3, 3, models.SegmentLoyal},
		"c4": {2, 2, 2, models.SegmentHibernating},
		"c5": {1, 1, 1, models.SegmentHibernating},
	}
	if len(res.Scores) != len(want) {
		t.Fatalf("len(Scores) = %d, want %d", len(res.Scores), len(want))
	}
	for _, s := range res.Scores {
		w, ok := want[s.CustomerID]
		if !ok {
			t.Fatalf("unexpected scored customer %s", s.CustomerID)
		}
		if s.R != w.r || s.F != w.f || s.M != w.m || s.Segment != w.seg {
			t.Fatalf("%s = %d/%d/%d %s, want %d/%d/%d %s",
				s.CustomerID, s.R, s.F, s.M, s.Segment, w.r, w.f, w.m, w.seg)
		}
	}
	if !res.TotalMonetary().Equal(decimal.NewFromInt(500 + 320 + 180 + 100 + 40)) {
		t.Fatalf("TotalMonetary = %s, want 1140", res.TotalMonetary())
	}
}

func TestScoreRFM_TiesShareBins(t *testing.T) {
	var orders []models.Order
	for _, id := range []string{"a", "b", "c"} {
		orders = append(orders, buyer(t, id, 2, 10, "2024-06-10")...)
	}
	res := ScoreRFM(nil, orders, mustDate(t, "2024-06-30"), time.UTC)

	first := res.Scores[0]
	for _, s := range res.Scores[1:] {
		if s.R != first.R || s.F != first.F || s.M != first.M {
			t.Fatalf("%s = %d/%d/%d, want tie with %s = %d/%d/%d",
				s.CustomerID, s.R, s.F, s.M, first.CustomerID, first.R, first.F, first.M)
		}
	}
}

func TestScoreRFM_OneTimeBuyersStayInBottomFrequencyBin(t *testing.T) {
	var orders []models.Order
	for i := 0; i < 9; i++ {
		orders = append(orders, buyer(t, fmt.Sprintf("one%d", i), 1, 10+int64(i)*10,
			mustDate(t, "2024-06-20").AddDate(0, 0, -10*i).Format("2006-01-02"))...)
	}
	orders = append(orders, buyer(t, "repeat", 5, 100, "2024-06-29")...)
	res := ScoreRFM(nil, orders, mustDate(t, "2024-06-30"), time.UTC)

	if len(res.Scores) != 10 {
		t.Fatalf("len(Scores) = %d, want 10", len(res.Scores))
	}
	for _, s := range res.Scores {
		if s.CustomerID == "repeat" {
			if s.F != 5 || s.Segment != models.SegmentChampions {
				t.Fatalf("repeat = F%d %s, want F5 %s", s.F, s.Segment, models.SegmentChampions)
			}
			continue
		}
		if s.F != 1 {
			t.Fatalf("%s F = %d, want 1", s.CustomerID, s.F)
		}
		switch s.Segment {
		case models.SegmentLoyal, models.SegmentAtRisk, models.SegmentChampions:
			t.Fatalf("%s (one order) = %d/%d/%d %s", s.CustomerID, s.R, s.F, s.M, s.Segment)
		}
		if s.R >= 4 && s.Segment != models.SegmentNew {
			t.Fatalf("%s = R%d %s, want %s", s.CustomerID, s.R, s.Segment, models.SegmentNew)
		}
	}
}

func TestScoreRFM_IgnoresOrdersAfterAsOf(t *testing.T) {
	orders := append(buyer(t, "x", 1, 10, "2024-06-01"), buyer(t, "y", 1, 10, "2024-07-05")...)
	res := ScoreRFM(nil, orders, mustDate(t, "2024-06-30"), time.UTC)
	if len(res.Scores) != 1 || res.Scores[0].CustomerID != "x" {
		t.Fatalf("Scores = %+v, want only x", res.Scores)
	}
}

func TestSummarizeRFM_Partition(t *testing.T) {
	customers, orders := ladder(t)
	res := ScoreRFM(customers, orders, mustDate(t, "2024-06-30"), time.UTC)

	summaries, err := SummarizeRFM(res)
	if err != nil {
		t.Fatalf("SummarizeRFM: %v", err)
	}
	if len(summaries) != len(models.Segments) {
		t.Fatalf("len(summaries) = %d, want %d", len(summaries), len(models.Segments))
	}

	total := 0
	share := 0.0
	for i, s := range summaries {
		if s.Segment != models.Segments[i] {
			t.Fatalf("summaries[%d] = %s, want %s", i, s.Segment, models.Segments[i])
		}
		total += s.Customers
		share += s.Share
	}
	if total != len(res.Scores) {
		t.Fatalf("segment customers sum = %d, want %d", total, len(res.Scores))
	}
	if share < 0.999 || share > 1.001 {
		t.Fatalf("segment shares sum = %f, want 1", share)
	}
	champions := summaries[0]
	if champions.Customers != 2 || !champions.TotalMonetary.Equal(decimal.NewFromInt(820)) {
		t.Fatalf("champions = %d/%s, want 2/820", champions.Customers, champions.TotalMonetary)
	}
	if !champions.AvgMonetary.Equal(decimal.NewFromInt(410)) {
		t.Fatalf("champions AvgMonetary = %s, want 410", champions.AvgMonetary)
	}
}

func TestSummarizeRFM_NoActivityZeroFills(t *testing.T) {
	orders := []models.Order{{
		ID: "o1", CustomerID: "c1", PlacedAt: mustDate(t, "2024-06-01"),
		TotalAmount: decimal.NewFromInt(10), Status: models.OrderRefunded,
	}}
	res := ScoreRFM(nil, orders, mustDate(t, "2024-06-30"), time.UTC)
	if res.NoActivity != 1 || len(res.Scores) != 0 {
		t.Fatalf("NoActivity/Scores = %d/%d, want 1/0", res.NoActivity, len(res.Scores))
	}

	summaries, err := SummarizeRFM(res)
	if err != nil {
		t.Fatalf("SummarizeRFM: %v", err)
	}
	for _, s := range summaries {
		if s.Customers != 0 || !s.TotalMonetary.IsZero() || s.Share != 0 {
			t.Fatalf("%s = %+v, want zero", s.Segment, s)
		}
	}
}

func TestClassify_DecisionTable(t *testing.T) {
	cases := []struct {
		r, f, m int
		want    models.Segment
	}{
		{5, 5, 5, models.SegmentChampions},
		{4, 4, 3, models.SegmentLoyal},
		{3, 3, 1, models.SegmentLoyal},
		{5, 1, 1, models.SegmentNew},
		{4, 2, 5, models.SegmentPotentialLoyalists},
		{1, 1, 5, models.SegmentCannotLose},
		{2, 4, 2, models.SegmentAtRisk},
		{1, 2, 1, models.SegmentHibernating},
		{3, 1, 1, models.SegmentOther},
		{2, 2, 3, models.SegmentOther},
	}
	for _, tc := range cases {
		if got := Classify(tc.r, tc.f, tc.m); got != tc.want {
			t.Fatalf("Classify(%d,%d,%d) = %s, want %s", tc.r, tc.f, tc.m, got, tc.want)
		}
	}
}

func TestSegmentRevenue_Reconciles(t *testing.T) {
	customers, orders := ladder(t)
	res := ScoreRFM(customers, orders, mustDate(t, "2024-06-30"), time.UTC)

	rows, err := SegmentRevenue(res, orders)
	if err != nil {
		t.Fatalf("SegmentRevenue: %v", err)
	}
	sum := decimal.Zero
	for _, r := range rows {
		sum = sum.Add(r.Revenue)
	}
	if !sum.Equal(decimal.NewFromInt(1140)) {
		t.Fatalf("segment revenue sum = %s, want 1140", sum)
	}
	if rows[0].Segment != models.SegmentChampions || rows[0].Orders != 9 {
		t.Fatalf("champions orders = %d, want 9", rows[0].Orders)
	}
}

func TestQuantileBin(t *testing.T) {
	cases := []struct {
		less, n, want int
	}{
		{0, 1, 1},
		{0, 5, 1},
		{4, 5, 5},
		{2, 5, 3},
		{0, 10, 1},
		{9, 10, 5},
		{1, 2, 3},
		{0, 100, 1},
		{99, 100, 5},
	}
	for _, tc := range cases {
		if got := quantileBin(tc.less, tc.n); got != tc.want {
			t.Fatalf("quantileBin(%d,%d) = %d, want %d", tc.less, tc.n, got, tc.want)
		}
	}
}
