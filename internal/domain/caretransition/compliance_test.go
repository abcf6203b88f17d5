package caretransition

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func at(days float64) *time.Time {
	t := baseTime.Add(time.Duration(days * 24 * float64(time.Hour)))
	return &t
}

func TestEvaluateWindow(t *testing.T) {
	now := baseTime
	tests := []struct {
		name     string
		deadline *time.Time
		closed   bool
		want     Window
	}{
		{"unscheduled", nil, false, Window{State: WindowNotScheduled}},
		{"pending", at(2.5), false, Window{Deadline: at(2.5), State: WindowPending, DaysLeft: 2}},
		{"deadline now counts as met", at(0), false, Window{Deadline: at(0), Met: true, State: WindowOverdue}},
		{"overdue open", at(-3.2), false, Window{Deadline: at(-3.2), Met: true, State: WindowOverdue, DaysElapsed: 3}},
		{"elapsed closed", at(-1), true, Window{Deadline: at(-1), Met: true, State: WindowElapsed, DaysElapsed: 1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := EvaluateWindow(tt.deadline, tt.closed, now); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("expected %+v, got %+v", tt.want, got)
			}
		})
	}
}

func TestEvaluateCompliance(t *testing.T) {
	ct := &CareTransition{Key: 4, Status: StatusOpen, TCMSchedule1: at(-1), TCMSchedule2: at(12)}
	c := EvaluateCompliance(ct, baseTime)
	if !c.Contact.Met || c.Contact.State != WindowOverdue {
		t.Errorf("expected contact window met and overdue, got %+v", c.Contact)
	}
	if c.FollowUp.Met || c.FollowUp.State != WindowPending {
		t.Errorf("expected follow-up window pending, got %+v", c.FollowUp)
	}
}

func TestService_Compliance(t *testing.T) {
	svc, repo, _ := newTestService()
	ctx := context.Background()
	req := validCreate()
	req.DischargeDate = strPtr("2025-03-07T12:00:00Z")
	key := mustCreate(t, svc, "t1", req)

	c, err := svc.Compliance(ctx, "t1", key)
	if err != nil {
		t.Fatal(err)
	}
	// Contact deadline 2025-03-09 has passed.
	if !c.Contact.Met {
		t.Error("expected contact window met")
	}
	if c.FollowUp.Met || c.FollowUp.DaysLeft != 11 {
		t.Errorf("expected 11 days left on follow-up, got %+v", c.FollowUp)
	}

	if _, err := svc.Compliance(ctx, "t1", 404); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected not found, got %v", err)
	}

	repo.failAll = errors.New("boom")
	c, err = svc.Compliance(ctx, "t1", key)
	if err != nil || c.Key != key {
		t.Errorf("expected empty compliance for key %d, got %+v, %v", key, c, err)
	}
}

func TestAggregateMetrics(t *testing.T) {
	high, low := LevelHigh, LevelLow
	items := []*CareTransition{
		{Status: StatusOpen, IsActive: true, RiskTier: &high, TCMSchedule1: at(-3), TCMSchedule2: at(-1), OutreachAttempts: 2},
		{Status: StatusInProgress, IsActive: true, RiskTier: &low, Priority: &high, TCMSchedule1: at(-1), TCMSchedule2: at(5), NextOutreachDate: at(-1), OutreachAttempts: 1},
		{Status: StatusNew, IsActive: true, TCMSchedule1: at(1)},
		{Status: StatusClosed, TCMSchedule1: at(-10), TCMSchedule2: at(-2), NextOutreachDate: at(-5), OutreachAttempts: 3},
	}
	m := AggregateMetrics(items, nil, nil, baseTime)

	counts := []struct {
		name      string
		got, want int
	}{
		{"total", m.Total, 4},
		{"new", m.New, 1},
		{"open", m.Open, 1},
		{"in progress", m.InProgress, 1},
		{"closed", m.Closed, 1},
		{"active", m.Active, 3},
		{"risk High", m.ByRiskTier["High"], 1},
		{"risk Low", m.ByRiskTier["Low"], 1},
		{"risk Unassigned", m.ByRiskTier["Unassigned"], 2},
		{"priority High", m.ByPriority["High"], 1},
		{"contact met", m.ContactWindowMet, 3},
		{"follow-up met", m.FollowUpWindowMet, 2},
		// 3 met over open+in-progress (2).
		{"contact rate", m.ContactComplianceRate, 150},
		{"follow-up rate", m.FollowUpComplianceRate, 100},
		// Closed transitions are never overdue.
		{"overdue outreach", m.OverdueOutreach, 1},
		{"outreach attempts", m.TotalOutreachAttempts, 6},
	}
	for _, c := range counts {
		if c.got != c.want {
			t.Errorf("%s: expected %d, got %d", c.name, c.want, c.got)
		}
	}
	if m.AverageOutreachAttempts != 1.5 {
		t.Errorf("expected average 1.5, got %v", m.AverageOutreachAttempts)
	}
}

func TestAggregateMetrics_Empty(t *testing.T) {
	m := AggregateMetrics(nil, nil, nil, baseTime)
	if m.Total != 0 || m.ContactComplianceRate != 0 {
		t.Errorf("expected zero aggregate, got %+v", m)
	}
	if n, ok := m.ByRiskTier["Unassigned"]; !ok || n != 0 {
		t.Errorf("expected zeroed buckets, got %v", m.ByRiskTier)
	}
}

func TestAggregateMetrics_RateRounds(t *testing.T) {
	items := []*CareTransition{
		{Status: StatusOpen, TCMSchedule1: at(-1)},
		{Status: StatusOpen},
		{Status: StatusOpen},
	}
	if got := AggregateMetrics(items, nil, nil, baseTime).ContactComplianceRate; got != 33 {
		t.Errorf("expected 33, got %d", got)
	}
}

// memCache keys entries by tenant generation, like the Redis store.
type memCache struct {
	data        map[string][]byte
	gens        map[string]int64
	invalidated int
	gets, sets  int
}

func newMemCache() *memCache {
	return &memCache{data: make(map[string][]byte), gens: make(map[string]int64)}
}

func (m *memCache) entry(tenantKey string, gen int64, key string) string {
	return fmt.Sprintf("%s|%d|%s", tenantKey, gen, key)
}

func (m *memCache) Get(_ context.Context, tenantKey, key string, dst interface{}) (int64, bool, error) {
	m.gets++
	gen := m.gens[tenantKey]
	b, ok := m.data[m.entry(tenantKey, gen, key)]
	if !ok {
		return gen, false, nil
	}
	return gen, true, json.Unmarshal(b, dst)
}

func (m *memCache) Set(_ context.Context, tenantKey, key string, gen int64, v interface{}) error {
	m.sets++
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	m.data[m.entry(tenantKey, gen, key)] = b
	return nil
}

func (m *memCache) Invalidate(_ context.Context, tenantKey string) error {
	m.invalidated++
	m.gens[tenantKey]++
	return nil
}

func TestService_Metrics_Cache(t *testing.T) {
	svc, _, _ := newTestService()
	cache := newMemCache()
	svc.SetCache(cache)
	ctx := context.Background()

	key := mustCreate(t, svc, "t1", validCreate())
	if m := svc.Metrics(ctx, "t1", nil, nil); m.Total != 1 || cache.sets != 1 {
		t.Fatalf("expected total 1 stored once, got total=%d sets=%d", m.Total, cache.sets)
	}
	if m := svc.Metrics(ctx, "t1", nil, nil); m.Total != 1 || cache.sets != 1 {
		t.Errorf("expected second read served from cache, got total=%d sets=%d", m.Total, cache.sets)
	}

	if r := svc.Close(ctx, "t1", key, CloseRequest{}); !r.Success {
		t.Fatalf("close failed: %s", r.Message)
	}
	if m := svc.Metrics(ctx, "t1", nil, nil); m.Closed != 1 || cache.sets != 2 {
		t.Errorf("expected mutation to invalidate cached metrics, got closed=%d sets=%d", m.Closed, cache.sets)
	}
}

func TestService_Metrics_WriteDuringComputeNotCachedStale(t *testing.T) {
	repo := &interleavingRepo{mockRepo: newMockRepo()}
	svc := NewService(repo, zerolog.Nop())
	svc.SetClock((&fixedClock{t: baseTime}).now)
	svc.SetCache(newMemCache())
	ctx := context.Background()
	mustCreate(t, svc, "t1", validCreate())

	repo.duringList = func() { mustCreate(t, svc, "t1", validCreate()) }
	if m := svc.Metrics(ctx, "t1", nil, nil); m.Total != 1 {
		t.Fatalf("expected the snapshot taken before the create, got %d", m.Total)
	}
	if m := svc.Metrics(ctx, "t1", nil, nil); m.Total != 2 {
		t.Errorf("expected fresh metrics after invalidation, got total=%d", m.Total)
	}
}

func TestService_Metrics_DateRange(t *testing.T) {
	svc, _, clock := newTestService()
	ctx := context.Background()
	mustCreate(t, svc, "t1", validCreate())
	clock.advance(48 * time.Hour)
	mustCreate(t, svc, "t1", validCreate())

	from := baseTime.Add(24 * time.Hour)
	m := svc.Metrics(ctx, "t1", &from, nil)
	if m.Total != 1 || m.From == nil || !m.From.Equal(from) {
		t.Errorf("expected 1 transition from %v, got %d from %v", from, m.Total, m.From)
	}
}

func TestService_Metrics_DegradesOnFailure(t *testing.T) {
	svc, repo, _ := newTestService()
	repo.failAll = errors.New("db down")
	m := svc.Metrics(context.Background(), "t1", nil, nil)
	if m.Total != 0 || m.ByRiskTier == nil {
		t.Errorf("expected empty aggregate, got %+v", m)
	}
}

func TestMetricsCacheKey(t *testing.T) {
	from := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	if got := metricsCacheKey(nil, nil); got != "metrics:-:-" {
		t.Errorf("unexpected key %q", got)
	}
	if got := metricsCacheKey(&from, nil); got != "metrics:1735689600:-" {
		t.Errorf("unexpected key %q", got)
	}
}

func TestWholeDays(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want int
	}{
		{23 * time.Hour, 0},
		{25 * time.Hour, 1},
		{-time.Hour, -1},
	}
	for _, tt := range tests {
		if got := wholeDays(baseTime, baseTime.Add(tt.d)); got != tt.want {
			t.Errorf("wholeDays(+%v) = %d, want %d", tt.d, got, tt.want)
		}
	}
}
