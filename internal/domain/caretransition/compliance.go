package caretransition

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"
)

// WindowState summarizes one TCM deadline relative to now.
type WindowState string

const (
	WindowNotScheduled WindowState = "not_scheduled"
	WindowPending      WindowState = "pending"
	// WindowOverdue means the deadline passed while the transition is open.
	WindowOverdue WindowState = "overdue"
	// WindowElapsed means the deadline passed and the transition is closed.
	WindowElapsed WindowState = "elapsed"
)

// Window is the evaluation of one deadline. Met follows the dashboard
// definition: the deadline is set and has passed. It measures elapsed
// opportunity, not whether contact happened.
type Window struct {
	Deadline    *time.Time  `json:"deadline,omitempty"`
	Met         bool        `json:"met"`
	State       WindowState `json:"state"`
	DaysElapsed int         `json:"days_elapsed,omitempty"`
	DaysLeft    int         `json:"days_left,omitempty"`
}

// EvaluateWindow classifies deadline at now.
func EvaluateWindow(deadline *time.Time, closed bool, now time.Time) Window {
	if deadline == nil {
		return Window{State: WindowNotScheduled}
	}
	w := Window{Deadline: deadline}
	if deadline.After(now) {
		w.State = WindowPending
		w.DaysLeft = wholeDays(now, *deadline)
		return w
	}
	w.Met = true
	w.DaysElapsed = wholeDays(*deadline, now)
	if closed {
		w.State = WindowElapsed
	} else {
		w.State = WindowOverdue
	}
	return w
}

// Compliance is the per-transition view of both TCM windows.
type Compliance struct {
	Key      int64  `json:"care_transition_key"`
	Status   Status `json:"status"`
	Contact  Window `json:"contact_window"`
	FollowUp Window `json:"follow_up_window"`
}

// EvaluateCompliance evaluates the 2-day contact and 14-day follow-up
// windows of ct.
func EvaluateCompliance(ct *CareTransition, now time.Time) Compliance {
	return Compliance{
		Key:      ct.Key,
		Status:   ct.Status,
		Contact:  EvaluateWindow(ct.TCMSchedule1, ct.IsClosed(), now),
		FollowUp: EvaluateWindow(ct.TCMSchedule2, ct.IsClosed(), now),
	}
}

// Compliance loads one transition and evaluates its windows. Only a missing
// transition is reported as an error.
func (s *Service) Compliance(ctx context.Context, tenantKey string, key int64) (*Compliance, error) {
	ct, err := s.Get(ctx, tenantKey, key)
	if err != nil {
		if errors.Is(err, ErrNotFound) || errors.Is(err, ErrInvalid) {
			return nil, err
		}
		s.logger.Error().Err(err).Str("tenant", tenantKey).Int64("key", key).Msg("compliance lookup failed")
		return &Compliance{Key: key}, nil
	}
	c := EvaluateCompliance(ct, s.clock())
	return &c, nil
}

// Metrics aggregates a tenant's transitions created in a date range.
type Metrics struct {
	From *time.Time `json:"from,omitempty"`
	To   *time.Time `json:"to,omitempty"`

	Total      int `json:"total"`
	New        int `json:"new"`
	Open       int `json:"open"`
	InProgress int `json:"in_progress"`
	Closed     int `json:"closed"`
	Active     int `json:"active"`

	ByRiskTier map[string]int `json:"by_risk_tier"`
	ByPriority map[string]int `json:"by_priority"`

	ContactWindowMet       int `json:"contact_window_met"`
	FollowUpWindowMet      int `json:"follow_up_window_met"`
	ContactComplianceRate  int `json:"contact_compliance_rate"`
	FollowUpComplianceRate int `json:"follow_up_compliance_rate"`

	OverdueOutreach         int     `json:"overdue_outreach"`
	TotalOutreachAttempts   int     `json:"total_outreach_attempts"`
	AverageOutreachAttempts float64 `json:"average_outreach_attempts"`
}

const unassigned = "Unassigned"

func emptyMetrics(from, to *time.Time) Metrics {
	return Metrics{
		From:       from,
		To:         to,
		ByRiskTier: map[string]int{string(LevelLow): 0, string(LevelMedium): 0, string(LevelHigh): 0, unassigned: 0},
		ByPriority: map[string]int{string(LevelLow): 0, string(LevelMedium): 0, string(LevelHigh): 0, unassigned: 0},
	}
}

// AggregateMetrics computes counts and rates over items. Compliance rates
// divide window-met counts by the open plus in-progress count, floored at 1.
func AggregateMetrics(items []*CareTransition, from, to *time.Time, now time.Time) Metrics {
	m := emptyMetrics(from, to)
	for _, ct := range items {
		m.Total++
		switch ct.Status {
		case StatusNew:
			m.New++
		case StatusOpen:
			m.Open++
		case StatusInProgress:
			m.InProgress++
		case StatusClosed:
			m.Closed++
		}
		if ct.IsActive {
			m.Active++
		}
		m.ByRiskTier[levelBucket(ct.RiskTier)]++
		m.ByPriority[levelBucket(ct.Priority)]++

		c := EvaluateCompliance(ct, now)
		if c.Contact.Met {
			m.ContactWindowMet++
		}
		if c.FollowUp.Met {
			m.FollowUpWindowMet++
		}
		if isOverdueOutreach(ct, now) {
			m.OverdueOutreach++
		}
		m.TotalOutreachAttempts += ct.OutreachAttempts
	}
	denom := m.Open + m.InProgress
	if denom < 1 {
		denom = 1
	}
	m.ContactComplianceRate = percent(m.ContactWindowMet, denom)
	m.FollowUpComplianceRate = percent(m.FollowUpWindowMet, denom)
	if m.Total > 0 {
		m.AverageOutreachAttempts = math.Round(float64(m.TotalOutreachAttempts)/float64(m.Total)*100) / 100
	}
	return m
}

// Metrics returns the aggregate for transitions created in [from, to].
// Failures degrade to an empty aggregate.
func (s *Service) Metrics(ctx context.Context, tenantKey string, from, to *time.Time) Metrics {
	cacheKey := metricsCacheKey(from, to)
	cacheable := s.cache != nil
	var gen int64
	if cacheable {
		var cached Metrics
		var hit bool
		var err error
		gen, hit, err = s.cache.Get(ctx, tenantKey, cacheKey, &cached)
		switch {
		case err != nil:
			cacheable = false
			s.logger.Warn().Err(err).Str("tenant", tenantKey).Msg("metrics cache read failed")
		case hit:
			return cached
		}
	}

	items, err := s.repo.ListCreatedBetween(ctx, tenantKey, from, to)
	if err != nil {
		s.logger.Error().Err(err).Str("tenant", tenantKey).Msg("metrics query failed")
		return emptyMetrics(from, to)
	}
	m := AggregateMetrics(items, from, to, s.clock())

	if cacheable {
		if err := s.cache.Set(ctx, tenantKey, cacheKey, gen, m); err != nil {
			s.logger.Warn().Err(err).Str("tenant", tenantKey).Msg("metrics cache write failed")
		}
	}
	return m
}

func metricsCacheKey(from, to *time.Time) string {
	bound := func(t *time.Time) string {
		if t == nil {
			return "-"
		}
		return fmt.Sprintf("%d", t.UTC().Unix())
	}
	return "metrics:" + bound(from) + ":" + bound(to)
}

func levelBucket(l *Level) string {
	if l == nil {
		return unassigned
	}
	return string(*l)
}

func percent(n, d int) int {
	return int(math.Round(float64(n) * 100 / float64(d)))
}

// wholeDays is the floor of the day difference b - a.
func wholeDays(a, b time.Time) int {
	return int(math.Floor(b.Sub(a).Hours() / 24))
}
