package caretransition

import (
	"context"
	"sort"
	"time"

	"github.com/carebridge/tcm/internal/domain/registry"
)

// OverdueItem is one alert row for a care transition past a deadline.
type OverdueItem struct {
	Key          int64  `json:"care_transition_key"`
	EncounterKey int64  `json:"encounter_key"`
	PatientKey   int64  `json:"patient_key"`
	HospitalKey  int64  `json:"hospital_key"`
	VisitNumber  string `json:"visit_number"`
	PatientName  string `json:"patient_name,omitempty"`
	MRN          string `json:"mrn,omitempty"`
	Location     string `json:"location,omitempty"`

	Status   Status `json:"status"`
	Priority *Level `json:"priority,omitempty"`
	RiskTier *Level `json:"risk_tier,omitempty"`

	DueDate     time.Time `json:"due_date"`
	DaysOverdue int       `json:"days_overdue"`
}

// EncounterAlert is an alert row driven by the encounter registry.
type EncounterAlert struct {
	EncounterKey int64  `json:"encounter_key"`
	PatientKey   int64  `json:"patient_key"`
	HospitalKey  int64  `json:"hospital_key"`
	VisitNumber  string `json:"visit_number"`
	PatientName  string `json:"patient_name,omitempty"`
	MRN          string `json:"mrn,omitempty"`
	Location     string `json:"location,omitempty"`
	VisitStatus  string `json:"visit_status,omitempty"`

	// Key is the care transition tracking the encounter, zero if none.
	Key int64 `json:"care_transition_key,omitempty"`

	EventDate   time.Time `json:"event_date"`
	DaysElapsed int       `json:"days_elapsed"`
}

// AlertSummary bundles every alert list for one dashboard payload.
type AlertSummary struct {
	OverdueOutreach  []OverdueItem    `json:"overdue_outreach"`
	Schedule1Overdue []OverdueItem    `json:"tcm_schedule1_overdue"`
	Schedule2Overdue []OverdueItem    `json:"tcm_schedule2_overdue"`
	FollowUpOverdue  []EncounterAlert `json:"follow_up_overdue"`
	Readmissions     []EncounterAlert `json:"readmissions"`
	Counts           AlertCounts      `json:"counts"`
}

type AlertCounts struct {
	OverdueOutreach  int `json:"overdue_outreach"`
	Schedule1Overdue int `json:"tcm_schedule1_overdue"`
	Schedule2Overdue int `json:"tcm_schedule2_overdue"`
	FollowUpOverdue  int `json:"follow_up_overdue"`
	Readmissions     int `json:"readmissions"`
	Total            int `json:"total"`
}

func isOverdueOutreach(ct *CareTransition, now time.Time) bool {
	return ct.NextOutreachDate != nil && ct.NextOutreachDate.Before(now) && !ct.IsClosed()
}

func pastDue(deadline *time.Time, ct *CareTransition, now time.Time) bool {
	return deadline != nil && deadline.Before(now) && !ct.IsClosed()
}

// ClassifyOverdueOutreach returns transitions whose next outreach date has
// passed, most overdue first.
func ClassifyOverdueOutreach(items []*CareTransition, now time.Time) []OverdueItem {
	out := []OverdueItem{}
	for _, ct := range items {
		if isOverdueOutreach(ct, now) {
			out = append(out, overdueItem(ct, *ct.NextOutreachDate, now))
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].DueDate.Equal(out[j].DueDate) {
			return out[i].Key < out[j].Key
		}
		return out[i].DueDate.Before(out[j].DueDate)
	})
	return out
}

// ClassifySchedule1Overdue returns open transitions past the contact
// deadline, sorted by deadline descending so the most recently due
// appear first.
func ClassifySchedule1Overdue(items []*CareTransition, now time.Time) []OverdueItem {
	return classifySchedule(items, now, func(ct *CareTransition) *time.Time { return ct.TCMSchedule1 })
}

// ClassifySchedule2Overdue is ClassifySchedule1Overdue for the follow-up
// deadline.
func ClassifySchedule2Overdue(items []*CareTransition, now time.Time) []OverdueItem {
	return classifySchedule(items, now, func(ct *CareTransition) *time.Time { return ct.TCMSchedule2 })
}

func classifySchedule(items []*CareTransition, now time.Time, deadline func(*CareTransition) *time.Time) []OverdueItem {
	out := []OverdueItem{}
	for _, ct := range items {
		if d := deadline(ct); pastDue(d, ct, now) {
			out = append(out, overdueItem(ct, *d, now))
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].DueDate.Equal(out[j].DueDate) {
			return out[i].Key < out[j].Key
		}
		return out[i].DueDate.After(out[j].DueDate)
	})
	return out
}

func overdueItem(ct *CareTransition, due, now time.Time) OverdueItem {
	return OverdueItem{
		Key:          ct.Key,
		EncounterKey: ct.EncounterKey,
		PatientKey:   ct.PatientKey,
		HospitalKey:  ct.HospitalKey,
		VisitNumber:  ct.VisitNumber,
		Status:       ct.Status,
		Priority:     ct.Priority,
		RiskTier:     ct.RiskTier,
		DueDate:      due,
		DaysOverdue:  wholeDays(due, now),
	}
}

// ClassifyFollowUpOverdue returns encounters of active transitions that were
// discharged more than followUpDays ago, longest waiting first.
func ClassifyFollowUpOverdue(items []*CareTransition, encounters map[int64]*registry.Encounter, followUpDays int, now time.Time) []EncounterAlert {
	out := []EncounterAlert{}
	for _, ct := range items {
		if ct.IsClosed() {
			continue
		}
		enc, found := encounters[ct.EncounterKey]
		if !found || enc.DischargeUtc == nil {
			continue
		}
		days := wholeDays(*enc.DischargeUtc, now)
		if days <= followUpDays {
			continue
		}
		a := encounterAlert(enc, *enc.DischargeUtc, days)
		a.Key = ct.Key
		out = append(out, a)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].DaysElapsed == out[j].DaysElapsed {
			return out[i].EncounterKey < out[j].EncounterKey
		}
		return out[i].DaysElapsed > out[j].DaysElapsed
	})
	return out
}

// ClassifyReadmissions returns encounters admitted within the last
// windowDays whose visit status marks a readmission, newest first.
func ClassifyReadmissions(encounters []*registry.Encounter, windowDays int, now time.Time) []EncounterAlert {
	cutoff := now.AddDate(0, 0, -windowDays)
	out := []EncounterAlert{}
	for _, enc := range encounters {
		if enc.AdmitUtc == nil || enc.AdmitUtc.Before(cutoff) || enc.AdmitUtc.After(now) || !enc.IsReadmission() {
			continue
		}
		out = append(out, encounterAlert(enc, *enc.AdmitUtc, wholeDays(*enc.AdmitUtc, now)))
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].EventDate.Equal(out[j].EventDate) {
			return out[i].EncounterKey < out[j].EncounterKey
		}
		return out[i].EventDate.After(out[j].EventDate)
	})
	return out
}

func encounterAlert(enc *registry.Encounter, at time.Time, days int) EncounterAlert {
	a := EncounterAlert{
		EncounterKey: enc.EncounterKey,
		PatientKey:   enc.PatientKey,
		HospitalKey:  enc.HospitalKey,
		VisitNumber:  enc.VisitNumber,
		EventDate:    at,
		DaysElapsed:  days,
	}
	if enc.VisitStatus != nil {
		a.VisitStatus = *enc.VisitStatus
	}
	return a
}

// -- Service entry points. Each degrades to an empty list on failure. --

func (s *Service) activeSet(ctx context.Context, tenantKey, view string) []*CareTransition {
	items, err := s.repo.ListActive(ctx, tenantKey)
	if err != nil {
		s.logger.Error().Err(err).Str("tenant", tenantKey).Str("view", view).Msg("active transitions query failed")
		return nil
	}
	return items
}

func (s *Service) OverdueOutreach(ctx context.Context, tenantKey string) []OverdueItem {
	out := ClassifyOverdueOutreach(s.activeSet(ctx, tenantKey, "overdue_outreach"), s.clock())
	s.enrichOverdue(ctx, tenantKey, out)
	return out
}

func (s *Service) OverdueSchedule1(ctx context.Context, tenantKey string) []OverdueItem {
	out := ClassifySchedule1Overdue(s.activeSet(ctx, tenantKey, "schedule1"), s.clock())
	s.enrichOverdue(ctx, tenantKey, out)
	return out
}

func (s *Service) OverdueSchedule2(ctx context.Context, tenantKey string) []OverdueItem {
	out := ClassifySchedule2Overdue(s.activeSet(ctx, tenantKey, "schedule2"), s.clock())
	s.enrichOverdue(ctx, tenantKey, out)
	return out
}

func (s *Service) OverdueFollowUp(ctx context.Context, tenantKey string) []EncounterAlert {
	return s.followUpOverdue(ctx, tenantKey, s.activeSet(ctx, tenantKey, "follow_up"), s.clock())
}

func (s *Service) followUpOverdue(ctx context.Context, tenantKey string, items []*CareTransition, now time.Time) []EncounterAlert {
	if s.registry == nil || len(items) == 0 {
		return []EncounterAlert{}
	}
	keys := make([]int64, 0, len(items))
	for _, ct := range items {
		keys = append(keys, ct.EncounterKey)
	}
	encounters, err := s.registry.ListEncounters(ctx, tenantKey, keys)
	if err != nil {
		s.logger.Error().Err(err).Str("tenant", tenantKey).Msg("encounter lookup failed")
		return []EncounterAlert{}
	}
	out := ClassifyFollowUpOverdue(items, encounters, s.windows.FollowUpDays, now)
	s.enrichEncounters(ctx, tenantKey, out)
	return out
}

func (s *Service) Readmissions(ctx context.Context, tenantKey string) []EncounterAlert {
	return s.readmissions(ctx, tenantKey, s.clock())
}

func (s *Service) readmissions(ctx context.Context, tenantKey string, now time.Time) []EncounterAlert {
	if s.registry == nil {
		return []EncounterAlert{}
	}
	encounters, err := s.registry.ListAdmittedSince(ctx, tenantKey, now.AddDate(0, 0, -s.windows.ReadmissionDays))
	if err != nil {
		s.logger.Error().Err(err).Str("tenant", tenantKey).Msg("readmission query failed")
		return []EncounterAlert{}
	}
	out := ClassifyReadmissions(encounters, s.windows.ReadmissionDays, now)
	s.enrichEncounters(ctx, tenantKey, out)
	return out
}

// Alerts computes every alert list from one read of the active set.
func (s *Service) Alerts(ctx context.Context, tenantKey string) AlertSummary {
	now := s.clock()
	items := s.activeSet(ctx, tenantKey, "alerts")

	sum := AlertSummary{
		OverdueOutreach:  ClassifyOverdueOutreach(items, now),
		Schedule1Overdue: ClassifySchedule1Overdue(items, now),
		Schedule2Overdue: ClassifySchedule2Overdue(items, now),
		FollowUpOverdue:  s.followUpOverdue(ctx, tenantKey, items, now),
		Readmissions:     s.readmissions(ctx, tenantKey, now),
	}
	s.enrichOverdue(ctx, tenantKey, sum.OverdueOutreach)
	s.enrichOverdue(ctx, tenantKey, sum.Schedule1Overdue)
	s.enrichOverdue(ctx, tenantKey, sum.Schedule2Overdue)

	sum.Counts = AlertCounts{
		OverdueOutreach:  len(sum.OverdueOutreach),
		Schedule1Overdue: len(sum.Schedule1Overdue),
		Schedule2Overdue: len(sum.Schedule2Overdue),
		FollowUpOverdue:  len(sum.FollowUpOverdue),
		Readmissions:     len(sum.Readmissions),
	}
	sum.Counts.Total = sum.Counts.OverdueOutreach + sum.Counts.Schedule1Overdue + sum.Counts.Schedule2Overdue +
		sum.Counts.FollowUpOverdue + sum.Counts.Readmissions
	return sum
}

type display struct {
	patients  map[int64]*registry.Patient
	hospitals map[int64]*registry.Hospital
}

// lookupDisplay batch-loads patient and hospital display fields. Missing
// registry data leaves the display fields blank.
func (s *Service) lookupDisplay(ctx context.Context, tenantKey string, patientKeys, hospitalKeys []int64) display {
	d := display{}
	if s.registry == nil || len(patientKeys) == 0 {
		return d
	}
	var err error
	if d.patients, err = s.registry.ListPatients(ctx, tenantKey, patientKeys); err != nil {
		s.logger.Warn().Err(err).Str("tenant", tenantKey).Msg("patient lookup failed")
	}
	if d.hospitals, err = s.registry.ListHospitals(ctx, tenantKey, hospitalKeys); err != nil {
		s.logger.Warn().Err(err).Str("tenant", tenantKey).Msg("hospital lookup failed")
	}
	return d
}

func (d display) apply(patientKey, hospitalKey int64, name, mrn, location *string) {
	if p, found := d.patients[patientKey]; found {
		*name = p.DisplayName()
		if p.MRN != nil {
			*mrn = *p.MRN
		}
	}
	if h, found := d.hospitals[hospitalKey]; found {
		*location = h.DisplayLocation()
	}
}

func (s *Service) enrichOverdue(ctx context.Context, tenantKey string, items []OverdueItem) {
	if len(items) == 0 {
		return
	}
	var pks, hks []int64
	for _, it := range items {
		pks = append(pks, it.PatientKey)
		hks = append(hks, it.HospitalKey)
	}
	d := s.lookupDisplay(ctx, tenantKey, pks, hks)
	for i := range items {
		d.apply(items[i].PatientKey, items[i].HospitalKey, &items[i].PatientName, &items[i].MRN, &items[i].Location)
	}
}

func (s *Service) enrichEncounters(ctx context.Context, tenantKey string, items []EncounterAlert) {
	if len(items) == 0 {
		return
	}
	var pks, hks []int64
	for _, it := range items {
		pks = append(pks, it.PatientKey)
		hks = append(hks, it.HospitalKey)
	}
	d := s.lookupDisplay(ctx, tenantKey, pks, hks)
	for i := range items {
		d.apply(items[i].PatientKey, items[i].HospitalKey, &items[i].PatientName, &items[i].MRN, &items[i].Location)
	}
}
