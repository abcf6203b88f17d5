package caretransition

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/carebridge/tcm/internal/domain/registry"
	"github.com/carebridge/tcm/internal/platform/db"
	"github.com/carebridge/tcm/pkg/timestamp"
)

// Recorder receives domain counters. The zero Service uses a no-op.
type Recorder interface {
	TransitionCreated(ctx context.Context, tenantKey string)
	OutreachLogged(ctx context.Context, tenantKey string)
	TransitionClosed(ctx context.Context, tenantKey string)
	MutationFailed(ctx context.Context, tenantKey, operation string)
}

// MetricsCache stores derived dashboard views per tenant. Invalidate drops
// everything cached for the tenant. Get reports the cache generation it
// looked under and Set stores under that generation, so a value computed
// across an Invalidate is never served afterwards.
type MetricsCache interface {
	Get(ctx context.Context, tenantKey, key string, dst interface{}) (gen int64, hit bool, err error)
	Set(ctx context.Context, tenantKey, key string, gen int64, v interface{}) error
	Invalidate(ctx context.Context, tenantKey string) error
}

type nopRecorder struct{}

func (nopRecorder) TransitionCreated(context.Context, string)      {}
func (nopRecorder) OutreachLogged(context.Context, string)         {}
func (nopRecorder) TransitionClosed(context.Context, string)       {}
func (nopRecorder) MutationFailed(context.Context, string, string) {}

// Windows are the TCM deadlines in days after discharge, plus the lookback
// used for readmission alerts.
type Windows struct {
	ContactDays     int
	FollowUpDays    int
	ReadmissionDays int
}

// DefaultWindows returns the 2-day contact, 14-day follow-up and 30-day
// readmission windows.
func DefaultWindows() Windows {
	return Windows{ContactDays: 2, FollowUpDays: 14, ReadmissionDays: 30}
}

type Service struct {
	repo     Repository
	registry registry.Reader
	cache    MetricsCache
	recorder Recorder
	windows  Windows
	logger   zerolog.Logger
	now      func() time.Time
}

func NewService(repo Repository, logger zerolog.Logger) *Service {
	return &Service{
		repo:     repo,
		recorder: nopRecorder{},
		windows:  DefaultWindows(),
		logger:   logger.With().Str("component", "caretransition").Logger(),
		now:      time.Now,
	}
}

// SetRegistry attaches the encounter/patient/hospital lookups used for
// schedule derivation and alert enrichment.
func (s *Service) SetRegistry(r registry.Reader) {
	s.registry = r
}

// SetCache attaches an optional metrics cache.
func (s *Service) SetCache(c MetricsCache) {
	s.cache = c
}

// SetRecorder attaches domain counters.
func (s *Service) SetRecorder(r Recorder) {
	if r == nil {
		r = nopRecorder{}
	}
	s.recorder = r
}

func (s *Service) SetWindows(w Windows) {
	d := DefaultWindows()
	if w.ContactDays <= 0 {
		w.ContactDays = d.ContactDays
	}
	if w.FollowUpDays <= 0 {
		w.FollowUpDays = d.FollowUpDays
	}
	if w.ReadmissionDays <= 0 {
		w.ReadmissionDays = d.ReadmissionDays
	}
	s.windows = w
}

// SetClock replaces time.Now, for tests.
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

func (s *Service) clock() time.Time {
	return s.now().UTC().Truncate(time.Microsecond)
}

// CreateRequest carries the fields accepted by Create. Dates are raw wire
// strings in either accepted timestamp format.
type CreateRequest struct {
	EncounterKey int64  `json:"encounter_key"`
	PatientKey   int64  `json:"patient_key"`
	HospitalKey  int64  `json:"hospital_key"`
	VisitNumber  string `json:"visit_number"`

	Status               *string `json:"status,omitempty"`
	Priority             *string `json:"priority,omitempty"`
	RiskTier             *string `json:"risk_tier,omitempty"`
	ReadmissionRiskScore *int    `json:"readmission_risk_score,omitempty"`

	CareManagerUserKey *int64  `json:"care_manager_user_key,omitempty"`
	AssignedToUserKey  *int64  `json:"assigned_to_user_key,omitempty"`
	AssignedTeam       *string `json:"assigned_team,omitempty"`

	DischargeDate         *string `json:"discharge_date,omitempty"`
	TCMSchedule1          *string `json:"tcm_schedule1,omitempty"`
	TCMSchedule2          *string `json:"tcm_schedule2,omitempty"`
	FollowUpApptDateTime  *string `json:"follow_up_appt_date_time,omitempty"`
	CommunicationSentDate *string `json:"communication_sent_date,omitempty"`
	NextOutreachDate      *string `json:"next_outreach_date,omitempty"`

	Notes  *string `json:"notes,omitempty"`
	Author string  `json:"-"`
}

// UpdateRequest is a partial update: every non-nil field overwrites the
// stored value. Notes replace rather than append.
type UpdateRequest struct {
	Status               *string `json:"status,omitempty"`
	Priority             *string `json:"priority,omitempty"`
	RiskTier             *string `json:"risk_tier,omitempty"`
	ReadmissionRiskScore *int    `json:"readmission_risk_score,omitempty"`

	CareManagerUserKey *int64  `json:"care_manager_user_key,omitempty"`
	AssignedToUserKey  *int64  `json:"assigned_to_user_key,omitempty"`
	AssignedTeam       *string `json:"assigned_team,omitempty"`

	TCMSchedule1          *string `json:"tcm_schedule1,omitempty"`
	TCMSchedule2          *string `json:"tcm_schedule2,omitempty"`
	FollowUpApptDateTime  *string `json:"follow_up_appt_date_time,omitempty"`
	CommunicationSentDate *string `json:"communication_sent_date,omitempty"`
	NextOutreachDate      *string `json:"next_outreach_date,omitempty"`

	OutreachMethod *string `json:"outreach_method,omitempty"`
	ContactOutcome *string `json:"contact_outcome,omitempty"`

	Notes *string `json:"notes,omitempty"`

	ExpectedVersion *int   `json:"expected_version,omitempty"`
	Author          string `json:"-"`
}

// AssignRequest overwrites all three assignment fields, including with nil.
type AssignRequest struct {
	CareManagerUserKey *int64  `json:"care_manager_user_key"`
	AssignedToUserKey  *int64  `json:"assigned_to_user_key"`
	AssignedTeam       *string `json:"assigned_team"`
	ExpectedVersion    *int    `json:"expected_version,omitempty"`
}

type CloseRequest struct {
	Reason          *string `json:"close_reason,omitempty"`
	ClosedByUserKey *int64  `json:"closed_by_user_key,omitempty"`
	ExpectedVersion *int    `json:"expected_version,omitempty"`
	Author          string  `json:"-"`
}

// -- Mutations --

func (s *Service) Create(ctx context.Context, tenantKey string, req CreateRequest) Result {
	ct, err := s.buildNew(ctx, tenantKey, req)
	if err == nil {
		err = s.repo.Create(ctx, ct)
	}
	if err != nil {
		return s.failure(ctx, "create", tenantKey, 0, err)
	}
	s.recorder.TransitionCreated(ctx, tenantKey)
	s.invalidate(ctx, tenantKey)
	s.logger.Info().Str("tenant", tenantKey).Int64("key", ct.Key).Int64("encounter_key", ct.EncounterKey).
		Msg("care transition created")
	return ok(ct.Key, "care transition created")
}

func (s *Service) buildNew(ctx context.Context, tenantKey string, req CreateRequest) (*CareTransition, error) {
	if err := db.ValidateTenantKey(tenantKey); err != nil {
		return nil, invalidf("%s", err.Error())
	}
	switch {
	case req.EncounterKey <= 0:
		return nil, invalidf("encounter_key is required")
	case req.PatientKey <= 0:
		return nil, invalidf("patient_key is required")
	case req.HospitalKey <= 0:
		return nil, invalidf("hospital_key is required")
	case strings.TrimSpace(req.VisitNumber) == "":
		return nil, invalidf("visit_number is required")
	}

	status := StatusNew
	if nonEmpty(req.Status) {
		st, err := ParseStatus(*req.Status)
		if err != nil {
			return nil, err
		}
		if st == StatusClosed {
			return nil, invalidf("a care transition cannot be created closed")
		}
		status = st
	}

	now := s.clock()
	ct := &CareTransition{
		TenantKey:             tenantKey,
		EncounterKey:          req.EncounterKey,
		PatientKey:            req.PatientKey,
		HospitalKey:           req.HospitalKey,
		VisitNumber:           strings.TrimSpace(req.VisitNumber),
		Status:                status,
		IsActive:              true,
		CareManagerUserKey:    req.CareManagerUserKey,
		AssignedToUserKey:     req.AssignedToUserKey,
		AssignedTeam:          req.AssignedTeam,
		TCMSchedule1:          s.parseTime(tenantKey, "tcm_schedule1", req.TCMSchedule1),
		TCMSchedule2:          s.parseTime(tenantKey, "tcm_schedule2", req.TCMSchedule2),
		FollowUpApptDateTime:  s.parseTime(tenantKey, "follow_up_appt_date_time", req.FollowUpApptDateTime),
		CommunicationSentDate: s.parseTime(tenantKey, "communication_sent_date", req.CommunicationSentDate),
		NextOutreachDate:      s.parseTime(tenantKey, "next_outreach_date", req.NextOutreachDate),
		NoteEntries:           []NoteEntry{},
		Version:               1,
		CreatedUtc:            now,
		LastUpdatedUtc:        now,
	}
	if err := applyClassification(ct, req.Priority, req.RiskTier, req.ReadmissionRiskScore); err != nil {
		return nil, err
	}
	if nonEmpty(req.Notes) {
		ct.Notes = req.Notes
		ct.NoteEntries = append(ct.NoteEntries, newNoteEntry(now, req.Author, *req.Notes))
	}

	if ct.TCMSchedule1 == nil || ct.TCMSchedule2 == nil {
		if discharge := s.dischargeTime(ctx, tenantKey, req); discharge != nil {
			if ct.TCMSchedule1 == nil {
				t := discharge.AddDate(0, 0, s.windows.ContactDays)
				ct.TCMSchedule1 = &t
			}
			if ct.TCMSchedule2 == nil {
				t := discharge.AddDate(0, 0, s.windows.FollowUpDays)
				ct.TCMSchedule2 = &t
			}
		}
	}
	return ct, nil
}

func (s *Service) dischargeTime(ctx context.Context, tenantKey string, req CreateRequest) *time.Time {
	if t := s.parseTime(tenantKey, "discharge_date", req.DischargeDate); t != nil {
		return t
	}
	if s.registry == nil {
		return nil
	}
	enc, err := s.registry.GetEncounter(ctx, tenantKey, req.EncounterKey)
	if err != nil {
		s.logger.Debug().Err(err).Str("tenant", tenantKey).Int64("encounter_key", req.EncounterKey).
			Msg("encounter lookup failed; schedules left unset")
		return nil
	}
	if enc.DischargeUtc == nil {
		return nil
	}
	t := enc.DischargeUtc.UTC()
	return &t
}

func (s *Service) Update(ctx context.Context, tenantKey string, key int64, req UpdateRequest) Result {
	_, err := s.mutate(ctx, tenantKey, key, req.ExpectedVersion, func(ct *CareTransition, now time.Time) error {
		if nonEmpty(req.Status) {
			st, err := ParseStatus(*req.Status)
			if err != nil {
				return err
			}
			if st == StatusClosed {
				return invalidf("use close to close a care transition")
			}
			if ct.IsClosed() {
				return ErrClosed
			}
			ct.Status = st
		}
		if err := applyClassification(ct, req.Priority, req.RiskTier, req.ReadmissionRiskScore); err != nil {
			return err
		}
		if req.CareManagerUserKey != nil {
			ct.CareManagerUserKey = req.CareManagerUserKey
		}
		if req.AssignedToUserKey != nil {
			ct.AssignedToUserKey = req.AssignedToUserKey
		}
		if req.AssignedTeam != nil {
			ct.AssignedTeam = req.AssignedTeam
		}
		s.overwriteTime(tenantKey, "tcm_schedule1", req.TCMSchedule1, &ct.TCMSchedule1)
		s.overwriteTime(tenantKey, "tcm_schedule2", req.TCMSchedule2, &ct.TCMSchedule2)
		s.overwriteTime(tenantKey, "follow_up_appt_date_time", req.FollowUpApptDateTime, &ct.FollowUpApptDateTime)
		s.overwriteTime(tenantKey, "communication_sent_date", req.CommunicationSentDate, &ct.CommunicationSentDate)
		s.overwriteTime(tenantKey, "next_outreach_date", req.NextOutreachDate, &ct.NextOutreachDate)
		if req.OutreachMethod != nil {
			ct.OutreachMethod = req.OutreachMethod
		}
		if req.ContactOutcome != nil {
			ct.ContactOutcome = req.ContactOutcome
		}
		if req.Notes != nil {
			ct.Notes = req.Notes
			if nonEmpty(req.Notes) {
				ct.NoteEntries = append(ct.NoteEntries, newNoteEntry(now, req.Author, *req.Notes))
			}
		}
		return nil
	})
	if err != nil {
		return s.failure(ctx, "update", tenantKey, key, err)
	}
	return ok(key, "care transition updated")
}

func (s *Service) Assign(ctx context.Context, tenantKey string, key int64, req AssignRequest) Result {
	_, err := s.mutate(ctx, tenantKey, key, req.ExpectedVersion, func(ct *CareTransition, _ time.Time) error {
		ct.CareManagerUserKey = req.CareManagerUserKey
		ct.AssignedToUserKey = req.AssignedToUserKey
		ct.AssignedTeam = req.AssignedTeam
		return nil
	})
	if err != nil {
		return s.failure(ctx, "assign", tenantKey, key, err)
	}
	return ok(key, "care transition assigned")
}

func (s *Service) UpdatePriority(ctx context.Context, tenantKey string, key int64, priority string) Result {
	level, err := ParseLevel(priority)
	if err != nil {
		return s.failure(ctx, "update_priority", tenantKey, key, invalidf("invalid priority: %s", priority))
	}
	if _, err := s.mutate(ctx, tenantKey, key, nil, func(ct *CareTransition, _ time.Time) error {
		ct.Priority = &level
		return nil
	}); err != nil {
		return s.failure(ctx, "update_priority", tenantKey, key, err)
	}
	return ok(key, "priority updated")
}

func (s *Service) UpdateRiskTier(ctx context.Context, tenantKey string, key int64, riskTier string) Result {
	level, err := ParseLevel(riskTier)
	if err != nil {
		return s.failure(ctx, "update_risk_tier", tenantKey, key, invalidf("invalid risk tier: %s", riskTier))
	}
	if _, err := s.mutate(ctx, tenantKey, key, nil, func(ct *CareTransition, _ time.Time) error {
		ct.RiskTier = &level
		return nil
	}); err != nil {
		return s.failure(ctx, "update_risk_tier", tenantKey, key, err)
	}
	return ok(key, "risk tier updated")
}

// Close moves the transition to its terminal state. Closing an already
// closed transition re-stamps the close fields.
func (s *Service) Close(ctx context.Context, tenantKey string, key int64, req CloseRequest) Result {
	_, err := s.mutate(ctx, tenantKey, key, req.ExpectedVersion, func(ct *CareTransition, now time.Time) error {
		ct.Status = StatusClosed
		ct.IsActive = false
		ct.ClosedUtc = &now
		ct.CloseReason = req.Reason
		ct.ClosedByUserKey = req.ClosedByUserKey
		text := "Closed"
		if nonEmpty(req.Reason) {
			text += ": " + strings.TrimSpace(*req.Reason)
		}
		appendNoteLine(ct, formatNote(now, text))
		ct.NoteEntries = append(ct.NoteEntries, newNoteEntry(now, req.Author, text))
		return nil
	})
	if err != nil {
		return s.failure(ctx, "close", tenantKey, key, err)
	}
	s.recorder.TransitionClosed(ctx, tenantKey)
	return ok(key, "care transition closed")
}

// maxMutateAttempts bounds the retries of a write that lost a race with
// another writer of the same row.
const maxMutateAttempts = 5

// mutate runs one read-modify-write cycle: load within the tenant, apply,
// stamp lastUpdatedUtc and persist. The write only lands on the version that
// was read, so apply always sees the latest committed row and a concurrent
// writer's columns are never rolled back. Without an expected version a lost
// race is retried; with one it is reported as stale.
func (s *Service) mutate(ctx context.Context, tenantKey string, key int64, expectedVersion *int,
	apply func(ct *CareTransition, now time.Time) error) (*CareTransition, error) {
	if err := db.ValidateTenantKey(tenantKey); err != nil {
		return nil, invalidf("%s", err.Error())
	}
	if key <= 0 {
		return nil, ErrNotFound
	}
	for attempt := 1; ; attempt++ {
		ct, err := s.mutateOnce(ctx, tenantKey, key, expectedVersion, apply)
		if errors.Is(err, ErrStaleVersion) && expectedVersion == nil && attempt < maxMutateAttempts {
			s.logger.Debug().Str("tenant", tenantKey).Int64("key", key).Int("attempt", attempt).
				Msg("concurrent write detected; retrying")
			continue
		}
		if err != nil {
			return nil, err
		}
		s.invalidate(ctx, tenantKey)
		return ct, nil
	}
}

func (s *Service) mutateOnce(ctx context.Context, tenantKey string, key int64, expectedVersion *int,
	apply func(ct *CareTransition, now time.Time) error) (*CareTransition, error) {
	stored, err := s.repo.GetByKey(ctx, tenantKey, key)
	if err != nil {
		return nil, err
	}
	if err := db.GuardRow(tenantKey, stored.TenantKey); err != nil {
		return nil, ErrNotFound
	}
	if expectedVersion != nil && *expectedVersion != stored.Version {
		return nil, ErrStaleVersion
	}

	ct := stored.Clone()
	now := s.clock()
	if err := apply(ct, now); err != nil {
		return nil, err
	}
	ct.IsActive = ct.Status != StatusClosed
	if !ct.IsActive && ct.ClosedUtc == nil {
		ct.ClosedUtc = &now
	}
	ct.LastUpdatedUtc = nextStamp(stored.LastUpdatedUtc, now)

	read := stored.Version
	if err := s.repo.Update(ctx, ct, &read); err != nil {
		return nil, err
	}
	return ct, nil
}

// nextStamp keeps lastUpdatedUtc strictly increasing even when two
// mutations land within the same clock tick.
func nextStamp(prev, now time.Time) time.Time {
	if now.After(prev) {
		return now
	}
	return prev.Add(time.Microsecond)
}

func applyClassification(ct *CareTransition, priority, riskTier *string, score *int) error {
	if nonEmpty(priority) {
		l, err := ParseLevel(*priority)
		if err != nil {
			return invalidf("invalid priority: %s", *priority)
		}
		ct.Priority = &l
	}
	if nonEmpty(riskTier) {
		l, err := ParseLevel(*riskTier)
		if err != nil {
			return invalidf("invalid risk tier: %s", *riskTier)
		}
		ct.RiskTier = &l
	}
	if score != nil {
		if *score < 0 || *score > 100 {
			return invalidf("readmission_risk_score must be between 0 and 100")
		}
		v := *score
		ct.ReadmissionRiskScore = &v
	}
	return nil
}

func newNoteEntry(at time.Time, author, text string) NoteEntry {
	return NoteEntry{ID: uuid.NewString(), Timestamp: at, Author: author, Text: text}
}

// parseTime normalizes an optional wire timestamp. Malformed values are
// dropped and logged.
func (s *Service) parseTime(tenantKey, field string, v *string) *time.Time {
	t := timestamp.ParsePtr(v)
	if t == nil && nonEmpty(v) {
		s.logger.Warn().Str("tenant", tenantKey).Str("field", field).Str("value", *v).
			Msg("unparseable timestamp treated as absent")
	}
	return t
}

// overwriteTime sets *dst when the field was supplied. A supplied but
// malformed value clears the stored date.
func (s *Service) overwriteTime(tenantKey, field string, v *string, dst **time.Time) {
	if v == nil {
		return
	}
	*dst = s.parseTime(tenantKey, field, v)
}

func (s *Service) invalidate(ctx context.Context, tenantKey string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Invalidate(ctx, tenantKey); err != nil {
		s.logger.Warn().Err(err).Str("tenant", tenantKey).Msg("metrics cache invalidation failed")
	}
}

func (s *Service) failure(ctx context.Context, op, tenantKey string, key int64, err error) Result {
	err = describe(key, err)
	s.recorder.MutationFailed(ctx, tenantKey, op)
	s.logger.Error().Err(err).Str("op", op).Str("tenant", tenantKey).Int64("key", key).
		Msg("care transition mutation failed")
	return fail(key, err)
}

// describe maps an internal error onto the message callers see.
func describe(key int64, err error) error {
	switch {
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrClosed), errors.Is(err, ErrStaleVersion):
		return fmt.Errorf("care transition %d %w", key, err)
	case errors.Is(err, ErrInvalid):
		return err
	}
	return fmt.Errorf("Error: %w", err)
}

// -- Reads --

func (s *Service) Get(ctx context.Context, tenantKey string, key int64) (*CareTransition, error) {
	if err := db.ValidateTenantKey(tenantKey); err != nil {
		return nil, invalidf("%s", err.Error())
	}
	ct, err := s.repo.GetByKey(ctx, tenantKey, key)
	if err != nil {
		return nil, describe(key, err)
	}
	if err := db.GuardRow(tenantKey, ct.TenantKey); err != nil {
		return nil, describe(key, ErrNotFound)
	}
	return ct, nil
}

func (s *Service) ListByEncounter(ctx context.Context, tenantKey string, encounterKey int64) ([]*CareTransition, error) {
	return s.repo.ListByEncounter(ctx, tenantKey, encounterKey)
}

func (s *Service) ListByPatient(ctx context.Context, tenantKey string, patientKey int64) ([]*CareTransition, error) {
	return s.repo.ListByPatient(ctx, tenantKey, patientKey)
}

func (s *Service) ListByStatus(ctx context.Context, tenantKey, status string) ([]*CareTransition, error) {
	st, err := ParseStatus(status)
	if err != nil {
		return nil, err
	}
	return s.repo.ListByStatus(ctx, tenantKey, st)
}

func (s *Service) ListActive(ctx context.Context, tenantKey string) ([]*CareTransition, error) {
	return s.repo.ListActive(ctx, tenantKey)
}

func (s *Service) ListByTenant(ctx context.Context, tenantKey string, limit, offset int) ([]*CareTransition, int, error) {
	return s.repo.ListByTenant(ctx, tenantKey, limit, offset)
}
