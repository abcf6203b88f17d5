package caretransition

import (
	"strings"
	"time"
)

// Status is the lifecycle state of a care transition.
type Status string

const (
	StatusNew        Status = "New"
	StatusOpen       Status = "Open"
	StatusInProgress Status = "InProgress"
	StatusClosed     Status = "Closed"
)

// ParseStatus accepts the canonical names case-insensitively, plus the
// spaced and hyphenated spellings of InProgress.
func ParseStatus(s string) (Status, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "new":
		return StatusNew, nil
	case "open":
		return StatusOpen, nil
	case "inprogress", "in progress", "in-progress", "in_progress":
		return StatusInProgress, nil
	case "closed":
		return StatusClosed, nil
	}
	return "", invalidf("invalid status: %s", s)
}

// Level is shared by priority and risk tier.
type Level string

const (
	LevelLow    Level = "Low"
	LevelMedium Level = "Medium"
	LevelHigh   Level = "High"
)

// ParseLevel accepts Low, Medium or High case-insensitively.
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "low":
		return LevelLow, nil
	case "medium":
		return LevelMedium, nil
	case "high":
		return LevelHigh, nil
	}
	return "", invalidf("invalid level: %s", s)
}

// NoteEntry is one structured note. The list is append-only and kept in
// parallel with the formatted Notes string.
type NoteEntry struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Author    string    `json:"author,omitempty"`
	Text      string    `json:"text"`
}

// CareTransition maps to the care_transition table.
type CareTransition struct {
	Key          int64  `db:"care_transition_key" json:"care_transition_key"`
	TenantKey    string `db:"tenant_key" json:"tenant_key"`
	EncounterKey int64  `db:"encounter_key" json:"encounter_key"`
	PatientKey   int64  `db:"patient_key" json:"patient_key"`
	HospitalKey  int64  `db:"hospital_key" json:"hospital_key"`
	VisitNumber  string `db:"visit_number" json:"visit_number"`

	Status   Status `db:"status" json:"status"`
	IsActive bool   `db:"is_active" json:"is_active"`

	Priority             *Level `db:"priority" json:"priority,omitempty"`
	RiskTier             *Level `db:"risk_tier" json:"risk_tier,omitempty"`
	ReadmissionRiskScore *int   `db:"readmission_risk_score" json:"readmission_risk_score,omitempty"`

	CareManagerUserKey *int64  `db:"care_manager_user_key" json:"care_manager_user_key,omitempty"`
	AssignedToUserKey  *int64  `db:"assigned_to_user_key" json:"assigned_to_user_key,omitempty"`
	AssignedTeam       *string `db:"assigned_team" json:"assigned_team,omitempty"`

	TCMSchedule1          *time.Time `db:"tcm_schedule1" json:"tcm_schedule1,omitempty"`
	TCMSchedule2          *time.Time `db:"tcm_schedule2" json:"tcm_schedule2,omitempty"`
	FollowUpApptDateTime  *time.Time `db:"follow_up_appt_date_time" json:"follow_up_appt_date_time,omitempty"`
	CommunicationSentDate *time.Time `db:"communication_sent_date" json:"communication_sent_date,omitempty"`
	OutreachDate          *time.Time `db:"outreach_date" json:"outreach_date,omitempty"`
	LastOutreachDate      *time.Time `db:"last_outreach_date" json:"last_outreach_date,omitempty"`
	NextOutreachDate      *time.Time `db:"next_outreach_date" json:"next_outreach_date,omitempty"`

	OutreachAttempts int     `db:"outreach_attempts" json:"outreach_attempts"`
	OutreachMethod   *string `db:"outreach_method" json:"outreach_method,omitempty"`
	ContactOutcome   *string `db:"contact_outcome" json:"contact_outcome,omitempty"`

	CloseReason     *string    `db:"close_reason" json:"close_reason,omitempty"`
	ClosedByUserKey *int64     `db:"closed_by_user_key" json:"closed_by_user_key,omitempty"`
	ClosedUtc       *time.Time `db:"closed_utc" json:"closed_utc,omitempty"`

	Notes       *string     `db:"notes" json:"notes,omitempty"`
	NoteEntries []NoteEntry `db:"note_entries" json:"note_entries"`

	Version        int       `db:"version" json:"version"`
	CreatedUtc     time.Time `db:"created_utc" json:"created_utc"`
	LastUpdatedUtc time.Time `db:"last_updated_utc" json:"last_updated_utc"`
}

// IsClosed reports whether the transition reached its terminal state.
func (ct *CareTransition) IsClosed() bool { return ct.Status == StatusClosed }

// Clone returns a deep copy so callers can mutate without aliasing stored
// pointers.
func (ct *CareTransition) Clone() *CareTransition {
	cp := *ct
	cp.Priority = clonePtr(ct.Priority)
	cp.RiskTier = clonePtr(ct.RiskTier)
	cp.ReadmissionRiskScore = clonePtr(ct.ReadmissionRiskScore)
	cp.CareManagerUserKey = clonePtr(ct.CareManagerUserKey)
	cp.AssignedToUserKey = clonePtr(ct.AssignedToUserKey)
	cp.AssignedTeam = clonePtr(ct.AssignedTeam)
	cp.TCMSchedule1 = clonePtr(ct.TCMSchedule1)
	cp.TCMSchedule2 = clonePtr(ct.TCMSchedule2)
	cp.FollowUpApptDateTime = clonePtr(ct.FollowUpApptDateTime)
	cp.CommunicationSentDate = clonePtr(ct.CommunicationSentDate)
	cp.OutreachDate = clonePtr(ct.OutreachDate)
	cp.LastOutreachDate = clonePtr(ct.LastOutreachDate)
	cp.NextOutreachDate = clonePtr(ct.NextOutreachDate)
	cp.OutreachMethod = clonePtr(ct.OutreachMethod)
	cp.ContactOutcome = clonePtr(ct.ContactOutcome)
	cp.CloseReason = clonePtr(ct.CloseReason)
	cp.ClosedByUserKey = clonePtr(ct.ClosedByUserKey)
	cp.ClosedUtc = clonePtr(ct.ClosedUtc)
	cp.Notes = clonePtr(ct.Notes)
	cp.NoteEntries = append([]NoteEntry(nil), ct.NoteEntries...)
	return &cp
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

// Result is the uniform outcome of every mutation. Failures are reported
// here rather than returned as errors.
type Result struct {
	Success bool   `json:"success"`
	Key     int64  `json:"key,omitempty"`
	Message string `json:"message"`

	err error
}

// Err returns the underlying failure, nil on success.
func (r Result) Err() error { return r.err }

func ok(key int64, msg string) Result {
	return Result{Success: true, Key: key, Message: msg}
}

func fail(key int64, err error) Result {
	return Result{Success: false, Key: key, Message: err.Error(), err: err}
}

func strVal(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func nonEmpty(s *string) bool {
	return s != nil && strings.TrimSpace(*s) != ""
}
