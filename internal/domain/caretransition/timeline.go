package caretransition

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"
)

// Timeline event types.
const (
	EventCreated       = "Created"
	EventAssignment    = "Assignment"
	EventCommunication = "Communication"
	EventTCMContact    = "TCM Contact"
	EventOutreach      = "Outreach"
	EventAppointment   = "Appointment"
	EventClosed        = "Closed"
)

// TimelineEvent is a synthetic history entry derived from current field
// values. Overwritten values leave no trace.
type TimelineEvent struct {
	Timestamp   time.Time `json:"timestamp"`
	Type        string    `json:"type"`
	Description string    `json:"description"`
}

// BuildTimeline derives the event list for ct, sorted ascending by time.
func BuildTimeline(ct *CareTransition) []TimelineEvent {
	events := []TimelineEvent{{
		Timestamp:   ct.CreatedUtc,
		Type:        EventCreated,
		Description: fmt.Sprintf("Care transition created for visit %s", ct.VisitNumber),
	}}
	if ct.CareManagerUserKey != nil {
		events = append(events, TimelineEvent{
			Timestamp:   ct.CreatedUtc,
			Type:        EventAssignment,
			Description: fmt.Sprintf("Assigned to care manager %d", *ct.CareManagerUserKey),
		})
	}
	if ct.CommunicationSentDate != nil {
		events = append(events, TimelineEvent{
			Timestamp:   *ct.CommunicationSentDate,
			Type:        EventCommunication,
			Description: "Discharge communication sent",
		})
	}
	if ct.OutreachDate != nil {
		desc := "TCM contact"
		if nonEmpty(ct.OutreachMethod) {
			desc += " via " + *ct.OutreachMethod
		}
		events = append(events, TimelineEvent{Timestamp: *ct.OutreachDate, Type: EventTCMContact, Description: desc})
	}
	if ct.OutreachAttempts > 0 && ct.LastOutreachDate != nil {
		desc := fmt.Sprintf("%d outreach attempt(s)", ct.OutreachAttempts)
		if nonEmpty(ct.ContactOutcome) {
			desc += ", last outcome: " + *ct.ContactOutcome
		}
		events = append(events, TimelineEvent{Timestamp: *ct.LastOutreachDate, Type: EventOutreach, Description: desc})
	}
	if ct.FollowUpApptDateTime != nil {
		events = append(events, TimelineEvent{
			Timestamp:   *ct.FollowUpApptDateTime,
			Type:        EventAppointment,
			Description: "Follow-up appointment scheduled",
		})
	}
	if !ct.IsActive && ct.ClosedUtc != nil {
		desc := "Care transition closed"
		if nonEmpty(ct.CloseReason) {
			desc += ": " + *ct.CloseReason
		}
		events = append(events, TimelineEvent{Timestamp: *ct.ClosedUtc, Type: EventClosed, Description: desc})
	}

	sort.SliceStable(events, func(i, j int) bool {
		return events[i].Timestamp.Before(events[j].Timestamp)
	})
	return events
}

// Timeline loads one transition and reconstructs its events. A missing
// transition is an error; storage failures degrade to an empty list.
func (s *Service) Timeline(ctx context.Context, tenantKey string, key int64) ([]TimelineEvent, error) {
	ct, err := s.Get(ctx, tenantKey, key)
	if err != nil {
		if errors.Is(err, ErrNotFound) || errors.Is(err, ErrInvalid) {
			return nil, err
		}
		s.logger.Error().Err(err).Str("tenant", tenantKey).Int64("key", key).Msg("timeline lookup failed")
		return []TimelineEvent{}, nil
	}
	return BuildTimeline(ct), nil
}
