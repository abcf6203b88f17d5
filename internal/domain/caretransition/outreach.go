package caretransition

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/carebridge/tcm/pkg/timestamp"
)

// OutreachRequest records one contact attempt. OutreachAttempts is accepted
// on the wire for compatibility and ignored: the count is server-owned.
type OutreachRequest struct {
	OutreachDate      *string `json:"outreach_date,omitempty"`
	OutreachMethod    *string `json:"outreach_method,omitempty"`
	ContactOutcome    *string `json:"contact_outcome,omitempty"`
	NextOutreachDate  *string `json:"next_outreach_date,omitempty"`
	Notes             *string `json:"notes,omitempty"`
	Status            *string `json:"status,omitempty"`
	AssignedToUserKey *int64  `json:"assigned_to_user_key,omitempty"`
	OutreachAttempts  *int    `json:"outreach_attempts,omitempty"`
	ExpectedVersion   *int    `json:"expected_version,omitempty"`
	Author            string  `json:"-"`
}

// LogOutreach increments the attempt counter, stamps the outreach dates and
// appends one formatted line to the notes log.
func (s *Service) LogOutreach(ctx context.Context, tenantKey string, key int64, req OutreachRequest) Result {
	var attempt int
	_, err := s.mutate(ctx, tenantKey, key, req.ExpectedVersion, func(ct *CareTransition, now time.Time) error {
		if ct.IsClosed() {
			return ErrClosed
		}
		status := StatusInProgress
		if nonEmpty(req.Status) {
			st, err := ParseStatus(*req.Status)
			if err != nil {
				return err
			}
			if st == StatusClosed {
				return invalidf("use close to close a care transition")
			}
			status = st
		}

		ct.OutreachAttempts++
		attempt = ct.OutreachAttempts

		at := now
		if t := s.parseTime(tenantKey, "outreach_date", req.OutreachDate); t != nil {
			at = *t
		}
		ct.OutreachDate = &at
		last := at
		ct.LastOutreachDate = &last

		if nonEmpty(req.OutreachMethod) {
			ct.OutreachMethod = req.OutreachMethod
		}
		if nonEmpty(req.ContactOutcome) {
			ct.ContactOutcome = req.ContactOutcome
		}
		if req.AssignedToUserKey != nil {
			ct.AssignedToUserKey = req.AssignedToUserKey
		}
		if t := s.parseTime(tenantKey, "next_outreach_date", req.NextOutreachDate); t != nil {
			ct.NextOutreachDate = t
		}
		ct.Status = status

		text := outreachText(req)
		appendNoteLine(ct, FormatOutreachNote(now, attempt, text))
		ct.NoteEntries = append(ct.NoteEntries, newNoteEntry(now, req.Author,
			fmt.Sprintf("Outreach #%d: %s", attempt, text)))
		return nil
	})
	if err != nil {
		return s.failure(ctx, "log_outreach", tenantKey, key, err)
	}
	if req.OutreachAttempts != nil && *req.OutreachAttempts != attempt {
		s.logger.Warn().Str("tenant", tenantKey).Int64("key", key).
			Int("supplied", *req.OutreachAttempts).Int("recorded", attempt).
			Msg("client-supplied outreach attempt count ignored")
	}
	s.recorder.OutreachLogged(ctx, tenantKey)
	return ok(key, fmt.Sprintf("outreach #%d logged", attempt))
}

// FormatOutreachNote renders "[<UTC timestamp>] Outreach #N: text".
func FormatOutreachNote(at time.Time, attempt int, text string) string {
	return formatNote(at, fmt.Sprintf("Outreach #%d: %s", attempt, text))
}

func formatNote(at time.Time, text string) string {
	return "[" + at.UTC().Format(timestamp.NoteLayout) + "] " + text
}

// appendNoteLine adds line to the legacy notes log, one entry per line.
func appendNoteLine(ct *CareTransition, line string) {
	if nonEmpty(ct.Notes) {
		line = *ct.Notes + "\n" + line
	}
	ct.Notes = &line
}

func outreachText(req OutreachRequest) string {
	if nonEmpty(req.Notes) {
		return strings.TrimSpace(*req.Notes)
	}
	var parts []string
	if nonEmpty(req.OutreachMethod) {
		parts = append(parts, strings.TrimSpace(*req.OutreachMethod))
	}
	if nonEmpty(req.ContactOutcome) {
		parts = append(parts, strings.TrimSpace(*req.ContactOutcome))
	}
	if len(parts) == 0 {
		return "attempt logged"
	}
	return strings.Join(parts, " - ")
}
