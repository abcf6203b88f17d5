package caretransition

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestLogOutreach_IgnoresClientAttemptCount(t *testing.T) {
	svc, _, clock := newTestService()
	ctx := context.Background()
	key := mustCreate(t, svc, "t1", validCreate())

	for i, supplied := range []int{0, 50, -3} {
		clock.advance(time.Minute)
		before := mustGet(t, svc, "t1", key).OutreachAttempts
		r := svc.LogOutreach(ctx, "t1", key, OutreachRequest{OutreachAttempts: intPtr(supplied)})
		if !r.Success {
			t.Fatalf("attempt %d failed: %s", i, r.Message)
		}
		after := mustGet(t, svc, "t1", key).OutreachAttempts
		if after != before+1 {
			t.Errorf("attempt %d: expected %d, got %d", i, before+1, after)
		}
	}
}

func TestLogOutreach_Fields(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()
	key := mustCreate(t, svc, "t1", validCreate())

	r := svc.LogOutreach(ctx, "t1", key, OutreachRequest{
		OutreachDate:      strPtr("2025-03-09T15:00:00Z"),
		OutreachMethod:    strPtr("phone"),
		ContactOutcome:    strPtr("voicemail"),
		NextOutreachDate:  strPtr("20250312"),
		AssignedToUserKey: i64Ptr(9),
		Status:            strPtr("Open"),
	})
	if !r.Success {
		t.Fatalf("outreach failed: %s", r.Message)
	}
	ct := mustGet(t, svc, "t1", key)
	at := time.Date(2025, 3, 9, 15, 0, 0, 0, time.UTC)
	if ct.OutreachDate == nil || !ct.OutreachDate.Equal(at) || ct.LastOutreachDate == nil || !ct.LastOutreachDate.Equal(at) {
		t.Errorf("expected outreach dates %v, got %v / %v", at, ct.OutreachDate, ct.LastOutreachDate)
	}
	if strVal(ct.OutreachMethod) != "phone" || strVal(ct.ContactOutcome) != "voicemail" {
		t.Errorf("unexpected method/outcome %q/%q", strVal(ct.OutreachMethod), strVal(ct.ContactOutcome))
	}
	if ct.NextOutreachDate == nil || !ct.NextOutreachDate.Equal(time.Date(2025, 3, 12, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("unexpected next outreach %v", ct.NextOutreachDate)
	}
	if ct.AssignedToUserKey == nil || *ct.AssignedToUserKey != 9 {
		t.Errorf("expected reassignment to 9, got %v", ct.AssignedToUserKey)
	}
	if ct.Status != StatusOpen {
		t.Errorf("expected supplied status Open, got %s", ct.Status)
	}
}

func TestLogOutreach_DefaultsToNowAndKeepsUnsuppliedFields(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()
	req := validCreate()
	req.AssignedToUserKey = i64Ptr(4)
	key := mustCreate(t, svc, "t1", req)

	svc.LogOutreach(ctx, "t1", key, OutreachRequest{OutreachMethod: strPtr("sms")})
	svc.LogOutreach(ctx, "t1", key, OutreachRequest{OutreachDate: strPtr("not-a-date")})

	ct := mustGet(t, svc, "t1", key)
	if ct.OutreachDate == nil || !ct.OutreachDate.Equal(baseTime) {
		t.Errorf("expected outreach date defaulted to now, got %v", ct.OutreachDate)
	}
	if strVal(ct.OutreachMethod) != "sms" {
		t.Errorf("expected method kept, got %q", strVal(ct.OutreachMethod))
	}
	if ct.AssignedToUserKey == nil || *ct.AssignedToUserKey != 4 {
		t.Errorf("expected assignee kept, got %v", ct.AssignedToUserKey)
	}
	if ct.Status != StatusInProgress {
		t.Errorf("expected InProgress default, got %s", ct.Status)
	}
}

func TestLogOutreach_AppendsNotes(t *testing.T) {
	svc, _, clock := newTestService()
	ctx := context.Background()
	req := validCreate()
	req.Notes = strPtr("created from ADT feed")
	key := mustCreate(t, svc, "t1", req)

	svc.LogOutreach(ctx, "t1", key, OutreachRequest{OutreachMethod: strPtr("phone"), ContactOutcome: strPtr("reached"), Author: "u1"})
	clock.advance(24 * time.Hour)
	svc.LogOutreach(ctx, "t1", key, OutreachRequest{Notes: strPtr("left message")})
	svc.LogOutreach(ctx, "t1", key, OutreachRequest{})

	ct := mustGet(t, svc, "t1", key)
	lines := strings.Split(strVal(ct.Notes), "\n")
	want := []string{
		"created from ADT feed",
		"[2025-03-10 12:00:00 UTC] Outreach #1: phone - reached",
		"[2025-03-11 12:00:00 UTC] Outreach #2: left message",
		"[2025-03-11 12:00:00 UTC] Outreach #3: attempt logged",
	}
	if len(lines) != len(want) {
		t.Fatalf("expected %d lines, got %d: %q", len(want), len(lines), lines)
	}
	for i := range want {
		if lines[i] != want[i] {
			t.Errorf("line %d: expected %q, got %q", i, want[i], lines[i])
		}
	}

	if len(ct.NoteEntries) != 4 {
		t.Fatalf("expected 4 note entries, got %d", len(ct.NoteEntries))
	}
	if ct.NoteEntries[1].Author != "u1" || ct.NoteEntries[1].Text != "Outreach #1: phone - reached" {
		t.Errorf("unexpected entry %+v", ct.NoteEntries[1])
	}
	if ct.NoteEntries[1].ID == "" || ct.NoteEntries[1].ID == ct.NoteEntries[2].ID {
		t.Error("expected unique entry ids")
	}
}

func TestLogOutreach_ClosedRejected(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()
	key := mustCreate(t, svc, "t1", validCreate())
	svc.Close(ctx, "t1", key, CloseRequest{})

	r := svc.LogOutreach(ctx, "t1", key, OutreachRequest{})
	if r.Success || !errors.Is(r.Err(), ErrClosed) {
		t.Fatalf("expected closed rejection, got %+v", r)
	}
	if r.Message != "care transition 1 is closed" {
		t.Errorf("unexpected message %q", r.Message)
	}
	if ct := mustGet(t, svc, "t1", key); ct.OutreachAttempts != 0 {
		t.Errorf("closed transition counted an attempt: %d", ct.OutreachAttempts)
	}
}

func TestLogOutreach_StatusClosedRejected(t *testing.T) {
	svc, _, _ := newTestService()
	key := mustCreate(t, svc, "t1", validCreate())
	r := svc.LogOutreach(context.Background(), "t1", key, OutreachRequest{Status: strPtr("closed")})
	if r.Success || !errors.Is(r.Err(), ErrInvalid) {
		t.Fatalf("expected invalid status, got %+v", r)
	}
}

func TestLogOutreach_NotFound(t *testing.T) {
	svc, _, _ := newTestService()
	r := svc.LogOutreach(context.Background(), "t1", 77, OutreachRequest{})
	if r.Success || r.Message != "care transition 77 not found" {
		t.Fatalf("unexpected result %+v", r)
	}
}

func TestLogOutreach_RecordsCounter(t *testing.T) {
	svc, _, _ := newTestService()
	rec := &countingRecorder{}
	svc.SetRecorder(rec)
	key := mustCreate(t, svc, "t1", validCreate())
	svc.LogOutreach(context.Background(), "t1", key, OutreachRequest{})
	svc.LogOutreach(context.Background(), "t1", 999, OutreachRequest{})
	if rec.outreach != 1 || rec.failures["log_outreach"] != 1 {
		t.Errorf("unexpected counters %+v", rec)
	}
}

func TestFormatOutreachNote(t *testing.T) {
	at := time.Date(2025, 1, 15, 8, 30, 0, 0, time.FixedZone("EST", -5*3600))
	got := FormatOutreachNote(at, 2, "email - bounced")
	if got != "[2025-01-15 13:30:00 UTC] Outreach #2: email - bounced" {
		t.Errorf("unexpected note %q", got)
	}
}
