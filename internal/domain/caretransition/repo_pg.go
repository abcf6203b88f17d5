package caretransition

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/carebridge/tcm/internal/platform/db"
)

type repoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

func (r *repoPG) conn() db.Queryable { return r.pool }

const ctCols = `care_transition_key, tenant_key, encounter_key, patient_key, hospital_key, visit_number,
	status, is_active, priority, risk_tier, readmission_risk_score,
	care_manager_user_key, assigned_to_user_key, assigned_team,
	tcm_schedule1, tcm_schedule2, follow_up_appt_date_time, communication_sent_date,
	outreach_date, last_outreach_date, next_outreach_date,
	outreach_attempts, outreach_method, contact_outcome,
	close_reason, closed_by_user_key, closed_utc,
	notes, note_entries, version, created_utc, last_updated_utc`

const ctOrder = ` ORDER BY last_updated_utc DESC, care_transition_key DESC`

func scanCareTransition(row pgx.Row) (*CareTransition, error) {
	var ct CareTransition
	var status string
	var priority, riskTier *string
	var entries []byte
	err := row.Scan(&ct.Key, &ct.TenantKey, &ct.EncounterKey, &ct.PatientKey, &ct.HospitalKey, &ct.VisitNumber,
		&status, &ct.IsActive, &priority, &riskTier, &ct.ReadmissionRiskScore,
		&ct.CareManagerUserKey, &ct.AssignedToUserKey, &ct.AssignedTeam,
		&ct.TCMSchedule1, &ct.TCMSchedule2, &ct.FollowUpApptDateTime, &ct.CommunicationSentDate,
		&ct.OutreachDate, &ct.LastOutreachDate, &ct.NextOutreachDate,
		&ct.OutreachAttempts, &ct.OutreachMethod, &ct.ContactOutcome,
		&ct.CloseReason, &ct.ClosedByUserKey, &ct.ClosedUtc,
		&ct.Notes, &entries, &ct.Version, &ct.CreatedUtc, &ct.LastUpdatedUtc)
	if err != nil {
		return nil, err
	}
	ct.Status = Status(status)
	if priority != nil {
		l := Level(*priority)
		ct.Priority = &l
	}
	if riskTier != nil {
		l := Level(*riskTier)
		ct.RiskTier = &l
	}
	if len(entries) > 0 {
		if err := json.Unmarshal(entries, &ct.NoteEntries); err != nil {
			return nil, fmt.Errorf("decode note_entries: %w", err)
		}
	}
	return &ct, nil
}

func levelArg(l *Level) *string {
	if l == nil {
		return nil
	}
	s := string(*l)
	return &s
}

func entriesArg(entries []NoteEntry) ([]byte, error) {
	if entries == nil {
		entries = []NoteEntry{}
	}
	return json.Marshal(entries)
}

func (r *repoPG) Create(ctx context.Context, ct *CareTransition) error {
	if err := db.ValidateTenantKey(ct.TenantKey); err != nil {
		return err
	}
	entries, err := entriesArg(ct.NoteEntries)
	if err != nil {
		return err
	}
	return r.conn().QueryRow(ctx, `
		INSERT INTO care_transition (tenant_key, encounter_key, patient_key, hospital_key, visit_number,
			status, is_active, priority, risk_tier, readmission_risk_score,
			care_manager_user_key, assigned_to_user_key, assigned_team,
			tcm_schedule1, tcm_schedule2, follow_up_appt_date_time, communication_sent_date,
			next_outreach_date, notes, note_entries, version, created_utc, last_updated_utc)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23)
		RETURNING care_transition_key`,
		ct.TenantKey, ct.EncounterKey, ct.PatientKey, ct.HospitalKey, ct.VisitNumber,
		string(ct.Status), ct.IsActive, levelArg(ct.Priority), levelArg(ct.RiskTier), ct.ReadmissionRiskScore,
		ct.CareManagerUserKey, ct.AssignedToUserKey, ct.AssignedTeam,
		ct.TCMSchedule1, ct.TCMSchedule2, ct.FollowUpApptDateTime, ct.CommunicationSentDate,
		ct.NextOutreachDate, ct.Notes, entries, ct.Version, ct.CreatedUtc, ct.LastUpdatedUtc,
	).Scan(&ct.Key)
}

func (r *repoPG) GetByKey(ctx context.Context, tenantKey string, key int64) (*CareTransition, error) {
	if err := db.ValidateTenantKey(tenantKey); err != nil {
		return nil, err
	}
	ct, err := scanCareTransition(r.conn().QueryRow(ctx,
		`SELECT `+ctCols+` FROM care_transition WHERE tenant_key = $1 AND care_transition_key = $2`,
		tenantKey, key))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return ct, err
}

func (r *repoPG) Update(ctx context.Context, ct *CareTransition, expectedVersion *int) error {
	if err := db.ValidateTenantKey(ct.TenantKey); err != nil {
		return err
	}
	entries, err := entriesArg(ct.NoteEntries)
	if err != nil {
		return err
	}

	sql := `
		UPDATE care_transition SET status=$3, is_active=$4, priority=$5, risk_tier=$6, readmission_risk_score=$7,
			care_manager_user_key=$8, assigned_to_user_key=$9, assigned_team=$10,
			tcm_schedule1=$11, tcm_schedule2=$12, follow_up_appt_date_time=$13, communication_sent_date=$14,
			outreach_date=$15, last_outreach_date=$16, next_outreach_date=$17,
			outreach_attempts=$18, outreach_method=$19, contact_outcome=$20,
			close_reason=$21, closed_by_user_key=$22, closed_utc=$23,
			notes=$24, note_entries=$25, last_updated_utc=$26, version = version + 1
		WHERE tenant_key = $1 AND care_transition_key = $2`
	args := []interface{}{
		ct.TenantKey, ct.Key,
		string(ct.Status), ct.IsActive, levelArg(ct.Priority), levelArg(ct.RiskTier), ct.ReadmissionRiskScore,
		ct.CareManagerUserKey, ct.AssignedToUserKey, ct.AssignedTeam,
		ct.TCMSchedule1, ct.TCMSchedule2, ct.FollowUpApptDateTime, ct.CommunicationSentDate,
		ct.OutreachDate, ct.LastOutreachDate, ct.NextOutreachDate,
		ct.OutreachAttempts, ct.OutreachMethod, ct.ContactOutcome,
		ct.CloseReason, ct.ClosedByUserKey, ct.ClosedUtc,
		ct.Notes, entries, ct.LastUpdatedUtc,
	}
	if expectedVersion != nil {
		sql += ` AND version = $27`
		args = append(args, *expectedVersion)
	}
	sql += ` RETURNING version`

	err = r.conn().QueryRow(ctx, sql, args...).Scan(&ct.Version)
	if errors.Is(err, pgx.ErrNoRows) {
		if expectedVersion == nil {
			return ErrNotFound
		}
		// Distinguish a missing row from a stale one.
		if _, getErr := r.GetByKey(ctx, ct.TenantKey, ct.Key); getErr != nil {
			return getErr
		}
		return ErrStaleVersion
	}
	return err
}

func (r *repoPG) list(ctx context.Context, tenantKey, where string, args ...interface{}) ([]*CareTransition, error) {
	return r.query(ctx, tenantKey, `SELECT `+ctCols+` FROM care_transition WHERE `+where+ctOrder, args...)
}

func (r *repoPG) query(ctx context.Context, tenantKey, sql string, args ...interface{}) ([]*CareTransition, error) {
	if err := db.ValidateTenantKey(tenantKey); err != nil {
		return nil, err
	}
	rows, err := r.conn().Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*CareTransition
	for rows.Next() {
		ct, err := scanCareTransition(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, ct)
	}
	return items, rows.Err()
}

func (r *repoPG) ListByEncounter(ctx context.Context, tenantKey string, encounterKey int64) ([]*CareTransition, error) {
	return r.list(ctx, tenantKey, `tenant_key = $1 AND encounter_key = $2`, tenantKey, encounterKey)
}

func (r *repoPG) ListByPatient(ctx context.Context, tenantKey string, patientKey int64) ([]*CareTransition, error) {
	return r.list(ctx, tenantKey, `tenant_key = $1 AND patient_key = $2`, tenantKey, patientKey)
}

func (r *repoPG) ListByStatus(ctx context.Context, tenantKey string, status Status) ([]*CareTransition, error) {
	return r.list(ctx, tenantKey, `tenant_key = $1 AND status = $2`, tenantKey, string(status))
}

func (r *repoPG) ListActive(ctx context.Context, tenantKey string) ([]*CareTransition, error) {
	return r.list(ctx, tenantKey, `tenant_key = $1 AND is_active`, tenantKey)
}

func (r *repoPG) ListByTenant(ctx context.Context, tenantKey string, limit, offset int) ([]*CareTransition, int, error) {
	if err := db.ValidateTenantKey(tenantKey); err != nil {
		return nil, 0, err
	}
	var total int
	if err := r.conn().QueryRow(ctx,
		`SELECT COUNT(*) FROM care_transition WHERE tenant_key = $1`, tenantKey).Scan(&total); err != nil {
		return nil, 0, err
	}
	items, err := r.query(ctx, tenantKey,
		`SELECT `+ctCols+` FROM care_transition WHERE tenant_key = $1`+ctOrder+` LIMIT $2 OFFSET $3`,
		tenantKey, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

func (r *repoPG) ListCreatedBetween(ctx context.Context, tenantKey string, from, to *time.Time) ([]*CareTransition, error) {
	conds := []string{`tenant_key = $1`}
	args := []interface{}{tenantKey}
	if from != nil {
		args = append(args, *from)
		conds = append(conds, fmt.Sprintf("created_utc >= $%d", len(args)))
	}
	if to != nil {
		args = append(args, *to)
		conds = append(conds, fmt.Sprintf("created_utc <= $%d", len(args)))
	}
	return r.list(ctx, tenantKey, strings.Join(conds, " AND "), args...)
}
