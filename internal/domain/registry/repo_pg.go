package registry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/carebridge/tcm/internal/platform/db"
)

// ErrNotFound is returned when a registry row does not exist for the tenant.
var ErrNotFound = errors.New("registry row not found")

type readerPG struct{ pool *pgxpool.Pool }

func NewReaderPG(pool *pgxpool.Pool) Reader {
	return &readerPG{pool: pool}
}

const encounterCols = `tenant_key, encounter_key, patient_key, hospital_key, visit_number,
	admit_utc, discharge_utc, visit_status`

func scanEncounter(row pgx.Row) (*Encounter, error) {
	var e Encounter
	err := row.Scan(&e.TenantKey, &e.EncounterKey, &e.PatientKey, &e.HospitalKey, &e.VisitNumber,
		&e.AdmitUtc, &e.DischargeUtc, &e.VisitStatus)
	return &e, err
}

func (r *readerPG) GetEncounter(ctx context.Context, tenantKey string, encounterKey int64) (*Encounter, error) {
	if err := db.ValidateTenantKey(tenantKey); err != nil {
		return nil, err
	}
	e, err := scanEncounter(r.pool.QueryRow(ctx,
		`SELECT `+encounterCols+` FROM encounter WHERE tenant_key = $1 AND encounter_key = $2`,
		tenantKey, encounterKey))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("encounter %d: %w", encounterKey, ErrNotFound)
	}
	return e, err
}

func (r *readerPG) ListEncounters(ctx context.Context, tenantKey string, encounterKeys []int64) (map[int64]*Encounter, error) {
	out := make(map[int64]*Encounter, len(encounterKeys))
	if len(encounterKeys) == 0 {
		return out, nil
	}
	items, err := r.queryEncounters(ctx, tenantKey,
		`SELECT `+encounterCols+` FROM encounter WHERE tenant_key = $1 AND encounter_key = ANY($2)`,
		tenantKey, encounterKeys)
	if err != nil {
		return nil, err
	}
	for _, e := range items {
		out[e.EncounterKey] = e
	}
	return out, nil
}

func (r *readerPG) ListAdmittedSince(ctx context.Context, tenantKey string, since time.Time) ([]*Encounter, error) {
	return r.queryEncounters(ctx, tenantKey,
		`SELECT `+encounterCols+` FROM encounter
		WHERE tenant_key = $1 AND admit_utc >= $2
		ORDER BY admit_utc DESC`,
		tenantKey, since)
}

func (r *readerPG) queryEncounters(ctx context.Context, tenantKey, sql string, args ...interface{}) ([]*Encounter, error) {
	if err := db.ValidateTenantKey(tenantKey); err != nil {
		return nil, err
	}
	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*Encounter
	for rows.Next() {
		e, err := scanEncounter(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, e)
	}
	return items, rows.Err()
}

func (r *readerPG) ListPatients(ctx context.Context, tenantKey string, patientKeys []int64) (map[int64]*Patient, error) {
	out := make(map[int64]*Patient, len(patientKeys))
	if len(patientKeys) == 0 {
		return out, nil
	}
	if err := db.ValidateTenantKey(tenantKey); err != nil {
		return nil, err
	}
	rows, err := r.pool.Query(ctx,
		`SELECT tenant_key, patient_key, first_name, last_name, mrn
		FROM patient WHERE tenant_key = $1 AND patient_key = ANY($2)`,
		tenantKey, patientKeys)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var p Patient
		if err := rows.Scan(&p.TenantKey, &p.PatientKey, &p.FirstName, &p.LastName, &p.MRN); err != nil {
			return nil, err
		}
		out[p.PatientKey] = &p
	}
	return out, rows.Err()
}

func (r *readerPG) ListHospitals(ctx context.Context, tenantKey string, hospitalKeys []int64) (map[int64]*Hospital, error) {
	out := make(map[int64]*Hospital, len(hospitalKeys))
	if len(hospitalKeys) == 0 {
		return out, nil
	}
	if err := db.ValidateTenantKey(tenantKey); err != nil {
		return nil, err
	}
	rows, err := r.pool.Query(ctx,
		`SELECT tenant_key, hospital_key, name, location
		FROM hospital WHERE tenant_key = $1 AND hospital_key = ANY($2)`,
		tenantKey, hospitalKeys)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var h Hospital
		if err := rows.Scan(&h.TenantKey, &h.HospitalKey, &h.Name, &h.Location); err != nil {
			return nil, err
		}
		out[h.HospitalKey] = &h
	}
	return out, rows.Err()
}
