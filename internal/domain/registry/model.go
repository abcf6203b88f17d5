// Package registry reads the external encounter, patient and hospital
// registries. Rows are owned by other services; nothing here writes them.
package registry

import (
	"strings"
	"time"
)

// Encounter is a hospital visit as published by the encounter registry.
type Encounter struct {
	TenantKey    string     `db:"tenant_key" json:"tenant_key"`
	EncounterKey int64      `db:"encounter_key" json:"encounter_key"`
	PatientKey   int64      `db:"patient_key" json:"patient_key"`
	HospitalKey  int64      `db:"hospital_key" json:"hospital_key"`
	VisitNumber  string     `db:"visit_number" json:"visit_number"`
	AdmitUtc     *time.Time `db:"admit_utc" json:"admit_utc,omitempty"`
	DischargeUtc *time.Time `db:"discharge_utc" json:"discharge_utc,omitempty"`
	VisitStatus  *string    `db:"visit_status" json:"visit_status,omitempty"`
}

// IsReadmission reports whether the visit status marks this encounter as a
// readmission.
func (e *Encounter) IsReadmission() bool {
	if e.VisitStatus == nil {
		return false
	}
	return strings.Contains(strings.ToLower(*e.VisitStatus), "readmi")
}

// Patient carries the display fields joined into alert rows.
type Patient struct {
	TenantKey  string  `db:"tenant_key" json:"tenant_key"`
	PatientKey int64   `db:"patient_key" json:"patient_key"`
	FirstName  string  `db:"first_name" json:"first_name"`
	LastName   string  `db:"last_name" json:"last_name"`
	MRN        *string `db:"mrn" json:"mrn,omitempty"`
}

// DisplayName renders "Last, First".
func (p *Patient) DisplayName() string {
	switch {
	case p.LastName == "":
		return p.FirstName
	case p.FirstName == "":
		return p.LastName
	}
	return p.LastName + ", " + p.FirstName
}

// Hospital carries the display fields joined into alert rows.
type Hospital struct {
	TenantKey   string  `db:"tenant_key" json:"tenant_key"`
	HospitalKey int64   `db:"hospital_key" json:"hospital_key"`
	Name        string  `db:"name" json:"name"`
	Location    *string `db:"location" json:"location,omitempty"`
}

// DisplayLocation prefers the location string and falls back to the name.
func (h *Hospital) DisplayLocation() string {
	if h.Location != nil && *h.Location != "" {
		return *h.Location
	}
	return h.Name
}
