package registry

import (
	"context"
	"time"
)

// Reader is the read-only contract of the external registries. Every call is
// scoped by an explicit tenant key.
type Reader interface {
	GetEncounter(ctx context.Context, tenantKey string, encounterKey int64) (*Encounter, error)
	ListEncounters(ctx context.Context, tenantKey string, encounterKeys []int64) (map[int64]*Encounter, error)
	ListAdmittedSince(ctx context.Context, tenantKey string, since time.Time) ([]*Encounter, error)
	ListPatients(ctx context.Context, tenantKey string, patientKeys []int64) (map[int64]*Patient, error)
	ListHospitals(ctx context.Context, tenantKey string, hospitalKeys []int64) (map[int64]*Hospital, error)
}
