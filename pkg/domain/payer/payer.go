// Package payer holds the read-side views of payers and tenants consumed by
// the engine. Both are owned by the surrounding administrative platform.
package payer

import (
	"time"
	_ "time/tzdata"

	"github.com/google/uuid"
)

// Payer is a contributing member of a tenant.
type Payer struct {
	ID           uuid.UUID
	TenantID     uuid.UUID
	Name         string
	Email        string
	Phone        string
	DueDay       int
	Active       bool
	RegisteredAt time.Time
}

// Tenant is a church-network organization with its own calendar and locale.
type Tenant struct {
	ID       uuid.UUID
	Name     string
	Timezone string
	Locale   string
	Currency string
}

// DefaultTimezone is used when a tenant has no valid IANA zone configured.
const DefaultTimezone = "America/Sao_Paulo"

// Location resolves the tenant calendar, falling back to DefaultTimezone.
func (t *Tenant) Location() *time.Location {
	if loc, err := time.LoadLocation(t.Timezone); err == nil && t.Timezone != "" {
		return loc
	}
	loc, err := time.LoadLocation(DefaultTimezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// Address is a resolved postal code.
type Address struct {
	PostalCode   string `json:"postal_code"`
	Street       string `json:"street"`
	Neighborhood string `json:"neighborhood"`
	City         string `json:"city"`
	State        string `json:"state"`
}
