package models

import (
	"time"

	"github.com/google/uuid"
)

// Lease is a time-bounded, uniquely-owned lock row
type Lease struct {
	Owner      string    `json:"owner" db:"owner"`   // lease name, e.g. "aol-tick" or "campaign:42"
	Holder     string    `json:"holder" db:"holder"` // process identity
	Token      uuid.UUID `json:"-" db:"token"`
	AcquiredAt time.Time `json:"acquired_at" db:"acquired_at"`
	RenewedAt  time.Time `json:"renewed_at" db:"renewed_at"`
	ExpiresAt  time.Time `json:"expires_at" db:"expires_at"`
}

// TableName returns the table name for the Lease model
func (Lease) TableName() string {
	return "leases"
}

// IsLive reports whether the lease is still held at now
func (l *Lease) IsLive(now time.Time) bool {
	return now.Before(l.ExpiresAt)
}
