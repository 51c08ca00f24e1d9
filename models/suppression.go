package models

// SuppressionKind identifies which lead attribute a suppression entry matches
type SuppressionKind string

const (
	SuppressionKindEmail        SuppressionKind = "email"
	SuppressionKindDomain       SuppressionKind = "domain"
	SuppressionKindIdentityHash SuppressionKind = "identity_hash"
)

// Suppression is a deny-list entry
type Suppression struct {
	ID     int64           `json:"id" db:"id"`
	Kind   SuppressionKind `json:"kind" db:"kind"`
	Value  string          `json:"value" db:"value"`
	Reason string          `json:"reason" db:"reason"`
	Active bool            `json:"active" db:"active"`
}

// TableName returns the table name for the Suppression model
func (Suppression) TableName() string {
	return "suppressions"
}

// Unsubscribe is an opt-out recorded against an email or identity hash
type Unsubscribe struct {
	ID           int64  `json:"id" db:"id"`
	Email        string `json:"email" db:"email"`
	IdentityHash string `json:"identity_hash" db:"identity_hash"`
	Active       bool   `json:"active" db:"active"`
}

// TableName returns the table name for the Unsubscribe model
func (Unsubscribe) TableName() string {
	return "unsubscribes"
}

// BlockReason explains why a lead was filtered out; empty means not blocked
type BlockReason string

const (
	BlockReasonNone         BlockReason = ""
	BlockReasonSuppressed   BlockReason = "suppressed"
	BlockReasonUnsubscribed BlockReason = "unsubscribed"
	BlockReasonNoConsent    BlockReason = "no_consent"
	BlockReasonDuplicate    BlockReason = "duplicate"
)
