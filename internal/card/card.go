package card

// Status models the card lifecycle. A card is issued UNINITIALIZED, becomes
// ACTIVE through the issuing flow and may only move between ACTIVE and BLOCKED
// through an administrative action.
type Status string

const (
	StatusUninitialized Status = "UNINITIALIZED"
	StatusActive        Status = "ACTIVE"
	StatusBlocked       Status = "BLOCKED"
)

// SchemaVersion is the current card payload schema version.
const SchemaVersion = 1

// State is the authoritative content of a fare card as stored on the card
// medium. Amounts are in the smallest currency unit. Every field except
// IntegrityTag feeds the tag computation; mutating any of them without
// re-stamping makes the state unverifiable.
type State struct {
	UID          string `json:"uid"`
	Version      int    `json:"version"`
	Balance      int64  `json:"balance"`
	TxCounter    int64  `json:"txCounter"`
	Status       Status `json:"status"`
	IssuerKeyID  string `json:"issuerKeyId"`
	LastTapTime  int64  `json:"lastTapTime"`
	IntegrityTag string `json:"integrityTag"`
}

// NewUninitialized returns the factory state for a freshly issued card.
func NewUninitialized(uid, issuerKeyID string) State {
	return State{
		UID:         uid,
		Version:     SchemaVersion,
		Balance:     0,
		TxCounter:   0,
		Status:      StatusUninitialized,
		IssuerKeyID: issuerKeyID,
	}
}
