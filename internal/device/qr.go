package device

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultQRRotation is how often the broadcast token is regenerated.
const DefaultQRRotation = 20 * time.Second

// QRToken is the validator-side broadcast a passenger app scans to verify the
// validator's authenticity before paying by QR. It is signed with the same
// device key as card tags, so the passenger side can check it offline.
type QRToken struct {
	ValidatorID string `json:"validatorId"`
	FareID      string `json:"fareId"`
	Timestamp   int64  `json:"timestamp"`
	Nonce       string `json:"nonce"`
	Signature   string `json:"signature"`
}

func qrPayload(t QRToken) string {
	return fmt.Sprintf("%s|%s|%d|%s", t.ValidatorID, t.FareID, t.Timestamp, t.Nonce)
}

func signQR(t QRToken, deviceKey []byte) string {
	mac := hmac.New(sha256.New, deviceKey)
	mac.Write([]byte(qrPayload(t)))
	return hex.EncodeToString(mac.Sum(nil))
}

// NewQRToken mints a signed token for the validator at the given instant.
func NewQRToken(validatorID, fareID string, deviceKey []byte, now time.Time) QRToken {
	t := QRToken{
		ValidatorID: validatorID,
		FareID:      fareID,
		Timestamp:   now.UnixMilli(),
		Nonce:       uuid.NewString(),
	}
	t.Signature = signQR(t, deviceKey)
	return t
}

// VerifyQR checks the token signature and freshness. Tokens older than maxAge
// (or from the future) are rejected even when correctly signed, since a stale
// token may have been relayed.
func VerifyQR(t QRToken, deviceKey []byte, now time.Time, maxAge time.Duration) bool {
	sig, err := hex.DecodeString(t.Signature)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, deviceKey)
	mac.Write([]byte(qrPayload(t)))
	if !hmac.Equal(sig, mac.Sum(nil)) {
		return false
	}
	age := now.UnixMilli() - t.Timestamp
	return age >= 0 && age <= maxAge.Milliseconds()
}

// QRBroadcaster keeps a current signed token and rotates it on an interval.
type QRBroadcaster struct {
	mu          sync.RWMutex
	current     QRToken
	validatorID string
	fareID      string
	deviceKey   []byte
	interval    time.Duration
	now         func() time.Time
}

// NewQRBroadcaster builds a broadcaster with an initial token already minted.
func NewQRBroadcaster(validatorID, fareID string, deviceKey []byte, interval time.Duration) *QRBroadcaster {
	if interval <= 0 {
		interval = DefaultQRRotation
	}
	b := &QRBroadcaster{
		validatorID: validatorID,
		fareID:      fareID,
		deviceKey:   deviceKey,
		interval:    interval,
		now:         time.Now,
	}
	b.Rotate()
	return b
}

// Current returns the token currently on display.
func (b *QRBroadcaster) Current() QRToken {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.current
}

// Rotate mints a replacement token immediately.
func (b *QRBroadcaster) Rotate() QRToken {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.current = NewQRToken(b.validatorID, b.fareID, b.deviceKey, b.now())
	return b.current
}

// SetFareID updates the fare carried in subsequently minted tokens.
func (b *QRBroadcaster) SetFareID(fareID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.fareID = fareID
}

// Run rotates the token on the configured interval until ctx is cancelled.
func (b *QRBroadcaster) Run(ctx context.Context) {
	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			b.Rotate()
		}
	}
}
