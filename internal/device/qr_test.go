package device

import (
	"testing"
	"time"
)

func TestQRTokenVerifies(t *testing.T) {
	key := []byte("bus-secret")
	now := time.UnixMilli(1_700_000_000_000)

	tok := NewQRToken("VAL-001", "FARE-STD", key, now)
	if !VerifyQR(tok, key, now.Add(5*time.Second), 30*time.Second) {
		t.Fatalf("fresh token must verify")
	}
}

func TestQRTokenRejectsTampering(t *testing.T) {
	key := []byte("bus-secret")
	now := time.UnixMilli(1_700_000_000_000)

	tok := NewQRToken("VAL-001", "FARE-STD", key, now)
	tok.FareID = "FARE-FREE"
	if VerifyQR(tok, key, now, 30*time.Second) {
		t.Fatalf("tampered token must not verify")
	}

	tok = NewQRToken("VAL-001", "FARE-STD", key, now)
	if VerifyQR(tok, []byte("other-key"), now, 30*time.Second) {
		t.Fatalf("token must not verify under another key")
	}
}

func TestQRTokenRejectsStaleAndFuture(t *testing.T) {
	key := []byte("bus-secret")
	now := time.UnixMilli(1_700_000_000_000)
	tok := NewQRToken("VAL-001", "FARE-STD", key, now)

	if VerifyQR(tok, key, now.Add(31*time.Second), 30*time.Second) {
		t.Fatalf("stale token must not verify")
	}
	if VerifyQR(tok, key, now.Add(-time.Second), 30*time.Second) {
		t.Fatalf("future-dated token must not verify")
	}
}

func TestQRBroadcasterRotation(t *testing.T) {
	b := NewQRBroadcaster("VAL-001", "FARE-STD", []byte("bus-secret"), DefaultQRRotation)

	first := b.Current()
	second := b.Rotate()
	if first.Nonce == second.Nonce {
		t.Fatalf("rotation must mint a fresh nonce")
	}
	if second.ValidatorID != "VAL-001" || second.FareID != "FARE-STD" {
		t.Fatalf("unexpected token: %+v", second)
	}
	if !VerifyQR(second, []byte("bus-secret"), time.UnixMilli(second.Timestamp), 30*time.Second) {
		t.Fatalf("rotated token must verify")
	}
}
