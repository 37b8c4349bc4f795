package webhook

import (
	"strconv"
	"testing"
	"time"
)

func fixedVerifier(now time.Time) *Verifier {
	v := NewVerifier("test-secret", 5*time.Minute)
	v.Now = func() time.Time { return now }
	return v
}

func TestVerifier_AcceptsFreshSignature(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	v := fixedVerifier(now)

	body := []byte(`{"event_id":"e1"}`)
	ts := strconv.FormatInt(now.Add(-time.Minute).Unix(), 10)
	sig := v.Sign(body, ts)

	ok, reason := v.Verify(body, sig, ts)
	if !ok {
		t.Fatalf("expected valid signature, got %s", reason)
	}
	if reason != ReasonValid {
		t.Fatalf("expected VALID reason, got %s", reason)
	}
}

func TestVerifier_RejectsTamperedBody(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	v := fixedVerifier(now)

	ts := strconv.FormatInt(now.Unix(), 10)
	sig := v.Sign([]byte(`{"event_id":"e1"}`), ts)

	ok, reason := v.Verify([]byte(`{"event_id":"e1","amount":9999}`), sig, ts)
	if ok {
		t.Fatal("expected tampered body to be rejected")
	}
	if reason != ReasonSignatureMismatch {
		t.Fatalf("expected SIGNATURE_MISMATCH, got %s", reason)
	}
}

func TestVerifier_RejectsExpiredTimestamp(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	v := fixedVerifier(now)

	body := []byte(`{"event_id":"e1"}`)
	ts := strconv.FormatInt(now.Add(-10*time.Minute).Unix(), 10)
	sig := v.Sign(body, ts)

	ok, reason := v.Verify(body, sig, ts)
	if ok {
		t.Fatal("expected stale timestamp to be rejected")
	}
	if reason != ReasonExpiredTimestamp {
		t.Fatalf("expected EXPIRED_TIMESTAMP, got %s", reason)
	}
}

func TestVerifier_RejectsFutureTimestampOutsideSkew(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	v := fixedVerifier(now)

	body := []byte(`{}`)
	ts := strconv.FormatInt(now.Add(10*time.Minute).Unix(), 10)
	sig := v.Sign(body, ts)

	ok, reason := v.Verify(body, sig, ts)
	if ok {
		t.Fatal("expected future timestamp to be rejected")
	}
	if reason != ReasonExpiredTimestamp {
		t.Fatalf("expected EXPIRED_TIMESTAMP, got %s", reason)
	}
}

func TestVerifier_MalformedTimestamp(t *testing.T) {
	v := fixedVerifier(time.Now())

	ok, reason := v.Verify([]byte(`{}`), "sig", "not-a-number")
	if ok {
		t.Fatal("expected malformed timestamp to be rejected")
	}
	if reason != ReasonMalformedTimestamp {
		t.Fatalf("expected MALFORMED_TIMESTAMP, got %s", reason)
	}
}

func TestVerifier_MissingSignature(t *testing.T) {
	v := fixedVerifier(time.Now())

	ok, reason := v.Verify([]byte(`{}`), "", "123")
	if ok {
		t.Fatal("expected missing signature to fail verification")
	}
	if reason != ReasonMissingSignature {
		t.Fatalf("expected MISSING_SIGNATURE, got %s", reason)
	}
}
