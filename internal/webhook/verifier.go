package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"strconv"
	"time"
)

const defaultMaxSkew = 5 * time.Minute

// Reason explains a verification outcome.
type Reason string

const (
	ReasonValid              Reason = "VALID"
	ReasonMissingSignature   Reason = "MISSING_SIGNATURE"
	ReasonMalformedTimestamp Reason = "MALFORMED_TIMESTAMP"
	ReasonExpiredTimestamp   Reason = "EXPIRED_TIMESTAMP"
	ReasonSignatureMismatch  Reason = "SIGNATURE_MISMATCH"
)

// Verifier checks that an inbound webhook was signed by the provider
// and falls inside the replay window. Verification is a pure function
// plus a clock read; policy (strict vs permissive on missing
// signatures) is the caller's concern.
type Verifier struct {
	Secret  string
	MaxSkew time.Duration
	Now     func() time.Time
}

func NewVerifier(secret string, maxSkew time.Duration) *Verifier {
	if maxSkew <= 0 {
		maxSkew = defaultMaxSkew
	}
	return &Verifier{
		Secret:  secret,
		MaxSkew: maxSkew,
		Now:     func() time.Time { return time.Now().UTC() },
	}
}

// Verify computes HMAC-SHA256 over "timestamp.body" with the shared
// secret and compares it against the signature header in constant
// time. The timestamp header is unix seconds.
func (v *Verifier) Verify(rawBody []byte, signature, timestamp string) (bool, Reason) {
	if signature == "" {
		return false, ReasonMissingSignature
	}

	ts, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return false, ReasonMalformedTimestamp
	}

	now := v.Now().Unix()
	skew := now - ts
	if skew < 0 {
		skew = -skew
	}
	if time.Duration(skew)*time.Second > v.maxSkew() {
		return false, ReasonExpiredTimestamp
	}

	expected := v.sign(rawBody, timestamp)
	if !hmac.Equal([]byte(expected), []byte(signature)) {
		return false, ReasonSignatureMismatch
	}
	return true, ReasonValid
}

func (v *Verifier) sign(rawBody []byte, timestamp string) string {
	mac := hmac.New(sha256.New, []byte(v.Secret))
	mac.Write([]byte(timestamp))
	mac.Write([]byte("."))
	mac.Write(rawBody)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func (v *Verifier) maxSkew() time.Duration {
	if v.MaxSkew > 0 {
		return v.MaxSkew
	}
	return defaultMaxSkew
}

// Sign is exported for tests and for the provider simulator in dev
// tooling; production code only verifies.
func (v *Verifier) Sign(rawBody []byte, timestamp string) string {
	return v.sign(rawBody, timestamp)
}
