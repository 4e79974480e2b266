package payment

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
	"time"

	"github.com/go-faster/errors"
)

// Signature verification errors.
var (
	ErrMalformedSignature = errors.New("malformed webhook signature header")
	ErrSignatureMismatch  = errors.New("webhook signature mismatch")
	ErrSignatureExpired   = errors.New("webhook signature timestamp outside tolerance")
)

// DefaultSignatureTolerance bounds how old a webhook signature may be.
const DefaultSignatureTolerance = 5 * time.Minute

// VerifySignature checks a gateway webhook signature header of the form
// "t=<unix>,v1=<hex hmac>" against the raw request body. The signed payload
// is "<unix>.<body>" and the MAC is HMAC-SHA256 under the endpoint secret.
// Comparison is constant-time.
func VerifySignature(body []byte, header string, secret []byte, now time.Time, tolerance time.Duration) error {
	var (
		timestamp int64
		sigs      [][]byte
	)

	for _, part := range strings.Split(header, ",") {
		key, value, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			return ErrMalformedSignature
		}
		switch key {
		case "t":
			ts, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return ErrMalformedSignature
			}
			timestamp = ts
		case "v1":
			sig, err := hex.DecodeString(value)
			if err != nil {
				return ErrMalformedSignature
			}
			sigs = append(sigs, sig)
		}
	}

	if timestamp == 0 || len(sigs) == 0 {
		return ErrMalformedSignature
	}

	age := now.Sub(time.Unix(timestamp, 0))
	if age > tolerance || age < -tolerance {
		return ErrSignatureExpired
	}

	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(strconv.FormatInt(timestamp, 10)))
	mac.Write([]byte("."))
	mac.Write(body)
	expected := mac.Sum(nil)

	for _, sig := range sigs {
		if hmac.Equal(expected, sig) {
			return nil
		}
	}
	return ErrSignatureMismatch
}

// SignPayload produces a signature header for the given body, used by tests
// and by the local development webhook replayer.
func SignPayload(body []byte, secret []byte, at time.Time) string {
	ts := strconv.FormatInt(at.Unix(), 10)
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(ts))
	mac.Write([]byte("."))
	mac.Write(body)
	return "t=" + ts + ",v1=" + hex.EncodeToString(mac.Sum(nil))
}
