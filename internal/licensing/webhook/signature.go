package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// DefaultTolerance bounds how old a signed timestamp may be before the
// delivery is rejected as a possible replay.
const DefaultTolerance = 5 * time.Minute

var (
	// ErrBadSignature covers every verification failure: missing header,
	// unparseable header, stale timestamp, or MAC mismatch. Callers map it
	// to 401 without leaking which check failed.
	ErrBadSignature = errors.New("webhook signature verification failed")
)

// signatureHeader is the parsed form of "t=<unix_ts>,v1=<hmac_hex>".
type signatureHeader struct {
	timestamp time.Time
	macs      [][]byte
}

func parseSignatureHeader(header string) (signatureHeader, error) {
	var parsed signatureHeader
	for _, part := range strings.Split(header, ",") {
		k, v, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch k {
		case "t":
			ts, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				return parsed, fmt.Errorf("parse signature timestamp: %w", err)
			}
			parsed.timestamp = time.Unix(ts, 0)
		case "v1":
			mac, err := hex.DecodeString(v)
			if err != nil {
				continue // ignore undecodable candidates, another v1 may match
			}
			parsed.macs = append(parsed.macs, mac)
		}
	}
	if parsed.timestamp.IsZero() || len(parsed.macs) == 0 {
		return parsed, errors.New("signature header missing t or v1")
	}
	return parsed, nil
}

// verifySignature checks the vendor signature over timestamp + "." + body.
// All failure modes collapse into ErrBadSignature.
func verifySignature(secret string, header string, body []byte, now time.Time, tolerance time.Duration) error {
	if strings.TrimSpace(header) == "" {
		return ErrBadSignature
	}
	parsed, err := parseSignatureHeader(header)
	if err != nil {
		return ErrBadSignature
	}
	if tolerance <= 0 {
		tolerance = DefaultTolerance
	}
	age := now.Sub(parsed.timestamp)
	if age > tolerance || age < -tolerance {
		return ErrBadSignature
	}

	expected := computeSignature(secret, parsed.timestamp, body)
	for _, mac := range parsed.macs {
		if hmac.Equal(mac, expected) {
			return nil
		}
	}
	return ErrBadSignature
}

func computeSignature(secret string, ts time.Time, body []byte) []byte {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(strconv.FormatInt(ts.Unix(), 10)))
	mac.Write([]byte("."))
	mac.Write(body)
	return mac.Sum(nil)
}

// SignPayload produces a valid signature header for the given body. Used by
// tests and local tooling to fabricate vendor deliveries.
func SignPayload(secret string, ts time.Time, body []byte) string {
	return fmt.Sprintf("t=%d,v1=%s", ts.Unix(), hex.EncodeToString(computeSignature(secret, ts, body)))
}
