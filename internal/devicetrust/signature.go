package devicetrust

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Header names shared with device firmware. Do not rename.
const (
	HeaderDeviceID          = "X-Device-Id"
	HeaderTimestamp         = "X-Signature-Timestamp"
	HeaderSignature         = "X-Signature"
	HeaderRegistrationToken = "X-Registration-Token"
)

// CanonicalString builds the signed input: device id, timestamp, upper-cased
// method, query-less path and the raw body, joined by newlines. The body is
// appended verbatim and may itself contain newlines.
func CanonicalString(deviceID, timestamp, method, path string, body []byte) []byte {
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}

	var buf bytes.Buffer
	buf.Grow(len(deviceID) + len(timestamp) + len(method) + len(path) + len(body) + 4)
	buf.WriteString(deviceID)
	buf.WriteByte('\n')
	buf.WriteString(timestamp)
	buf.WriteByte('\n')
	buf.WriteString(strings.ToUpper(method))
	buf.WriteByte('\n')
	buf.WriteString(path)
	buf.WriteByte('\n')
	buf.Write(body)
	return buf.Bytes()
}

func computeMAC(secret string, canonical []byte) []byte {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(canonical)
	return mac.Sum(nil)
}

// Sign returns the lowercase hex HMAC-SHA256 of canonical under secret.
func Sign(secret string, canonical []byte) string {
	return hex.EncodeToString(computeMAC(secret, canonical))
}

// SignRequest is Sign over CanonicalString, as firmware computes it.
func SignRequest(secret, deviceID, timestamp, method, path string, body []byte) string {
	return Sign(secret, CanonicalString(deviceID, timestamp, method, path, body))
}

// checkSignature reports whether signature is the valid hex MAC of canonical.
// Comparison is constant time over the decoded digest.
func checkSignature(secret string, canonical []byte, signature string) bool {
	got, err := hex.DecodeString(strings.TrimSpace(signature))
	if err != nil || len(got) != sha256.Size {
		return false
	}
	return hmac.Equal(computeMAC(secret, canonical), got)
}
