package middleware

import (
	"net/http"
	"strings"
)

const HeaderFingerprint = "X-Device-Fingerprint"

// Fingerprint returns the device fingerprint sent by the client, or "".
func Fingerprint(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get(HeaderFingerprint))
}
