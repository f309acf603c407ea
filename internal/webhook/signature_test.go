package webhook

import (
	"crypto/hmac"
	"crypto/sha1" //nolint:gosec
	"encoding/hex"
)

func sha1Header(secret string, body []byte) string {
	mac := hmac.New(sha1.New, []byte(secret))
	mac.Write(body)
	return "sha1=" + hex.EncodeToString(mac.Sum(nil))
}
