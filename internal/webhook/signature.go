package webhook

import (
	"crypto/hmac"
	"crypto/sha1" //nolint:gosec // GitHubのレガシー署名ヘッダー用
	"crypto/sha256"
	"encoding/hex"
	"hash"
	"strings"
)

// VerifySignature は "sha256=<hex>" または "sha1=<hex>" 形式の署名を定数時間で比較する。
func VerifySignature(secret string, body []byte, header string) bool {
	if secret == "" || header == "" {
		return false
	}
	algo, sig, ok := strings.Cut(header, "=")
	if !ok {
		return false
	}

	var newHash func() hash.Hash
	switch strings.ToLower(algo) {
	case "sha256":
		newHash = sha256.New
	case "sha1":
		newHash = sha1.New
	default:
		return false
	}

	want, err := hex.DecodeString(sig)
	if err != nil {
		return false
	}
	mac := hmac.New(newHash, []byte(secret))
	mac.Write(body)
	return hmac.Equal(mac.Sum(nil), want)
}

// Sign はテストやクライアント向けにsha256署名ヘッダー値を生成する。
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}
