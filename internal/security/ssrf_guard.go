// Package security はSSRF防止と表示用テキストの無害化を提供する。
package security

import (
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/doyensec/safeurl"
)

// OutboundGuard は外部HTTP呼び出しの宛先を制限する。
// GitHubのAPIとrawコンテンツ取得に使用する。
type OutboundGuard interface {
	// NewSafeClient はプライベート・ループバック・リンクローカル宛ての接続を
	// ダイアル時に拒否するHTTPクライアントを返す。
	NewSafeClient(timeout time.Duration) *http.Client

	// ValidateEndpoint は設定されたエンドポイントURLを静的に検証する。
	ValidateEndpoint(rawURL string) error
}

var allowedSchemes = []string{"http", "https"}

// deniedNetworks はValidateEndpointで拒否するアドレス範囲。
var deniedNetworks = mustParseCIDRs(
	"10.0.0.0/8", "172.16.0.0/12", "192.168.0.0/16", // RFC 1918
	"127.0.0.0/8", "::1/128", // ループバック
	"169.254.0.0/16", "fe80::/10", // リンクローカル（メタデータIPを含む）
	"0.0.0.0/8",
	"fc00::/7",
)

func mustParseCIDRs(cidrs ...string) []*net.IPNet {
	nets := make([]*net.IPNet, 0, len(cidrs))
	for _, cidr := range cidrs {
		_, n, err := net.ParseCIDR(cidr)
		if err != nil {
			panic(fmt.Sprintf("invalid CIDR %s: %v", cidr, err))
		}
		nets = append(nets, n)
	}
	return nets
}

type outboundGuard struct{}

// NewOutboundGuard はOutboundGuardを生成する。
func NewOutboundGuard() OutboundGuard {
	return outboundGuard{}
}

// NewSafeClient はsafeurlで包んだHTTPクライアントを返す。
// DNS解決後のIPアドレスもDialerで検証される。
func (outboundGuard) NewSafeClient(timeout time.Duration) *http.Client {
	cfg := safeurl.GetConfigBuilder().
		SetTimeout(timeout).
		SetAllowedSchemes(allowedSchemes...).
		SetAllowedPorts(80, 443).
		Build()
	return safeurl.Client(cfg).Client
}

// ValidateEndpoint はスキーム・ホスト・IPアドレス範囲を検証する。
func (outboundGuard) ValidateEndpoint(rawURL string) error {
	if rawURL == "" {
		return fmt.Errorf("empty URL")
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}

	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return fmt.Errorf("disallowed scheme: %q", u.Scheme)
	}

	host := u.Hostname()
	switch {
	case host == "":
		return fmt.Errorf("empty host in URL: %s", rawURL)
	case strings.EqualFold(host, "localhost"):
		return fmt.Errorf("blocked host: %s", host)
	}

	if ip := net.ParseIP(host); ip != nil {
		for _, n := range deniedNetworks {
			if n.Contains(ip) {
				return fmt.Errorf("blocked IP address: %s", ip)
			}
		}
	}
	return nil
}
