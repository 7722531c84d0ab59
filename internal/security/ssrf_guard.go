// Package security はアプリケーションのセキュリティ機能を提供する。
package security

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/doyensec/safeurl"
)

// ErrBlockedDestination はURLの宛先がブロック対象のネットワークである場合に返される。
var ErrBlockedDestination = errors.New("blocked destination")

// SSRFGuardService はSSRF防止機能のインターフェースを定義する。
// コンパニオンのプロンプトリンク登録時と、外部LLM呼び出し用クライアントの生成に使用される。
type SSRFGuardService interface {
	// NewSafeClient はsafeurlによる宛先検証付きのHTTPクライアントを生成する。
	// DNS解決後のIPアドレスもDialerで検証される。
	NewSafeClient(timeout time.Duration) *http.Client

	// ValidateURL はDNS解決を伴わない静的なURL検証を行う。
	// 宛先がブロック対象の場合はErrBlockedDestinationをラップしたエラーを返す。
	ValidateURL(rawURL string) error
}

var allowedSchemes = []string{"http", "https"}

// blockedNetworks はValidateURLで拒否するネットワーク範囲。
var blockedNetworks = mustParseCIDRs(
	"10.0.0.0/8",
	"172.16.0.0/12",
	"192.168.0.0/16",
	"127.0.0.0/8",
	// クラウドメタデータ (169.254.169.254) を含む
	"169.254.0.0/16",
	"0.0.0.0/8",
	"::1/128",
	"fe80::/10",
	"fc00::/7",
)

var blockedHostnames = map[string]bool{
	"localhost":                true,
	"metadata.google.internal": true,
}

func mustParseCIDRs(cidrs ...string) []*net.IPNet {
	networks := make([]*net.IPNet, 0, len(cidrs))
	for _, cidr := range cidrs {
		_, network, err := net.ParseCIDR(cidr)
		if err != nil {
			panic(fmt.Sprintf("invalid CIDR in blockedNetworks: %s: %v", cidr, err))
		}
		networks = append(networks, network)
	}
	return networks
}

// SSRFGuard はSSRFGuardServiceの実装。
type SSRFGuard struct{}

// NewSSRFGuard はSSRFGuardを生成する。
func NewSSRFGuard() *SSRFGuard {
	return &SSRFGuard{}
}

// NewSafeClient はSSRF防止機能付きのHTTPクライアントを生成する。
// http/httpsの80/443番ポートのみ許可し、プライベート・ループバック・リンクローカル宛ては
// safeurlのデフォルト設定でブロックされる。
func (g *SSRFGuard) NewSafeClient(timeout time.Duration) *http.Client {
	config := safeurl.GetConfigBuilder().
		SetTimeout(timeout).
		SetAllowedSchemes(allowedSchemes...).
		SetAllowedPorts(80, 443).
		Build()

	return safeurl.Client(config).Client
}

// ValidateURL はURLの安全性を事前に検証する。
func (g *SSRFGuard) ValidateURL(rawURL string) error {
	if rawURL == "" {
		return fmt.Errorf("empty URL")
	}

	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}

	scheme := strings.ToLower(parsed.Scheme)
	if scheme != "http" && scheme != "https" {
		return fmt.Errorf("disallowed scheme: %q (allowed: %v)", scheme, allowedSchemes)
	}

	host := parsed.Hostname()
	if host == "" {
		return fmt.Errorf("empty host in URL: %s", rawURL)
	}

	if ip := net.ParseIP(host); ip != nil {
		for _, network := range blockedNetworks {
			if network.Contains(ip) {
				return fmt.Errorf("%w: %s", ErrBlockedDestination, ip)
			}
		}
		return nil
	}

	if blockedHostnames[strings.ToLower(host)] {
		return fmt.Errorf("%w: %s", ErrBlockedDestination, host)
	}

	return nil
}

var _ SSRFGuardService = (*SSRFGuard)(nil)
