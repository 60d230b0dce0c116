package security

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/doyensec/safeurl"
)

// LinkGuard は生徒が登録する証跡リンク（写真・証明書などの外部URL）を検証する。
type LinkGuard interface {
	// ValidateURL はDNS解決を伴わない静的な検証を行う。
	// http/https以外のスキーム、空ホスト、プライベート・ループバック・
	// リンクローカルアドレス、localhostを拒否する。
	ValidateURL(rawURL string) error

	// Probe はSSRF防止付きクライアントでHEADリクエストを送り、リンクが到達可能かを確認する。
	// 接続先IPはDNS解決後にも検証される。
	Probe(ctx context.Context, rawURL string) error
}

var allowedSchemes = []string{"http", "https"}

// blockedNetworks はパッケージ初期化時に1回だけパースする。
var blockedNetworks []net.IPNet

func init() {
	cidrs := []string{
		"10.0.0.0/8",
		"172.16.0.0/12",
		"192.168.0.0/16",
		"127.0.0.0/8",
		// クラウドメタデータIP (169.254.169.254) を含む
		"169.254.0.0/16",
		"0.0.0.0/8",
		"::1/128",
		"fe80::/10",
		"fc00::/7",
	}
	for _, cidr := range cidrs {
		_, network, err := net.ParseCIDR(cidr)
		if err != nil {
			panic(fmt.Sprintf("invalid CIDR in blockedNetworks: %s: %v", cidr, err))
		}
		blockedNetworks = append(blockedNetworks, *network)
	}
}

// linkGuard はLinkGuardの実装。
type linkGuard struct {
	client *http.Client
}

// NewLinkGuard はLinkGuardを生成する。timeoutはProbeのリクエストタイムアウト。
func NewLinkGuard(timeout time.Duration) *linkGuard {
	config := safeurl.GetConfigBuilder().
		SetTimeout(timeout).
		SetAllowedSchemes(allowedSchemes...).
		SetAllowedPorts(80, 443).
		Build()

	return &linkGuard{client: safeurl.Client(config).Client}
}

// ValidateURL は証跡リンクを静的に検証する。
func (g *linkGuard) ValidateURL(rawURL string) error {
	if rawURL == "" {
		return fmt.Errorf("empty URL")
	}

	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}

	scheme := strings.ToLower(parsed.Scheme)
	if !slices.Contains(allowedSchemes, scheme) {
		return fmt.Errorf("disallowed scheme: %q", scheme)
	}

	host := parsed.Hostname()
	if host == "" {
		return fmt.Errorf("empty host in URL: %s", rawURL)
	}

	if ip := net.ParseIP(host); ip != nil {
		if isBlockedIP(ip) {
			return fmt.Errorf("blocked IP address: %s", ip.String())
		}
		return nil
	}

	if strings.EqualFold(host, "localhost") || strings.HasSuffix(strings.ToLower(host), ".localhost") {
		return fmt.Errorf("blocked host: %s", host)
	}
	return nil
}

// Probe は静的検証の後、HEADリクエストで到達性を確認する。
// 4xx/5xxの応答は到達不能として扱う。
func (g *linkGuard) Probe(ctx context.Context, rawURL string) error {
	if err := g.ValidateURL(rawURL); err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, rawURL, nil)
	if err != nil {
		return fmt.Errorf("failed to build probe request: %w", err)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return fmt.Errorf("evidence link unreachable: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("evidence link returned status %d", resp.StatusCode)
	}
	return nil
}

func isBlockedIP(ip net.IP) bool {
	for _, network := range blockedNetworks {
		if network.Contains(ip) {
			return true
		}
	}
	return false
}
