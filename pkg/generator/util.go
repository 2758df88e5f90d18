package generator

import (
	"fmt"
	"net"
	"net/url"
	"strings"

	"github.com/shouni/netarmor/securenet"
)

// IsSafeURL は、SSRF (Server-Side Request Forgery) 対策として URL を検証します。
// 参照画像は HTTP で取得するため、スキームは http と https に限ります。
// ホストの検査は securenet に委ね、未指定アドレス (0.0.0.0, ::) もここで拒否します。
// 接続時の DNS Rebinding は go-http-kit のクライアント側で防がれます。
func IsSafeURL(rawURL string) (bool, error) {
	parsedURL, err := url.ParseRequestURI(rawURL)
	if err != nil {
		return false, fmt.Errorf("URLパース失敗: %w", err)
	}

	switch strings.ToLower(parsedURL.Scheme) {
	case securenet.SchemeHTTP, securenet.SchemeHTTPS:
	default:
		return false, fmt.Errorf("不許可スキーム: %s", parsedURL.Scheme)
	}

	if ip := net.ParseIP(parsedURL.Hostname()); ip != nil && ip.IsUnspecified() {
		return false, fmt.Errorf("制限されたネットワークへのアクセスを検知: %s", ip.String())
	}
	return securenet.IsSafeURL(rawURL)
}
