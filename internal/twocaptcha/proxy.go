package twocaptcha

import (
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
)

const defaultProxyScheme = "socks5"

var proxySchemes = map[string]bool{
	"http":   true,
	"https":  true,
	"socks4": true,
	"socks5": true,
}

// Proxy is the proxy the solving worker should use to load the page.
type Proxy struct {
	Type     string
	Address  string
	Port     int
	Login    string
	Password string
}

// ParseProxy parses scheme://[user:pass@]host:port. A bare host:port is
// treated as socks5.
func ParseProxy(raw string) (*Proxy, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, fmt.Errorf("empty proxy")
	}
	if !strings.Contains(raw, "://") {
		raw = defaultProxyScheme + "://" + raw
	}

	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid proxy: %w", err)
	}
	scheme := strings.ToLower(u.Scheme)
	if !proxySchemes[scheme] {
		return nil, fmt.Errorf("unsupported proxy scheme %q", u.Scheme)
	}

	host, portStr, err := net.SplitHostPort(u.Host)
	if err != nil {
		return nil, fmt.Errorf("invalid proxy address %q: %w", u.Host, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port <= 0 || port > 65535 {
		return nil, fmt.Errorf("invalid proxy port %q", portStr)
	}
	if host == "" {
		return nil, fmt.Errorf("invalid proxy address %q", u.Host)
	}

	p := &Proxy{Type: scheme, Address: host, Port: port}
	if u.User != nil {
		p.Login = u.User.Username()
		p.Password, _ = u.User.Password()
	}
	return p, nil
}

func (p *Proxy) String() string {
	if p == nil {
		return ""
	}
	return fmt.Sprintf("%s://%s", p.Type, net.JoinHostPort(p.Address, strconv.Itoa(p.Port)))
}
