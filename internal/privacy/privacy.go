// Package privacy scrubs credentials and private addresses from text that
// leaves the process, such as telemetry events.
package privacy

import (
	"net"
	"net/url"
	"regexp"
	"strings"
)

// Redacted replaces every scrubbed value.
const Redacted = "[REDACTED]"

var (
	urlPattern = regexp.MustCompile(`\bhttps?://[^\s"'<>]+`)

	// user:password@tcp(host:port) as written by the mysql driver
	dsnPattern = regexp.MustCompile(`[^\s:@/()]+:[^\s@/()]+@(tcp|unix)\(`)

	// key=value pairs outside of URLs, e.g. in wrapped driver errors
	pairPattern = regexp.MustCompile(`(?i)\b(api[_-]?key|key|token|password|secret|dsn)=[^\s&"']+`)
)

var sensitiveParams = map[string]bool{
	"key":          true,
	"api_key":      true,
	"apikey":       true,
	"access_token": true,
	"token":        true,
	"password":     true,
	"secret":       true,
	"sig":          true,
}

// IsSensitiveParam reports whether a query parameter carries a credential.
func IsSensitiveParam(name string) bool {
	return sensitiveParams[strings.ToLower(name)]
}

// ScrubMessage redacts URLs, connection strings and credential pairs in message.
func ScrubMessage(message string) string {
	message = urlPattern.ReplaceAllStringFunc(message, RedactURL)
	message = dsnPattern.ReplaceAllStringFunc(message, func(m string) string {
		at := strings.LastIndex(m, "@")
		return Redacted + m[at:]
	})
	return pairPattern.ReplaceAllStringFunc(message, func(m string) string {
		eq := strings.IndexByte(m, '=')
		if m[eq+1:] == Redacted {
			return m
		}
		return m[:eq+1] + Redacted
	})
}

// RedactURL removes user info and credential query values from rawURL and
// hides private hosts. Public hosts and paths are kept for debugging.
func RedactURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return Redacted
	}

	if u.User != nil {
		u.User = url.User(Redacted)
	}

	if host := categorizeHost(u.Hostname()); host != "" {
		if port := u.Port(); port != "" {
			u.Host = net.JoinHostPort(host, port)
		} else {
			u.Host = host
		}
	}

	if u.RawQuery != "" {
		q := u.Query()
		for name := range q {
			if IsSensitiveParam(name) {
				q.Set(name, Redacted)
			}
		}
		u.RawQuery = q.Encode()
	}

	// keep brackets readable in the output
	out := u.String()
	return strings.NewReplacer("%5BREDACTED%5D", Redacted).Replace(out)
}

// categorizeHost returns a placeholder for loopback and private addresses,
// or "" to keep the host.
func categorizeHost(host string) string {
	if host == "localhost" {
		return "localhost"
	}
	ip := net.ParseIP(host)
	switch {
	case ip == nil:
		return ""
	case ip.IsLoopback():
		return "localhost"
	case ip.IsPrivate(), ip.IsLinkLocalUnicast():
		return "private-ip"
	default:
		return "public-ip"
	}
}
