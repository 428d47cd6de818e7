package middleware

import (
	"fmt"
	"net"
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/gluk-w/pingmatrix/internal/logutil"
	"github.com/gluk-w/pingmatrix/internal/respond"
)

// Allowlist holds the networks permitted to submit measurements.
type Allowlist struct {
	CIDRs []*net.IPNet
	IPs   []net.IP
	// Raw is the unparsed comma-separated string, kept for logging.
	Raw string
}

// ParseAllowlist parses a comma-separated list of IP addresses and CIDR
// ranges, e.g. "127.0.0.0/8, ::1, 44.24.240.0/20". An empty list allows
// nothing.
func ParseAllowlist(csv string) (*Allowlist, error) {
	a := &Allowlist{Raw: strings.TrimSpace(csv)}
	for _, entry := range strings.Split(csv, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		if strings.Contains(entry, "/") {
			_, ipNet, err := net.ParseCIDR(entry)
			if err != nil {
				return nil, fmt.Errorf("invalid CIDR %q: %w", entry, err)
			}
			a.CIDRs = append(a.CIDRs, ipNet)
			continue
		}
		ip := net.ParseIP(entry)
		if ip == nil {
			return nil, fmt.Errorf("invalid IP address %q", entry)
		}
		a.IPs = append(a.IPs, ip)
	}
	return a, nil
}

// Empty reports whether no address can pass.
func (a *Allowlist) Empty() bool {
	return a == nil || (len(a.CIDRs) == 0 && len(a.IPs) == 0)
}

func (a *Allowlist) IsAllowed(ip net.IP) bool {
	if a == nil || ip == nil {
		return false
	}
	for _, cidr := range a.CIDRs {
		if cidr.Contains(ip) {
			return true
		}
	}
	for _, allowed := range a.IPs {
		if allowed.Equal(ip) {
			return true
		}
	}
	return false
}

// peerIP returns the TCP peer of r. Forwarded headers are ignored.
func peerIP(r *http.Request) net.IP {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return net.ParseIP(host)
}

// RequireAllowlisted rejects requests whose peer address is not in a with
// 403.
func RequireAllowlisted(a *Allowlist) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !a.IsAllowed(peerIP(r)) {
				log.Warn().Str("remote", logutil.SanitizeForLog(r.RemoteAddr)).
					Str("path", logutil.SanitizeForLog(r.URL.Path)).Msg("ingest blocked: source not allowlisted")
				respond.Error(w, http.StatusForbidden, "source address not allowed")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
