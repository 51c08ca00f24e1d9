package proof

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/upb/autonomy-orchestrator/services"
)

// BlockedError is returned when the egress lock refuses a destination.
// It is permanent: retrying cannot change the outcome.
type BlockedError struct {
	Destination string
	Host        string
}

func (e *BlockedError) Error() string {
	if e.Host == "" {
		return fmt.Sprintf("egress blocked: invalid destination %q", e.Destination)
	}
	return fmt.Sprintf("egress blocked: host %q is not allow-listed", e.Host)
}

// Unwrap exposes the safety domain error
func (e *BlockedError) Unwrap() error {
	return services.ErrEgressBlocked
}

// Permanent marks the error as not retryable
func (e *BlockedError) Permanent() bool {
	return true
}

// EgressGuard checks outbound destinations against a host allow-list
type EgressGuard struct {
	enabled bool
	allow   []string
}

// NewEgressGuard creates a guard. When disabled every destination passes.
func NewEgressGuard(enabled bool, allowHosts []string) *EgressGuard {
	allow := make([]string, 0, len(allowHosts))
	for _, h := range allowHosts {
		if h = strings.ToLower(strings.TrimSpace(h)); h != "" {
			allow = append(allow, h)
		}
	}
	return &EgressGuard{enabled: enabled, allow: allow}
}

// Enabled reports whether the lock is on
func (g *EgressGuard) Enabled() bool {
	return g != nil && g.enabled
}

// Check returns a *BlockedError unless destination's host is allow-listed.
// Subdomains of an allowed host are allowed.
func (g *EgressGuard) Check(destination string) error {
	if !g.Enabled() {
		return nil
	}

	u, err := url.Parse(destination)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Hostname() == "" {
		return &BlockedError{Destination: destination}
	}

	host := strings.ToLower(u.Hostname())
	for _, allowed := range g.allow {
		if host == allowed || strings.HasSuffix(host, "."+allowed) {
			return nil
		}
	}
	return &BlockedError{Destination: destination, Host: host}
}
