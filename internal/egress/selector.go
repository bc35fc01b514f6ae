// File: internal/egress/selector.go
// Description: Rotating selector over the proxy gateway's port range. The
// cursor is the only shared mutable state and is advanced atomically; a
// collision between two attempts costs uneven load, never correctness.

package egress

import (
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/xkilldash9x/enroll-cli/api/schemas"
	"github.com/xkilldash9x/enroll-cli/internal/config"
)

// Selector hands out egress descriptors round-robin across the configured
// port range. Safe for concurrent use.
type Selector struct {
	cfg    config.ProxyConfig
	cursor atomic.Uint64
}

// NewSelector creates a selector for the given proxy configuration.
func NewSelector(cfg config.ProxyConfig) *Selector {
	return &Selector{cfg: cfg}
}

// poolSize returns the number of ports in the rotation range.
func (s *Selector) poolSize() int {
	return s.cfg.PortRangeEnd - s.cfg.PortRangeStart + 1
}

// Next returns the next egress in rotation against the default gateway host.
func (s *Selector) Next() schemas.EgressDescriptor {
	n := s.cursor.Add(1) - 1
	port := s.cfg.PortRangeStart + int(n%uint64(s.poolSize()))
	return schemas.EgressDescriptor{
		Host:     s.cfg.Host,
		Port:     port,
		Username: s.cfg.Username,
		Password: s.cfg.Password,
	}
}

// NextFor returns the next egress in rotation targeted at a specific country.
// Depending on configuration the gateway either expects a country subdomain
// (ua.gate.example) or a username suffix (user-NAME-country-ua).
func (s *Selector) NextFor(countryISO string) schemas.EgressDescriptor {
	e := s.Next()
	if countryISO == "" {
		return e
	}
	iso := strings.ToLower(countryISO)
	switch s.cfg.CountryTargeting {
	case "username":
		e.Username = fmt.Sprintf("user-%s-country-%s", s.cfg.Username, iso)
	default:
		e.Host = fmt.Sprintf("%s.%s", iso, s.cfg.HostDomain)
	}
	return e
}
