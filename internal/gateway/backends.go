package gateway

import (
	"fmt"
	"net/url"
	"strings"
)

// Role names a backend service the gateway talks to.
type Role string

const (
	RoleMetadata  Role = "metadata"
	RoleHistory   Role = "history"
	RoleStreaming Role = "streaming"
	RoleUpload    Role = "upload"
	RoleAdvertise Role = "advertise"
)

// Backends is the static routing table. The gateway neither balances nor
// retries; each role resolves to exactly one base URL.
type Backends map[Role]*url.URL

// NewBackends parses base URLs keyed by role.
func NewBackends(raw map[Role]string) (Backends, error) {
	b := make(Backends, len(raw))
	for role, s := range raw {
		u, err := url.Parse(s)
		if err != nil {
			return nil, fmt.Errorf("parse %s backend url: %w", role, err)
		}
		if u.Scheme == "" || u.Host == "" {
			return nil, fmt.Errorf("%s backend url %q must be absolute", role, s)
		}
		b[role] = u
	}
	return b, nil
}

// URL resolves path and query against the base URL of role.
func (b Backends) URL(role Role, path string, query url.Values) (string, error) {
	base, ok := b[role]
	if !ok {
		return "", fmt.Errorf("no backend configured for %s", role)
	}
	u := *base
	u.Path = strings.TrimRight(u.Path, "/") + path
	u.RawPath = ""
	u.RawQuery = query.Encode()
	return u.String(), nil
}
