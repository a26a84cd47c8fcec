// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tidemark Contributors

package embedding

import (
	"context"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"

	tmerr "github.com/tidemark-dev/tidemark/pkg/errors"
)

// srvSchemePrefix marks an address that must be resolved through DNS SRV,
// e.g. "srv+http://_ollama._tcp.example.internal".
const srvSchemePrefix = "srv+"

// Lookup is the subset of *net.Resolver used for service discovery.
type Lookup interface {
	LookupSRV(ctx context.Context, service, proto, name string) (string, []*net.SRV, error)
	LookupHost(ctx context.Context, host string) ([]string, error)
}

// Resolver turns a configured backend address into a base URL.
//
// Accepted forms:
//   - http://host:port or https://host:port, used as is
//   - srv+http://_svc._tcp.domain or a bare _svc._tcp.domain, resolved via SRV
//     then A lookup; the SRV target hostname is used when A lookup fails
//   - host or host:port, given the http scheme and DefaultPort if missing
type Resolver struct {
	Lookup      Lookup
	Timeout     time.Duration
	DefaultPort int
}

// NewResolver returns a Resolver backed by the system DNS resolver.
func NewResolver(timeout time.Duration, defaultPort int) *Resolver {
	if timeout <= 0 {
		timeout = DefaultDNSTimeout
	}
	return &Resolver{Lookup: net.DefaultResolver, Timeout: timeout, DefaultPort: defaultPort}
}

// Resolve returns a base URL without a trailing slash.
func (r *Resolver) Resolve(ctx context.Context, addr string) (string, error) {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return "", tmerr.New(tmerr.CodeEmbeddingRequestInvalid, "backend address is empty")
	}

	switch {
	case strings.HasPrefix(addr, "http://"), strings.HasPrefix(addr, "https://"):
		u, err := url.Parse(addr)
		if err != nil || u.Host == "" {
			return "", tmerr.New(tmerr.CodeEmbeddingRequestInvalid, "invalid backend URL", tmerr.FieldAddress(addr))
		}
		return strings.TrimRight(addr, "/"), nil
	case strings.HasPrefix(addr, srvSchemePrefix):
		rest := strings.TrimPrefix(addr, srvSchemePrefix)
		scheme, name, ok := strings.Cut(rest, "://")
		if !ok || scheme == "" || name == "" {
			return "", tmerr.New(tmerr.CodeEmbeddingRequestInvalid, "invalid SRV address", tmerr.FieldAddress(addr))
		}
		return r.resolveSRV(ctx, scheme, strings.TrimRight(name, "/"))
	case strings.HasPrefix(addr, "_"):
		return r.resolveSRV(ctx, "http", addr)
	}

	if _, _, err := net.SplitHostPort(addr); err == nil {
		return "http://" + addr, nil
	}
	if r.DefaultPort > 0 {
		return "http://" + net.JoinHostPort(addr, strconv.Itoa(r.DefaultPort)), nil
	}
	return "http://" + addr, nil
}

func (r *Resolver) resolveSRV(ctx context.Context, scheme, name string) (string, error) {
	timeout := r.Timeout
	if timeout <= 0 {
		timeout = DefaultDNSTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	_, records, err := r.Lookup.LookupSRV(ctx, "", "", name)
	if err != nil {
		return "", tmerr.New(tmerr.CodeEmbeddingDNSFailure,
			"SRV lookup failed for "+name+": "+err.Error(), tmerr.FieldAddress(name))
	}
	if len(records) == 0 {
		return "", tmerr.New(tmerr.CodeEmbeddingDNSFailure,
			"SRV lookup returned no records for "+name, tmerr.FieldAddress(name))
	}

	// Records arrive sorted by priority with weight randomization applied.
	target := strings.TrimSuffix(records[0].Target, ".")
	port := strconv.Itoa(int(records[0].Port))

	host := target
	if addrs, err := r.Lookup.LookupHost(ctx, target); err == nil && len(addrs) > 0 {
		host = addrs[0]
	}
	return scheme + "://" + net.JoinHostPort(host, port), nil
}
