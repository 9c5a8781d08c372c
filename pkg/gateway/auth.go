package gateway

import (
	"context"
	"fmt"
	"net"
)

// Authorizer controls incoming gateway connections.
type Authorizer interface {
	Allow(ctx context.Context, remoteAddr string) error
}

type NoopAuthorizer struct{}

func (NoopAuthorizer) Allow(context.Context, string) error {
	return nil
}

// AllowlistAuthorizer admits only listed hosts, host:port pairs or CIDR ranges.
// An empty list admits everyone.
type AllowlistAuthorizer struct {
	Allowed []string
}

func (a AllowlistAuthorizer) Allow(ctx context.Context, remoteAddr string) error {
	if len(a.Allowed) == 0 {
		return nil
	}
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	ip := net.ParseIP(host)
	for _, entry := range a.Allowed {
		if entry == remoteAddr || entry == host {
			return nil
		}
		if _, network, err := net.ParseCIDR(entry); err == nil && ip != nil && network.Contains(ip) {
			return nil
		}
	}
	return fmt.Errorf("remote address not allowed: %s", remoteAddr)
}
