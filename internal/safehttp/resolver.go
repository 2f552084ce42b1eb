package safehttp

import (
	"context"
	"fmt"
	"net"

	"github.com/rezkam/hookworker/internal/webhook"
)

// isGlobalIPv4 reports whether ip is a globally routable IPv4 address: not
// "this network" (0.0.0.0/8), not RFC1918 private, not loopback, not
// link-local, not broadcast. Ported from the Rust reference's
// is_global_ipv4 (hook-worker/src/dns.rs) pending IsGlobalUnicast() covering
// the same cases in the standard library.
func isGlobalIPv4(ip net.IP) bool {
	v4 := ip.To4()
	if v4 == nil {
		// IPv6 is discarded: an infrastructure constraint (no IPv6 egress
		// support), not a security one. Documented explicitly per spec §4.4.
		return false
	}
	if v4[0] == 0 {
		return false // "this network"
	}
	if v4.IsPrivate() || v4.IsLoopback() || v4.IsLinkLocalUnicast() || v4.IsLinkLocalMulticast() {
		return false
	}
	if v4.Equal(net.IPv4bcast) {
		return false
	}
	return true
}

// resolvePublicIPv4 resolves host and filters the results down to globally
// routable IPv4 addresses, offloading the (blocking) OS resolver call onto
// its own goroutine so the caller's cancellation is observed promptly — the
// Go equivalent of running the Rust reference's resolver on a
// spawn_blocking thread pool. The lookup itself is not cancelled: after the
// caller gives up, the goroutine runs until the OS resolver returns and its
// result is discarded.
func resolvePublicIPv4(ctx context.Context, resolver *net.Resolver, host string) ([]net.IP, error) {
	type lookupResult struct {
		addrs []net.IPAddr
		err   error
	}

	resultCh := make(chan lookupResult, 1)
	go func() {
		addrs, err := resolver.LookupIPAddr(context.Background(), host)
		resultCh <- lookupResult{addrs: addrs, err: err}
	}()

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("dns lookup for %q: %w", host, ctx.Err())
	case res := <-resultCh:
		if res.err != nil {
			return nil, res.err
		}

		public := make([]net.IP, 0, len(res.addrs))
		for _, a := range res.addrs {
			if isGlobalIPv4(a.IP) {
				public = append(public, a.IP)
			}
		}
		if len(public) == 0 {
			return nil, webhook.ErrNoPublicIP
		}
		return public, nil
	}
}
