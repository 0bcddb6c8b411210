package device

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/grandcat/zeroconf"
)

// Discover browses mDNS for the pager's link service and returns the first
// advertised address as host:port. Fails cleanly when nothing answers
// within the timeout; the caller falls back to an explicit address.
func Discover(ctx context.Context, service string, timeout time.Duration) (string, error) {
	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return "", fmt.Errorf("mdns resolver: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	entries := make(chan *zeroconf.ServiceEntry, 4)
	if err := resolver.Browse(ctx, service, "local.", entries); err != nil {
		return "", fmt.Errorf("mdns browse %s: %w", service, err)
	}

	for {
		select {
		case entry, ok := <-entries:
			if !ok {
				return "", fmt.Errorf("no pager found for %s", service)
			}
			if entry == nil || len(entry.AddrIPv4) == 0 {
				continue
			}
			addr := fmt.Sprintf("%s:%d", entry.AddrIPv4[0], entry.Port)
			slog.Info("discovered pager via mDNS", "instance", entry.Instance, "address", addr)
			return addr, nil

		case <-ctx.Done():
			return "", fmt.Errorf("no pager found for %s", service)
		}
	}
}
