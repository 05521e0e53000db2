//go:build !darwin && !dragonfly && !freebsd && !linux && !netbsd && !openbsd

package server

import (
	"context"
	"net"
)

// listenWithBacklog falls back to the platform default backlog where the
// listen queue cannot be set through socket options.
func listenWithBacklog(ctx context.Context, network, address string, backlog int) (net.Listener, error) {
	var lc net.ListenConfig
	return lc.Listen(ctx, network, address)
}
