//go:build darwin || dragonfly || freebsd || linux || netbsd || openbsd

package server

import (
	"context"
	"fmt"
	"net"
	"os"
	"syscall"

	"golang.org/x/sys/unix"
)

// listenWithBacklog creates a TCP listener with an explicit accept backlog.
// The socket is built by hand because net.Listen offers no control over the
// backlog passed to listen(2): socket, SO_REUSEADDR for fast rebinds across
// stop/start cycles, bind, listen(backlog), then wrapped via FileListener.
func listenWithBacklog(ctx context.Context, network, address string, backlog int) (net.Listener, error) {
	addr, err := net.ResolveTCPAddr(network, address)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve address: %w", err)
	}

	family, sockaddr, ipv6only := sockaddrFor(addr)

	syscall.ForkLock.RLock()
	fd, err := unix.Socket(family, unix.SOCK_STREAM, unix.IPPROTO_TCP)
	if err == nil {
		syscall.CloseOnExec(fd)
	}
	syscall.ForkLock.RUnlock()
	if err != nil {
		return nil, fmt.Errorf("failed to create socket: %w", err)
	}

	// IPV6_V6ONLY must be set before any other option or the bind; some
	// kernels misbehave when it changes later on a dual-stack socket.
	if family == unix.AF_INET6 {
		if err := unix.SetsockoptInt(fd, unix.IPPROTO_IPV6, unix.IPV6_V6ONLY, ipv6only); err != nil {
			unix.Close(fd)
			return nil, fmt.Errorf("failed to set IPV6_V6ONLY: %w", err)
		}
	}

	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("failed to set SO_REUSEADDR: %w", err)
	}

	if err := syscall.SetNonblock(fd, true); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("failed to set nonblock: %w", err)
	}

	if err := unix.Bind(fd, sockaddr); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("failed to bind socket: %w", err)
	}

	if err := unix.Listen(fd, backlog); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("failed to listen: %w", err)
	}

	file := os.NewFile(uintptr(fd), "listener")
	listener, err := net.FileListener(file)
	// FileListener dups the descriptor, the original must be closed.
	file.Close()
	if err != nil {
		return nil, fmt.Errorf("failed to create listener: %w", err)
	}
	return listener, nil
}

// sockaddrFor maps a resolved TCP address to a socket family and sockaddr.
// A nil IP (wildcard) becomes an IPv6 dual-stack socket, matching what
// net.Listen does for ":port".
func sockaddrFor(addr *net.TCPAddr) (int, unix.Sockaddr, int) {
	if addr.IP == nil {
		sa := &unix.SockaddrInet6{Port: addr.Port}
		return unix.AF_INET6, sa, 0
	}
	if ip4 := addr.IP.To4(); ip4 != nil {
		sa := &unix.SockaddrInet4{Port: addr.Port}
		copy(sa.Addr[:], ip4)
		return unix.AF_INET, sa, 0
	}
	sa := &unix.SockaddrInet6{Port: addr.Port}
	copy(sa.Addr[:], addr.IP.To16())
	if addr.Zone != "" {
		if iface, err := net.InterfaceByName(addr.Zone); err == nil {
			sa.ZoneId = uint32(iface.Index)
		}
	}
	return unix.AF_INET6, sa, 1
}
