package engine

import (
	"context"
	"fmt"
	"net"

	"golang.org/x/sys/unix"

	"github.com/nolenjoy/forgeserve/internal/httperror"
)

// listenRawFD binds addr and returns a non-blocking raw file descriptor
// suitable for reactor.Register, per spec §5 ("all descriptors ... set
// non-blocking at creation"). It goes through net.ListenConfig rather
// than hand-rolled socket()/bind() so IPv4, IPv6, and "host:port"
// resolution all work the way the standard library already handles them;
// the raw fd is then duplicated out of the *net.TCPListener and the
// wrapper closed, leaving a bare descriptor the reactor owns directly.
func listenRawFD(addr string) (int, error) {
	lc := net.ListenConfig{}
	ln, err := lc.Listen(context.Background(), "tcp", addr)
	if err != nil {
		return -1, httperror.Wrap(err, "engine: listen")
	}
	tcpLn, ok := ln.(*net.TCPListener)
	if !ok {
		ln.Close()
		return -1, fmt.Errorf("engine: unexpected listener type for %s", addr)
	}
	rc, err := tcpLn.SyscallConn()
	if err != nil {
		tcpLn.Close()
		return -1, httperror.Wrap(err, "engine: syscall conn")
	}
	var dupFd int
	var dupErr error
	ctlErr := rc.Control(func(fd uintptr) {
		dupFd, dupErr = unix.Dup(int(fd))
	})
	// Closing the wrapper closes its own fd; the duplicate lives on.
	tcpLn.Close()
	if ctlErr != nil {
		return -1, httperror.Wrap(ctlErr, "engine: control")
	}
	if dupErr != nil {
		return -1, httperror.Wrap(dupErr, "engine: dup")
	}
	if err := unix.SetNonblock(dupFd, true); err != nil {
		unix.Close(dupFd)
		return -1, httperror.Wrap(err, "engine: set non-blocking")
	}
	return dupFd, nil
}

// acceptOne accepts a single pending connection off a non-blocking
// listening fd. unix.EAGAIN/EWOULDBLOCK means no more pending
// connections right now -- normal control flow, per spec §5.
func acceptOne(listenFd int) (connFd int, remoteAddr string, err error) {
	nfd, sa, err := unix.Accept(listenFd)
	if err != nil {
		return -1, "", err
	}
	if err := unix.SetNonblock(nfd, true); err != nil {
		unix.Close(nfd)
		return -1, "", err
	}
	return nfd, sockaddrString(sa), nil
}

func sockaddrString(sa unix.Sockaddr) string {
	switch a := sa.(type) {
	case *unix.SockaddrInet4:
		return fmt.Sprintf("%d.%d.%d.%d:%d", a.Addr[0], a.Addr[1], a.Addr[2], a.Addr[3], a.Port)
	case *unix.SockaddrInet6:
		ip := net.IP(a.Addr[:])
		return fmt.Sprintf("[%s]:%d", ip.String(), a.Port)
	default:
		return "unknown"
	}
}
