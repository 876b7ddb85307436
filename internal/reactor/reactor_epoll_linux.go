//go:build linux

package reactor

import (
	"time"

	"golang.org/x/sys/unix"

	"github.com/nolenjoy/forgeserve/internal/httperror"
)

// epollReactor is the level-triggered Linux implementation of Reactor,
// built directly on golang.org/x/sys/unix the way the retrieval pack's
// own low-level network code does (see DESIGN.md: caddyserver-caddy and
// ehrlich-b-go-ublk/ehrlich-b-wingthing carry golang.org/x/sys as a direct,
// non-indirect dependency).
type epollReactor struct {
	epfd   int
	events []unix.EpollEvent
	tokens map[int]uint64
}

// New constructs the platform readiness reactor.
func New() (Reactor, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, httperror.Wrap(err, "reactor: epoll_create1")
	}
	return &epollReactor{epfd: epfd, events: make([]unix.EpollEvent, 256), tokens: make(map[int]uint64)}, nil
}

func toEpollEvents(i Interest) uint32 {
	var m uint32
	if i&Readable != 0 {
		m |= unix.EPOLLIN
	}
	if i&Writable != 0 {
		m |= unix.EPOLLOUT
	}
	// Hang-up is always reported by the kernel regardless of interest.
	m |= unix.EPOLLRDHUP
	return m
}

func fromEpollEvents(m uint32) Interest {
	var i Interest
	if m&(unix.EPOLLIN|unix.EPOLLPRI) != 0 {
		i |= Readable
	}
	if m&unix.EPOLLOUT != 0 {
		i |= Writable
	}
	if m&(unix.EPOLLHUP|unix.EPOLLRDHUP|unix.EPOLLERR) != 0 {
		i |= HangUp
	}
	return i
}

func (r *epollReactor) Register(fd int, interest Interest, token uint64) error {
	ev := unix.EpollEvent{Events: toEpollEvents(interest), Fd: int32(fd)}
	ev.SetUint64(token)
	if err := unix.EpollCtl(r.epfd, unix.EPOLL_CTL_ADD, fd, &ev); err != nil {
		return err
	}
	r.tokens[fd] = token
	return nil
}

func (r *epollReactor) Modify(fd int, interest Interest) error {
	token := r.tokens[fd]
	ev := unix.EpollEvent{Events: toEpollEvents(interest), Fd: int32(fd)}
	ev.SetUint64(token)
	return unix.EpollCtl(r.epfd, unix.EPOLL_CTL_MOD, fd, &ev)
}

func (r *epollReactor) Unregister(fd int) error {
	delete(r.tokens, fd)
	err := unix.EpollCtl(r.epfd, unix.EPOLL_CTL_DEL, fd, nil)
	if err == unix.ENOENT || err == unix.EBADF {
		return nil
	}
	return err
}

func (r *epollReactor) Wait(timeout time.Duration) ([]Event, error) {
	ms := -1
	if timeout >= 0 {
		ms = int(timeout / time.Millisecond)
	}
	n, err := unix.EpollWait(r.epfd, r.events, ms)
	if err == unix.EINTR {
		return nil, nil
	}
	if err != nil {
		return nil, httperror.Wrap(err, "reactor: epoll_wait")
	}
	out := make([]Event, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, Event{
			Token:     r.events[i].Uint64(),
			Readiness: fromEpollEvents(r.events[i].Events),
		})
	}
	return out, nil
}

func (r *epollReactor) Close() error {
	return unix.Close(r.epfd)
}
