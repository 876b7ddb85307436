//go:build darwin || freebsd || netbsd || openbsd || dragonfly

package reactor

import (
	"time"

	"golang.org/x/sys/unix"

	"github.com/nolenjoy/forgeserve/internal/httperror"
)

// kqueueReactor satisfies Reactor on BSD-family kernels, matching the
// interface semantics of epollReactor (one syscall per Wait, readable and
// writable tracked as independent filters since kqueue registers them
// separately rather than as a single interest mask).
type kqueueReactor struct {
	kq     int
	events []unix.Kevent_t
	tokens map[int]uint64
}

func New() (Reactor, error) {
	kq, err := unix.Kqueue()
	if err != nil {
		return nil, httperror.Wrap(err, "reactor: kqueue")
	}
	return &kqueueReactor{kq: kq, events: make([]unix.Kevent_t, 256), tokens: make(map[int]uint64)}, nil
}

func (r *kqueueReactor) changeList(fd int, interest Interest, enable bool) []unix.Kevent_t {
	flags := uint16(unix.EV_ADD | unix.EV_ENABLE)
	if !enable {
		flags = unix.EV_DELETE
	}
	var changes []unix.Kevent_t
	changes = append(changes, unix.Kevent_t{Ident: uint64(fd), Filter: unix.EVFILT_READ, Flags: flags})
	changes = append(changes, unix.Kevent_t{Ident: uint64(fd), Filter: unix.EVFILT_WRITE, Flags: flags})
	_ = interest
	return changes
}

func (r *kqueueReactor) Register(fd int, interest Interest, token uint64) error {
	r.tokens[fd] = token
	return r.Modify(fd, interest)
}

func (r *kqueueReactor) Modify(fd int, interest Interest) error {
	var changes []unix.Kevent_t
	readFlags := uint16(unix.EV_DELETE)
	if interest&Readable != 0 {
		readFlags = unix.EV_ADD | unix.EV_ENABLE
	}
	writeFlags := uint16(unix.EV_DELETE)
	if interest&Writable != 0 {
		writeFlags = unix.EV_ADD | unix.EV_ENABLE
	}
	changes = append(changes, unix.Kevent_t{Ident: uint64(fd), Filter: unix.EVFILT_READ, Flags: readFlags})
	changes = append(changes, unix.Kevent_t{Ident: uint64(fd), Filter: unix.EVFILT_WRITE, Flags: writeFlags})
	_, err := unix.Kevent(r.kq, changes, nil, nil)
	return err
}

func (r *kqueueReactor) Unregister(fd int) error {
	delete(r.tokens, fd)
	changes := r.changeList(fd, 0, false)
	_, err := unix.Kevent(r.kq, changes, nil, nil)
	if err == unix.ENOENT || err == unix.EBADF {
		return nil
	}
	return err
}

func (r *kqueueReactor) Wait(timeout time.Duration) ([]Event, error) {
	var ts *unix.Timespec
	if timeout >= 0 {
		t := unix.NsecToTimespec(timeout.Nanoseconds())
		ts = &t
	}
	n, err := unix.Kevent(r.kq, nil, r.events, ts)
	if err == unix.EINTR {
		return nil, nil
	}
	if err != nil {
		return nil, httperror.Wrap(err, "reactor: kevent")
	}
	merged := make(map[uint64]Interest, n)
	for i := 0; i < n; i++ {
		ev := r.events[i]
		fd := int(ev.Ident)
		token, ok := r.tokens[fd]
		if !ok {
			continue
		}
		var bit Interest
		switch ev.Filter {
		case unix.EVFILT_READ:
			bit = Readable
		case unix.EVFILT_WRITE:
			bit = Writable
		}
		if ev.Flags&unix.EV_EOF != 0 {
			bit |= HangUp
		}
		merged[token] |= bit
	}
	out := make([]Event, 0, len(merged))
	for token, readiness := range merged {
		out = append(out, Event{Token: token, Readiness: readiness})
	}
	return out, nil
}

func (r *kqueueReactor) Close() error {
	return unix.Close(r.kq)
}
