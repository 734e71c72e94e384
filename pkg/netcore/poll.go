package netcore

import (
	"errors"

	"golang.org/x/sys/unix"
)

// poller is the readiness primitive adapter, implemented over poll(2)
// unconditionally: there is no select()/WIN32 branch, which means the
// idle sweep in run_one always runs on every tick rather than only on
// POSIX.
type poller struct {
	fds     []unix.PollFd
	slotFor map[int]int // pollfd index -> table slot index
	fdAt    []int32     // table slot index -> fd, -1 if unarmed
	maxfdx  int         // high-water mark: one past the highest armed slot
}

func newPoller(capacity int) *poller {
	fdAt := make([]int32, capacity)
	for i := range fdAt {
		fdAt[i] = -1
	}
	return &poller{fdAt: fdAt}
}

// arm enrolls the descriptor at slot for read-readiness.
func (p *poller) arm(slot int, sock SocketDescriptor) {
	p.fdAt[slot] = int32(sock)
	if slot+1 > p.maxfdx {
		p.maxfdx = slot + 1
	}
	p.rebuild()
}

// disarm removes the descriptor at slot and may lower the high-water mark.
func (p *poller) disarm(slot int) {
	p.fdAt[slot] = -1
	if slot+1 == p.maxfdx {
		for p.maxfdx > 0 && p.fdAt[p.maxfdx-1] == -1 {
			p.maxfdx--
		}
	}
	p.rebuild()
}

func (p *poller) rebuild() {
	p.fds = p.fds[:0]
	p.slotFor = make(map[int]int, p.maxfdx)
	for slot := 0; slot < p.maxfdx; slot++ {
		if p.fdAt[slot] == -1 {
			continue
		}
		p.slotFor[len(p.fds)] = slot
		p.fds = append(p.fds, unix.PollFd{Fd: p.fdAt[slot], Events: unix.POLLIN})
	}
}

// wait blocks up to timeoutMillis and returns the number of ready slots.
// Interruption by a signal, or a would-block/connection-reset result, is
// folded into a zero-event return.
func (p *poller) wait(timeoutMillis int) (int, error) {
	if len(p.fds) == 0 {
		return 0, nil
	}
	n, err := unix.Poll(p.fds, timeoutMillis)
	if err != nil {
		if errors.Is(err, unix.EINTR) || errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.ECONNRESET) {
			return 0, nil
		}
		return 0, err
	}
	return n, nil
}

// isReady reports whether the slot was flagged readable by the most
// recent wait.
func (p *poller) isReady(slot int) bool {
	for i, fd := range p.fds {
		if p.slotFor[i] != slot {
			continue
		}
		return fd.Revents&(unix.POLLIN|unix.POLLHUP|unix.POLLERR) != 0
	}
	return false
}

// readySlots returns every ready slot in ascending index order, per the
// event loop's ordering guarantee.
func (p *poller) readySlots() []int {
	var out []int
	for i, fd := range p.fds {
		if fd.Revents&(unix.POLLIN|unix.POLLHUP|unix.POLLERR) != 0 {
			out = append(out, p.slotFor[i])
		}
	}
	return out
}
