package engine

import (
	"errors"
	"time"

	"golang.org/x/sys/unix"
)

// poll waits on fds for at most timeout. EINTR, which the Go runtime raises
// routinely, restarts the wait with the remaining time.
func poll(fds []unix.PollFd, timeout time.Duration) (int, error) {
	for i := range fds {
		fds[i].Revents = 0
	}

	deadline := time.Now().Add(timeout)
	for {
		ms := int(time.Until(deadline) / time.Millisecond)
		if ms < 0 {
			ms = 0
		}
		n, err := unix.Poll(fds, ms)
		if errors.Is(err, unix.EINTR) {
			continue
		}
		return n, err
	}
}

// readable reports input, hang-up or error on a polled descriptor. Hang-up
// and error are included so the following read observes them.
func readable(fd unix.PollFd) bool {
	return fd.Revents&(unix.POLLIN|unix.POLLHUP|unix.POLLERR) != 0
}

func pollIn(fd int) unix.PollFd {
	return unix.PollFd{Fd: int32(fd), Events: unix.POLLIN}
}
