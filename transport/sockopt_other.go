//go:build !linux

package transport

import (
	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

func setKeepAlive(fd int) {
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_KEEPALIVE, 1); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "setKeepAlive",
			"fd":       fd,
			"error":    err.Error(),
		}).Debug("SO_KEEPALIVE not applied")
	}
}

// setDontFragment is a no-op: only Linux exposes IP_MTU_DISCOVER.
func setDontFragment(network string, fd int) {}
