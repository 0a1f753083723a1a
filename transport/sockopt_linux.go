//go:build linux

package transport

import (
	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

// setKeepAlive enables SO_KEEPALIVE as the dialer historically did for
// per-call sockets. It has no effect on UDP traffic on Linux but is kept so
// the socket carries the same options on every platform.
func setKeepAlive(fd int) {
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_KEEPALIVE, 1); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "setKeepAlive",
			"fd":       fd,
			"error":    err.Error(),
		}).Debug("SO_KEEPALIVE not applied")
	}
}

// setDontFragment disables path MTU discovery so the kernel never sets DF
// on voice datagrams.
func setDontFragment(network string, fd int) {
	if network == "udp6" {
		if err := unix.SetsockoptInt(fd, unix.IPPROTO_IPV6, unix.IPV6_MTU_DISCOVER, unix.IPV6_PMTUDISC_DONT); err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "setDontFragment",
				"network":  network,
				"error":    err.Error(),
			}).Debug("IPV6_MTU_DISCOVER not applied")
		}
	}

	// Dual-stack sockets also carry IPv4 traffic.
	if err := unix.SetsockoptInt(fd, unix.IPPROTO_IP, unix.IP_MTU_DISCOVER, unix.IP_PMTUDISC_DONT); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "setDontFragment",
			"network":  network,
			"error":    err.Error(),
		}).Debug("IP_MTU_DISCOVER not applied")
	}
}
