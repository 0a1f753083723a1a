// Package transsip is a peer-to-peer telephone for UDP networks.
//
// Two transsip instances talk to each other directly: a caller rings the
// callee's signaling port, the callee answers, and both sides exchange
// G.711 u-law audio frames behind a five-byte header until one of them
// hangs up. There is no server, registrar or codec negotiation.
//
// # Getting Started
//
//	options, err := transsip.LoadOptions(path)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	phone, err := transsip.New(options)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer phone.Kill()
//
//	phone.OnIncomingCall(func(peer netip.AddrPort) {
//	    fmt.Printf("%s is calling\n", peer)
//	})
//
//	if err := phone.Start(context.Background()); err != nil {
//	    log.Fatal(err)
//	}
//	phone.Call("203.0.113.5", "30111")
//
// # Packages
//
//   - [github.com/opd-ai/transsip/engine]: the call state machine and media pump
//   - [github.com/opd-ai/transsip/transport]: wire header, sockets, STUN
//   - [github.com/opd-ai/transsip/control]: command records and the control pipe
//   - [github.com/opd-ai/transsip/notifier]: prioritised event hooks
//   - [github.com/opd-ai/transsip/av/audio]: audio devices, codec, echo canceller, tones
//   - [github.com/opd-ai/transsip/av/jitter]: jitter buffer
//
// # Settings
//
// LoadOptions reads an INI file, by default ~/.transsip/settings, with the
// sections [network], [engine], [audio], [logging], [metrics] and [user].
// Missing keys keep their defaults.
package transsip
