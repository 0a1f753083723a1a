// Package jitter implements the playout buffer between the network and the
// decoder. Payloads are keyed by their media timestamp and released in
// timestamp order, one frame per tick.
package jitter

import (
	"sync"

	"github.com/sirupsen/logrus"
)

const (
	// DefaultMargin is the number of frames buffered before playout starts.
	DefaultMargin = 2

	// Payloads more than this many frames ahead of the playout point force a
	// resynchronisation.
	maxJumpFrames = 64
	// Upper bound on buffered payloads.
	maxPackets = 128
)

// Stats counts buffer events since creation or the last Reset.
type Stats struct {
	Received uint64
	Played   uint64
	Missing  uint64
	Late     uint64
	Dropped  uint64
	Resyncs  uint64
}

// Buffer is a timestamp-ordered jitter buffer. It is safe for concurrent
// use, though the engine drives it from a single goroutine.
type Buffer struct {
	mu      sync.Mutex
	span    uint32
	margin  int
	packets map[uint32][]byte

	synced  bool
	primed  bool
	current uint32

	stats Stats
}

// New creates a buffer for frames that advance the timestamp by span and
// start playout once margin frames are queued.
func New(span uint32, margin int) *Buffer {
	if span == 0 {
		span = 1
	}
	if margin < 1 {
		margin = 1
	}

	logrus.WithFields(logrus.Fields{
		"function": "jitter.New",
		"span":     span,
		"margin":   margin,
	}).Debug("Creating jitter buffer")

	return &Buffer{
		span:    span,
		margin:  margin,
		packets: make(map[uint32][]byte),
	}
}

// before reports whether a precedes b, allowing for wraparound.
func before(a, b uint32) bool {
	return int32(a-b) < 0
}

// Put stores a copy of payload under timestamp ts. Payloads behind the
// playout point are dropped as late.
func (b *Buffer) Put(payload []byte, ts uint32) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.stats.Received++

	if b.synced {
		if before(ts, b.current) {
			b.stats.Late++
			return
		}
		if ts-b.current > maxJumpFrames*b.span {
			logrus.WithFields(logrus.Fields{
				"function":  "Buffer.Put",
				"timestamp": ts,
				"current":   b.current,
			}).Debug("Timestamp jump, resynchronising")
			b.resync()
		}
	}

	if _, ok := b.packets[ts]; !ok && len(b.packets) >= maxPackets {
		b.stats.Dropped++
		return
	}

	b.packets[ts] = append([]byte(nil), payload...)

	if !b.synced && len(b.packets) >= b.margin {
		b.current = b.earliest()
		b.synced = true
		b.primed = false
	}
}

func (b *Buffer) resync() {
	clear(b.packets)
	b.synced = false
	b.primed = false
	b.stats.Resyncs++
}

func (b *Buffer) earliest() uint32 {
	first := true
	var min uint32
	for ts := range b.packets {
		if first || before(ts, min) {
			min = ts
			first = false
		}
	}
	return min
}

// Tick advances the playout point by one frame. The first tick after
// synchronisation keeps the point at the earliest buffered frame.
func (b *Buffer) Tick() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.synced {
		return
	}
	if b.primed {
		b.current += b.span
	}
	b.primed = true
}

// Get returns the payload at the playout point. It returns false while
// buffering or when that frame never arrived; the caller plays silence.
func (b *Buffer) Get() ([]byte, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.synced {
		return nil, false
	}

	for ts := range b.packets {
		if before(ts, b.current) {
			delete(b.packets, ts)
		}
	}

	payload, ok := b.packets[b.current]
	if !ok {
		b.stats.Missing++
		if len(b.packets) == 0 {
			// Stream paused; rebuffer before playing again.
			b.synced = false
			b.primed = false
		}
		return nil, false
	}

	delete(b.packets, b.current)
	b.stats.Played++
	return payload, true
}

// Len returns the number of buffered payloads.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.packets)
}

// Stats returns a copy of the counters.
func (b *Buffer) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stats
}

// Reset discards all payloads and counters.
func (b *Buffer) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()

	clear(b.packets)
	b.synced = false
	b.primed = false
	b.current = 0
	b.stats = Stats{}
}
