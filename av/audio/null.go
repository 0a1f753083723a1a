package audio

import (
	"time"
)

// nullBackend is clocked by the frame period: capture yields silence and
// playback discards samples.
type nullBackend struct {
	period  time.Duration
	nextIn  time.Time
	nextOut time.Time
}

func newNullBackend(format Format) *nullBackend {
	return &nullBackend{period: format.Period()}
}

func (b *nullBackend) start() error {
	now := time.Now()
	b.nextIn = now.Add(b.period)
	b.nextOut = now
	return nil
}

func (b *nullBackend) stop() error  { return nil }
func (b *nullBackend) close() error { return nil }

func (b *nullBackend) read(pcm []int16) error {
	b.nextIn = waitUntil(b.nextIn, b.period)
	clear(pcm)
	return nil
}

func (b *nullBackend) write(pcm []int16) error {
	b.nextOut = waitUntil(b.nextOut, b.period)
	return nil
}

// waitUntil sleeps until deadline and returns the following deadline. A
// deadline already far in the past is resynchronised to now.
func waitUntil(deadline time.Time, period time.Duration) time.Time {
	now := time.Now()
	if d := deadline.Sub(now); d > 0 {
		time.Sleep(d)
	} else if -d > 4*period {
		deadline = now
	}
	return deadline.Add(period)
}

// sleepOrStop waits for d and reports false if stop closed first.
func sleepOrStop(stop <-chan struct{}, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-stop:
		return false
	case <-t.C:
		return true
	}
}
