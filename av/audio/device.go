package audio

import (
	"errors"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

// Device is a full-duplex PCM device driven by poll readiness.
//
// FillPollDescriptors writes the device's descriptors into a poll set;
// after polling, CaptureReady and PlaybackReady inspect the same entries.
// ReadFrame and WriteFrame never block: they move exactly one frame and
// fail with ErrNotReady if readiness was not signaled.
type Device interface {
	Name() string
	Format() Format
	Start() error
	Stop() error
	Close() error
	ReadFrame(pcm []int16) (int, error)
	WriteFrame(pcm []int16) (int, error)
	PollDescriptorCount() int
	FillPollDescriptors(fds []unix.PollFd) int
	CaptureReady(fds []unix.PollFd) bool
	PlaybackReady(fds []unix.PollFd) bool
}

// NullDeviceName selects the clocked silent device.
const NullDeviceName = "null"

// Frames buffered in each direction between the poll loop and the stream.
const queueDepth = 4

// Open opens the named device for the given format. NullDeviceName selects
// a device without hardware; "default" or "" selects the system default.
func Open(name string, format Format) (Device, error) {
	if err := format.Validate(); err != nil {
		return nil, err
	}

	logrus.WithFields(logrus.Fields{
		"function": "Open",
		"device":   name,
		"format":   format.String(),
	}).Info("Opening audio device")

	if name == NullDeviceName {
		return newStreamDevice(name, format, newNullBackend(format))
	}

	backend, err := openHardwareBackend(name, format)
	if err != nil {
		return nil, fmt.Errorf("open audio device %q: %w", name, err)
	}
	return newStreamDevice(name, format, backend)
}

// backend is a blocking duplex stream. read and write each move one frame
// and may block for about one frame period.
type backend interface {
	start() error
	stop() error
	close() error
	read(pcm []int16) error
	write(pcm []int16) error
}

// streamDevice adapts a blocking backend to the Device contract with one
// capture and one playback goroutine.
type streamDevice struct {
	name    string
	format  Format
	backend backend

	capture  *frameQueue
	playback *slotQueue

	mu      sync.Mutex
	running bool
	closed  bool
	stopCh  chan struct{}
	wg      sync.WaitGroup

	overruns  int
	underruns int
}

func newStreamDevice(name string, format Format, b backend) (*streamDevice, error) {
	capture, err := newFrameQueue(queueDepth)
	if err != nil {
		b.close()
		return nil, err
	}
	playback, err := newSlotQueue(queueDepth)
	if err != nil {
		capture.close()
		b.close()
		return nil, err
	}

	return &streamDevice{
		name:     name,
		format:   format,
		backend:  b,
		capture:  capture,
		playback: playback,
	}, nil
}

func (d *streamDevice) Name() string   { return d.name }
func (d *streamDevice) Format() Format { return d.format }

// Start begins streaming. Starting a running device is a no-op.
func (d *streamDevice) Start() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return ErrDeviceClosed
	}
	if d.running {
		return nil
	}

	d.capture.reset()
	d.playback.reset()
	if err := d.backend.start(); err != nil {
		return fmt.Errorf("start %s: %w", d.name, err)
	}

	d.stopCh = make(chan struct{})
	d.running = true
	d.wg.Add(2)
	go d.captureLoop(d.stopCh)
	go d.playbackLoop(d.stopCh)

	logrus.WithFields(logrus.Fields{
		"function": "streamDevice.Start",
		"device":   d.name,
	}).Debug("Audio device started")
	return nil
}

// Stop halts streaming and discards queued frames. Stopping a stopped
// device is a no-op.
func (d *streamDevice) Stop() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stopLocked()
}

func (d *streamDevice) stopLocked() error {
	if !d.running {
		return nil
	}

	close(d.stopCh)
	d.wg.Wait()
	d.running = false

	err := d.backend.stop()
	d.capture.reset()
	d.playback.reset()

	logrus.WithFields(logrus.Fields{
		"function":  "streamDevice.Stop",
		"device":    d.name,
		"overruns":  d.overruns,
		"underruns": d.underruns,
	}).Debug("Audio device stopped")
	return err
}

// Close stops the device and releases it.
func (d *streamDevice) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return nil
	}
	stopErr := d.stopLocked()
	d.closed = true

	return errors.Join(stopErr, d.backend.close(), d.capture.close(), d.playback.close())
}

func (d *streamDevice) ReadFrame(pcm []int16) (int, error) {
	if len(pcm) != d.format.Samples() {
		return 0, ErrFrameSize
	}
	if !d.capture.pop(pcm) {
		return 0, ErrNotReady
	}
	return d.format.FrameSize, nil
}

func (d *streamDevice) WriteFrame(pcm []int16) (int, error) {
	if len(pcm) != d.format.Samples() {
		return 0, ErrFrameSize
	}
	if !d.playback.push(pcm) {
		return 0, ErrNotReady
	}
	return d.format.FrameSize, nil
}

func (d *streamDevice) PollDescriptorCount() int {
	return 2
}

// FillPollDescriptors writes the capture entry then the playback entry.
func (d *streamDevice) FillPollDescriptors(fds []unix.PollFd) int {
	if len(fds) < 2 {
		return 0
	}
	fds[0] = unix.PollFd{Fd: int32(d.capture.ready.fd()), Events: unix.POLLIN}
	fds[1] = unix.PollFd{Fd: int32(d.playback.space.fd()), Events: unix.POLLIN}
	return 2
}

func (d *streamDevice) CaptureReady(fds []unix.PollFd) bool {
	return len(fds) >= 1 && fds[0].Revents&unix.POLLIN != 0
}

func (d *streamDevice) PlaybackReady(fds []unix.PollFd) bool {
	return len(fds) >= 2 && fds[1].Revents&unix.POLLIN != 0
}

func (d *streamDevice) captureLoop(stop <-chan struct{}) {
	defer d.wg.Done()

	buf := make([]int16, d.format.Samples())
	for {
		select {
		case <-stop:
			return
		default:
		}

		if err := d.backend.read(buf); err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "streamDevice.captureLoop",
				"device":   d.name,
				"error":    err.Error(),
			}).Warn("Capture read failed")
			if !sleepOrStop(stop, d.format.Period()) {
				return
			}
			continue
		}

		// A full queue drops its oldest frame so capture never stalls.
		if !d.capture.push(buf) {
			d.overruns++
		}
	}
}

func (d *streamDevice) playbackLoop(stop <-chan struct{}) {
	defer d.wg.Done()

	buf := make([]int16, d.format.Samples())
	for {
		select {
		case <-stop:
			return
		default:
		}

		// Underrun plays silence and keeps the stream clocked.
		if !d.playback.pop(buf) {
			clear(buf)
			d.underruns++
		}

		if err := d.backend.write(buf); err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "streamDevice.playbackLoop",
				"device":   d.name,
				"error":    err.Error(),
			}).Warn("Playback write failed")
			if !sleepOrStop(stop, d.format.Period()) {
				return
			}
		}
	}
}
