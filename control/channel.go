package control

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/opd-ai/transsip/transport"
	"github.com/sirupsen/logrus"
)

// Commander is the front-end side of the control channel. It is safe for
// concurrent use.
type Commander struct {
	mu    sync.Mutex
	w     *os.File // command pipe, write end
	alive *os.File // liveness pipe, read end

	doneOnce sync.Once
	done     chan struct{}
}

// Receiver is the engine side of the control channel. Only the engine task
// may use it.
type Receiver struct {
	r     *os.File // command pipe, read end
	alive *os.File // liveness pipe, write end; closed when the engine exits
	fd    int
	buf   []byte
}

// NewPipePair creates the two pipes linking the front-end and the engine:
// one carries command records into the engine, the other carries nothing
// and is only closed when the engine stops.
func NewPipePair() (*Commander, *Receiver, error) {
	cmdR, cmdW, err := os.Pipe()
	if err != nil {
		return nil, nil, fmt.Errorf("create command pipe: %w", err)
	}

	aliveR, aliveW, err := os.Pipe()
	if err != nil {
		cmdR.Close()
		cmdW.Close()
		return nil, nil, fmt.Errorf("create liveness pipe: %w", err)
	}

	fd, err := transport.FD(cmdR)
	if err != nil {
		cmdR.Close()
		cmdW.Close()
		aliveR.Close()
		aliveW.Close()
		return nil, nil, fmt.Errorf("command pipe descriptor: %w", err)
	}

	return &Commander{w: cmdW, alive: aliveR, done: make(chan struct{})},
		&Receiver{r: cmdR, alive: aliveW, fd: fd, buf: make([]byte, RecordSize)},
		nil
}

// Send writes one record. Records are smaller than PIPE_BUF, so each write
// reaches the engine whole.
func (c *Commander) Send(rec Record) error {
	data, err := rec.MarshalBinary()
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	n, err := c.w.Write(data)
	if err != nil {
		if errors.Is(err, os.ErrClosed) {
			return ErrChannelClosed
		}
		return fmt.Errorf("notify engine: %w", err)
	}
	if n != RecordSize {
		return fmt.Errorf("notify engine: %w", ErrShortRecord)
	}

	logrus.WithFields(logrus.Fields{
		"function": "Commander.Send",
		"command":  rec.Command().String(),
	}).Debug("Control record sent")

	return nil
}

// Ring asks the engine to call address:port on behalf of user.
func (c *Commander) Ring(user, address, port string) error {
	return c.Send(Record{Ring: true, User: user, Address: address, Port: port})
}

// Take accepts the pending incoming call.
func (c *Commander) Take() error {
	return c.Send(Record{Take: true})
}

// Hangup ends, rejects or aborts the current call.
func (c *Commander) Hangup() error {
	return c.Send(Record{Fin: true})
}

// Hold mutes the outgoing direction of the established call.
func (c *Commander) Hold() error {
	return c.Send(Record{Hold: true})
}

// Unhold resumes a held call.
func (c *Commander) Unhold() error {
	return c.Send(Record{Unhold: true})
}

// Close closes the command pipe. The engine observes end of file on its
// next poll and stops.
func (c *Commander) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.w.Close()
}

// EngineDone returns a channel closed once the engine released its end of
// the liveness pipe.
func (c *Commander) EngineDone() <-chan struct{} {
	c.doneOnce.Do(func() {
		go func() {
			defer close(c.done)
			defer c.alive.Close()
			io.Copy(io.Discard, c.alive)
		}()
	})
	return c.done
}

// FD returns the pollable descriptor of the command pipe.
func (r *Receiver) FD() int {
	return r.fd
}

// Receive reads exactly one record. Call it only after poll reported the
// descriptor readable. A short read is an error for this attempt only;
// ErrChannelClosed means the front-end went away.
func (r *Receiver) Receive() (Record, error) {
	n, err := r.r.Read(r.buf)
	if err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, os.ErrClosed) {
			return Record{}, ErrChannelClosed
		}
		return Record{}, fmt.Errorf("read control record: %w", err)
	}

	var rec Record
	if err := rec.UnmarshalBinary(r.buf[:n]); err != nil {
		return Record{}, err
	}
	return rec, nil
}

// Close releases the engine's ends of both pipes.
func (r *Receiver) Close() error {
	errAlive := r.alive.Close()
	errCmd := r.r.Close()
	return errors.Join(errCmd, errAlive)
}
