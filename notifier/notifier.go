// Package notifier implements a priority-ordered chain of event hooks.
//
// Hooks are invoked synchronously, highest priority first, while the chain
// lock is held. A hook must not register, unregister or dispatch on the
// chain that is calling it.
package notifier

import (
	"errors"
	"sync"

	"github.com/sirupsen/logrus"
)

// Priority orders hooks; higher values run first.
type Priority int

const (
	PriorityVeryLow Priority = iota
	PriorityLow
	PriorityMedium
	PriorityHigh
	PriorityExtra
)

// Event identifies what is being dispatched.
type Event uint32

// Result is returned by a hook.
type Result int

const (
	// ResultDone lets the dispatch continue with the next hook.
	ResultDone Result = iota
	// ResultStop ends the dispatch after the current hook.
	ResultStop
)

// HookFunc handles one event. It receives its own Block so one function can
// serve several registrations.
type HookFunc func(self *Block, event Event, payload any) Result

// Block is one registration. Blocks are compared by identity.
type Block struct {
	Priority Priority
	Hook     HookFunc
}

var (
	// ErrInvalidBlock indicates a nil block or a block without a hook.
	ErrInvalidBlock = errors.New("invalid event block")

	// ErrAlreadyRegistered indicates RegisterOnce found the block in the chain.
	ErrAlreadyRegistered = errors.New("event block already registered")
)

// Chain is a mutex-guarded list of blocks kept in descending priority order.
// The zero value is ready to use.
//
// Among blocks of equal priority a new block is placed after the existing
// ones, but callers must not rely on any order between equal priorities.
type Chain struct {
	mu     sync.Mutex
	blocks []*Block
}

// NewChain returns an empty chain.
func NewChain() *Chain {
	return &Chain{}
}

// Register inserts b before the first block of strictly lower priority.
func (c *Chain) Register(b *Block) error {
	if b == nil || b.Hook == nil {
		return ErrInvalidBlock
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.insert(b)
	return nil
}

// RegisterOnce is Register, failing with ErrAlreadyRegistered if b is
// already in the chain.
func (c *Chain) RegisterOnce(b *Block) error {
	if b == nil || b.Hook == nil {
		return ErrInvalidBlock
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	for _, existing := range c.blocks {
		if existing == b {
			return ErrAlreadyRegistered
		}
	}

	c.insert(b)
	return nil
}

func (c *Chain) insert(b *Block) {
	pos := len(c.blocks)
	for i, existing := range c.blocks {
		if b.Priority > existing.Priority {
			pos = i
			break
		}
	}

	c.blocks = append(c.blocks, nil)
	copy(c.blocks[pos+1:], c.blocks[pos:])
	c.blocks[pos] = b
}

// Unregister removes the first occurrence of b. Removing an absent block is
// not an error.
func (c *Chain) Unregister(b *Block) error {
	if b == nil {
		return ErrInvalidBlock
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	for i, existing := range c.blocks {
		if existing == b {
			c.blocks = append(c.blocks[:i], c.blocks[i+1:]...)
			break
		}
	}
	return nil
}

// Dispatch calls every hook in priority order until one returns ResultStop.
// It returns the result of the last hook called (ResultDone for an empty
// chain) and the number of hooks that completed without stopping the chain.
func (c *Chain) Dispatch(event Event, payload any) (Result, int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	result := ResultDone
	called := 0
	for _, b := range c.blocks {
		result = b.Hook(b, event, payload)
		if result == ResultStop {
			logrus.WithFields(logrus.Fields{
				"function": "Chain.Dispatch",
				"event":    event,
				"priority": b.Priority,
			}).Trace("Hook stopped the chain")
			break
		}
		called++
	}

	return result, called
}

// Len returns the number of registered blocks.
func (c *Chain) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.blocks)
}
