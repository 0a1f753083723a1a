package notifier

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func recorder(order *[]string, name string, result Result) HookFunc {
	return func(_ *Block, _ Event, _ any) Result {
		*order = append(*order, name)
		return result
	}
}

func TestChain_PriorityOrder(t *testing.T) {
	var order []string
	c := NewChain()

	require.NoError(t, c.Register(&Block{Priority: PriorityLow, Hook: recorder(&order, "low", ResultDone)}))
	require.NoError(t, c.Register(&Block{Priority: PriorityExtra, Hook: recorder(&order, "extra", ResultDone)}))
	require.NoError(t, c.Register(&Block{Priority: PriorityMedium, Hook: recorder(&order, "medium", ResultDone)}))
	require.NoError(t, c.Register(&Block{Priority: PriorityVeryLow, Hook: recorder(&order, "verylow", ResultDone)}))

	result, called := c.Dispatch(1, nil)

	assert.Equal(t, ResultDone, result)
	assert.Equal(t, 4, called)
	assert.Equal(t, []string{"extra", "medium", "low", "verylow"}, order)
}

func TestChain_StopPropagation(t *testing.T) {
	var order []string
	c := NewChain()

	require.NoError(t, c.Register(&Block{Priority: PriorityHigh, Hook: recorder(&order, "high", ResultDone)}))
	require.NoError(t, c.Register(&Block{Priority: PriorityMedium, Hook: recorder(&order, "stopper", ResultStop)}))
	require.NoError(t, c.Register(&Block{Priority: PriorityLow, Hook: recorder(&order, "never", ResultDone)}))

	result, called := c.Dispatch(1, nil)

	assert.Equal(t, ResultStop, result)
	assert.Equal(t, 1, called)
	assert.Equal(t, []string{"high", "stopper"}, order)
}

func TestChain_PassesEventAndPayload(t *testing.T) {
	c := NewChain()

	var gotEvent Event
	var gotPayload any
	var gotSelf *Block
	b := &Block{Hook: func(self *Block, event Event, payload any) Result {
		gotSelf, gotEvent, gotPayload = self, event, payload
		return ResultDone
	}}
	require.NoError(t, c.Register(b))

	c.Dispatch(7, "speaking")

	assert.Same(t, b, gotSelf)
	assert.Equal(t, Event(7), gotEvent)
	assert.Equal(t, "speaking", gotPayload)
}

func TestChain_RegisterOnce(t *testing.T) {
	c := NewChain()
	b := &Block{Priority: PriorityMedium, Hook: func(*Block, Event, any) Result { return ResultDone }}

	require.NoError(t, c.RegisterOnce(b))
	assert.ErrorIs(t, c.RegisterOnce(b), ErrAlreadyRegistered)
	assert.Equal(t, 1, c.Len())

	// Plain Register does not check for duplicates.
	require.NoError(t, c.Register(b))
	assert.Equal(t, 2, c.Len())
}

func TestChain_Unregister(t *testing.T) {
	var order []string
	c := NewChain()

	a := &Block{Priority: PriorityHigh, Hook: recorder(&order, "a", ResultDone)}
	b := &Block{Priority: PriorityLow, Hook: recorder(&order, "b", ResultDone)}
	require.NoError(t, c.Register(a))
	require.NoError(t, c.Register(b))

	require.NoError(t, c.Unregister(a))
	require.NoError(t, c.Unregister(a), "removing an absent block is a no-op")

	c.Dispatch(1, nil)
	assert.Equal(t, []string{"b"}, order)
}

func TestChain_InvalidBlocks(t *testing.T) {
	c := NewChain()

	assert.ErrorIs(t, c.Register(nil), ErrInvalidBlock)
	assert.ErrorIs(t, c.Register(&Block{}), ErrInvalidBlock)
	assert.ErrorIs(t, c.RegisterOnce(&Block{}), ErrInvalidBlock)
	assert.ErrorIs(t, c.Unregister(nil), ErrInvalidBlock)
}

func TestChain_EmptyDispatch(t *testing.T) {
	result, called := NewChain().Dispatch(1, nil)
	assert.Equal(t, ResultDone, result)
	assert.Zero(t, called)
}

func TestChain_ConcurrentRegisterAndDispatch(t *testing.T) {
	c := NewChain()
	var mu sync.Mutex
	hits := 0

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func(p int) {
			defer wg.Done()
			c.Register(&Block{Priority: Priority(p % 5), Hook: func(*Block, Event, any) Result {
				mu.Lock()
				hits++
				mu.Unlock()
				return ResultDone
			}})
		}(i)
		go func() {
			defer wg.Done()
			c.Dispatch(1, nil)
		}()
	}
	wg.Wait()

	assert.Equal(t, 20, c.Len())

	mu.Lock()
	before := hits
	mu.Unlock()
	_, called := c.Dispatch(1, nil)
	assert.Equal(t, 20, called)

	mu.Lock()
	assert.Equal(t, before+20, hits)
	mu.Unlock()
}
