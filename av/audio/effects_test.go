package audio

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGainEffect(t *testing.T) {
	g, err := NewGainEffect(2.0)
	require.NoError(t, err)

	out, err := g.Process([]int16{100, -100, 20000, -20000})
	require.NoError(t, err)
	assert.Equal(t, []int16{200, -200, 32767, -32768}, out)
	assert.Equal(t, "gain(2.00)", g.Name())
}

func TestNewGainEffect_Range(t *testing.T) {
	_, err := NewGainEffect(-0.1)
	assert.Error(t, err)
	_, err = NewGainEffect(MaxGain + 0.1)
	assert.Error(t, err)

	g, err := NewGainEffect(0)
	require.NoError(t, err)
	out, _ := g.Process([]int16{1234})
	assert.Equal(t, []int16{0}, out)
}

type failingEffect struct{ closed bool }

func (f *failingEffect) Process([]int16) ([]int16, error) { return nil, errors.New("boom") }
func (f *failingEffect) Name() string                      { return "failing" }
func (f *failingEffect) Close() error                      { f.closed = true; return nil }

func TestChain(t *testing.T) {
	double, _ := NewGainEffect(2)
	half, _ := NewGainEffect(0.5)
	c := NewChain(double, nil, half)

	assert.Equal(t, 2, c.Len())
	assert.Equal(t, []string{"gain(2.00)", "gain(0.50)"}, c.Names())

	out, err := c.Process([]int16{10, -10})
	require.NoError(t, err)
	assert.Equal(t, []int16{10, -10}, out)

	bad := &failingEffect{}
	c.Add(bad)
	_, err = c.Process([]int16{1})
	assert.ErrorContains(t, err, "failing")

	require.NoError(t, c.Close())
	assert.True(t, bad.closed)
	assert.Zero(t, c.Len())
}
