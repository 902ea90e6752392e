package jitapi

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestPool(t *testing.T) {
	p := NewPool[int]()
	require.Equal(t, 0, p.Allocated())

	for i := 0; i < poolPageSize*3+5; i++ {
		v, idx := p.Allocate()
		require.Equal(t, i, idx)
		*v = i * 2
	}
	require.Equal(t, poolPageSize*3+5, p.Allocated())
	for i := 0; i < p.Allocated(); i++ {
		require.Equal(t, i*2, *p.View(i))
	}

	p.Reset()
	require.Equal(t, 0, p.Allocated())
	v, idx := p.Allocate()
	require.Equal(t, 0, idx)
	require.Equal(t, 0, *v)
}

func TestPool_ViewOutOfRange(t *testing.T) {
	p := NewPool[int]()
	require.Panics(t, func() { p.View(0) })
}

func TestLogger(t *testing.T) {
	require.NotNil(t, Logger())
	l := zap.NewExample()
	SetLogger(l)
	require.Equal(t, l, Logger())
	SetLogger(nil)
	require.NotNil(t, Logger())
	require.NotEqual(t, l, Logger())
}

func TestDefaultDebugLevel(t *testing.T) {
	t.Setenv(DebugLevelEnv, "2")
	require.Equal(t, 2, DefaultDebugLevel())
	t.Setenv(DebugLevelEnv, "")
	require.Equal(t, 0, DefaultDebugLevel())
	t.Setenv(DebugLevelEnv, "1")
	require.Equal(t, 1, DefaultDebugLevel())
}
