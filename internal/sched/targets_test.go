package sched

import (
	"testing"
	"time"

	"github.com/srg/blebridge/internal/radio"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func results(addrs ...string) []*radio.ScanResult {
	out := make([]*radio.ScanResult, len(addrs))
	for i, a := range addrs {
		out[i] = &radio.ScanResult{Address: a, Name: "scale"}
	}
	return out
}

func TestTargetsEmptyNeverMatches(t *testing.T) {
	targets := NewTargets(time.Minute)
	assert.True(t, targets.Empty())

	_, ok := targets.Match(results("AA:BB:CC:11:22:33"))
	assert.False(t, ok)
}

func TestTargetsMatchesWatchedAddress(t *testing.T) {
	targets := NewTargets(time.Minute)
	targets.Set([]string{"AA:BB:CC:11:22:33"})

	addr, ok := targets.Match(results("DE:AD:BE:EF:00:01", "AA:BB:CC:11:22:33"))
	require.True(t, ok)
	assert.Equal(t, "AA:BB:CC:11:22:33", addr)

	_, ok = targets.Match(results("FF:00:00:00:00:01"))
	assert.False(t, ok)
}

func TestTargetsDebounce(t *testing.T) {
	targets := NewTargets(50 * time.Millisecond)
	targets.Set([]string{"AA:BB:CC:11:22:33"})

	_, ok := targets.Match(results("AA:BB:CC:11:22:33"))
	require.True(t, ok)

	// Inside the window the same sighting stays silent.
	_, ok = targets.Match(results("AA:BB:CC:11:22:33"))
	assert.False(t, ok)

	time.Sleep(60 * time.Millisecond)
	_, ok = targets.Match(results("AA:BB:CC:11:22:33"))
	assert.True(t, ok)
}

func TestTargetsSetReplaces(t *testing.T) {
	targets := NewTargets(time.Minute)
	targets.Set([]string{"AA:BB:CC:11:22:33"})
	targets.Set([]string{"DE:AD:BE:EF:00:01"})

	_, ok := targets.Match(results("AA:BB:CC:11:22:33"))
	assert.False(t, ok)

	addr, ok := targets.Match(results("DE:AD:BE:EF:00:01"))
	require.True(t, ok)
	assert.Equal(t, "DE:AD:BE:EF:00:01", addr)
}

func TestTargetsZeroDebounceGetsDefault(t *testing.T) {
	targets := NewTargets(0)
	targets.Set([]string{"AA:BB:CC:11:22:33"})

	_, ok := targets.Match(results("AA:BB:CC:11:22:33"))
	require.True(t, ok)
	_, ok = targets.Match(results("AA:BB:CC:11:22:33"))
	assert.False(t, ok)
}
