package bus

import (
	"testing"

	"github.com/srg/blebridge/internal/router"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJoin(t *testing.T) {
	topics := NewTopics("blebridge", "kitchen-01")
	assert.Equal(t, "blebridge/kitchen-01", topics.Base())
	assert.Equal(t, "blebridge/kitchen-01/connect", topics.Join(topicConnect))
	assert.Equal(t, "blebridge/kitchen-01/scan/results", topics.Join(topicScanResults))
}

func TestSuffix(t *testing.T) {
	topics := NewTopics("blebridge", "kitchen-01")

	suffix, ok := topics.Suffix("blebridge/kitchen-01/write/2a39")
	require.True(t, ok)
	assert.Equal(t, "write/2a39", suffix)

	_, ok = topics.Suffix("blebridge/other-device/connect")
	assert.False(t, ok)

	_, ok = topics.Suffix("blebridge/kitchen-01/")
	assert.False(t, ok)
}

func TestClassify(t *testing.T) {
	topics := NewTopics("blebridge", "kitchen-01")
	base := "blebridge/kitchen-01/"

	tests := []struct {
		name     string
		topic    string
		payload  []byte
		expected router.Command
		ok       bool
	}{
		{
			name:     "connect",
			topic:    base + "connect",
			payload:  []byte(`{"address":"AA:BB:CC:11:22:33"}`),
			expected: router.Command{Kind: router.KindConnect, Payload: []byte(`{"address":"AA:BB:CC:11:22:33"}`)},
			ok:       true,
		},
		{
			name:     "disconnect",
			topic:    base + "disconnect",
			expected: router.Command{Kind: router.KindDisconnect},
			ok:       true,
		},
		{
			name:     "beep",
			topic:    base + "beep",
			payload:  []byte(`{"freq":440}`),
			expected: router.Command{Kind: router.KindTone, Payload: []byte(`{"freq":440}`)},
			ok:       true,
		},
		{
			name:     "write",
			topic:    base + "write/2a39",
			payload:  []byte{0x01},
			expected: router.Command{Kind: router.KindWrite, UUID: "2a39", Payload: []byte{0x01}},
			ok:       true,
		},
		{
			name:     "read",
			topic:    base + "read/2a38",
			expected: router.Command{Kind: router.KindRead, UUID: "2a38"},
			ok:       true,
		},
		{
			name:  "read response echo is not a command",
			topic: base + "read/2a38/response",
			ok:    false,
		},
		{
			name:  "write without uuid",
			topic: base + "write/",
			ok:    false,
		},
		{
			name:  "config handled out of band",
			topic: base + "config",
			ok:    false,
		},
		{
			name:  "unknown suffix",
			topic: base + "something-else",
			ok:    false,
		},
		{
			name:  "foreign base",
			topic: "other/kitchen-01/connect",
			ok:    false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd, ok := topics.Classify(tt.topic, tt.payload)
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.Equal(t, tt.expected, cmd)
			}
		})
	}
}
