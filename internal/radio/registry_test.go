package radio

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPropertyNames(t *testing.T) {
	tests := []struct {
		name     string
		props    Property
		expected []string
	}{
		{"read only", PropRead, []string{"read"}},
		{"write only", PropWrite, []string{"write"}},
		{"notify and read", PropRead | PropNotify, []string{"read", "notify"}},
		{"unacknowledged write", PropWriteWithoutResponse, []string{"write-without-response"}},
		{"everything", PropRead | PropWrite | PropNotify | PropWriteWithoutResponse | PropIndicate,
			[]string{"read", "write", "notify", "write-without-response", "indicate"}},
		{"none", 0, []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.props.Names())
		})
	}
}

func TestCharacteristicInfoHasProperty(t *testing.T) {
	info := CharacteristicInfo{UUID: "x", Properties: []string{"read", "notify"}}
	assert.True(t, info.HasProperty(CapNotify))
	assert.False(t, info.HasProperty(CapWrite))
}

func TestRegistryPreservesDiscoveryOrder(t *testing.T) {
	r := NewRegistry()
	r.add(NormalizeUUID("2a39"), PropWrite, nil)
	r.add(NormalizeUUID("2a37"), PropNotify, nil)
	r.add(NormalizeUUID("2a38"), PropRead, nil)

	infos := r.Infos()
	require.Len(t, infos, 3)
	assert.Equal(t, NormalizeUUID("2a39"), infos[0].UUID)
	assert.Equal(t, NormalizeUUID("2a37"), infos[1].UUID)
	assert.Equal(t, NormalizeUUID("2a38"), infos[2].UUID)
}

func TestRegistryLookupNormalizes(t *testing.T) {
	r := NewRegistry()
	r.add(NormalizeUUID("2a37"), PropNotify, nil)

	entry, ok := r.lookup("00002A37-0000-1000-8000-00805F9B34FB")
	require.True(t, ok)
	assert.Equal(t, PropNotify, entry.props)

	_, ok = r.lookup("2a99")
	assert.False(t, ok)
}
