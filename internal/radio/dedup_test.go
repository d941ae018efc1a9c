package radio

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func entry(addr, name string, rssi int) *ScanResult {
	return &ScanResult{Address: addr, Name: name, RSSI: rssi, Services: []string{}}
}

func TestDedupKeepsMaxRSSI(t *testing.T) {
	table := NewDedupTable()
	table.Merge(entry("AA:BB:CC:11:22:33", "Probe", -80))
	table.Merge(entry("AA:BB:CC:11:22:33", "Probe", -50))
	table.Merge(entry("AA:BB:CC:11:22:33", "Probe", -70))

	results := table.Results()
	require.Len(t, results, 1)
	assert.Equal(t, -50, results[0].RSSI)
}

func TestDedupKeepsFirstName(t *testing.T) {
	table := NewDedupTable()
	table.Merge(entry("AA:BB:CC:11:22:33", "First", -60))
	table.Merge(entry("AA:BB:CC:11:22:33", "Second", -60))

	results := table.Results()
	require.Len(t, results, 1)
	assert.Equal(t, "First", results[0].Name)
}

func TestDedupFillsMissingName(t *testing.T) {
	table := NewDedupTable()
	id := uint16(0x004C)
	table.Merge(&ScanResult{Address: "AA:BB:CC:11:22:33", RSSI: -60,
		ManufacturerID: &id, ManufacturerData: "01", Services: []string{}})
	table.Merge(entry("AA:BB:CC:11:22:33", "Late", -60))

	results := table.Results()
	require.Len(t, results, 1)
	assert.Equal(t, "Late", results[0].Name)
	assert.Equal(t, "01", results[0].ManufacturerData)
}

func TestDedupManufacturerOnlyWhenAbsent(t *testing.T) {
	table := NewDedupTable()
	first := uint16(0x004C)
	second := uint16(0x0059)
	table.Merge(&ScanResult{Address: "AA:BB:CC:11:22:33", Name: "Probe", RSSI: -60,
		ManufacturerID: &first, ManufacturerData: "01", Services: []string{}})
	table.Merge(&ScanResult{Address: "AA:BB:CC:11:22:33", Name: "Probe", RSSI: -60,
		ManufacturerID: &second, ManufacturerData: "02", Services: []string{}})

	results := table.Results()
	require.Len(t, results, 1)
	assert.Equal(t, uint16(0x004C), *results[0].ManufacturerID)
	assert.Equal(t, "01", results[0].ManufacturerData)
}

func TestResultsFilterNoise(t *testing.T) {
	table := NewDedupTable()
	table.Merge(entry("AA:00:00:00:00:01", "Named", -60))
	// Neither name nor manufacturer data: filtered.
	table.Merge(entry("AA:00:00:00:00:02", "", -60))
	id := uint16(1)
	table.Merge(&ScanResult{Address: "AA:00:00:00:00:03", RSSI: -60,
		ManufacturerID: &id, ManufacturerData: "ff", Services: []string{}})

	results := table.Results()
	require.Len(t, results, 2)
	// Noise entries still occupy the table so later reports keep merging.
	assert.Equal(t, 3, table.Len())
}

func TestResultsSortedByAddress(t *testing.T) {
	table := NewDedupTable()
	table.Merge(entry("CC:00:00:00:00:01", "C", -60))
	table.Merge(entry("AA:00:00:00:00:01", "A", -60))
	table.Merge(entry("BB:00:00:00:00:01", "B", -60))

	results := table.Results()
	require.Len(t, results, 3)
	assert.Equal(t, "AA:00:00:00:00:01", results[0].Address)
	assert.Equal(t, "BB:00:00:00:00:01", results[1].Address)
	assert.Equal(t, "CC:00:00:00:00:01", results[2].Address)
}

func TestReset(t *testing.T) {
	table := NewDedupTable()
	table.Merge(entry("AA:00:00:00:00:01", "A", -60))
	table.Reset()
	assert.Equal(t, 0, table.Len())
	assert.Empty(t, table.Results())
}
