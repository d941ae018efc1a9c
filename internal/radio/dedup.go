package radio

import (
	"sort"

	"github.com/cornelk/hashmap"
)

// DedupTable merges raw scan reports by address. Merge policy: keep the
// maximum RSSI seen, keep the first non-empty name, and take manufacturer
// data only when the existing entry has none. In streaming mode the table is
// periodically Reset so devices that stopped advertising age out.
type DedupTable struct {
	entries *hashmap.Map[string, *ScanResult]
}

func NewDedupTable() *DedupTable {
	return &DedupTable{entries: hashmap.New[string, *ScanResult]()}
}

// Merge folds one parsed report into the table.
func (t *DedupTable) Merge(r *ScanResult) {
	existing, ok := t.entries.Get(r.Address)
	if !ok {
		t.entries.Set(r.Address, r)
		return
	}
	if r.RSSI > existing.RSSI {
		existing.RSSI = r.RSSI
	}
	if existing.Name == "" && r.Name != "" {
		existing.Name = r.Name
	}
	if existing.ManufacturerData == "" && r.ManufacturerData != "" {
		existing.ManufacturerID = r.ManufacturerID
		existing.ManufacturerData = r.ManufacturerData
	}
}

// Results returns the merged entries with noise filtered out, sorted by
// address for stable output.
func (t *DedupTable) Results() []*ScanResult {
	results := make([]*ScanResult, 0, t.entries.Len())
	t.entries.Range(func(_ string, r *ScanResult) bool {
		if !r.noise() {
			results = append(results, r)
		}
		return true
	})
	sort.Slice(results, func(i, j int) bool {
		return results[i].Address < results[j].Address
	})
	return results
}

// Reset discards every entry.
func (t *DedupTable) Reset() {
	t.entries = hashmap.New[string, *ScanResult]()
}

func (t *DedupTable) Len() int {
	return t.entries.Len()
}
