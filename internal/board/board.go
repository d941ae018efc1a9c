// Package board carries the per-board radio-coexistence profiles. A profile
// is selected once at startup and consumed as plain policy flags; nothing
// re-branches on board identity after that.
package board

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Profile describes how a board's radio must be scheduled.
type Profile struct {
	Name string

	// ContinuousScan selects the streaming scan policy (dual-radio boards).
	// Off, the bridge runs time-sliced batch scans.
	ContinuousScan bool
	// DeactivateRadioAfterScan powers BLE down after each scan and
	// disconnect so the network link can reclaim the shared antenna.
	DeactivateRadioAfterScan bool

	// MaxScanEntries caps the raw-report buffer per scan cycle.
	MaxScanEntries int

	ScanDuration    time.Duration
	ScanInterval    time.Duration
	PublishInterval time.Duration
	// DrainCyclesPerReset ages the streaming dedup table: a device not seen
	// for this many drains disappears from output.
	DrainCyclesPerReset int

	HasBeeper  bool
	HasDisplay bool
}

var profiles = map[string]Profile{
	// M5Stack Atom Echo: shared 2.4 GHz front-end, BLE must yield the
	// antenna to the network link after every scan. Tight on RAM.
	"atom-echo": {
		Name:                     "atom-echo",
		DeactivateRadioAfterScan: true,
		MaxScanEntries:           200,
		ScanDuration:             8 * time.Second,
		ScanInterval:             5 * time.Second,
		HasBeeper:                true,
	},
	// Generic ESP32-S3: hardware coexistence, BLE and the network link run
	// simultaneously. Plenty of room for large scan buffers.
	"esp32-s3": {
		Name:                "esp32-s3",
		ContinuousScan:      true,
		MaxScanEntries:      500,
		ScanDuration:        8 * time.Second,
		ScanInterval:        2 * time.Second,
		PublishInterval:     2 * time.Second,
		DrainCyclesPerReset: 5,
	},
	// Guition 4848S040 panel: same radio as esp32-s3 plus a 480x480
	// display driven by an external collaborator.
	"guition-4848": {
		Name:                "guition-4848",
		ContinuousScan:      true,
		MaxScanEntries:      500,
		ScanDuration:        8 * time.Second,
		ScanInterval:        2 * time.Second,
		PublishInterval:     2 * time.Second,
		DrainCyclesPerReset: 5,
		HasDisplay:          true,
	},
}

// Lookup returns the profile for the given board name.
func Lookup(name string) (Profile, error) {
	p, ok := profiles[name]
	if !ok {
		return Profile{}, fmt.Errorf("unknown board %q (known: %s)", name, strings.Join(Names(), ", "))
	}
	return p, nil
}

// Names lists the known board names, sorted.
func Names() []string {
	names := make([]string, 0, len(profiles))
	for name := range profiles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
