package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/srg/blebridge/internal/board"
	"github.com/srg/blebridge/internal/radio"
)

// scanCmd runs one batch scan and prints the merged results
var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Scan for BLE devices",
	Long: `Run one bounded scan and display the discovered devices with their
names, addresses, RSSI values, advertised services, and manufacturer data.

The same dedup and noise filtering as the daemon's background scanner
applies: devices advertising neither a name nor manufacturer data are
dropped.`,
	RunE: runScan,
}

var (
	scanDuration time.Duration
	scanBoard    string
	scanFormat   string
)

func init() {
	scanCmd.Flags().DurationVarP(&scanDuration, "duration", "d", 8*time.Second, "Scan duration")
	scanCmd.Flags().StringVar(&scanBoard, "board", "esp32-s3", "Board profile to scan with")
	scanCmd.Flags().StringVarP(&scanFormat, "format", "f", "table", "Output format (table, json)")
}

func runScan(cmd *cobra.Command, args []string) error {
	if scanFormat != "table" && scanFormat != "json" {
		return fmt.Errorf("invalid format '%s': must be table or json", scanFormat)
	}

	logger, err := configureLogger(cmd)
	if err != nil {
		return err
	}

	profile, err := board.Lookup(scanBoard)
	if err != nil {
		return err
	}

	// All arguments validated - don't show usage on runtime errors
	cmd.SilenceUsage = true

	bridge := radio.NewBridge(radio.Options{
		MaxScanEntries:      profile.MaxScanEntries,
		DeactivateAfterScan: profile.DeactivateRadioAfterScan,
	}, logger)

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	fmt.Printf("Scanning for %s...\n", scanDuration)
	results, err := bridge.Scan(ctx, scanDuration)
	if err != nil {
		return fmt.Errorf("scan failed: %w", err)
	}

	if scanFormat == "json" {
		return displayResultsJSON(results)
	}
	return displayResultsTable(results)
}

func displayResultsTable(results []*radio.ScanResult) error {
	if len(results) == 0 {
		fmt.Println("No devices discovered")
		return nil
	}

	header := color.New(color.Bold)
	nameColor := color.New(color.FgCyan)

	var base io.Writer = os.Stdout
	w := tabwriter.NewWriter(base, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, header.Sprint("NAME\tADDRESS\tRSSI\tSERVICES\tMANUFACTURER"))
	fmt.Fprintln(w, strings.Repeat("-", 80))

	for _, r := range results {
		name := r.Name
		if len(name) > 20 {
			name = name[:17] + "..."
		}

		services := strings.Join(r.Services, ",")
		if len(services) > 30 {
			services = services[:27] + "..."
		}

		mfr := ""
		if r.ManufacturerID != nil {
			mfr = fmt.Sprintf("%04x", *r.ManufacturerID)
			if r.ManufacturerData != "" {
				mfr += ":" + r.ManufacturerData
			}
		}

		fmt.Fprintf(w, "%s\t%s\t%d dBm\t%s\t%s\n",
			nameColor.Sprint(name), r.Address, r.RSSI, services, mfr)
	}

	return w.Flush()
}

func displayResultsJSON(results []*radio.ScanResult) error {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(results)
}
