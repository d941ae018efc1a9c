package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/srg/blebridge/internal/board"
	"github.com/srg/blebridge/internal/bus"
	"github.com/srg/blebridge/internal/config"
	"github.com/srg/blebridge/internal/radio"
	"github.com/srg/blebridge/internal/router"
	"github.com/srg/blebridge/internal/sched"
)

// runCmd starts the long-lived bridge daemon
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the bridge daemon",
	Long: `Run the bridge daemon: connect to the MQTT broker, start the
background scanner for the configured board, and serve commands from the
bridge topics until interrupted.`,
	RunE: runBridge,
}

var runConfigPath string

func init() {
	runCmd.Flags().StringVarP(&runConfigPath, "config", "c", "blebridge.yaml", "Configuration file")
}

func runBridge(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(runConfigPath)
	if err != nil {
		return err
	}
	logger := cfg.NewLogger()
	if err := applyLogFlag(cmd, logger); err != nil {
		return err
	}

	profile, err := board.Lookup(cfg.Board)
	if err != nil {
		return err
	}

	// All arguments validated - don't show usage on runtime errors
	cmd.SilenceUsage = true

	logger.WithFields(logrus.Fields{
		"board":  profile.Name,
		"device": cfg.DeviceID,
		"broker": cfg.MQTT.Broker,
	}).Info("starting bridge")

	flags := &sched.Flags{}
	targets := sched.NewTargets(0)
	targets.Set(cfg.Scales)
	if !targets.Empty() {
		logger.WithField("scales", len(cfg.Scales)).Info("watching scale addresses")
	}

	bridge := radio.NewBridge(radio.Options{
		MaxScanEntries:      profile.MaxScanEntries,
		DrainCyclesPerReset: profile.DrainCyclesPerReset,
		DeactivateAfterScan: profile.DeactivateRadioAfterScan,
	}, logger)

	busClient := bus.New(bus.Options{
		Broker:   cfg.MQTT.Broker,
		Username: cfg.MQTT.Username,
		Password: cfg.MQTT.Password,
		Prefix:   cfg.TopicPrefix,
		DeviceID: cfg.DeviceID,
	}, logger)

	alert := newAlerter(profile, logger)

	rtr := router.New(router.Options{ContinuousScan: profile.ContinuousScan}, bridge, flags, alert, logger)
	rtr.AttachBus(busClient)

	// Live config updates replace the watched-scale set without a restart.
	busClient.SetHandlers(rtr, func(scales, users []string) {
		targets.Set(scales)
	})

	// Peer-initiated disconnects go through the same queue as everything
	// else, so teardown never races a command in flight.
	bridge.SetOnLinkLost(func() {
		rtr.Enqueue(router.Command{Kind: router.KindLinkLost})
	})

	schd := sched.New(sched.Options{
		ContinuousScan:           profile.ContinuousScan,
		DeactivateRadioAfterScan: profile.DeactivateRadioAfterScan,
		ScanDuration:             profile.ScanDuration,
		ScanInterval:             profile.ScanInterval,
		PublishInterval:          profile.PublishInterval,
	}, bridge, busClient, busClient, alert, flags, targets, logger)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := busClient.Connect(ctx); err != nil {
		return fmt.Errorf("broker %s: %w", cfg.MQTT.Broker, err)
	}

	go schd.Run(ctx)
	rtr.Run(ctx)

	logger.Info("shutting down")
	if err := bridge.Disconnect(); err != nil {
		logger.WithError(err).Warn("disconnect on shutdown failed")
	}
	bridge.StopStreaming()
	busClient.Close()
	return nil
}

// alerter is the side-effect collaborator for boards with a beeper. Tone
// generation is board hardware; on hosts without one the events are only
// logged.
type alerter struct {
	hasBeeper bool
	log       *logrus.Logger
}

func newAlerter(profile board.Profile, log *logrus.Logger) *alerter {
	return &alerter{hasBeeper: profile.HasBeeper, log: log}
}

// Beep serves the tone command from the bus.
func (a *alerter) Beep(freq, durationMs, repeat int) {
	a.log.WithFields(logrus.Fields{
		"freq":     freq,
		"duration": durationMs,
		"repeat":   repeat,
		"beeper":   a.hasBeeper,
	}).Info("tone requested")
}

// ScaleDetected fires when a watched scale address appears in scan results.
func (a *alerter) ScaleDetected(address string) {
	a.log.WithField("address", address).Info("watched scale in range")
	if a.hasBeeper {
		a.Beep(2000, 100, 3)
	}
}
