// Package sched drives the autonomous background scanner. One of two
// policies is selected at startup from the board profile: time-sliced batch
// scans for shared-antenna boards, or an always-on streaming scan drained
// periodically for boards whose radio coexists with the network link.
package sched

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/blebridge/internal/radio"
)

// Radio is the slice of the bridge the scheduler drives.
type Radio interface {
	Scan(ctx context.Context, duration time.Duration) ([]*radio.ScanResult, error)
	StartStreaming() error
	DrainResults() []*radio.ScanResult
}

// NetLink reports the state of the network link the scan results travel
// over. On shared-antenna boards a scan can force the link down; the
// scheduler marks subscriptions stale before scanning and waits for
// recovery after.
type NetLink interface {
	IsConnected() bool
	SubsReady() bool
	MarkSubsStale()
	AssumeSubsValid()
}

// Publisher carries scan results and non-fatal errors out over the bus.
type Publisher interface {
	PublishScanResults([]*radio.ScanResult) error
	PublishError(msg string)
}

// Alerter is the one-shot side effect fired when a watched scale address
// shows up in scan results. Implementations live outside the core.
type Alerter interface {
	ScaleDetected(address string)
}

// Options selects the scan policy and its timing.
type Options struct {
	ContinuousScan           bool
	DeactivateRadioAfterScan bool
	ScanDuration             time.Duration
	ScanInterval             time.Duration
	PublishInterval          time.Duration
	// ReconnectWait bounds the post-scan poll for network recovery on
	// shared-antenna boards.
	ReconnectWait time.Duration
	// Tick is the idle/poll granularity of the loops. Zero means one second.
	Tick time.Duration
}

const (
	defaultReconnectWait = 30 * time.Second
	defaultTick          = time.Second
)

// Scheduler runs the selected scan policy until its context is cancelled.
// Scan-cycle errors are reported and the next cycle is still scheduled; the
// loop never terminates on its own.
type Scheduler struct {
	opts    Options
	radio   Radio
	net     NetLink
	pub     Publisher
	alert   Alerter
	flags   *Flags
	targets *Targets
	log     *logrus.Logger

	// tick is the idle/poll granularity; shrunk in tests.
	tick     time.Duration
	lastScan time.Time
}

func New(opts Options, r Radio, net NetLink, pub Publisher, alert Alerter, flags *Flags, targets *Targets, log *logrus.Logger) *Scheduler {
	if opts.ReconnectWait <= 0 {
		opts.ReconnectWait = defaultReconnectWait
	}
	if opts.Tick <= 0 {
		opts.Tick = defaultTick
	}
	if log == nil {
		log = logrus.New()
	}
	return &Scheduler{
		opts:    opts,
		radio:   r,
		net:     net,
		pub:     pub,
		alert:   alert,
		flags:   flags,
		targets: targets,
		log:     log,
		tick:    opts.Tick,
	}
}

// Run blocks, dispatching to the policy selected at construction.
func (s *Scheduler) Run(ctx context.Context) {
	if s.opts.ContinuousScan {
		s.runStreaming(ctx)
	} else {
		s.runBatch(ctx)
	}
}

// sleep waits for d or cancellation, reporting false when cancelled.
func (s *Scheduler) sleep(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}

func (s *Scheduler) netReady() bool {
	return s.net.IsConnected() && s.net.SubsReady()
}

// checkTargets evaluates the scale-detection hook for one cycle's results.
func (s *Scheduler) checkTargets(results []*radio.ScanResult) {
	if addr, ok := s.targets.Match(results); ok {
		s.log.WithField("address", addr).Info("scale detected")
		s.alert.ScaleDetected(addr)
	}
}

// runBatch is the shared-antenna policy: scan for a bounded window, then
// give the antenna back and wait for the network link to recover before
// publishing.
func (s *Scheduler) runBatch(ctx context.Context) {
	for ctx.Err() == nil {
		if !s.netReady() {
			if !s.sleep(ctx, s.tick) {
				return
			}
			continue
		}
		if s.flags.Paused() || s.flags.Busy() {
			if !s.sleep(ctx, s.tick) {
				return
			}
			continue
		}
		if time.Since(s.lastScan) < s.opts.ScanInterval {
			if !s.sleep(ctx, s.tick/2) {
				return
			}
			continue
		}
		s.runBatchCycle(ctx)
	}
}

func (s *Scheduler) runBatchCycle(ctx context.Context) {
	if !s.flags.AcquireBusy() {
		// The router won the radio between the loop's check and here.
		return
	}
	// Same window for a pause: the claim settles the race, the re-check
	// honors it.
	if s.flags.Paused() {
		s.flags.ReleaseBusy()
		return
	}
	defer func() {
		// If the session survived the scan, the broker never saw us leave
		// and the old subscriptions are still in force.
		if s.net.IsConnected() && !s.net.SubsReady() {
			s.net.AssumeSubsValid()
		}
		s.lastScan = time.Now()
		s.flags.ReleaseBusy()
	}()

	if s.opts.DeactivateRadioAfterScan {
		// The scan is about to disrupt the network link.
		s.net.MarkSubsStale()
	}

	results, err := s.radio.Scan(ctx, s.opts.ScanDuration)
	if err != nil {
		s.log.WithError(err).Warn("scan cycle failed")
		s.pub.PublishError("scan failed: " + err.Error())
		return
	}
	s.log.WithField("devices", len(results)).Debug("batch scan complete")

	s.checkTargets(results)

	if s.opts.DeactivateRadioAfterScan {
		s.awaitNetRecovery(ctx)
	}

	if err := s.pub.PublishScanResults(results); err != nil {
		s.log.WithError(err).Warn("scan publish failed")
		s.pub.PublishError("scan publish failed: " + err.Error())
	}
}

// awaitNetRecovery polls for the network link after a radio-induced drop,
// bounded by ReconnectWait. A session that is connected but not yet
// resubscribed is treated as ready: the link never actually dropped.
func (s *Scheduler) awaitNetRecovery(ctx context.Context) {
	deadline := time.Now().Add(s.opts.ReconnectWait)
	for ctx.Err() == nil && time.Now().Before(deadline) {
		if s.net.IsConnected() {
			if !s.net.SubsReady() {
				s.net.AssumeSubsValid()
			}
			return
		}
		if !s.sleep(ctx, s.tick) {
			return
		}
	}
}

// runStreaming is the dual-radio policy: start an indefinite scan once the
// network link is ready, then drain and publish on a fixed interval.
// Pausing idles the drain without touching the scan; only a GATT session
// (via the router) stops and restarts the scan itself.
func (s *Scheduler) runStreaming(ctx context.Context) {
	for ctx.Err() == nil && !s.netReady() {
		if !s.sleep(ctx, s.tick) {
			return
		}
	}
	if ctx.Err() != nil {
		return
	}

	if err := s.radio.StartStreaming(); err != nil {
		s.log.WithError(err).Error("could not start streaming scan")
		s.pub.PublishError("streaming scan failed to start: " + err.Error())
		return
	}

	for ctx.Err() == nil {
		if !s.netReady() {
			if !s.sleep(ctx, s.tick) {
				return
			}
			continue
		}
		if s.flags.Paused() {
			if !s.sleep(ctx, s.tick) {
				return
			}
			continue
		}
		if !s.sleep(ctx, s.opts.PublishInterval) {
			return
		}
		if s.flags.Paused() {
			continue
		}

		results := s.radio.DrainResults()
		s.log.WithField("devices", len(results)).Debug("streaming drain complete")
		s.checkTargets(results)
		if err := s.pub.PublishScanResults(results); err != nil {
			s.log.WithError(err).Warn("scan publish failed")
			s.pub.PublishError("scan publish failed: " + err.Error())
		}
	}
}
