// Package router serializes inbound bus commands into a single FIFO and
// executes them one at a time against the radio bridge, coordinating with
// the background scanner through the shared paused/busy flags so that
// scanning and GATT sessions never overlap.
package router

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/blebridge/internal/radio"
	"github.com/srg/blebridge/internal/sched"
)

// Radio is the slice of the bridge the router drives.
type Radio interface {
	Connect(ctx context.Context, address string, addrType int) ([]radio.CharacteristicInfo, error)
	StartNotify(uuid string, sink func(uuid string, payload []byte)) error
	Write(uuid string, data []byte) error
	Read(uuid string) ([]byte, error)
	Disconnect() error
	StartStreaming() error
	StopStreaming()
}

// Bus is the outbound half of the message bus plus the lazily managed
// per-characteristic command subscriptions.
type Bus interface {
	PublishConnected([]radio.CharacteristicInfo) error
	PublishDisconnected() error
	PublishNotify(uuid string, payload []byte) error
	PublishReadResponse(uuid string, payload []byte) error
	PublishError(msg string)
	// SubscribeCharTopics subscribes the write/read wildcard topics.
	// Idempotent; at most one live subscription per connection epoch.
	SubscribeCharTopics() error
	// ClearCharTopics forgets the wildcard subscription so it is not
	// reinstated after a bus reconnect.
	ClearCharTopics()
}

// Alerter produces the tone side effect. It runs outside the command queue.
type Alerter interface {
	Beep(freq, durationMs, repeat int)
}

// Options configures the router for the board policy.
type Options struct {
	// ContinuousScan mirrors the board profile: it decides whether connect
	// stops a streaming scan or waits out a batch scan.
	ContinuousScan bool
	// ConnectWait bounds the wait for an in-flight batch scan to clear.
	ConnectWait time.Duration
	// QueueSize bounds the command FIFO.
	QueueSize int
}

const (
	defaultConnectWait = 30 * time.Second
	defaultQueueSize   = 32
	defaultBusyTick    = 500 * time.Millisecond
)

// Router owns the command FIFO. Enqueue is safe to call from bus-delivery
// goroutines; execution happens strictly one command at a time on Run's
// goroutine, in arrival order.
type Router struct {
	opts  Options
	radio Radio
	bus   Bus
	alert Alerter
	flags *sched.Flags
	log   *logrus.Logger

	queue chan Command
	// tick is the busy-wait poll granularity; shrunk in tests.
	tick time.Duration
}

func New(opts Options, r Radio, flags *sched.Flags, alert Alerter, log *logrus.Logger) *Router {
	if opts.ConnectWait <= 0 {
		opts.ConnectWait = defaultConnectWait
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = defaultQueueSize
	}
	if log == nil {
		log = logrus.New()
	}
	return &Router{
		opts:  opts,
		radio: r,
		alert: alert,
		flags: flags,
		log:   log,
		queue: make(chan Command, opts.QueueSize),
		tick:  defaultBusyTick,
	}
}

// AttachBus wires the outbound bus. Must be called before Run; split from
// New because the bus needs the router as its command sink.
func (r *Router) AttachBus(b Bus) {
	r.bus = b
}

// Enqueue appends one command to the FIFO. Returns false when the queue is
// full; the command is dropped and counted against the sender.
func (r *Router) Enqueue(cmd Command) bool {
	select {
	case r.queue <- cmd:
		return true
	default:
		r.log.WithField("kind", cmd.Kind.String()).Warn("command queue full, dropping")
		return false
	}
}

// Run drains the FIFO until ctx is cancelled. No error originating from
// command execution terminates the loop: failures are published as
// non-fatal error events and the next command is processed.
func (r *Router) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case cmd := <-r.queue:
			if err := r.execute(ctx, cmd); err != nil {
				r.log.WithFields(logrus.Fields{
					"kind": cmd.Kind.String(),
					"uuid": cmd.UUID,
				}).WithError(err).Warn("command failed")
				r.bus.PublishError(err.Error())
			}
		}
	}
}

func (r *Router) execute(ctx context.Context, cmd Command) error {
	switch cmd.Kind {
	case KindConnect:
		return r.handleConnect(ctx, cmd.Payload)
	case KindDisconnect:
		return r.handleDisconnect(false)
	case KindLinkLost:
		return r.handleDisconnect(true)
	case KindWrite:
		return r.radio.Write(cmd.UUID, cmd.Payload)
	case KindRead:
		return r.handleRead(cmd.UUID)
	case KindTone:
		return r.handleTone(cmd.Payload)
	default:
		return fmt.Errorf("%w: unknown kind %d", ErrMalformedCommand, cmd.Kind)
	}
}

type connectRequest struct {
	Address  string `json:"address"`
	AddrType int    `json:"addr_type"`
}

func (r *Router) handleConnect(ctx context.Context, payload []byte) error {
	var req connectRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedCommand, err)
	}
	if req.Address == "" {
		return fmt.Errorf("%w: missing address", ErrMalformedCommand)
	}

	r.flags.Pause()
	if r.opts.ContinuousScan {
		r.radio.StopStreaming()
	}
	if !r.acquireRadio(ctx) {
		r.flags.Resume()
		if r.opts.ContinuousScan {
			if serr := r.radio.StartStreaming(); serr != nil {
				r.log.WithError(serr).Warn("could not resume streaming scan")
			}
		}
		return ErrBusy
	}
	defer r.flags.ReleaseBusy()

	// At most one open connection, ever.
	_ = r.radio.Disconnect()

	infos, err := r.radio.Connect(ctx, req.Address, req.AddrType)
	if err != nil {
		// Resume scanning immediately rather than waiting for the next
		// scheduler tick.
		r.flags.Resume()
		if r.opts.ContinuousScan {
			if serr := r.radio.StartStreaming(); serr != nil {
				r.log.WithError(serr).Warn("could not resume streaming scan")
			}
		}
		return err
	}

	if err := r.bus.SubscribeCharTopics(); err != nil {
		r.log.WithError(err).Warn("characteristic topic subscription failed")
	}

	for _, info := range infos {
		if !info.HasProperty(radio.CapNotify) {
			continue
		}
		if err := r.radio.StartNotify(info.UUID, r.forwardNotification); err != nil {
			r.log.WithField("uuid", info.UUID).WithError(err).Warn("notify setup failed")
		}
	}

	return r.bus.PublishConnected(infos)
}

// forwardNotification is the single sink shared by every notify forwarder;
// the characteristic identifier rides along instead of one closure per
// characteristic.
func (r *Router) forwardNotification(uuid string, payload []byte) {
	if err := r.bus.PublishNotify(uuid, payload); err != nil {
		r.log.WithField("uuid", uuid).WithError(err).Warn("notify publish failed")
	}
}

// acquireRadio claims the radio, waiting out an in-flight batch scan,
// bounded by ConnectWait. The claim itself is a compare-and-swap so the
// scheduler can never slip a new scan in between the router observing the
// flag and taking it.
func (r *Router) acquireRadio(ctx context.Context) bool {
	deadline := time.Now().Add(r.opts.ConnectWait)
	for {
		if r.flags.AcquireBusy() {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(r.tick):
		}
	}
}

// handleDisconnect is the single teardown path for both the explicit
// disconnect command and the internal link-lost signal; the two differ only
// in how they were triggered, never in resulting state.
func (r *Router) handleDisconnect(unexpected bool) error {
	if unexpected {
		r.log.Warn("peripheral disconnected unexpectedly")
	}
	_ = r.radio.Disconnect()
	r.bus.ClearCharTopics()
	r.flags.Resume()
	if r.opts.ContinuousScan {
		if err := r.radio.StartStreaming(); err != nil {
			r.log.WithError(err).Warn("could not resume streaming scan")
		}
	}
	return r.bus.PublishDisconnected()
}

func (r *Router) handleRead(uuid string) error {
	data, err := r.radio.Read(uuid)
	if err != nil {
		return err
	}
	return r.bus.PublishReadResponse(uuid, data)
}

type toneRequest struct {
	Freq     int `json:"freq"`
	Duration int `json:"duration"`
	Repeat   int `json:"repeat"`
}

func (r *Router) handleTone(payload []byte) error {
	req := toneRequest{Freq: 1000, Duration: 200, Repeat: 1}
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &req); err != nil {
			return fmt.Errorf("%w: %v", ErrMalformedCommand, err)
		}
	}
	// The collaborator must not block the command queue.
	go r.alert.Beep(req.Freq, req.Duration, req.Repeat)
	return nil
}
