package radio

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	ringbuf "github.com/hedzr/go-ringbuf/v2"
	"github.com/hedzr/go-ringbuf/v2/mpmc"
	"github.com/sirupsen/logrus"
)

// Options tunes the bridge for the board it runs on. Zero values fall back
// to the defaults below.
type Options struct {
	// MaxScanEntries caps the raw-report buffer per scan cycle. Reports
	// beyond the cap are dropped and counted.
	MaxScanEntries int
	// DrainCyclesPerReset clears the streaming dedup table every N drains so
	// disappeared devices age out. 0 disables aging.
	DrainCyclesPerReset int
	// DeactivateAfterScan powers the radio down after scans and disconnects
	// on boards where BLE and the network link share one antenna.
	DeactivateAfterScan bool

	ConnectTimeout   time.Duration
	DiscoveryTimeout time.Duration
	NotifyLiveness   time.Duration
}

const (
	defaultMaxScanEntries   = 200
	defaultConnectTimeout   = 15 * time.Second
	defaultDiscoveryTimeout = 10 * time.Second
	defaultNotifyLiveness   = 10 * time.Second

	// Per-characteristic forwarding queue depth. Overflow drops the oldest
	// value, keeping the newest, like the scan report cap keeps the radio
	// callback non-blocking.
	notifyQueueDepth = 32
)

func (o *Options) applyDefaults() {
	if o.MaxScanEntries <= 0 {
		o.MaxScanEntries = defaultMaxScanEntries
	}
	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = defaultConnectTimeout
	}
	if o.DiscoveryTimeout <= 0 {
		o.DiscoveryTimeout = defaultDiscoveryTimeout
	}
	if o.NotifyLiveness <= 0 {
		o.NotifyLiveness = defaultNotifyLiveness
	}
}

// reportBuffer is the bounded landing zone between the radio event callback
// and report processing. DrainResults swaps the whole buffer for an empty
// one, so reports arriving during processing land in the new buffer instead
// of being lost or double-counted.
type reportBuffer struct {
	ring     mpmc.RingBuffer[RawAdvertisement]
	max      int
	accepted atomic.Int64
	dropped  atomic.Int64
	noticed  atomic.Bool
}

func newReportBuffer(max int) *reportBuffer {
	// The ring reserves one slot; the accepted counter enforces the exact cap.
	return &reportBuffer{
		ring: ringbuf.New[RawAdvertisement](uint32(max + 1)),
		max:  max,
	}
}

// add enqueues one report, honoring the cap. Returns false when dropped.
func (b *reportBuffer) add(r RawAdvertisement) bool {
	if int(b.accepted.Load()) >= b.max {
		b.dropped.Add(1)
		return false
	}
	if err := b.ring.Enqueue(r); err != nil {
		b.dropped.Add(1)
		return false
	}
	b.accepted.Add(1)
	return true
}

// Bridge owns the physical BLE radio exclusively: bounded-duration and
// streaming scans, one GATT connection at a time, per-characteristic
// read/write/notify, and teardown. Callers are responsible for not
// interleaving scans with GATT sessions; the scheduler/router busy-paused
// protocol enforces that above this layer.
type Bridge struct {
	opts Options
	log  *logrus.Logger

	transportMu sync.Mutex
	transport   Transport

	reports atomic.Pointer[reportBuffer]

	streamMu    sync.Mutex
	streamStop  context.CancelFunc
	streamDone  chan struct{}
	dedup       *DedupTable
	drainCycles int

	connMu        sync.Mutex
	link          Link
	registry      *Registry
	fwdCtx        context.Context
	fwdCancel     context.CancelFunc
	fwdWg         *sync.WaitGroup
	linkLostFired atomic.Bool
	onLinkLost    func()
}

func NewBridge(opts Options, log *logrus.Logger) *Bridge {
	opts.applyDefaults()
	if log == nil {
		log = logrus.New()
	}
	return &Bridge{
		opts:  opts,
		log:   log,
		dedup: NewDedupTable(),
	}
}

// SetOnLinkLost registers the callback fired at most once per connection
// when a notify forwarder detects peer-initiated link loss.
func (b *Bridge) SetOnLinkLost(fn func()) {
	b.connMu.Lock()
	b.onLinkLost = fn
	b.connMu.Unlock()
}

func (b *Bridge) getTransport() (Transport, error) {
	b.transportMu.Lock()
	defer b.transportMu.Unlock()
	if b.transport == nil {
		t, err := TransportFactory(b.log)
		if err != nil {
			return nil, fmt.Errorf("activate radio: %w", err)
		}
		b.transport = t
	}
	return b.transport, nil
}

// powerDown releases the radio so the network link can recover the antenna.
// Best-effort: transient radio errors during teardown are swallowed.
func (b *Bridge) powerDown() {
	b.transportMu.Lock()
	t := b.transport
	b.transport = nil
	b.transportMu.Unlock()
	if t == nil {
		return
	}
	if err := t.PowerOff(); err != nil {
		b.log.WithError(err).Debug("radio power-off failed")
	}
}

// handleReport runs in the radio event-delivery context. It must only
// append to the current buffer; parsing happens on the drain path.
func (b *Bridge) handleReport(r RawAdvertisement) {
	buf := b.reports.Load()
	if buf == nil {
		return
	}
	if !buf.add(r) && buf.noticed.CompareAndSwap(false, true) {
		b.log.WithField("cap", buf.max).Warn("scan report buffer full, dropping further reports")
	}
}

// drainInto dequeues every buffered raw report, parses it, and merges it
// into the given table.
func (b *Bridge) drainInto(buf *reportBuffer, table *DedupTable) {
	if buf == nil {
		return
	}
	for {
		raw, err := buf.ring.Dequeue()
		if err != nil {
			break
		}
		table.Merge(parseReport(raw))
	}
	if n := buf.dropped.Load(); n > 0 {
		b.log.WithField("dropped", n).Debug("raw reports dropped at cap")
	}
}

// Scan runs one bounded scan cycle: activate the radio, buffer raw reports
// for duration, then parse, merge, and filter them. Working buffers are
// released before returning to bound peak memory.
func (b *Bridge) Scan(ctx context.Context, duration time.Duration) ([]*ScanResult, error) {
	t, err := b.getTransport()
	if err != nil {
		return nil, err
	}

	buf := newReportBuffer(b.opts.MaxScanEntries)
	b.reports.Store(buf)
	defer b.reports.Store(nil)

	sctx, cancel := context.WithTimeout(ctx, duration)
	defer cancel()
	err = t.Scan(sctx, b.handleReport)
	if err != nil && !errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, context.Canceled) {
		if b.opts.DeactivateAfterScan {
			b.powerDown()
		}
		return nil, fmt.Errorf("scan failed: %w", err)
	}

	table := NewDedupTable()
	b.drainInto(buf, table)
	results := table.Results()

	if b.opts.DeactivateAfterScan {
		b.powerDown()
	}
	b.log.WithField("devices", len(results)).Debug("scan cycle complete")
	return results, nil
}

// StartStreaming begins an unbounded-duration scan and resets all dedup and
// aging state. No-op if already streaming.
func (b *Bridge) StartStreaming() error {
	b.streamMu.Lock()
	defer b.streamMu.Unlock()
	if b.streamStop != nil {
		return nil
	}

	t, err := b.getTransport()
	if err != nil {
		return err
	}

	b.dedup = NewDedupTable()
	b.drainCycles = 0
	b.reports.Store(newReportBuffer(b.opts.MaxScanEntries))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	b.streamStop = cancel
	b.streamDone = done

	go func() {
		defer close(done)
		if err := t.Scan(ctx, b.handleReport); err != nil && !errors.Is(err, context.Canceled) {
			b.log.WithError(err).Warn("streaming scan stopped")
		}
	}()

	b.log.Info("streaming scan started")
	return nil
}

// DrainResults atomically swaps the raw-report buffer for an empty one,
// merges the drained cycle into the persistent dedup table, and returns the
// merged view. Every DrainCyclesPerReset drains the table is cleared after
// returning that cycle's results, so a device not seen for N cycles
// disappears from subsequent output.
func (b *Bridge) DrainResults() []*ScanResult {
	old := b.reports.Swap(newReportBuffer(b.opts.MaxScanEntries))

	b.streamMu.Lock()
	defer b.streamMu.Unlock()

	b.drainInto(old, b.dedup)
	results := b.dedup.Results()

	b.drainCycles++
	if b.opts.DrainCyclesPerReset > 0 && b.drainCycles >= b.opts.DrainCyclesPerReset {
		b.dedup.Reset()
		b.drainCycles = 0
	}
	return results
}

// StopStreaming halts the indefinite scan and discards buffered raw
// reports. No-op if not streaming.
func (b *Bridge) StopStreaming() {
	b.streamMu.Lock()
	stop := b.streamStop
	done := b.streamDone
	b.streamStop = nil
	b.streamDone = nil
	b.streamMu.Unlock()

	if stop == nil {
		return
	}
	stop()
	<-done
	b.reports.Store(nil)
	b.log.Info("streaming scan stopped")
}

// Connect resolves a link to the peer, enumerates every service and
// characteristic under independent discovery timeouts, and returns the
// discovered capability list. On any discovery failure the partial
// connection is torn down before the error is returned; the caller must not
// assume a connection exists after a failed Connect.
func (b *Bridge) Connect(ctx context.Context, address string, addrType int) ([]CharacteristicInfo, error) {
	t, err := b.getTransport()
	if err != nil {
		return nil, err
	}

	b.log.WithFields(logrus.Fields{
		"address":   address,
		"addr_type": addrType,
	}).Info("connecting to peripheral")

	dctx, cancel := context.WithTimeout(ctx, b.opts.ConnectTimeout)
	defer cancel()
	link, err := t.Dial(dctx, address, addrType)
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", address, err)
	}

	registry := NewRegistry()
	svcs, err := b.discoverServices(ctx, link)
	if err != nil {
		b.teardownPartial(link)
		return nil, err
	}
	for _, svc := range svcs {
		chars, err := b.discoverCharacteristics(ctx, link, svc)
		if err != nil {
			b.teardownPartial(link)
			return nil, err
		}
		for _, ch := range chars {
			registry.add(NormalizeUUID(ch.UUID()), ch.Properties(), ch)
		}
	}

	b.connMu.Lock()
	b.link = link
	b.registry = registry
	b.fwdCtx, b.fwdCancel = context.WithCancel(context.Background())
	b.fwdWg = &sync.WaitGroup{}
	b.linkLostFired.Store(false)
	b.connMu.Unlock()

	b.log.WithField("characteristics", registry.Len()).Info("peripheral connected")
	return registry.Infos(), nil
}

func (b *Bridge) discoverServices(ctx context.Context, link Link) ([]RemoteService, error) {
	sctx, cancel := context.WithTimeout(ctx, b.opts.DiscoveryTimeout)
	defer cancel()
	svcs, err := link.Services(sctx)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("service enumeration: %w", ErrDiscoveryTimeout)
		}
		return nil, fmt.Errorf("service enumeration: %w", err)
	}
	return svcs, nil
}

func (b *Bridge) discoverCharacteristics(ctx context.Context, link Link, svc RemoteService) ([]RemoteCharacteristic, error) {
	cctx, cancel := context.WithTimeout(ctx, b.opts.DiscoveryTimeout)
	defer cancel()
	chars, err := link.Characteristics(cctx, svc)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("characteristic enumeration in %s: %w", svc.UUID(), ErrDiscoveryTimeout)
		}
		return nil, fmt.Errorf("characteristic enumeration in %s: %w", svc.UUID(), err)
	}
	return chars, nil
}

// teardownPartial releases a half-built connection. Link-layer errors during
// teardown are swallowed; the caller is already propagating the root cause.
func (b *Bridge) teardownPartial(link Link) {
	if err := link.Close(); err != nil {
		b.log.WithError(err).Debug("teardown after failed discovery")
	}
	if b.opts.DeactivateAfterScan {
		b.powerDown()
	}
}

// StartNotify spawns one forwarding activity for the characteristic: it
// relays each notification to sink(uuid, payload) and watches link liveness.
// Unknown UUIDs are a no-op.
func (b *Bridge) StartNotify(uuid string, sink func(uuid string, payload []byte)) error {
	b.connMu.Lock()
	link := b.link
	registry := b.registry
	ctx := b.fwdCtx
	wg := b.fwdWg
	b.connMu.Unlock()

	if link == nil || registry == nil {
		return nil
	}
	entry, ok := registry.lookup(uuid)
	if !ok {
		return nil
	}

	updates := make(chan []byte, notifyQueueDepth)
	err := link.Subscribe(entry.remote, func(data []byte) {
		// The transport may reuse its buffer after the callback returns.
		payload := make([]byte, len(data))
		copy(payload, data)
		select {
		case updates <- payload:
		default:
			// Queue full: drop the oldest, keep the newest.
			select {
			case <-updates:
			default:
			}
			select {
			case updates <- payload:
			default:
			}
		}
	})
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", uuid, err)
	}

	wg.Add(1)
	go b.runForwarder(ctx, wg, link, entry.uuid, updates, sink)
	return nil
}

// runForwarder relays notifications for one characteristic until it is
// cancelled, the connection is no longer open, or an unrecoverable error
// occurs. Termination due to link loss (not cancellation) raises the
// link-lost signal, at most once across all forwarders for the connection.
func (b *Bridge) runForwarder(ctx context.Context, wg *sync.WaitGroup, link Link, uuid string, updates <-chan []byte, sink func(string, []byte)) {
	defer wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case payload := <-updates:
			sink(uuid, payload)
			if !link.Connected() {
				b.fireLinkLost(uuid)
				return
			}
		case <-time.After(b.opts.NotifyLiveness):
			if !link.Connected() {
				b.fireLinkLost(uuid)
				return
			}
		}
	}
}

func (b *Bridge) fireLinkLost(uuid string) {
	if !b.linkLostFired.CompareAndSwap(false, true) {
		return
	}
	b.log.WithField("uuid", uuid).Warn("peripheral link lost")
	b.connMu.Lock()
	fn := b.onLinkLost
	b.connMu.Unlock()
	if fn != nil {
		fn()
	}
}

// Write forwards data to the characteristic. Acknowledged mode is selected
// if and only if the characteristic advertises the plain write capability.
// Unknown UUIDs are a no-op.
func (b *Bridge) Write(uuid string, data []byte) error {
	b.connMu.Lock()
	link := b.link
	registry := b.registry
	b.connMu.Unlock()

	if link == nil || registry == nil {
		return nil
	}
	entry, ok := registry.lookup(uuid)
	if !ok {
		return nil
	}
	withResponse := entry.props&PropWrite != 0
	if err := link.Write(entry.remote, data, withResponse); err != nil {
		return fmt.Errorf("write %s: %w", uuid, err)
	}
	return nil
}

// Read performs a single blocking read. Unknown UUIDs return empty bytes.
func (b *Bridge) Read(uuid string) ([]byte, error) {
	b.connMu.Lock()
	link := b.link
	registry := b.registry
	b.connMu.Unlock()

	if link == nil || registry == nil {
		return []byte{}, nil
	}
	entry, ok := registry.lookup(uuid)
	if !ok {
		return []byte{}, nil
	}
	data, err := link.Read(entry.remote)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", uuid, err)
	}
	return data, nil
}

// Characteristics returns the live registry view, empty when disconnected.
func (b *Bridge) Characteristics() []CharacteristicInfo {
	b.connMu.Lock()
	registry := b.registry
	b.connMu.Unlock()
	if registry == nil {
		return nil
	}
	return registry.Infos()
}

// Disconnect tears the connection down: the link-lost signal is marked as
// already fired so an explicit disconnect never also triggers the
// unexpected-disconnect path, every forwarding activity is cancelled and
// joined, the link is released best-effort, and the registry is cleared.
// Idempotent.
func (b *Bridge) Disconnect() error {
	b.connMu.Lock()
	b.linkLostFired.Store(true)
	link := b.link
	registry := b.registry
	cancel := b.fwdCancel
	wg := b.fwdWg
	b.link = nil
	b.registry = nil
	b.fwdCtx = nil
	b.fwdCancel = nil
	b.fwdWg = nil
	b.connMu.Unlock()

	if cancel != nil {
		cancel()
	}
	if wg != nil {
		wg.Wait()
	}

	if link != nil {
		if registry != nil {
			registry.each(func(e *registryEntry) {
				if e.props&(PropNotify|PropIndicate) == 0 {
					return
				}
				if err := link.Unsubscribe(e.remote); err != nil {
					b.log.WithField("uuid", e.uuid).WithError(err).Debug("unsubscribe during disconnect")
				}
			})
		}
		if err := link.Close(); err != nil {
			b.log.WithError(err).Debug("link release during disconnect")
		}
		b.log.Info("peripheral disconnected")
	}

	if b.opts.DeactivateAfterScan {
		b.powerDown()
	}
	return nil
}
