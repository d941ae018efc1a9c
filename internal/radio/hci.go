package radio

import (
	"context"
	"fmt"

	"github.com/go-ble/ble"
	"github.com/go-ble/ble/linux"
	"github.com/sirupsen/logrus"
)

// hciTransport drives the radio through go-ble's HCI socket.
type hciTransport struct {
	dev ble.Device
	log *logrus.Logger
}

func newHCITransport(log *logrus.Logger) (Transport, error) {
	dev, err := linux.NewDevice()
	if err != nil {
		return nil, fmt.Errorf("open HCI device: %w", err)
	}
	ble.SetDefaultDevice(dev)
	return &hciTransport{dev: dev, log: log}, nil
}

func (t *hciTransport) Scan(ctx context.Context, h AdvHandler) error {
	return t.dev.Scan(ctx, true, func(a ble.Advertisement) {
		h(rawFromAdvertisement(a))
	})
}

func (t *hciTransport) Dial(ctx context.Context, address string, addrType int) (Link, error) {
	// go-ble resolves the addressing mode from its scan cache; addrType is
	// carried for transports that need it explicitly.
	_ = addrType
	client, err := ble.Dial(ctx, ble.NewAddr(address))
	if err != nil {
		return nil, err
	}
	return &hciLink{client: client, done: client.Disconnected()}, nil
}

func (t *hciTransport) PowerOff() error {
	return t.dev.Stop()
}

// rawFromAdvertisement rebuilds the AD structures of a report from go-ble's
// parsed view. The HCI layer has already consumed the raw payload, and
// re-encoding keeps a single parser serving both the live and test paths.
func rawFromAdvertisement(a ble.Advertisement) RawAdvertisement {
	raw := RawAdvertisement{RSSI: a.RSSI()}
	if addr, err := ParseAddress(a.Addr().String()); err == nil {
		raw.Addr = addr
	}
	// The linux advertisement carries the address type; elsewhere default
	// to public.
	if at, ok := a.(interface{ AddrType() uint8 }); ok {
		raw.AddrType = int(at.AddrType()) & 1
	}
	raw.Data = encodeADStructures(a.LocalName(), a.Services(), a.ManufacturerData())
	return raw
}

func encodeADStructures(name string, services []ble.UUID, mfr []byte) []byte {
	var data []byte
	if name != "" && len(name) <= 0xFE {
		data = append(data, byte(len(name)+1), adTypeCompleteName)
		data = append(data, name...)
	}
	var svc16 []byte
	for _, u := range services {
		if len(u) == 2 {
			// ble.UUID bytes are already little-endian.
			svc16 = append(svc16, u[0], u[1])
		}
	}
	if len(svc16) > 0 && len(svc16) <= 0xFE {
		data = append(data, byte(len(svc16)+1), adTypeServices16C)
		data = append(data, svc16...)
	}
	if len(mfr) >= 2 && len(mfr) <= 0xFE {
		data = append(data, byte(len(mfr)+1), adTypeManufacturer)
		data = append(data, mfr...)
	}
	return data
}

// hciLink is one open GATT connection over go-ble.
type hciLink struct {
	client ble.Client
	done   <-chan struct{}
}

func (l *hciLink) Services(ctx context.Context) ([]RemoteService, error) {
	type discovered struct {
		svcs []*ble.Service
		err  error
	}
	ch := make(chan discovered, 1)
	go func() {
		svcs, err := l.client.DiscoverServices(nil)
		ch <- discovered{svcs, err}
	}()
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case d := <-ch:
		if d.err != nil {
			return nil, d.err
		}
		out := make([]RemoteService, len(d.svcs))
		for i, s := range d.svcs {
			out[i] = &hciService{svc: s}
		}
		return out, nil
	}
}

func (l *hciLink) Characteristics(ctx context.Context, svc RemoteService) ([]RemoteCharacteristic, error) {
	hs, ok := svc.(*hciService)
	if !ok {
		return nil, fmt.Errorf("foreign service handle %q", svc.UUID())
	}
	type discovered struct {
		chars []*ble.Characteristic
		err   error
	}
	ch := make(chan discovered, 1)
	go func() {
		chars, err := l.client.DiscoverCharacteristics(nil, hs.svc)
		ch <- discovered{chars, err}
	}()
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case d := <-ch:
		if d.err != nil {
			return nil, d.err
		}
		out := make([]RemoteCharacteristic, len(d.chars))
		for i, c := range d.chars {
			out[i] = &hciCharacteristic{char: c}
		}
		return out, nil
	}
}

func (l *hciLink) Read(c RemoteCharacteristic) ([]byte, error) {
	hc, ok := c.(*hciCharacteristic)
	if !ok {
		return nil, fmt.Errorf("foreign characteristic handle %q", c.UUID())
	}
	return l.client.ReadCharacteristic(hc.char)
}

func (l *hciLink) Write(c RemoteCharacteristic, data []byte, withResponse bool) error {
	hc, ok := c.(*hciCharacteristic)
	if !ok {
		return fmt.Errorf("foreign characteristic handle %q", c.UUID())
	}
	return l.client.WriteCharacteristic(hc.char, data, !withResponse)
}

func (l *hciLink) Subscribe(c RemoteCharacteristic, h func([]byte)) error {
	hc, ok := c.(*hciCharacteristic)
	if !ok {
		return fmt.Errorf("foreign characteristic handle %q", c.UUID())
	}
	indicate := hc.char.Property&ble.CharNotify == 0 && hc.char.Property&ble.CharIndicate != 0
	return l.client.Subscribe(hc.char, indicate, func(data []byte) { h(data) })
}

func (l *hciLink) Unsubscribe(c RemoteCharacteristic) error {
	hc, ok := c.(*hciCharacteristic)
	if !ok {
		return fmt.Errorf("foreign characteristic handle %q", c.UUID())
	}
	// Try both modes; report failure only when both fail.
	err1 := l.client.Unsubscribe(hc.char, false)
	err2 := l.client.Unsubscribe(hc.char, true)
	if err1 != nil && err2 != nil {
		return fmt.Errorf("notify=%v, indicate=%v", err1, err2)
	}
	return nil
}

func (l *hciLink) Connected() bool {
	select {
	case <-l.done:
		return false
	default:
		return true
	}
}

func (l *hciLink) Close() error {
	return l.client.CancelConnection()
}

type hciService struct {
	svc *ble.Service
}

func (s *hciService) UUID() string { return s.svc.UUID.String() }

type hciCharacteristic struct {
	char *ble.Characteristic
}

func (c *hciCharacteristic) UUID() string { return c.char.UUID.String() }

func (c *hciCharacteristic) Properties() Property {
	var p Property
	if c.char.Property&ble.CharBroadcast != 0 {
		p |= PropBroadcast
	}
	if c.char.Property&ble.CharRead != 0 {
		p |= PropRead
	}
	if c.char.Property&ble.CharWriteNR != 0 {
		p |= PropWriteWithoutResponse
	}
	if c.char.Property&ble.CharWrite != 0 {
		p |= PropWrite
	}
	if c.char.Property&ble.CharNotify != 0 {
		p |= PropNotify
	}
	if c.char.Property&ble.CharIndicate != 0 {
		p |= PropIndicate
	}
	return p
}
