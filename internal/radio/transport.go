package radio

import (
	"context"
	"errors"

	"github.com/sirupsen/logrus"
)

// Errors surfaced by the bridge. Teardown errors are swallowed, these are
// the ones callers are expected to branch on.
var (
	// ErrDiscoveryTimeout means service/characteristic enumeration exceeded
	// its bound. The partial connection has already been torn down when this
	// is returned.
	ErrDiscoveryTimeout = errors.New("discovery timed out")
)

// AdvHandler receives one raw advertising report from the radio event
// delivery context. It must not block.
type AdvHandler func(RawAdvertisement)

// Transport is the seam between the bridge and the physical radio. Exactly
// one implementation talks to hardware (hci.go); tests substitute a fake
// through TransportFactory.
type Transport interface {
	// Scan delivers raw advertising reports to h until ctx is done.
	Scan(ctx context.Context, h AdvHandler) error
	// Dial resolves a link to the peer with the given address and
	// addressing mode (0 = public, 1 = random).
	Dial(ctx context.Context, address string, addrType int) (Link, error)
	// PowerOff releases the radio, freeing the antenna for the network link
	// on shared-frontend boards.
	PowerOff() error
}

// RemoteService is a discovered GATT service.
type RemoteService interface {
	UUID() string
}

// RemoteCharacteristic is the opaque handle to a characteristic on the
// active connection.
type RemoteCharacteristic interface {
	UUID() string
	Properties() Property
}

// Link is one open GATT connection.
type Link interface {
	Services(ctx context.Context) ([]RemoteService, error)
	Characteristics(ctx context.Context, svc RemoteService) ([]RemoteCharacteristic, error)
	Read(c RemoteCharacteristic) ([]byte, error)
	Write(c RemoteCharacteristic, data []byte, withResponse bool) error
	Subscribe(c RemoteCharacteristic, h func([]byte)) error
	Unsubscribe(c RemoteCharacteristic) error
	// Connected reports whether the peer link is still up.
	Connected() bool
	Close() error
}

// TransportFactory creates the radio transport (overridden in tests).
var TransportFactory = func(logger *logrus.Logger) (Transport, error) {
	return newHCITransport(logger)
}
