package router

import "errors"

// Kind classifies a queued command.
type Kind int

const (
	KindConnect Kind = iota
	KindDisconnect
	KindWrite
	KindRead
	KindTone
	// KindLinkLost is enqueued internally when a notify forwarder detects
	// peer-initiated link loss. It shares the disconnect teardown path.
	KindLinkLost
)

func (k Kind) String() string {
	switch k {
	case KindConnect:
		return "connect"
	case KindDisconnect:
		return "disconnect"
	case KindWrite:
		return "write"
	case KindRead:
		return "read"
	case KindTone:
		return "tone"
	case KindLinkLost:
		return "link-lost"
	default:
		return "unknown"
	}
}

// Command is one queued bus command. UUID is set for write/read, Payload
// for connect/write/tone.
type Command struct {
	Kind    Kind
	UUID    string
	Payload []byte
}

var (
	// ErrBusy means a connect arrived while a batch scan could not be
	// interrupted within the wait bound. Non-fatal; scanning state is
	// unaffected.
	ErrBusy = errors.New("busy: another BLE operation is in progress")
	// ErrMalformedCommand means the payload failed to parse. The command
	// is dropped and the queue continues.
	ErrMalformedCommand = errors.New("malformed command payload")
)
