package bus

import (
	"strings"

	"github.com/srg/blebridge/internal/router"
)

// Topic suffixes under the prefix/deviceID base.
const (
	topicConnect      = "connect"
	topicDisconnect   = "disconnect"
	topicConfig       = "config"
	topicBeep         = "beep"
	topicStatus       = "status"
	topicError        = "error"
	topicConnected    = "connected"
	topicDisconnected = "disconnected"
	topicScanResults  = "scan/results"
	topicWritePrefix  = "write/"
	topicReadPrefix   = "read/"
	topicNotifyPrefix = "notify/"
	readResponseTail  = "/response"
)

// Topics builds and classifies topic names rooted at prefix/deviceID.
type Topics struct {
	base string
}

func NewTopics(prefix, deviceID string) Topics {
	return Topics{base: prefix + "/" + deviceID}
}

func (t Topics) Base() string { return t.base }

// Join returns the full topic for a suffix.
func (t Topics) Join(suffix string) string {
	return t.base + "/" + suffix
}

// Suffix strips the base, reporting false for foreign topics.
func (t Topics) Suffix(topic string) (string, bool) {
	rest, ok := strings.CutPrefix(topic, t.base+"/")
	if !ok || rest == "" {
		return "", false
	}
	return rest, true
}

// Classify maps an inbound topic to a queued command. The config topic is
// handled out of band and reports false here, as do unrecognized suffixes
// and our own read-response echoes.
func (t Topics) Classify(topic string, payload []byte) (router.Command, bool) {
	suffix, ok := t.Suffix(topic)
	if !ok {
		return router.Command{}, false
	}
	switch {
	case suffix == topicConnect:
		return router.Command{Kind: router.KindConnect, Payload: payload}, true
	case suffix == topicDisconnect:
		return router.Command{Kind: router.KindDisconnect}, true
	case suffix == topicBeep:
		return router.Command{Kind: router.KindTone, Payload: payload}, true
	case strings.HasPrefix(suffix, topicWritePrefix):
		uuid := strings.TrimPrefix(suffix, topicWritePrefix)
		if uuid == "" || strings.Contains(uuid, "/") {
			return router.Command{}, false
		}
		return router.Command{Kind: router.KindWrite, UUID: uuid, Payload: payload}, true
	case strings.HasPrefix(suffix, topicReadPrefix):
		uuid := strings.TrimPrefix(suffix, topicReadPrefix)
		if uuid == "" || strings.Contains(uuid, "/") {
			// read/<uuid>/response is our own outbound traffic.
			return router.Command{}, false
		}
		return router.Command{Kind: router.KindRead, UUID: uuid}, true
	default:
		return router.Command{}, false
	}
}
