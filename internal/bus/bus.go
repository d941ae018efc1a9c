// Package bus is the MQTT face of the bridge: inbound commands are
// classified and queued, outbound events and scan results are published
// under a prefix/deviceID topic base, and the broker's last-will mechanism
// keeps the retained status topic truthful.
package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/sirupsen/logrus"
	"github.com/srg/blebridge/internal/radio"
	"github.com/srg/blebridge/internal/router"
)

// Options holds the broker connection settings.
type Options struct {
	Broker   string
	Username string
	Password string
	Prefix   string
	DeviceID string
}

// CommandSink receives classified inbound commands; the router implements
// it.
type CommandSink interface {
	Enqueue(cmd router.Command) bool
}

// ConfigHandler receives live config updates from the config topic.
type ConfigHandler func(scales []string, users []string)

const (
	keepalive      = 30 * time.Second
	publishTimeout = 10 * time.Second
	statusOnline   = "online"
	statusOffline  = "offline"
)

// Client wraps the paho MQTT session. subsReady tracks whether the command
// subscriptions survived the last (re)connect: on shared-antenna boards a
// scan can force the link down, and the scheduler gates on this before
// publishing.
type Client struct {
	log    *logrus.Logger
	topics Topics
	cli    mqtt.Client

	sink     CommandSink
	onConfig ConfigHandler

	subsReady  atomic.Bool
	charTopics atomic.Bool
}

func New(opts Options, log *logrus.Logger) *Client {
	c := &Client{
		log:    log,
		topics: NewTopics(opts.Prefix, opts.DeviceID),
	}

	mopts := mqtt.NewClientOptions().
		AddBroker(opts.Broker).
		SetClientID(opts.DeviceID).
		SetCleanSession(true).
		SetKeepAlive(keepalive).
		SetAutoReconnect(true).
		SetBinaryWill(c.topics.Join(topicStatus), []byte(statusOffline), 1, true).
		SetOnConnectHandler(c.onConnect).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			c.subsReady.Store(false)
			c.log.WithError(err).Warn("bus connection lost")
		})
	if opts.Username != "" {
		mopts.SetUsername(opts.Username)
		mopts.SetPassword(opts.Password)
	}

	c.cli = mqtt.NewClient(mopts)
	return c
}

// SetHandlers wires the command sink and config callback. Must be called
// before Connect.
func (c *Client) SetHandlers(sink CommandSink, onConfig ConfigHandler) {
	c.sink = sink
	c.onConfig = onConfig
}

// Connect dials the broker, honoring ctx for cancellation.
func (c *Client) Connect(ctx context.Context) error {
	token := c.cli.Connect()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-token.Done():
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("bus connect: %w", err)
	}
	return nil
}

// Close publishes a clean offline status and disconnects.
func (c *Client) Close() {
	if c.cli.IsConnectionOpen() {
		c.cli.Publish(c.topics.Join(topicStatus), 1, true, statusOffline).WaitTimeout(publishTimeout)
	}
	c.cli.Disconnect(250)
}

// onConnect runs on every (re)connect: command subscriptions must be
// reinstated before the session is considered ready.
func (c *Client) onConnect(_ mqtt.Client) {
	c.subsReady.Store(false)

	for _, suffix := range []string{topicConnect, topicDisconnect, topicConfig, topicBeep} {
		c.subscribe(c.topics.Join(suffix))
	}
	if c.charTopics.Load() {
		c.subscribeCharTopics()
	}

	c.subsReady.Store(true)
	c.cli.Publish(c.topics.Join(topicStatus), 1, true, statusOnline)
	c.log.WithField("base", c.topics.Base()).Info("bridge ready")
}

func (c *Client) subscribe(topic string) {
	token := c.cli.Subscribe(topic, 0, c.handleMessage)
	if token.WaitTimeout(publishTimeout) && token.Error() != nil {
		c.log.WithField("topic", topic).WithError(token.Error()).Warn("subscribe failed")
	}
}

func (c *Client) subscribeCharTopics() {
	c.subscribe(c.topics.Join(topicWritePrefix + "#"))
	c.subscribe(c.topics.Join(topicReadPrefix + "#"))
}

// SubscribeCharTopics lazily subscribes the per-characteristic write/read
// wildcards. Idempotent within a connection epoch; the flag also drives
// resubscription after a bus reconnect.
func (c *Client) SubscribeCharTopics() error {
	if !c.charTopics.CompareAndSwap(false, true) {
		return nil
	}
	c.subscribeCharTopics()
	return nil
}

// ClearCharTopics forgets the wildcard subscriptions so they are not
// reinstated on the next reconnect.
func (c *Client) ClearCharTopics() {
	c.charTopics.Store(false)
}

// handleMessage runs in paho's delivery goroutine: classify, copy, enqueue.
// Everything heavier happens on the router's goroutine.
func (c *Client) handleMessage(_ mqtt.Client, msg mqtt.Message) {
	suffix, ok := c.topics.Suffix(msg.Topic())
	if !ok {
		return
	}
	if suffix == topicConfig {
		c.applyConfig(msg.Payload())
		return
	}

	cmd, ok := c.topics.Classify(msg.Topic(), copyBytes(msg.Payload()))
	if !ok {
		return
	}
	if c.sink == nil || !c.sink.Enqueue(cmd) {
		c.log.WithField("topic", msg.Topic()).Warn("inbound command dropped")
	}
}

type configPayload struct {
	Scales []string `json:"scales"`
	Users  []string `json:"users"`
}

func (c *Client) applyConfig(payload []byte) {
	var cfg configPayload
	if err := json.Unmarshal(payload, &cfg); err != nil {
		c.log.WithError(err).Warn("bad config payload")
		return
	}
	c.log.WithField("scales", len(cfg.Scales)).Info("config updated")
	if c.onConfig != nil {
		c.onConfig(cfg.Scales, cfg.Users)
	}
}

func copyBytes(b []byte) []byte {
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

func (c *Client) publish(suffix string, qos byte, retained bool, payload interface{}) error {
	token := c.cli.Publish(c.topics.Join(suffix), qos, retained, payload)
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("publish %s: timed out", suffix)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish %s: %w", suffix, err)
	}
	return nil
}

// PublishScanResults publishes one cycle's merged results as a JSON array.
func (c *Client) PublishScanResults(results []*radio.ScanResult) error {
	if results == nil {
		results = []*radio.ScanResult{}
	}
	data, err := json.Marshal(results)
	if err != nil {
		return fmt.Errorf("encode scan results: %w", err)
	}
	return c.publish(topicScanResults, 0, false, data)
}

// PublishConnected publishes the discovered characteristic list.
func (c *Client) PublishConnected(infos []radio.CharacteristicInfo) error {
	data, err := json.Marshal(map[string][]radio.CharacteristicInfo{"chars": infos})
	if err != nil {
		return fmt.Errorf("encode connected event: %w", err)
	}
	return c.publish(topicConnected, 0, false, data)
}

func (c *Client) PublishDisconnected() error {
	return c.publish(topicDisconnected, 0, false, []byte{})
}

func (c *Client) PublishNotify(uuid string, payload []byte) error {
	return c.publish(topicNotifyPrefix+uuid, 0, false, payload)
}

func (c *Client) PublishReadResponse(uuid string, payload []byte) error {
	return c.publish(topicReadPrefix+uuid+readResponseTail, 0, false, payload)
}

// PublishError reports a non-fatal error so the host side doesn't hang
// waiting for a response. Best-effort.
func (c *Client) PublishError(msg string) {
	c.log.WithField("error", msg).Warn("publishing error event")
	if err := c.publish(topicError, 0, false, msg); err != nil {
		c.log.WithError(err).Debug("error event publish failed")
	}
}

// NetLink implementation for the scheduler.

func (c *Client) IsConnected() bool {
	return c.cli.IsConnectionOpen()
}

func (c *Client) SubsReady() bool {
	return c.subsReady.Load()
}

func (c *Client) MarkSubsStale() {
	c.subsReady.Store(false)
}

func (c *Client) AssumeSubsValid() {
	c.subsReady.Store(true)
}
