// Package emitter publishes hand-offs to an MQTT broker.
package emitter

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"

	"github.com/e7canasta/orion-scan/internal/config"
	"github.com/e7canasta/orion-scan/internal/log"
	"github.com/e7canasta/orion-scan/modules/handoff"
)

const (
	connectTimeout = 5 * time.Second
	publishTimeout = 2 * time.Second
)

var ErrNotConnected = errors.New("emitter: mqtt not connected")

// Stats contains emitter statistics.
type Stats struct {
	Connected bool
	Published uint64
	Errors    uint64
}

// MQTT publishes hand-off envelopes to one topic.
type MQTT struct {
	cfg    config.MQTTConfig
	client mqtt.Client
	logger zerolog.Logger

	mu        sync.RWMutex
	connected bool
	published uint64
	errors    uint64
}

// NewMQTT builds an emitter for cfg. Call Connect before publishing.
func NewMQTT(cfg config.MQTTConfig, logger zerolog.Logger) *MQTT {
	e := &MQTT{cfg: cfg, logger: logger}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s", cfg.Broker))
	opts.SetClientID(cfg.ClientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)

	opts.OnConnect = func(mqtt.Client) {
		e.setConnected(true)
		e.logger.Info().
			Str("broker", cfg.Broker).
			Str("client_id", cfg.ClientID).
			Msg("emitter: mqtt connection established")
	}
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		e.setConnected(false)
		e.logger.Warn().
			Err(err).
			Str("broker", cfg.Broker).
			Msg("emitter: mqtt connection lost, will auto-reconnect")
	}

	e.client = mqtt.NewClient(opts)
	return e
}

func newWithClient(cfg config.MQTTConfig, client mqtt.Client, logger zerolog.Logger) *MQTT {
	return &MQTT{cfg: cfg, client: client, logger: logger, connected: client.IsConnected()}
}

// Connect dials the broker and waits for the session.
func (e *MQTT) Connect(ctx context.Context) error {
	e.logger.Info().Str("broker", e.cfg.Broker).Msg("emitter: connecting to mqtt broker")

	token := e.client.Connect()
	ctx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	select {
	case <-token.Done():
	case <-ctx.Done():
		return fmt.Errorf("emitter: mqtt connect: %w", ctx.Err())
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("emitter: mqtt connect: %w", err)
	}
	e.setConnected(true)
	return nil
}

// Publish sends one delivery.
func (e *MQTT) Publish(d handoff.Delivery) error {
	if !e.isConnected() {
		e.countError()
		return ErrNotConnected
	}

	payload, err := Encode(NewEnvelope(d), e.cfg.Encoding)
	if err != nil {
		e.countError()
		return err
	}

	token := e.client.Publish(e.cfg.Topic, e.cfg.QoS, false, payload)
	if !token.WaitTimeout(publishTimeout) {
		e.countError()
		return fmt.Errorf("emitter: publish to %s: timeout", e.cfg.Topic)
	}
	if err := token.Error(); err != nil {
		e.countError()
		return fmt.Errorf("emitter: publish to %s: %w", e.cfg.Topic, err)
	}

	e.mu.Lock()
	e.published++
	e.mu.Unlock()

	e.logger.Debug().
		Str("topic", e.cfg.Topic).
		Str(log.FieldSessionID, d.SessionID).
		Str(log.FieldIdentifier, d.Reference.Identifier).
		Int("size", len(payload)).
		Msg("emitter: hand-off published")
	return nil
}

// Run publishes every delivery read from ch until ctx is done or ch closes.
// Failures are logged and counted; Run never stops on them.
func (e *MQTT) Run(ctx context.Context, ch <-chan handoff.Delivery) {
	for {
		select {
		case <-ctx.Done():
			return
		case d, ok := <-ch:
			if !ok {
				return
			}
			if err := e.Publish(d); err != nil {
				e.logger.Warn().
					Err(err).
					Str(log.FieldIdentifier, d.Reference.Identifier).
					Msg("emitter: hand-off not published")
			}
		}
	}
}

// Disconnect closes the connection with a short grace period.
func (e *MQTT) Disconnect() {
	if e.client != nil && e.client.IsConnected() {
		e.client.Disconnect(250)
		e.logger.Info().Msg("emitter: mqtt disconnected")
	}
	e.setConnected(false)
}

// Stats returns emitter statistics.
func (e *MQTT) Stats() Stats {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return Stats{Connected: e.connected, Published: e.published, Errors: e.errors}
}

func (e *MQTT) setConnected(v bool) {
	e.mu.Lock()
	e.connected = v
	e.mu.Unlock()
}

func (e *MQTT) isConnected() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.connected
}

func (e *MQTT) countError() {
	e.mu.Lock()
	e.errors++
	e.mu.Unlock()
}
