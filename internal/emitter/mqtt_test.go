package emitter

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack/v5"
	"go.uber.org/goleak"

	"github.com/e7canasta/orion-scan/internal/config"
	"github.com/e7canasta/orion-scan/modules/handoff"
	"github.com/e7canasta/orion-scan/modules/resolver"
)

type token struct {
	done chan struct{}
	err  error
}

func doneToken(err error) *token {
	t := &token{done: make(chan struct{}), err: err}
	close(t.done)
	return t
}

func (t *token) Wait() bool {
	<-t.done
	return true
}

func (t *token) WaitTimeout(d time.Duration) bool {
	select {
	case <-t.done:
		return true
	case <-time.After(d):
		return false
	}
}

func (t *token) Done() <-chan struct{} { return t.done }
func (t *token) Error() error          { return t.err }

type message struct {
	topic   string
	qos     byte
	payload []byte
}

// fakeClient implements the parts of mqtt.Client the emitter uses.
type fakeClient struct {
	mqtt.Client

	mu         sync.Mutex
	connected  bool
	connectErr error
	publishErr error
	sent       []message
}

func (c *fakeClient) Connect() mqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.connectErr == nil {
		c.connected = true
	}
	return doneToken(c.connectErr)
}

func (c *fakeClient) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

func (c *fakeClient) Disconnect(uint) {
	c.mu.Lock()
	c.connected = false
	c.mu.Unlock()
}

func (c *fakeClient) Publish(topic string, qos byte, _ bool, payload interface{}) mqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.publishErr != nil {
		return doneToken(c.publishErr)
	}
	c.sent = append(c.sent, message{topic: topic, qos: qos, payload: payload.([]byte)})
	return doneToken(nil)
}

func (c *fakeClient) messages() []message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]message(nil), c.sent...)
}

func testDelivery() handoff.Delivery {
	return handoff.Delivery{
		SessionID: "6f1c",
		Reference: resolver.ProductReference{
			Identifier:    "XYZ",
			Method:        resolver.MethodUrlPattern,
			SourcePayload: "https://app/product/XYZ",
		},
		DeliveredAt: time.Date(2024, 3, 1, 12, 0, 0, 0, time.FixedZone("X", 3600)),
	}
}

func mqttConfig(encoding string) config.MQTTConfig {
	return config.MQTTConfig{Broker: "broker:1883", Topic: "orion/scan/handoff", ClientID: "t", Encoding: encoding, QoS: 1}
}

func TestEnvelope_JSON(t *testing.T) {
	data, err := Encode(NewEnvelope(testDelivery()), config.EncodingJSON)
	require.NoError(t, err)

	var got map[string]string
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, map[string]string{
		"session_id":     "6f1c",
		"identifier":     "XYZ",
		"method":         "url_pattern",
		"source_payload": "https://app/product/XYZ",
		"delivered_at":   "2024-03-01T11:00:00Z",
	}, got)
}

func TestEnvelope_Msgpack(t *testing.T) {
	data, err := Encode(NewEnvelope(testDelivery()), config.EncodingMsgpack)
	require.NoError(t, err)

	var got map[string]string
	require.NoError(t, msgpack.Unmarshal(data, &got))
	assert.Equal(t, "XYZ", got["identifier"])
	assert.Equal(t, "2024-03-01T11:00:00Z", got["delivered_at"])

	_, err = Encode(Envelope{}, "xml")
	assert.Error(t, err)
}

func TestMQTT_ConnectAndPublish(t *testing.T) {
	client := &fakeClient{}
	e := newWithClient(mqttConfig(config.EncodingJSON), client, zerolog.Nop())

	assert.ErrorIs(t, e.Publish(testDelivery()), ErrNotConnected)

	require.NoError(t, e.Connect(context.Background()))
	require.NoError(t, e.Publish(testDelivery()))

	msgs := client.messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "orion/scan/handoff", msgs[0].topic)
	assert.Equal(t, byte(1), msgs[0].qos)
	assert.Contains(t, string(msgs[0].payload), `"identifier":"XYZ"`)

	assert.Equal(t, Stats{Connected: true, Published: 1, Errors: 1}, e.Stats())

	e.Disconnect()
	assert.False(t, e.Stats().Connected)
}

func TestMQTT_ConnectFailure(t *testing.T) {
	client := &fakeClient{connectErr: errors.New("refused")}
	e := newWithClient(mqttConfig(config.EncodingJSON), client, zerolog.Nop())

	err := e.Connect(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "refused")
	assert.False(t, e.Stats().Connected)
}

func TestMQTT_PublishFailureCounted(t *testing.T) {
	client := &fakeClient{connected: true, publishErr: errors.New("broker gone")}
	e := newWithClient(mqttConfig(config.EncodingMsgpack), client, zerolog.Nop())

	err := e.Publish(testDelivery())
	require.Error(t, err)
	assert.Equal(t, uint64(1), e.Stats().Errors)
}

func TestMQTT_RunDrainsBusSubscription(t *testing.T) {
	defer goleak.VerifyNone(t)

	client := &fakeClient{connected: true}
	e := newWithClient(mqttConfig(config.EncodingJSON), client, zerolog.Nop())

	bus := handoff.New()
	defer bus.Close()
	ch := make(chan handoff.Delivery, 4)
	require.NoError(t, bus.Subscribe("mqtt", ch))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		e.Run(ctx, ch)
		close(done)
	}()

	bus.Publish(testDelivery())
	bus.Publish(testDelivery())

	require.Eventually(t, func() bool { return len(client.messages()) == 2 }, time.Second, 5*time.Millisecond)

	cancel()
	<-done
	assert.Equal(t, uint64(2), e.Stats().Published)
}
