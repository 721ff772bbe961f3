package mqtt

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"regexp"
	"time"

	"github.com/berfenger/solarwatt2mqtt/internal/config"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

const (
	MQTT_PAYLOAD_ONLINE  = "online"
	MQTT_PAYLOAD_OFFLINE = "offline"
	MQTT_PAYLOAD_ON      = "on"
	MQTT_PAYLOAD_OFF     = "off"
	MQTT_PAYLOAD_PRESS   = "PRESS"
	MQTT_PAYLOAD_NONE    = "None"
)

var (
	ErrPublishTimeout     = errors.New("MQTT publish timed out")
	ErrSubscribeTimeout   = errors.New("MQTT subscribe timed out")
	ErrUnsubscribeTimeout = errors.New("MQTT unsubscribe timed out")
	ErrConnectTimeout     = errors.New("MQTT connect timed out")
	ErrInvalidCommand     = errors.New("invalid command")
)

type MessageHandler func(topic string, payload []byte)

// Broker is the part of an MQTT connection the bridge uses. Every call reports
// completion through its continuation.
type Broker interface {
	Connect(continuation func(error), timeout time.Duration)
	Publish(topic string, payload any, qos byte, retain bool, continuation func(error), timeout time.Duration)
	Subscribe(topic string, qos byte, handler MessageHandler, continuation func(error), timeout time.Duration)
	Disconnect(timeout time.Duration)
}

func OptsFromConfig(cfg *config.Config) *mqtt.ClientOptions {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s:%d", cfg.MQTT.Host, cfg.MQTT.Port))
	opts.SetClientID(fmt.Sprintf("solarwatt_%d", rand.IntN(1000)))
	if cfg.MQTT.Username != "" && cfg.MQTT.Password != "" {
		opts.SetUsername(cfg.MQTT.Username)
		opts.SetPassword(cfg.MQTT.Password)
	}
	opts.WillEnabled = true
	opts.WillPayload = []byte(MQTT_PAYLOAD_OFFLINE)
	opts.WillRetained = true
	opts.WillTopic = NewTopics(cfg.MQTT).BridgeState()
	opts.WillQos = 0

	return opts
}

func CreateMQTTClient(opts *mqtt.ClientOptions, onConnectHandler func(client mqtt.Client),
	onConnectionLostHandler func(mqtt.Client, error)) *MQTTClient {
	if onConnectHandler != nil {
		opts.OnConnect = onConnectHandler
	}
	if onConnectionLostHandler != nil {
		opts.OnConnectionLost = onConnectionLostHandler
	}
	return &MQTTClient{
		client: mqtt.NewClient(opts),
	}
}

// MQTTClient is the paho backed Broker.
type MQTTClient struct {
	client mqtt.Client
}

func (c *MQTTClient) Publish(topic string, payload any, qos byte, retain bool, continuation func(error), timeout time.Duration) {
	token := c.client.Publish(topic, qos, retain, payload)
	go waitToken(token, timeout, ErrPublishTimeout, continuation)
}

func (c *MQTTClient) Subscribe(topic string, qos byte, handler MessageHandler, continuation func(error), timeout time.Duration) {
	token := c.client.Subscribe(topic, qos, func(_ mqtt.Client, m mqtt.Message) {
		handler(m.Topic(), m.Payload())
	})
	go waitToken(token, timeout, ErrSubscribeTimeout, continuation)
}

func (c *MQTTClient) Unsubscribe(topic string, continuation func(error), timeout time.Duration) {
	token := c.client.Unsubscribe(topic)
	go waitToken(token, timeout, ErrUnsubscribeTimeout, continuation)
}

func (c *MQTTClient) Connect(continuation func(error), timeout time.Duration) {
	token := c.client.Connect()
	go waitToken(token, timeout, ErrConnectTimeout, continuation)
}

func (c *MQTTClient) Disconnect(timeout time.Duration) {
	c.client.Disconnect(uint(timeout.Milliseconds()))
}

func waitToken(token mqtt.Token, timeout time.Duration, timeoutErr error, continuation func(error)) {
	didTO := token.WaitTimeout(timeout)
	if continuation == nil {
		return
	}
	if !didTO {
		continuation(timeoutErr)
	} else {
		continuation(token.Error())
	}
}

// Topics derives every topic the bridge reads or writes from the configured prefixes.
type Topics struct {
	baseTopic           string
	discoveryTopic      string
	buttonCommandRegexp *regexp.Regexp
}

type ParsedMQTTCommand struct {
	DeviceId string
	Command  string
	Payload  string
}

func NewTopics(cfg config.MQTTConfig) Topics {
	discovery := cfg.HADiscoveryTopic
	if discovery == "" {
		discovery = "homeassistant"
	}
	return Topics{
		baseTopic:           cfg.BaseTopic,
		discoveryTopic:      discovery,
		buttonCommandRegexp: buttonCommandExtractor(cfg.BaseTopic),
	}
}

func (t Topics) BridgeState() string {
	return fmt.Sprintf("%s/bridge/state", t.baseTopic)
}

func (t Topics) SensorState(sensorId string) string {
	return fmt.Sprintf("%s/sensor/%s/state", t.baseTopic, sensorId)
}

func (t Topics) SensorAttributes(sensorId string) string {
	return fmt.Sprintf("%s/sensor/%s/attributes", t.baseTopic, sensorId)
}

func (t Topics) SensorAvailability(sensorId string) string {
	return fmt.Sprintf("%s/sensor/%s/availability", t.baseTopic, sensorId)
}

func (t Topics) BinarySensorState(sensorId string) string {
	return fmt.Sprintf("%s/binary_sensor/%s/state", t.baseTopic, sensorId)
}

func (t Topics) ButtonCommand(buttonId string) string {
	return fmt.Sprintf("%s/button/%s/press", t.baseTopic, buttonId)
}

// Commands is the subscription filter for every command topic.
func (t Topics) Commands() string {
	return fmt.Sprintf("%s/button/+/press", t.baseTopic)
}

func (t Topics) ParseMQTTCommand(topic string, payload []byte) (*ParsedMQTTCommand, error) {
	matches := t.buttonCommandRegexp.FindAllStringSubmatch(topic, 1)
	if len(matches) == 0 || len(matches[0]) != 2 {
		return nil, ErrInvalidCommand
	}
	return &ParsedMQTTCommand{
		DeviceId: matches[0][1],
		Command:  "button",
		Payload:  string(payload),
	}, nil
}

func buttonCommandExtractor(baseTopic string) *regexp.Regexp {
	return regexp.MustCompile(fmt.Sprintf("^%s/button/([a-zA-Z0-9_]+)/press$", regexp.QuoteMeta(baseTopic)))
}

// ensure interface compliance
var _ Broker = &MQTTClient{}
