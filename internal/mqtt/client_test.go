package mqtt

import (
	"encoding/json"
	"testing"

	"github.com/berfenger/solarwatt2mqtt/internal/config"
	"github.com/berfenger/solarwatt2mqtt/internal/core/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testTopics() Topics {
	return NewTopics(config.MQTTConfig{BaseTopic: "solarwatt", HADiscoveryTopic: "homeassistant"})
}

func TestButtonCommandParse(t *testing.T) {

	assert := assert.New(t)

	cmd, err := testTopics().ParseMQTTCommand("solarwatt/button/refresh/press", []byte("PRESS"))
	require.NoError(t, err)

	assert.Equal("refresh", cmd.DeviceId, "device extract")
	assert.Equal("button", cmd.Command)
	assert.Equal("PRESS", cmd.Payload)
}

func TestButtonCommandParseFail(t *testing.T) {

	assert := assert.New(t)

	for _, topic := range []string{
		"solarwatt/sensor/refresh/state",
		"other/button/refresh/press",
		"solarwatt/button/refresh/press/extra",
	} {
		_, err := testTopics().ParseMQTTCommand(topic, nil)
		assert.ErrorIs(err, ErrInvalidCommand, topic)
	}
}

func TestTopics(t *testing.T) {

	topics := testTopics()
	assert.Equal(t, "solarwatt/bridge/state", topics.BridgeState())
	assert.Equal(t, "solarwatt/sensor/grid/state", topics.SensorState("grid"))
	assert.Equal(t, "solarwatt/sensor/grid/attributes", topics.SensorAttributes("grid"))
	assert.Equal(t, "solarwatt/sensor/grid/availability", topics.SensorAvailability("grid"))
	assert.Equal(t, "solarwatt/button/+/press", topics.Commands())
	assert.True(t, topicMatches(topics.Commands(), topics.ButtonCommand("refresh")))
	assert.False(t, topicMatches(topics.Commands(), topics.SensorState("grid")))

	// discovery prefix defaults when empty
	assert.Equal(t, "homeassistant/button/dev/refresh/config", NewTopics(config.MQTTConfig{BaseTopic: "x"}).HADiscoveryButtonTopic(domain.GenericButton{Device: domain.Device{Id: "dev"}, Id: "refresh"}))
}

func TestEntityDiscoveryMessage(t *testing.T) {

	topics := NewTopics(config.MQTTConfig{BaseTopic: "solarwatt", HADiscoveryTopic: "ha"})
	gw := domain.GatewayDevice("gw")
	value := 87.0
	sensor := domain.EntitySensor(gw, domain.SensorEntity{
		UniqueId:    domain.EntityUniqueId(gw, "Battery1"),
		ItemName:    "Battery1",
		DisplayName: "Battery",
		NativeValue: &value,
		Unit:        "%",
		DeviceClass: domain.DEVICE_CLASS_BATTERY,
		StateClass:  domain.STATE_CLASS_MEASUREMENT,
	})

	assert.Equal(t, "ha/sensor/"+gw.Id+"/battery1/config", topics.HADiscoverySensorTopic(sensor))

	msg := GenericSensorToHADiscoveryMessage(topics, sensor)
	payload, err := json.Marshal(msg)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(payload, &decoded))
	assert.Equal(t, "solarwatt/sensor/battery1/state", decoded["state_topic"])
	assert.Equal(t, "solarwatt/sensor/battery1/attributes", decoded["json_attributes_topic"])
	assert.Equal(t, "battery", decoded["device_class"])
	assert.Equal(t, "%", decoded["unit_of_measurement"])
	assert.Equal(t, "measurement", decoded["state_class"])
	assert.Equal(t, "all", decoded["availability_mode"])
	assert.NotContains(t, decoded, "availability_topic")
	assert.Len(t, decoded["availability"], 2)
}

func TestBridgeDiscoveryMessage(t *testing.T) {

	topics := testTopics()
	bridge := domain.BridgeDevice("solarwatt")
	msg := GenericSensorToHADiscoveryMessage(topics, domain.BridgeSensors(bridge)[0])

	assert.Equal(t, "solarwatt/bridge/state", msg.StateTopic)
	assert.Equal(t, MQTT_PAYLOAD_ONLINE, msg.PayloadOn)
	assert.Equal(t, MQTT_PAYLOAD_OFFLINE, msg.PayloadOff)
	assert.Empty(t, msg.AvTopic)
	assert.Empty(t, msg.Availability)

	button := GenericButtonToHADiscoveryMessage(topics, domain.BridgeButtons(bridge)[0])
	assert.Equal(t, "solarwatt/button/refresh/press", button.CommandTopic)
	assert.Equal(t, MQTT_PAYLOAD_PRESS, button.PayloadPress)
	assert.Equal(t, "solarwatt/bridge/state", button.AvTopic)
}
