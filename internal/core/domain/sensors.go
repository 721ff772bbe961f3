package domain

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"strings"
	"unicode"

	"github.com/carlmjohnson/versioninfo"
)

const (
	SENSOR_ID_BRIDGE_STATE    = "bridge"
	STATE_CLASS_MEASUREMENT   = "measurement"
	DEVICE_CLASS_CONNECTIVITY = "connectivity"
	ENTITY_CLASS_DIAGNOSTIC   = "diagnostic"
	SENSOR_TYPE_SENSOR        = "sensor"
	SENSOR_TYPE_BINARY        = "binary_sensor"
	BUTTON_ID_REFRESH         = "refresh"
)

func BridgeDevice(baseTopic string) Device {
	return Device{
		Id:           fmt.Sprintf("solarwatt_bridge_%s", md5HashShort(baseTopic)),
		Manufacturer: "ACasal",
		Model:        "Solarwatt2MQTT",
		Version:      versioninfo.Short(),
		Name:         fmt.Sprintf("Solarwatt2MQTT %s", md5HashShort(baseTopic)),
	}
}

// GatewayDevice groups every item entity of one gateway. The id only depends on the host
// so entities keep their identity across restarts.
func GatewayDevice(host string) Device {
	return Device{
		Id:           fmt.Sprintf("solarwatt_gateway_%s", md5HashShort(host)),
		Manufacturer: "Solarwatt",
		Model:        "Manager flex",
		Name:         fmt.Sprintf("Solarwatt %s", host),
	}
}

func IdDevice(device Device) Device {
	return Device{
		Id:   device.Id,
		Name: device.Name,
	}
}

func BridgeSensors(bridgeDevice Device) []GenericSensor {

	var sensors []GenericSensor

	// Bridge connection state
	sensors = append(sensors, GenericSensor{
		Device:         bridgeDevice,
		Id:             SENSOR_ID_BRIDGE_STATE,
		SensorType:     SENSOR_TYPE_BINARY,
		Name:           "Connection state",
		DeviceClass:    DEVICE_CLASS_CONNECTIVITY,
		EntityCategory: ENTITY_CLASS_DIAGNOSTIC,
		UniqueId:       uniqueId(bridgeDevice.Id, SENSOR_ID_BRIDGE_STATE),
	})

	return sensors
}

func BridgeButtons(bridgeDevice Device) []GenericButton {
	return []GenericButton{
		{
			Device:         bridgeDevice,
			Id:             BUTTON_ID_REFRESH,
			Name:           "Refresh now",
			UniqueId:       uniqueId(bridgeDevice.Id, BUTTON_ID_REFRESH),
			Icon:           "mdi:refresh",
			EntityCategory: ENTITY_CLASS_DIAGNOSTIC,
		},
	}
}

// EntitySensor builds the discovery description of an item entity.
func EntitySensor(device Device, entity SensorEntity) GenericSensor {
	return GenericSensor{
		Device:            device,
		Id:                EntityId(entity.ItemName),
		SensorType:        SENSOR_TYPE_SENSOR,
		Name:              entity.DisplayName,
		UniqueId:          entity.UniqueId,
		UnitOfMeasurement: entity.Unit,
		StateClass:        entity.StateClass,
		DeviceClass:       string(entity.DeviceClass),
		HasAttributes:     true,
		HasAvailability:   true,
	}
}

// EntityUniqueId is stable for a gateway and item name.
func EntityUniqueId(gatewayDevice Device, itemName string) string {
	return uniqueId(gatewayDevice.Id, EntityId(itemName))
}

// EntityId maps an item name to a topic-safe id: lower case, runs of other characters collapse into '_'.
func EntityId(itemName string) string {
	var sb strings.Builder
	lastUnderscore := false
	for _, r := range strings.ToLower(itemName) {
		if r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)) {
			sb.WriteRune(r)
			lastUnderscore = false
			continue
		}
		if !lastUnderscore && sb.Len() > 0 {
			sb.WriteByte('_')
			lastUnderscore = true
		}
	}
	id := strings.TrimSuffix(sb.String(), "_")
	if id == "" {
		// names made only of symbols still need a distinct id
		return "item_" + md5HashShort(itemName)
	}
	return id
}

func uniqueId(baseId, id string) string {
	return fmt.Sprintf("uid_%s_%s", baseId, id)
}

func md5Hash(text string) string {
	hash := md5.Sum([]byte(text))
	return hex.EncodeToString(hash[:])
}

func md5HashShort(text string) string {
	hash := md5Hash(text)
	return hash[0:8]
}
