package service

import (
	"strconv"
	"strings"

	"github.com/berfenger/solarwatt2mqtt/internal/core/domain"
	"github.com/berfenger/solarwatt2mqtt/pkg/solarwatt"
)

const (
	UNIT_WATT    = "W"
	UNIT_PERCENT = "%"
)

// ParseNumericState keeps digits, dots and a leading minus sign and parses the rest.
// Anything else yields an absent value.
func ParseNumericState(raw string) (float64, bool) {
	var sb strings.Builder
	seenNumber := false
	for _, r := range raw {
		switch {
		case r >= '0' && r <= '9', r == '.':
			seenNumber = true
			sb.WriteRune(r)
		case r == '-' && !seenNumber:
			sb.WriteRune(r)
		}
	}
	cleaned := sb.String()
	if cleaned == "" {
		return 0, false
	}
	value, err := strconv.ParseFloat(cleaned, 64)
	if err != nil {
		return 0, false
	}
	return value, true
}

// Eligible reports whether an item should be materialized into a sensor entity.
// Items without a numeric type or a unit marker are skipped.
func Eligible(item solarwatt.Item) bool {
	if item.Name == "" {
		return false
	}
	if strings.HasPrefix(item.Type, "Number") {
		return true
	}
	if strings.Contains(item.Type, "Power") || strings.Contains(item.Type, "Battery") {
		return true
	}
	state := string(item.State)
	return strings.Contains(state, UNIT_WATT) || strings.Contains(state, UNIT_PERCENT)
}

// Classify guesses unit and device class. Power wins over battery.
func Classify(itemType string, state string) (string, domain.DeviceClass) {
	if strings.Contains(itemType, "Power") || strings.Contains(state, UNIT_WATT) {
		return UNIT_WATT, domain.DEVICE_CLASS_POWER
	}
	if strings.Contains(itemType, "Battery") || strings.Contains(state, UNIT_PERCENT) {
		return UNIT_PERCENT, domain.DEVICE_CLASS_BATTERY
	}
	return "", domain.DEVICE_CLASS_NONE
}
