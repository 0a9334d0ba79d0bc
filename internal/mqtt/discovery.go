//go:build !no_mqtt

package mqtt

import (
	"strings"
)

// haDevice is the "device" block in HA discovery.
type haDevice struct {
	Identifiers  []string `json:"identifiers"`
	Manufacturer string   `json:"manufacturer,omitempty"`
	Model        string   `json:"model,omitempty"`
	Name         string   `json:"name"`
}

// haDiscovery is a sensor discovery payload.
type haDiscovery struct {
	Name              string   `json:"name"`
	UniqueID          string   `json:"unique_id"`
	StateTopic        string   `json:"state_topic"`
	AvailabilityTopic string   `json:"availability_topic"`
	ValueTemplate     string   `json:"value_template,omitempty"`
	UnitOfMeasurement string   `json:"unit_of_measurement,omitempty"`
	StateClass        string   `json:"state_class,omitempty"`
	Icon              string   `json:"icon,omitempty"`
	Device            haDevice `json:"device"`
}

type statSensor struct {
	key   string
	name  string
	class string
	icon  string
}

var statSensors = []statSensor{
	{key: "packets", name: "Packets", class: "total_increasing", icon: "mdi:radio-tower"},
	{key: "decoded", name: "Decoded", class: "total_increasing", icon: "mdi:check-network"},
	{key: "decode_errors", name: "Decode Errors", class: "total_increasing", icon: "mdi:alert-circle"},
	{key: "energy_reports", name: "Energy Reports", class: "total_increasing", icon: "mdi:signal"},
	{key: "channel", name: "Channel", class: "measurement", icon: "mdi:sine-wave"},
}

// objectID sanitizes an id for use in discovery topics.
func objectID(id string) string {
	return strings.Map(func(r rune) rune {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '_' || r == '-' {
			return r
		}
		return '_'
	}, strings.ToLower(id))
}

// buildDiscovery returns the sensor configs describing the capture bridge.
func buildDiscovery(clientID, prefix string) []message {
	id := objectID(clientID)
	dev := haDevice{
		Identifiers:  []string{"psila_" + id},
		Manufacturer: "psila",
		Model:        "802.15.4 capture bridge",
		Name:         clientID,
	}
	msgs := make([]message, 0, len(statSensors))
	for _, s := range statSensors {
		d := haDiscovery{
			Name:              clientID + " " + s.name,
			UniqueID:          "psila_" + id + "_" + s.key,
			StateTopic:        prefix + "/bridge/stats",
			AvailabilityTopic: prefix + "/bridge/state",
			ValueTemplate:     "{{ value_json." + s.key + " }}",
			StateClass:        s.class,
			Icon:              s.icon,
			Device:            dev,
		}
		msgs = append(msgs, message{
			Topic:    "homeassistant/sensor/psila_" + id + "/" + s.key + "/config",
			Payload:  mustJSON(d),
			Retained: true,
		})
	}
	return msgs
}
