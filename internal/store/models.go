package store

import (
	"time"

	"psila-go/internal/association"
)

// Identity is the persisted association of the device.
type Identity struct {
	Own         association.Identity `json:"own"`
	Coordinator association.Identity `json:"coordinator"`
	Channel     uint8                `json:"channel"`
	SavedAt     time.Time            `json:"saved_at"`
}

// Session is one run of the host reading a serial port.
type Session struct {
	ID        string    `json:"id"`
	Port      string    `json:"port"`
	Channel   uint8     `json:"channel"`
	StartedAt time.Time `json:"started_at"`
}

// Capture is one frame received from the radio. It is stored as CBOR with
// integer keys.
type Capture struct {
	Session string    `cbor:"1,keyasint" json:"session"`
	Seq     uint64    `cbor:"2,keyasint" json:"seq"`
	Time    time.Time `cbor:"3,keyasint" json:"time"`
	LQI     uint8     `cbor:"4,keyasint" json:"lqi"`
	Frame   []byte    `cbor:"5,keyasint" json:"frame"`
	Layer   string    `cbor:"6,keyasint,omitempty" json:"layer,omitempty"`
	Error   string    `cbor:"7,keyasint,omitempty" json:"error,omitempty"`
}
