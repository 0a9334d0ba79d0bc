// Package decoder runs the layered decode of a captured 802.15.4 frame:
// MAC, network header, network security, APS, APS security and the
// device profile or cluster library payload.
package decoder

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"psila-go/internal/aps"
	"psila-go/internal/blockcipher"
	"psila-go/internal/mac"
	"psila-go/internal/nwk"
	"psila-go/internal/security"
	"psila-go/internal/zcl"
	"psila-go/internal/zdp"
)

// SecurityLevel is the level used by network traffic; it is not carried on
// air.
const SecurityLevel = security.LevelEncryptedIntegrity32

// Secured records how a layer was unsecured.
type Secured struct {
	Header security.Header `json:"header"`
	Key    string          `json:"key"`
}

// Packet is a fully decoded frame. Layers that were not present are nil.
type Packet struct {
	MAC           mac.Frame              `json:"mac"`
	Beacon        *nwk.BeaconInformation `json:"beacon,omitempty"`
	NWK           *nwk.Header            `json:"nwk,omitempty"`
	NWKSecurity   *Secured               `json:"nwk_security,omitempty"`
	NWKCommand    nwk.Command            `json:"nwk_command,omitempty"`
	APS           *aps.Header            `json:"aps,omitempty"`
	APSSecurity   *Secured               `json:"aps_security,omitempty"`
	APSCommand    *aps.Command           `json:"aps_command,omitempty"`
	ZDP           *zdp.Frame             `json:"zdp,omitempty"`
	ZCL           *zcl.Header            `json:"zcl,omitempty"`
	ZCLAttributes []zcl.Attribute        `json:"zcl_attributes,omitempty"`
	Payload       []byte                 `json:"payload,omitempty"`
}

// Layer names the innermost decoded layer.
func (p *Packet) Layer() string {
	switch {
	case p.ZCL != nil:
		return "zcl"
	case p.ZDP != nil:
		return "zdp"
	case p.APS != nil:
		return "aps"
	case p.NWK != nil:
		return "nwk"
	}
	return "mac"
}

// Decoder decodes frames against a key ring. It is safe for concurrent
// use; calls into the block cipher are serialized.
type Decoder struct {
	mu     sync.Mutex
	cipher blockcipher.BlockCipher
	keys   *security.KeyRing
	logger *slog.Logger
}

// New creates a decoder. Network keys delivered in clear-text or
// link-key protected transport key commands are added to keys.
func New(bc blockcipher.BlockCipher, keys *security.KeyRing, logger *slog.Logger) *Decoder {
	return &Decoder{
		cipher: bc,
		keys:   keys,
		logger: logger.With("component", "decoder"),
	}
}

// Keys returns the decoder's key ring.
func (d *Decoder) Keys() *security.KeyRing { return d.keys }

// Decode decodes packet, a MAC frame without FCS or LQI. Any failure
// aborts the decode; no partial packet is returned.
func (d *Decoder) Decode(packet []byte) (*Packet, error) {
	frame, _, err := mac.Unpack(packet)
	if err != nil {
		return nil, fmt.Errorf("decoder: mac: %w", err)
	}
	p := &Packet{MAC: frame}
	payload := frame.Payload
	switch frame.Header.FrameType {
	case mac.FrameBeacon:
		if len(payload) >= nwk.BeaconInformationLen {
			info, _, err := nwk.UnpackBeaconInformation(payload)
			if err != nil {
				return nil, fmt.Errorf("decoder: beacon: %w", err)
			}
			p.Beacon = &info
			payload = payload[nwk.BeaconInformationLen:]
		}
	case mac.FrameData:
		if len(payload) > 0 {
			if payload, err = d.decodeNetwork(p, payload); err != nil {
				return nil, err
			}
		}
	}
	p.MAC.Payload = append([]byte(nil), frame.Payload...)
	if len(payload) > 0 {
		p.Payload = append([]byte(nil), payload...)
	}
	return p, nil
}

func (d *Decoder) decodeNetwork(p *Packet, data []byte) ([]byte, error) {
	h, n, err := nwk.UnpackHeader(data)
	if err != nil {
		return nil, fmt.Errorf("decoder: nwk: %w", err)
	}
	p.NWK = &h
	payload := data[n:]
	if h.Control.Security {
		plaintext, aux, key, err := d.unsecure(data, n)
		if err != nil {
			d.logger.Debug("network frame not unsecured",
				"src", fmt.Sprintf("0x%04X", uint16(h.Source)),
				"seq", h.Sequence,
				"error", err,
			)
			return nil, fmt.Errorf("decoder: nwk security: %w", err)
		}
		p.NWKSecurity = &Secured{Header: aux, Key: key}
		payload = plaintext
	}
	switch h.Control.FrameType {
	case nwk.FrameCommand:
		cmd, used, err := nwk.UnpackCommand(payload)
		if err != nil {
			return nil, fmt.Errorf("decoder: nwk command: %w", err)
		}
		p.NWKCommand = cmd
		return payload[used:], nil
	default:
		if len(payload) == 0 {
			return nil, nil
		}
		return d.decodeApplication(p, payload)
	}
}

func (d *Decoder) decodeApplication(p *Packet, data []byte) ([]byte, error) {
	h, n, err := aps.UnpackHeader(data)
	if err != nil {
		return nil, fmt.Errorf("decoder: aps: %w", err)
	}
	p.APS = &h
	payload := data[n:]
	if h.Control.Security {
		plaintext, aux, key, err := d.unsecure(data, n)
		if err != nil {
			d.logger.Debug("application frame not unsecured", "counter", h.Counter, "error", err)
			return nil, fmt.Errorf("decoder: aps security: %w", err)
		}
		p.APSSecurity = &Secured{Header: aux, Key: key}
		payload = plaintext
	}
	switch h.Control.FrameType {
	case aps.FrameCommand:
		cmd, used, err := aps.UnpackCommand(payload)
		if err != nil {
			return nil, fmt.Errorf("decoder: aps command: %w", err)
		}
		p.APSCommand = &cmd
		d.learn(cmd)
		return payload[used:], nil
	case aps.FrameAcknowledgement:
		return payload, nil
	}
	switch h.Profile {
	case aps.ProfileDevice:
		f, used, err := zdp.Unpack(h.Cluster, payload)
		if err != nil {
			return nil, fmt.Errorf("decoder: zdp: %w", err)
		}
		p.ZDP = &f
		return payload[used:], nil
	case aps.ProfileHome, aps.ProfileLightLink:
		zh, used, err := zcl.UnpackHeader(payload)
		if err != nil {
			return nil, fmt.Errorf("decoder: zcl: %w", err)
		}
		p.ZCL = &zh
		rest := payload[used:]
		if zh.FrameType == zcl.FrameGlobal {
			attrs, err := zcl.UnpackAttributes(zh.Command, rest)
			if err != nil {
				return nil, fmt.Errorf("decoder: zcl: %w", err)
			}
			if attrs != nil {
				p.ZCLAttributes = attrs
				rest = nil
			}
		}
		return rest, nil
	}
	return payload, nil
}

func (d *Decoder) unsecure(frame []byte, offset int) ([]byte, security.Header, string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	plaintext, aux, key, err := d.keys.Unsecure(d.cipher, SecurityLevel, frame, offset)
	if errors.Is(err, security.ErrNoValidKey) {
		d.logger.Warn("no key authenticates frame",
			"source", aux.Source.String(),
			"counter", aux.Counter,
			"key_id", aux.Control.Identifier.String(),
		)
	}
	return plaintext, aux, key, err
}

// learn adds a transported network key to the ring.
func (d *Decoder) learn(cmd aps.Command) {
	if cmd.ID != aps.CmdTransportKey || cmd.KeyType != aps.KeyTypeNetwork {
		return
	}
	name := fmt.Sprintf("Transported Network Key %d", cmd.KeySequence)
	d.keys.Add(name, security.Key(cmd.Key))
	d.logger.Info("network key learned", "name", name, "from", cmd.Source.String())
}
