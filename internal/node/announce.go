package node

import (
	"errors"
	"fmt"

	"psila-go/internal/aps"
	"psila-go/internal/association"
	"psila-go/internal/blockcipher"
	"psila-go/internal/ceiling"
	"psila-go/internal/mac"
	"psila-go/internal/nwk"
	"psila-go/internal/security"
	"psila-go/internal/zdp"
)

var ErrNotAssociated = errors.New("node: not associated")

const (
	announceRadius  = 30
	protocolVersion = 2

	// AnnounceLevel secures network traffic; it is not carried on air.
	AnnounceLevel = security.LevelEncryptedIntegrity32
)

type announceState struct {
	cipher  blockcipher.BlockCipher
	key     security.Key
	keySeq  uint8
	counter *security.FrameCounter

	nwkSequence uint8
	apsCounter  uint8
	zdpSequence uint8
}

// Announcer builds the network-key secured Device_annce a device broadcasts
// once it has joined.
type Announcer struct {
	state *ceiling.Resource[announceState]
}

// NewAnnouncer secures announcements with the network key and its key
// sequence number, taking frame counters from counter.
func NewAnnouncer(bc blockcipher.BlockCipher, key security.Key, keySequence uint8, counter *security.FrameCounter) *Announcer {
	return &Announcer{state: ceiling.New(announceState{
		cipher:  bc,
		key:     key,
		keySeq:  keySequence,
		counter: counter,
	})}
}

// Build writes the MAC frame for a Device_annce from id into out and
// returns its length. macSequence is the MAC sequence number to use.
func (a *Announcer) Build(id association.Identity, macSequence uint8, out []byte) (int, error) {
	if !id.HasPAN || !id.HasShort {
		return 0, ErrNotAssociated
	}
	var (
		n   int
		err error
	)
	a.state.Lock(func(s *announceState) {
		n, err = s.build(id, macSequence, out)
	})
	return n, err
}

func (s *announceState) build(id association.Identity, macSequence uint8, out []byte) (int, error) {
	s.zdpSequence++
	s.apsCounter++
	s.nwkSequence++

	body := make([]byte, 16)
	annce := zdp.Frame{
		Sequence: s.zdpSequence,
		Message: zdp.DeviceAnnounce{
			Address:    id.Short,
			IEEE:       id.Extended,
			Capability: association.Capability,
		},
	}
	used, err := annce.Pack(body)
	if err != nil {
		return 0, fmt.Errorf("node: announce: %w", err)
	}

	ah := aps.Header{
		Control: aps.Control{FrameType: aps.FrameData, DeliveryMode: aps.DeliveryBroadcast},
		Cluster: zdp.ClusterDeviceAnnounce,
		Profile: aps.ProfileDevice,
		Counter: s.apsCounter,
	}
	app := make([]byte, ah.Len(), ah.Len()+used)
	if _, err := ah.Pack(app); err != nil {
		return 0, fmt.Errorf("node: announce aps: %w", err)
	}
	app = append(app, body[:used]...)

	nh := nwk.Header{
		Control: nwk.Control{
			FrameType:       nwk.FrameData,
			ProtocolVersion: protocolVersion,
			Security:        true,
			SourceIEEE:      true,
		},
		Destination: nwk.BroadcastRxOnWhenIdle,
		Source:      id.Short,
		Radius:      announceRadius,
		Sequence:    s.nwkSequence,
		SourceIEEE:  id.Extended,
	}
	header := make([]byte, nh.Len())
	if _, err := nh.Pack(header); err != nil {
		return 0, fmt.Errorf("node: announce nwk: %w", err)
	}

	counter, err := s.counter.Next()
	if err != nil {
		return 0, fmt.Errorf("node: announce: %w", err)
	}
	aux := security.Header{
		Control:     security.Control{Identifier: security.KeyNetwork, ExtendedNonce: true},
		Counter:     counter,
		Source:      id.Extended,
		KeySequence: s.keySeq,
	}
	secured, err := security.Secure(s.cipher, s.key, AnnounceLevel, header, aux, app)
	if err != nil {
		return 0, fmt.Errorf("node: announce: %w", err)
	}

	mh := mac.Header{
		FrameType:     mac.FrameData,
		PanIDCompress: true,
		Sequence:      macSequence,
		Destination:   mac.ShortAddr(id.PanID, mac.BroadcastShort),
		Source:        mac.ShortAddr(id.PanID, id.Short),
	}
	n, err := mh.Pack(out)
	if err != nil {
		return 0, fmt.Errorf("node: announce mac: %w", err)
	}
	if n+len(secured) > len(out) {
		return 0, fmt.Errorf("node: announce: %w", mac.ErrNotEnoughSpace)
	}
	n += copy(out[n:], secured)
	return n, nil
}
