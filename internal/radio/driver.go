// Package radio drives an IEEE 802.15.4 radio peripheral through its
// task/event model and provides a simulated peripheral and air medium.
package radio

import (
	"errors"
	"fmt"
	"slices"
)

const (
	// MaxPacketLength is the size of a PHY packet buffer.
	MaxPacketLength = 128

	MinChannel = 11
	MaxChannel = 26

	fcsLength = 2
)

// PacketBuffer holds [length][payload][LQI] after reception and
// [length][payload] for transmission. The length octet excludes itself.
type PacketBuffer [MaxPacketLength]byte

var (
	// ErrConfiguration marks caller bugs; callers treat it as fatal.
	ErrConfiguration = errors.New("radio: configuration error")

	ErrInvalidChannel = fmt.Errorf("%w: channel must be %d-%d", ErrConfiguration, MinChannel, MaxChannel)
	ErrInvalidPower   = fmt.Errorf("%w: unsupported transmission power", ErrConfiguration)
	ErrFrameTooLong   = errors.New("radio: frame too long")
	ErrCCABusy        = errors.New("radio: channel busy")
)

// TransmissionPowers lists the supported output levels in dBm.
var TransmissionPowers = []int8{8, 7, 6, 5, 4, 3, 2, 0, -4, -8, -12, -16, -20, -40}

// ValidChannel reports whether ch is an O-QPSK 2.4 GHz channel.
func ValidChannel(ch uint8) bool { return ch >= MinChannel && ch <= MaxChannel }

// ValidPower reports whether dBm is one of TransmissionPowers.
func ValidPower(dBm int8) bool { return slices.Contains(TransmissionPowers, dBm) }

const (
	rxShorts = ShortRxReadyStart | ShortPhyEndDisable | ShortDisabledRxEn
	txShorts = ShortRxReadyCCAStart | ShortCCAIdleTxEn | ShortTxReadyStart |
		ShortCCABusyDisable | ShortPhyEndDisable | ShortDisabledRxEn

	disablePolls = 10000
)

// Driver is a thin state machine over a Peripheral. It is not safe for
// concurrent use; callers serialize access.
type Driver struct {
	p       Peripheral
	buffer  PacketBuffer
	channel uint8
	power   int8

	transmitting bool
	ccaBusy      bool
}

// New configures p for 802.15.4 operation on channel 11 at 4 dBm.
func New(p Peripheral) *Driver {
	d := &Driver{p: p}
	p.EnableInterrupts(EventReady | EventPhyEnd | EventCCABusy | EventEDEnd)
	p.SetPacketPointer(&d.buffer)
	_ = d.SetChannel(MinChannel)
	_ = d.SetTransmissionPower(4)
	return d
}

// SetChannel selects a channel in [11, 26]; the carrier is
// 2400 MHz + (channel - 10) * 5 MHz.
func (d *Driver) SetChannel(ch uint8) error {
	if !ValidChannel(ch) {
		return fmt.Errorf("%w: %d", ErrInvalidChannel, ch)
	}
	d.p.SetFrequency((ch - 10) * 5)
	d.channel = ch
	return nil
}

func (d *Driver) Channel() uint8 { return d.channel }

// SetTransmissionPower selects one of TransmissionPowers.
func (d *Driver) SetTransmissionPower(dBm int8) error {
	if !ValidPower(dBm) {
		return fmt.Errorf("%w: %d dBm", ErrInvalidPower, dBm)
	}
	d.p.SetTxPower(dBm)
	d.power = dBm
	return nil
}

func (d *Driver) TransmissionPower() int8 { return d.power }

func (d *Driver) State() State { return d.p.State() }

// Interrupt exposes the peripheral interrupt line.
func (d *Driver) Interrupt() <-chan struct{} { return d.p.Interrupt() }

// enterDisabled clears the shortcuts first so DISABLED cannot restart the
// receiver behind our back.
func (d *Driver) enterDisabled() {
	d.p.SetShorts(0)
	if d.p.State() != StateDisabled {
		d.p.Trigger(TaskDisable)
		for i := 0; i < disablePolls && !d.p.Event(EventDisabled); i++ {
		}
	}
	d.p.ClearEvent(EventDisabled)
}

// ReceivePrepare puts the radio in continuous receive.
func (d *Driver) ReceivePrepare() {
	d.enterDisabled()
	d.transmitting = false
	d.p.SetShorts(rxShorts)
	d.p.Trigger(TaskRxEn)
}

// Receive services the radio interrupt. When a frame has arrived it copies
// [length][payload][LQI] into buf and returns length; the frame itself is
// buf[1:length-1] and the LQI buf[length-1]. It returns 0 when nothing was
// received, the CRC failed or the interrupt was for a transmission.
func (d *Driver) Receive(buf *PacketBuffer) int {
	n := 0
	if d.p.Event(EventPhyEnd) {
		d.p.SetShorts(rxShorts)
		d.p.ClearEvent(EventPhyEnd)
		phr := d.buffer[0]
		d.buffer[0] = 0
		if d.transmitting {
			d.transmitting = false
		} else if length := int(phr & 0x7F); length > 0 && phr&0x80 == 0 {
			buf[0] = byte(length)
			copy(buf[1:length+1], d.buffer[1:length+1])
			n = length
		}
	}
	if d.p.Event(EventReady) {
		d.p.SetPacketPointer(&d.buffer)
		d.p.ClearEvent(EventReady)
	}
	if d.p.Event(EventCCABusy) {
		d.p.ClearEvent(EventCCABusy)
		d.ccaBusy = true
		d.ReceivePrepare()
	}
	return n
}

// QueueTransmission starts CCA followed by transmission of data, which
// excludes the PHR and FCS. A busy channel is reported later through
// TakeCCABusy; the driver never retries.
func (d *Driver) QueueTransmission(data []byte) (int, error) {
	txLength := len(data) + fcsLength
	if txLength >= MaxPacketLength-1 {
		return 0, fmt.Errorf("%w: %d octets", ErrFrameTooLong, len(data))
	}
	d.enterDisabled()
	d.buffer[0] = byte(txLength)
	copy(d.buffer[1:], data)
	d.transmitting = true
	d.ccaBusy = false
	// RXEN -> RXREADY -> CCASTART -> CCAIDLE -> TXEN -> TXREADY -> START -> PHYEND
	d.p.SetShorts(txShorts)
	d.p.Trigger(TaskRxEn)
	return len(data), nil
}

// Transmitting reports whether the last queued transmission is still in
// progress.
func (d *Driver) Transmitting() bool { return d.transmitting }

// TakeCCABusy reports and clears a CCA failure of the last transmission.
func (d *Driver) TakeCCABusy() bool {
	busy := d.ccaBusy
	d.ccaBusy = false
	return busy
}

// StartEnergyDetect measures channel energy over count 16 us periods.
func (d *Driver) StartEnergyDetect(count uint32) {
	d.enterDisabled()
	d.transmitting = false
	d.p.SetEnergyDetectCount(count)
	d.p.SetShorts(ShortReadyEDStart)
	d.p.Trigger(TaskRxEn)
}

// ReportEnergyDetect returns the energy sample once detection has ended.
func (d *Driver) ReportEnergyDetect() (uint8, bool) {
	if d.p.Event(EventReady) {
		d.p.ClearEvent(EventReady)
	}
	if !d.p.Event(EventEDEnd) {
		return 0, false
	}
	d.p.ClearEvent(EventEDEnd)
	return d.p.EnergySample(), true
}
