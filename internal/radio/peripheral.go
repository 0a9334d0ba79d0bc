package radio

import "fmt"

// State mirrors the radio peripheral's own state register.
type State uint8

const (
	StateDisabled State = iota
	StateRxRampUp
	StateRxIdle
	StateRx
	StateRxDisable
	StateTxRampUp
	StateTxIdle
	StateTx
	StateTxDisable
)

var stateNames = [...]string{
	StateDisabled:  "Disabled",
	StateRxRampUp:  "RxRampUp",
	StateRxIdle:    "RxIdle",
	StateRx:        "Rx",
	StateRxDisable: "RxDisable",
	StateTxRampUp:  "TxRampUp",
	StateTxIdle:    "TxIdle",
	StateTx:        "Tx",
	StateTxDisable: "TxDisable",
}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("State(%d)", uint8(s))
}

// Task is a peripheral task trigger.
type Task uint8

const (
	TaskTxEn Task = iota
	TaskRxEn
	TaskStart
	TaskDisable
	TaskCCAStart
	TaskEDStart
)

// Event is a bit set of peripheral events.
type Event uint16

const (
	EventReady Event = 1 << iota
	EventRxReady
	EventTxReady
	EventPhyEnd
	EventDisabled
	EventCCAIdle
	EventCCABusy
	EventEDEnd
)

// Shorts is a bit set of event-to-task shortcuts the peripheral follows
// without CPU involvement.
type Shorts uint16

const (
	ShortRxReadyStart Shorts = 1 << iota
	ShortRxReadyCCAStart
	ShortCCAIdleTxEn
	ShortTxReadyStart
	ShortCCABusyDisable
	ShortPhyEndDisable
	ShortDisabledRxEn
	ShortReadyEDStart
)

type shortcut struct {
	short Shorts
	from  Event
	to    Task
}

var shortcuts = []shortcut{
	{ShortRxReadyStart, EventRxReady, TaskStart},
	{ShortRxReadyCCAStart, EventRxReady, TaskCCAStart},
	{ShortCCAIdleTxEn, EventCCAIdle, TaskTxEn},
	{ShortTxReadyStart, EventTxReady, TaskStart},
	{ShortCCABusyDisable, EventCCABusy, TaskDisable},
	{ShortPhyEndDisable, EventPhyEnd, TaskDisable},
	{ShortDisabledRxEn, EventDisabled, TaskRxEn},
	{ShortReadyEDStart, EventReady, TaskEDStart},
}

// Peripheral is the register-level contract of an 802.15.4 radio. The
// driver never touches hardware except through it.
type Peripheral interface {
	State() State
	Trigger(t Task)
	Event(e Event) bool
	ClearEvent(e Event)
	SetShorts(s Shorts)
	EnableInterrupts(e Event)
	SetFrequency(offset uint8)
	SetTxPower(dBm int8)
	// SetPacketPointer points the peripheral's DMA at buf.
	SetPacketPointer(buf *PacketBuffer)
	SetEnergyDetectCount(n uint32)
	EnergySample() uint8
	// Interrupt signals whenever an enabled event is raised.
	Interrupt() <-chan struct{}
}
