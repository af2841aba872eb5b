package domain

// Machine is a transition table keyed by source state and event. Every
// lifecycle (order, transfer, shift, shift swap) is declared as one of these
// so illegal moves are rejected in a single place.
type Machine[S ~string, E ~string] struct {
	name        string
	transitions map[S]map[E]S
	invalid     error
}

type Transition[S ~string, E ~string] struct {
	From  S
	Event E
	To    S
}

func NewMachine[S ~string, E ~string](name string, invalid error, transitions ...Transition[S, E]) *Machine[S, E] {
	m := &Machine[S, E]{
		name:        name,
		transitions: make(map[S]map[E]S),
		invalid:     invalid,
	}
	for _, t := range transitions {
		if m.transitions[t.From] == nil {
			m.transitions[t.From] = make(map[E]S)
		}
		m.transitions[t.From][t.Event] = t.To
	}
	return m
}

func (m *Machine[S, E]) CanTransition(from S, to S) bool {
	for _, target := range m.transitions[from] {
		if target == to {
			return true
		}
	}
	return false
}

func (m *Machine[S, E]) Next(from S, event E) (S, bool) {
	to, ok := m.transitions[from][event]
	return to, ok
}

// Apply returns the state reached from `from` via `event`, or the machine's
// invalid-state error wrapped with the offending pair.
func (m *Machine[S, E]) Apply(from S, event E) (S, error) {
	to, ok := m.Next(from, event)
	if !ok {
		return from, wrapTransition(m.invalid, m.name, string(from), string(event))
	}
	return to, nil
}

// Events lists the events accepted from a state.
func (m *Machine[S, E]) Events(from S) []E {
	events := make([]E, 0, len(m.transitions[from]))
	for event := range m.transitions[from] {
		events = append(events, event)
	}
	return events
}

type OrderEvent string

const (
	OrderEventCancel OrderEvent = "cancel"
	OrderEventResume OrderEvent = "resume"
)

var OrderMachine = NewMachine("order", ErrInvalidOrderState,
	Transition[OrderStatus, OrderEvent]{From: OrderStatusCompleted, Event: OrderEventCancel, To: OrderStatusCancelled},
	Transition[OrderStatus, OrderEvent]{From: OrderStatusHeld, Event: OrderEventCancel, To: OrderStatusCancelled},
	Transition[OrderStatus, OrderEvent]{From: OrderStatusHeld, Event: OrderEventResume, To: OrderStatusCancelled},
)

type TransferEvent string

const (
	TransferEventApprove        TransferEvent = "approve"
	TransferEventShip           TransferEvent = "ship"
	TransferEventReceivePartial TransferEvent = "receive_partial"
	TransferEventReceiveFull    TransferEvent = "receive_full"
	TransferEventCancel         TransferEvent = "cancel"
)

var TransferMachine = NewMachine("transfer", ErrInvalidTransferState,
	Transition[TransferStatus, TransferEvent]{From: TransferStatusPending, Event: TransferEventApprove, To: TransferStatusApproved},
	Transition[TransferStatus, TransferEvent]{From: TransferStatusApproved, Event: TransferEventShip, To: TransferStatusInTransit},
	Transition[TransferStatus, TransferEvent]{From: TransferStatusInTransit, Event: TransferEventReceivePartial, To: TransferStatusPartiallyReceived},
	Transition[TransferStatus, TransferEvent]{From: TransferStatusInTransit, Event: TransferEventReceiveFull, To: TransferStatusReceived},
	Transition[TransferStatus, TransferEvent]{From: TransferStatusPending, Event: TransferEventCancel, To: TransferStatusCancelled},
	Transition[TransferStatus, TransferEvent]{From: TransferStatusApproved, Event: TransferEventCancel, To: TransferStatusCancelled},
)

type ShiftEvent string

const (
	ShiftEventStart  ShiftEvent = "start"
	ShiftEventEnd    ShiftEvent = "end"
	ShiftEventCancel ShiftEvent = "cancel"
)

var ShiftMachine = NewMachine("shift", ErrShiftNotActive,
	Transition[ShiftStatus, ShiftEvent]{From: ShiftStatusPending, Event: ShiftEventStart, To: ShiftStatusActive},
	Transition[ShiftStatus, ShiftEvent]{From: ShiftStatusActive, Event: ShiftEventEnd, To: ShiftStatusCompleted},
	Transition[ShiftStatus, ShiftEvent]{From: ShiftStatusPending, Event: ShiftEventCancel, To: ShiftStatusCancelled},
	Transition[ShiftStatus, ShiftEvent]{From: ShiftStatusActive, Event: ShiftEventCancel, To: ShiftStatusCancelled},
)

type SwapEvent string

const (
	SwapEventAccept         SwapEvent = "accept"
	SwapEventManagerApprove SwapEvent = "manager_approve"
	SwapEventReject         SwapEvent = "reject"
	SwapEventCancel         SwapEvent = "cancel"
)

var SwapMachine = NewMachine("shift swap", ErrInvalidSwapState,
	Transition[SwapStatus, SwapEvent]{From: SwapStatusPending, Event: SwapEventAccept, To: SwapStatusApproved},
	Transition[SwapStatus, SwapEvent]{From: SwapStatusApproved, Event: SwapEventManagerApprove, To: SwapStatusManagerApproved},
	Transition[SwapStatus, SwapEvent]{From: SwapStatusPending, Event: SwapEventReject, To: SwapStatusRejected},
	Transition[SwapStatus, SwapEvent]{From: SwapStatusApproved, Event: SwapEventReject, To: SwapStatusRejected},
	Transition[SwapStatus, SwapEvent]{From: SwapStatusPending, Event: SwapEventCancel, To: SwapStatusCancelled},
	Transition[SwapStatus, SwapEvent]{From: SwapStatusApproved, Event: SwapEventCancel, To: SwapStatusCancelled},
)
