package domain

type CheckoutState string

const (
	CheckoutStateIdle       CheckoutState = "IDLE"
	CheckoutStateProcessing CheckoutState = "PROCESSING"
	CheckoutStateSucceeded  CheckoutState = "SUCCEEDED"
	CheckoutStateFailed     CheckoutState = "FAILED"
)

var transitions = map[CheckoutState][]CheckoutState{
	CheckoutStateIdle:       {CheckoutStateProcessing},
	CheckoutStateProcessing: {CheckoutStateSucceeded, CheckoutStateFailed, CheckoutStateIdle},
	CheckoutStateSucceeded:  {CheckoutStateIdle},
	CheckoutStateFailed:     {CheckoutStateIdle},
}

// CanTransitionTo reports whether the state machine allows moving from one state to another.
func CanTransitionTo(from, to CheckoutState) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

func (s CheckoutState) IsTerminal() bool {
	return s == CheckoutStateSucceeded || s == CheckoutStateFailed
}

// String representation (for logging)
func (s CheckoutState) String() string {
	return string(s)
}
