package domain

type CheckoutStatus string

const (
	CheckoutStatusStarted        CheckoutStatus = "STARTED"
	CheckoutStatusValidated      CheckoutStatus = "VALIDATED"
	CheckoutStatusReserved       CheckoutStatus = "RESERVED"
	CheckoutStatusOrderPersisted CheckoutStatus = "ORDER_PERSISTED"
	CheckoutStatusCompleted      CheckoutStatus = "COMPLETED"
	CheckoutStatusAborted        CheckoutStatus = "ABORTED"
)

var checkoutTransitions = map[CheckoutStatus][]CheckoutStatus{
	CheckoutStatusStarted:        {CheckoutStatusValidated, CheckoutStatusAborted},
	CheckoutStatusValidated:      {CheckoutStatusReserved, CheckoutStatusAborted},
	CheckoutStatusReserved:       {CheckoutStatusOrderPersisted, CheckoutStatusAborted},
	CheckoutStatusOrderPersisted: {CheckoutStatusCompleted, CheckoutStatusAborted},
}

func CanTransitionTo(from, to CheckoutStatus) bool {
	for _, next := range checkoutTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

func (s CheckoutStatus) IsTerminal() bool {
	return s == CheckoutStatusCompleted || s == CheckoutStatusAborted
}

// String representation (for logging)
func (s CheckoutStatus) String() string {
	return string(s)
}
