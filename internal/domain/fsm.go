package domain

import "fmt"

// CartEvent is an operation attempted against a cart. Every cart mutation is
// gated through NextStatus before any state is touched.
type CartEvent string

const (
	EventCreateCart     CartEvent = "CreateCart"
	EventAddItem        CartEvent = "AddItem"
	EventUpdateLineItem CartEvent = "UpdateLineItem"
	EventCancelLineItem CartEvent = "CancelLineItem"
	EventSubtotal       CartEvent = "Subtotal"
	EventApplyDiscount  CartEvent = "ApplyDiscount"
	EventAddPayment     CartEvent = "AddPayment"
	EventRemovePayment  CartEvent = "RemovePayment"
	EventResumeEntry    CartEvent = "ResumeEntry"
	EventBill           CartEvent = "Bill"
	EventCancelCart     CartEvent = "CancelCart"
	EventGetCart        CartEvent = "GetCart"
)

// ErrInvalidCartTransition reports an event attempted from a status that does
// not permit it.
type ErrInvalidCartTransition struct {
	Status CartStatus
	Event  CartEvent
}

func (e ErrInvalidCartTransition) Error() string {
	return fmt.Sprintf("cart in status %q does not accept event %q", e.Status, e.Event)
}

// cartTransitions maps (status, event) to the resulting status. Absent pairs
// are rejected. GetCart is read-only and allowed in every live status, so it
// is handled outside the table.
var cartTransitions = map[CartStatus]map[CartEvent]CartStatus{
	CartInitial: {
		EventCreateCart: CartIdle,
	},
	CartIdle: {
		EventAddItem:    CartEnteringItem,
		EventCancelCart: CartCancelled,
	},
	CartEnteringItem: {
		EventAddItem:        CartEnteringItem,
		EventUpdateLineItem: CartEnteringItem,
		EventCancelLineItem: CartEnteringItem,
		EventApplyDiscount:  CartEnteringItem,
		EventSubtotal:       CartPaying,
		EventCancelCart:     CartCancelled,
	},
	CartPaying: {
		EventUpdateLineItem: CartPaying,
		EventCancelLineItem: CartPaying,
		EventApplyDiscount:  CartPaying,
		EventAddPayment:     CartPaying,
		EventRemovePayment:  CartPaying,
		EventResumeEntry:    CartEnteringItem,
		EventBill:           CartCompleted,
		EventCancelCart:     CartCancelled,
	},
}

// NextStatus validates the event against the current status and returns the
// resulting status. Completed and Cancelled are terminal: nothing is accepted
// from them, reads included; a billed or abandoned cart is only history and
// its record lives in the transaction log.
func NextStatus(current CartStatus, event CartEvent) (CartStatus, error) {
	if event == EventGetCart {
		if IsTerminalStatus(current) {
			return current, ErrInvalidCartTransition{Status: current, Event: event}
		}
		return current, nil
	}
	if allowed, ok := cartTransitions[current]; ok {
		if next, ok := allowed[event]; ok {
			return next, nil
		}
	}
	return current, ErrInvalidCartTransition{Status: current, Event: event}
}

// IsTerminalStatus reports whether the cart has reached a final state.
func IsTerminalStatus(status CartStatus) bool {
	return status == CartCompleted || status == CartCancelled
}
