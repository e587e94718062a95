package billing

import (
	"context"

	"github.com/dmitrymomot/aidash/internal/entitlement"
	"github.com/dmitrymomot/aidash/pkg/statemachine"
)

// transitionInput is the guard payload: the stored record (nil when none) and
// the incoming event.
type transitionInput struct {
	current *entitlement.Subscription
	event   *WebhookEvent
}

// allowedTransitions lists, per current status, the statuses an event may move
// the record to. Self transitions are added for every status.
var allowedTransitions = map[entitlement.Status][]entitlement.Status{
	entitlement.StatusNone:       {entitlement.StatusIncomplete, entitlement.StatusTrialing, entitlement.StatusActive, entitlement.StatusPastDue},
	entitlement.StatusIncomplete: {entitlement.StatusActive, entitlement.StatusTrialing, entitlement.StatusCancelled, entitlement.StatusExpired},
	entitlement.StatusTrialing:   {entitlement.StatusActive, entitlement.StatusPastDue, entitlement.StatusCancelled, entitlement.StatusExpired},
	entitlement.StatusActive:     {entitlement.StatusPastDue, entitlement.StatusCancelled, entitlement.StatusExpired},
	entitlement.StatusPastDue:    {entitlement.StatusActive, entitlement.StatusCancelled, entitlement.StatusExpired},
	entitlement.StatusCancelled:  {entitlement.StatusActive, entitlement.StatusTrialing, entitlement.StatusExpired},
	entitlement.StatusExpired:    {entitlement.StatusActive, entitlement.StatusTrialing},
}

// newTransitionTable builds the status machine. The event of a transition is
// the status asserted by the provider.
func newTransitionTable() *statemachine.Table[entitlement.Status, entitlement.Status] {
	b := statemachine.NewBuilder[entitlement.Status, entitlement.Status]()
	for from, targets := range allowedTransitions {
		if from != entitlement.StatusNone {
			b.From(from).When(from).To(from).WithGuard(sameSubscription).Add()
		}
		for _, to := range targets {
			b.From(from).When(to).To(to).WithGuard(sameSubscription).Add()
		}
	}
	return b.MustBuild()
}

// sameSubscription stops late events of a replaced subscription from
// overwriting the record. A different subscription id may only start a new
// paid period.
func sameSubscription(_ context.Context, _ entitlement.Status, to entitlement.Status, data any) bool {
	in, ok := data.(transitionInput)
	if !ok || in.current == nil || in.event == nil {
		return true
	}
	if in.current.SubscriptionID == "" || in.event.SubscriptionID == "" || in.current.SubscriptionID == in.event.SubscriptionID {
		return true
	}
	return to == entitlement.StatusActive || to == entitlement.StatusTrialing
}
