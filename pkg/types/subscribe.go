package types

// Trigger is the set of mutation classes that re-evaluate a subscription.
// The zero value triggers on both classes.
type Trigger uint8

const (
	TriggerPersistent Trigger = 1 << iota
	TriggerMessage

	TriggerAll = TriggerPersistent | TriggerMessage
)

// Matches reports whether a mutation of class p qualifies under t.
func (t Trigger) Matches(p Persistence) bool {
	if t == 0 {
		t = TriggerAll
	}
	if p == Persistent {
		return t&TriggerPersistent != 0
	}
	return t&TriggerMessage != 0
}

// DeltaControl is the verdict of a DeltaFunc.
type DeltaControl int

const (
	// DeltaSend delivers the returned delta.
	DeltaSend DeltaControl = iota
	// DeltaNone skips delivery for this re-evaluation.
	DeltaNone
	// DeltaStop deletes the subscription without delivering.
	DeltaStop
)

// DeltaFunc turns the previous and new accumulators of a standing search
// into the delta to deliver. It is invoked only when the two differ.
type DeltaFunc func(old, new any) (delta any, ctrl DeltaControl)

// DeliveryControl is the verdict of a DeliveryFunc.
type DeliveryControl int

const (
	// DeliveryOK keeps the subscription alive.
	DeliveryOK DeliveryControl = iota
	// DeliveryStop deletes the subscription after this delivery.
	DeliveryStop
)

// DeliveryFunc receives the delta produced by a subscription
// re-evaluation.
type DeliveryFunc func(delta any) DeliveryControl

// SubscribeOptions configures a subscription: the standing search itself
// plus the trigger classes and the optional delta/delivery callbacks. With
// no DeltaFunc the delta is the new accumulator; with no DeliveryFunc
// nothing is delivered but the stored accumulator still tracks the graph.
type SubscribeOptions struct {
	SearchOptions
	Trigger  Trigger
	Delta    DeltaFunc
	Delivery DeliveryFunc
}
