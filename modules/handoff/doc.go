// Package handoff fans resolved product references out to named subscribers.
//
// # Overview
//
// The scan controller hands each resolved reference to exactly one Navigator.
// In the CLI that navigator publishes to a Bus, and every consumer (stdout
// printer, MQTT emitter, tests) subscribes independently:
//
//	bus := handoff.New()
//	defer bus.Close()
//
//	ch := make(chan handoff.Delivery, 8)
//	bus.Subscribe("printer", ch)
//
//	bus.Publish(handoff.Delivery{Reference: ref, DeliveredAt: time.Now()})
//
// # Non-Blocking Semantics
//
// Publish never blocks. A subscriber whose channel is full misses the delivery
// and the drop is counted in its stats. SubscribeLatest registers a receiver
// that only ever holds the most recent delivery.
package handoff
