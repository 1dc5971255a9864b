// Package event provides the per-session pub-sub bus that carries lifecycle,
// socket and pairing notifications to application observers.
//
// # Main Types
//
//   - [Event]: Interface that all events must implement, providing EventType() and Timestamp()
//   - [Bus]: Synchronous pub-sub dispatcher with snapshot-then-invoke delivery
//   - [Handler]: Function type for event handlers (func(Event))
//
// Lifecycle and socket events are defined by the lifecycle package and
// published under [TypeLifecycleChanged], [TypeSocketChanged] and
// [TypeDisconnectedHint]. Pairing events ([QRCodeEvent], [ReconnectedEvent])
// are defined here.
//
// # Thread Safety
//
// The [Bus] type is safe for concurrent use. Handlers run synchronously on the
// publishing goroutine against a snapshot of the subscriber list, so a handler
// may subscribe or unsubscribe (itself included) without disturbing the
// delivery in progress. A panicking handler is recovered and reported through
// the bus logger and failure hook; the remaining handlers still run.
//
// # Basic Usage
//
//	bus := event.NewBus(event.WithLogger(logger))
//
//	id := bus.Subscribe(event.TypeQRCode, func(e event.Event) {
//	    qr := e.(event.QRCodeEvent)
//	    fmt.Println(qr.Code)
//	})
//	bus.Publish(event.NewQRCodeEvent("2@abc", 1, time.Now()))
//	bus.Unsubscribe(id)
package event
