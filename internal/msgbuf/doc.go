// Package msgbuf coalesces bursts of inbound message events into batches and
// delivers each batch to every registered subscriber.
//
// # Debounce
//
// The first accepted event after an idle period arms a one-shot timer. Events
// arriving before it fires join the same batch without re-arming it, so the
// delay from the first event of a burst to its delivery is exactly the
// debounce window. No timer exists while the buffer is idle.
//
// # Reload
//
// When the host announces that the remote client is about to reload,
// [Buffer.ImminentReload] writes the undelivered tail to a [store.Store]
// under [PersistKey] and notifies every subscriber with a [TerminalSignal].
// The next process reads the slot back once with [LoadPersisted].
//
// # Subscribers
//
// Handlers run in registration order against a snapshot of the subscriber
// list, so they may subscribe or unsubscribe freely. A panicking handler is
// recovered, logged and counted; the rest of the delivery continues.
package msgbuf
