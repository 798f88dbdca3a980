// Package notifications delivers pipeline events via pluggable notifiers.
//
// The default implementation publishes to ntfy using the topic configured in
// config.toml and gracefully degrades to a no-op when notifications are
// disabled. The Notifier tails the durable event log with an after-id cursor,
// so delivery stays decoupled from the workers appending the events.
//
// Extend this package if you need alternative transports; the notifier
// depends only on the simple Service interface.
package notifications
