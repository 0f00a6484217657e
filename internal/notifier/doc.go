// Package notifier delivers formatted alerts to the configured chat.
//
// A Service wraps a transport.Sender with the policies every outbound message
// shares: a token-bucket rate limit, a hard per-send timeout and panic
// recovery. Send never returns an error; it reports a Result carrying the
// failure reason so callers can surface it verbatim.
//
// # Events
//
// Each attempt publishes notify.sent or notify.failed on the event bus.
//
// # History
//
// For operator visibility the service keeps a small in-memory history of
// recently delivered messages.
package notifier
