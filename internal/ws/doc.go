// Package ws pushes session output to browser clients over WebSocket and
// routes their input back to the session.
//
// The package implements:
//   - Hub: the set of attached clients, all watching the one bridged session
//   - Handler: upgrades connections and pumps messages (stdin, resize, ping)
//   - Service: the session listener that turns notifications into
//     stdout, error and closed messages
//
// A client that attaches mid-session first receives the scrollback as a
// history message. Clients detaching never affects the session itself.
package ws
