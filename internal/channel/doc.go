// Package channel maintains the single persistent connection to the relay.
//
// A Conn owns one Transport at a time, runs a receive loop that hands every
// inbound text frame to a Handler, and tracks a three-state lifecycle:
// Disconnected, Connecting and Connected. When the receive loop ends, for
// any reason, the Conn returns to Disconnected and the Handler is told so it
// can release whatever it was waiting on.
//
// Two transports are provided: raw websocket text frames (gorilla) and
// Socket.IO "message" events (zishang520).
package channel
