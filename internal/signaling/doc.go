// Package signaling implements the room-based signaling protocol used to pair
// exactly two WebSocket clients and relay their SDP offer/answer and ICE
// candidate payloads.
//
// The relay never interprets the payloads; it only enforces message ordering
// per room and forwards opaque JSON to the correct counterpart.
package signaling
