// Package proxy relays collaborative-editing WebSocket sessions to the internal sync backend.
//
// Frontend is HTTP middleware that claims upgrade requests under a path prefix and hands
// them to the Bridge. The Bridge dials the backend first (with a minted Authorization
// credential), then accepts the client, and runs one Session per accepted upgrade.
//
// Session lifecycle:
//
//	Connecting -> Open -> Closing -> Closed
//
// A session is Open once both legs are established. The first close or error on either
// leg moves it to Closing; it is Closed once both sockets are released. Frames are relayed
// verbatim in both directions and keep their message type.
package proxy
