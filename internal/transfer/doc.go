// Package transfer owns the device side of an image download.
//
// Ownership boundary:
// - session state (declared length, write cursor, pixel buffer)
// - READY/BEGIN/DATA/END/ERROR handling and the handshake reply
// - caller callbacks (Ready, Start, Complete, Error)
//
// A Session handles at most one transfer at a time. All inbound messages are
// expected on the transport's single delivery goroutine.
package transfer
