// Package xmodem defines the transport boundary for moving a firmware
// image over the serial console with XMODEM ("program xmodem", "dump
// xmodem"), grounded on common/xmodem.h's struct xmodem/
// xmodem_receive/xmodem_transmit shapes. The protocol itself (packet
// framing, retry/timeout, CRC) is out of scope (§1 Non-goals); this
// package only fixes the shape a real implementation would satisfy. No
// package implements or imports these interfaces; the console reports
// its XMODEM verbs as unavailable.
package xmodem

import "io"

// Config mirrors struct xmodem's tunables.
type Config struct {
	PacketTimeoutMS uint32
	RetryCount      uint32
}

// DefaultConfig matches XMODEM_DEFAULT_PACKET_TIMEOUT/XMODEM_DEFAULT_RETRY_COUNT.
var DefaultConfig = Config{PacketTimeoutMS: 1000, RetryCount: 10}

// Receiver receives a stream of packets over conn and writes reassembled
// data to dst, the way xmodem_receive drives recv_cb with each packet's
// payload.
type Receiver interface {
	Receive(conn io.ReadWriter, dst io.Writer, cfg Config) (bytesReceived uint32, err error)
}

// Transmitter sends src over conn as a sequence of packets, the
// transmit-side counterpart xmodem.h leaves as a TODO in the original.
type Transmitter interface {
	Transmit(conn io.ReadWriter, src io.Reader, cfg Config) (bytesSent uint32, err error)
}
