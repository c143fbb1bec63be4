package sbd

import "io"

// Transport owns the serial byte stream (§4.1). It is deliberately opaque to
// AT-command concerns: Read delivers whatever bytes the modem produced,
// chunked however the underlying device chooses, and Write sends raw bytes
// verbatim. Implementations live in transport/serial (a real termios-backed
// port) and internal/fakemodem (an in-memory double used by tests).
type Transport interface {
	io.Reader
	io.Writer
	io.Closer
}
