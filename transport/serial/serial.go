// Package serial is the real, termios-backed implementation of sbd.Transport
// (§4.1). The library treats the concrete serial port as an external
// collaborator; this package is that collaborator, grounded on the example
// pack's dedicated serial driver repository (daedaluz/goserial) rather than
// reimplementing termios ioctl handling here.
package serial

import (
	"fmt"
	"time"

	goserial "github.com/daedaluz/goserial"
)

// baudRates maps the integer baud rates recognized by Config.Baudrate onto
// the termios CBAUD constants goserial exposes. Unlisted rates fall back to
// the closest standard rate below them; a rate below 1200 resolves to 9600.
var baudRates = map[int]goserial.CFlag{
	1200:   goserial.B1200,
	2400:   goserial.B2400,
	4800:   goserial.B4800,
	9600:   goserial.B9600,
	19200:  goserial.B19200,
	38400:  goserial.B38400,
	57600:  goserial.B57600,
	115200: goserial.B115200,
}

// Port wraps a goserial.Port to satisfy sbd.Transport (Read/Write/Close);
// the sbd package never imports this one, it just relies on structural
// typing the way the teacher's pkg/can backends satisfy canopen.Bus without
// a direct dependency back on the root package.
type Port struct {
	port *goserial.Port
}

// Open opens name at baud, puts the line into raw mode, and returns a Port
// ready to hand to sbd.Open. readTimeout bounds individual Read calls so the
// Modem's reader goroutine can notice Close promptly; it is unrelated to the
// AT-command timeouts the driver itself enforces.
func Open(name string, baud int, readTimeout time.Duration) (*Port, error) {
	opts := goserial.NewOptions().SetReadTimeout(readTimeout)
	p, err := goserial.Open(name, opts)
	if err != nil {
		return nil, fmt.Errorf("serial: open %s: %w", name, err)
	}
	if err := p.MakeRaw(); err != nil {
		_ = p.Close()
		return nil, fmt.Errorf("serial: make raw %s: %w", name, err)
	}
	attrs, err := p.GetAttr()
	if err != nil {
		_ = p.Close()
		return nil, fmt.Errorf("serial: get attrs %s: %w", name, err)
	}
	attrs.SetSpeed(resolveBaud(baud))
	if err := p.SetAttr(goserial.TCSANOW, attrs); err != nil {
		_ = p.Close()
		return nil, fmt.Errorf("serial: set speed %s: %w", name, err)
	}
	return &Port{port: p}, nil
}

func resolveBaud(requested int) goserial.CFlag {
	if cflag, ok := baudRates[requested]; ok {
		return cflag
	}
	bestRate := 0
	best := goserial.B9600
	for rate, cflag := range baudRates {
		if rate <= requested && rate > bestRate {
			bestRate = rate
			best = cflag
		}
	}
	return best
}

func (p *Port) Read(b []byte) (int, error)  { return p.port.Read(b) }
func (p *Port) Write(b []byte) (int, error) { return p.port.Write(b) }
func (p *Port) Close() error                { return p.port.Close() }
