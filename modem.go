package sbd

import (
	"context"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

var (
	csqPattern   = regexp.MustCompile(`CSQ:\s*(\d+)`)
	cclkPattern  = regexp.MustCompile(`CCLK:\s*(\d+)/(\d+)/(\d+),(\d+):(\d+):(\d+)`)
	msstmPattern = regexp.MustCompile(`-MSSTM:\s*([0-9A-Fa-f]+)`)
)

// iridiumEpoch is the reference point for AT-MSSTM network time decoding
// (§4.7): May 11 2014 14:23:55 UTC, 1399818235 unix seconds.
var iridiumEpoch = time.Date(2014, time.May, 11, 14, 23, 55, 0, time.UTC)

// Modem is the public driver handle: one serial line, one SBD session state
// machine, one event bus (§2, §6).
type Modem struct {
	cfg    *Config
	tr     Transport
	logger *logrus.Logger
	bus    *eventBus

	sendCh   chan sendRequest
	rxCh     chan []byte
	closeCh  chan struct{}
	closedCh chan struct{}

	cmdMu     sync.Mutex
	mailboxMu sync.Mutex

	framer           *lineFramer
	slot             inflightSlot
	binaryFlushTimer *time.Timer

	session *sessionState

	closeOnce sync.Once
}

// Option customizes Open.
type Option func(*Modem)

// WithLogger overrides the default logrus.StandardLogger().
func WithLogger(l *logrus.Logger) Option {
	return func(m *Modem) { m.logger = l }
}

// Open starts the driver loop against an already-opened Transport and runs
// the init sequence of §4.5.3. On success EventInitialized has already been
// published once; on failure the transport is closed and init's error is
// returned unchanged.
func Open(cfg *Config, tr Transport, opts ...Option) (*Modem, error) {
	return OpenWithContext(context.Background(), cfg, tr, opts...)
}

// OpenWithContext is Open with a context that bounds the init sequence.
func OpenWithContext(ctx context.Context, cfg *Config, tr Transport, opts ...Option) (*Modem, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	m := &Modem{
		cfg:      cfg,
		tr:       tr,
		logger:   logrus.StandardLogger(),
		bus:      newEventBus(),
		sendCh:   make(chan sendRequest),
		rxCh:     make(chan []byte, 16),
		closeCh:  make(chan struct{}),
		closedCh: make(chan struct{}),
		framer:   newLineFramer(),
		session:  &sessionState{},
	}
	for _, opt := range opts {
		opt(m)
	}

	go m.loop()
	go m.readLoop()

	if err := m.init(ctx); err != nil {
		_ = m.Close()
		return nil, err
	}
	return m, nil
}

// On registers a handler for one of the four published events (§4.6).
// Delivery order matches registration order.
func (m *Modem) On(t EventType, h Handler) { m.bus.On(t, h) }

// Close shuts the driver loop down and closes the transport (§6). Safe to
// call more than once; any command still waiting on the slot is completed
// with ErrNotOpen rather than left hanging.
func (m *Modem) Close() error {
	var err error
	m.closeOnce.Do(func() {
		close(m.closeCh)
		<-m.closedCh
		err = m.tr.Close()
	})
	return err
}

func (m *Modem) readLoop() {
	buf := make([]byte, 4096)
	for {
		n, err := m.tr.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			select {
			case m.rxCh <- chunk:
			case <-m.closeCh:
				return
			}
		}
		if err != nil {
			if err != io.EOF {
				m.logger.Warnf("sbd: transport read error: %v", err)
			}
			return
		}
	}
}

// init runs ATE0 -> AT+SBDD2 -> AT+SBDAREG=1 -> AT+SBDMTA=1 and publishes
// EventInitialized on success (§4.5.3). Any step's failure aborts init and
// leaves the driver unusable until re-opened.
func (m *Modem) init(ctx context.Context) error {
	steps := []string{"ATE0", "AT+SBDD2", "AT+SBDAREG=1", "AT+SBDMTA=1"}
	for _, cmd := range steps {
		if _, err := m.sendCommand(ctx, commandDescriptor{
			name:       cmd,
			payload:    []byte(cmd),
			isText:     true,
			endPattern: okPattern,
			timeout:    m.cfg.SimpleTimeout,
		}); err != nil {
			m.logger.Errorf("sbd: init step %q failed: %v", cmd, err)
			return fmt.Errorf("sbd: init step %q failed: %w", cmd, err)
		}
	}
	m.bus.emit(EventInitialized, nil)
	return nil
}

func (m *Modem) logDebugf(format string, args ...any) {
	m.logger.Debugf(format, args...)
	if m.cfg.Debug {
		m.bus.emit(EventDebug, &DebugPayload{Message: fmt.Sprintf(format, args...)})
	}
}

// GetSignalQuality issues AT+CSQ and parses the 0..5 signal bar count
// (§4.7).
func (m *Modem) GetSignalQuality(ctx context.Context) (int, error) {
	res, err := m.sendCommand(ctx, commandDescriptor{
		name:       "AT+CSQ",
		payload:    []byte("AT+CSQ"),
		isText:     true,
		endPattern: okPattern,
		timeout:    m.cfg.DefaultTimeout,
	})
	if err != nil {
		return 0, err
	}
	match := csqPattern.FindStringSubmatch(string(res.body))
	if match == nil {
		return 0, &ParseError{Field: "CSQ", Value: string(res.body)}
	}
	n, _ := strconv.Atoi(match[1])
	return n, nil
}

// GetSystemTime issues AT+CCLK? and parses the modem's local clock as UTC
// (§4.7).
func (m *Modem) GetSystemTime(ctx context.Context) (time.Time, error) {
	res, err := m.sendCommand(ctx, commandDescriptor{
		name:       "AT+CCLK?",
		payload:    []byte("AT+CCLK?"),
		isText:     true,
		endPattern: okPattern,
		timeout:    m.cfg.DefaultTimeout,
	})
	if err != nil {
		return time.Time{}, err
	}
	match := cclkPattern.FindStringSubmatch(string(res.body))
	if match == nil {
		return time.Time{}, &ParseError{Field: "CCLK", Value: string(res.body)}
	}
	vals := make([]int, 6)
	for i, s := range match[1:] {
		vals[i], _ = strconv.Atoi(s)
	}
	return time.Date(2000+vals[0], time.Month(vals[1]), vals[2], vals[3], vals[4], vals[5], 0, time.UTC), nil
}

// GetNetworkTime issues AT-MSSTM and decodes the hex tick count into a wall
// clock time relative to the Iridium epoch (§4.7).
func (m *Modem) GetNetworkTime(ctx context.Context) (time.Time, error) {
	res, err := m.sendCommand(ctx, commandDescriptor{
		name:       "AT-MSSTM",
		payload:    []byte("AT-MSSTM"),
		isText:     true,
		endPattern: okPattern,
		timeout:    m.cfg.DefaultTimeout,
	})
	if err != nil {
		return time.Time{}, err
	}
	match := msstmPattern.FindStringSubmatch(string(res.body))
	if match == nil {
		return time.Time{}, &ParseError{Field: "MSSTM", Value: string(res.body)}
	}
	ticks, err := strconv.ParseUint(match[1], 16, 64)
	if err != nil {
		return time.Time{}, &ParseError{Field: "MSSTM", Value: string(res.body)}
	}
	return iridiumEpoch.Add(time.Duration(ticks) * 90 * time.Millisecond), nil
}
