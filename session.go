package sbd

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"sync"
	"time"

	"github.com/cenkalti/backoff"
)

const (
	binaryFlushWindow = 1000 * time.Millisecond
	mailboxRetryDelay = 20 * time.Second
	mailboxDrainDelay = 1 * time.Second
)

var (
	okPattern    = regexp.MustCompile(`^OK`)
	readyPattern = regexp.MustCompile(`^READY`)
	cievPattern  = regexp.MustCompile(`\+CIEV:0,[^0]`)

	sbdixLinePattern   = regexp.MustCompile(`\+SBDIX`)
	sbdixValuesPattern = regexp.MustCompile(`\+SBDIX:\s*(-?\d+),\s*(-?\d+),\s*(-?\d+),\s*(-?\d+),\s*(-?\d+),\s*(-?\d+)`)
)

// sessionState holds the counters of §3 that persist for the life of the
// driver, guarded by mu since mailboxSend retries run on their own timers
// while queries from the application can land concurrently.
type sessionState struct {
	mu             sync.Mutex
	messagePending int
	pending        int
	attempt        int
}

// sbdixResult is the parsed body of a +SBDIX line (§4.5).
type sbdixResult struct {
	status, momsn, mtstatus, mtmsn, mtlen, mtqueued int
}

// SendMessage writes a short text message to the MO buffer and runs it
// through a full mailbox exchange (§4.5 "Text send"). An empty string is
// the mailbox-check idiom (AT+SBDD0, no text written).
func (m *Modem) SendMessage(ctx context.Context, text string) (int, error) {
	return m.mailboxSend(ctx, func(ctx context.Context) error {
		return m.writeTextBuffer(ctx, text)
	})
}

// SendBinaryMessage writes a binary MO payload, appending the checksum
// trailer SBDWB expects, then runs a full mailbox exchange (§4.5 "Binary
// send"). A zero-length payload falls through to the text path.
func (m *Modem) SendBinaryMessage(ctx context.Context, payload []byte) (int, error) {
	if len(payload) == 0 {
		return m.SendMessage(ctx, "")
	}
	return m.mailboxSend(ctx, func(ctx context.Context) error {
		return m.writeBinaryBuffer(ctx, payload)
	})
}

// MailboxCheck runs a mailbox exchange without writing a new MO message,
// only to see whether the gateway has an MT message queued.
func (m *Modem) MailboxCheck(ctx context.Context) (int, error) {
	return m.mailboxSend(ctx, func(ctx context.Context) error {
		return m.writeTextBuffer(ctx, "")
	})
}

func (m *Modem) writeTextBuffer(ctx context.Context, text string) error {
	cmd := "AT+SBDD0"
	if text != "" {
		cmd = "AT+SBDWT=" + text
	}
	_, err := m.sendCommand(ctx, commandDescriptor{
		name:       cmd,
		payload:    []byte(cmd),
		isText:     true,
		endPattern: okPattern,
		timeout:    m.cfg.DefaultTimeout,
	})
	return err
}

func (m *Modem) writeBinaryBuffer(ctx context.Context, payload []byte) error {
	cmd := fmt.Sprintf("AT+SBDWB=%d", len(payload))
	if _, err := m.sendCommand(ctx, commandDescriptor{
		name:       cmd,
		payload:    []byte(cmd),
		isText:     true,
		endPattern: readyPattern,
		timeout:    m.cfg.DefaultTimeout,
	}); err != nil {
		return err
	}

	checksum := sbdChecksum(payload)
	frame := make([]byte, 0, len(payload)+2)
	frame = append(frame, payload...)
	frame = append(frame, byte(checksum>>8), byte(checksum))

	_, err := m.sendCommand(ctx, commandDescriptor{
		name:       "<binary MO payload>",
		payload:    frame,
		isText:     false,
		endPattern: okPattern,
		timeout:    m.cfg.DefaultTimeout,
	})
	return err
}

// sbdChecksum is the two-byte big-endian checksum SBDWB/SBDRB frames use:
// the low 16 bits of the sum of the payload bytes (§4.5, §8).
func sbdChecksum(payload []byte) uint16 {
	var sum uint32
	for _, b := range payload {
		sum += uint32(b)
	}
	return uint16(sum)
}

func (m *Modem) waitForNetwork(ctx context.Context) error {
	_, err := m.sendCommand(ctx, commandDescriptor{
		name:       "AT+CIER=1,1,0",
		payload:    []byte("AT+CIER=1,1,0"),
		isText:     true,
		endPattern: cievPattern,
		timeout:    m.cfg.MaxWait,
	})
	return err
}

func (m *Modem) disableSignalMonitoring(ctx context.Context) error {
	_, err := m.sendCommand(ctx, commandDescriptor{
		name:       "AT+CIER=0,0,0",
		payload:    []byte("AT+CIER=0,0,0"),
		isText:     true,
		endPattern: okPattern,
		timeout:    m.cfg.SimpleTimeout,
	})
	return err
}

func (m *Modem) initiateSession(ctx context.Context) (*sbdixResult, error) {
	res, err := m.sendCommand(ctx, commandDescriptor{
		name:        "AT+SBDIXA",
		payload:     []byte("AT+SBDIXA"),
		isText:      true,
		endPattern:  okPattern,
		keepPattern: sbdixLinePattern,
		timeout:     m.cfg.DefaultTimeout,
	})
	if err != nil {
		return nil, err
	}
	match := sbdixValuesPattern.FindStringSubmatch(string(res.body))
	if match == nil {
		return nil, &ParseError{Field: "+SBDIX", Value: string(res.body)}
	}
	vals := make([]int, 6)
	for i := 0; i < 6; i++ {
		vals[i], _ = strconv.Atoi(match[i+1])
	}
	return &sbdixResult{
		status: vals[0], momsn: vals[1], mtstatus: vals[2],
		mtmsn: vals[3], mtlen: vals[4], mtqueued: vals[5],
	}, nil
}

// readMT performs the binary MT read of §4.5.1: enter binary mode with a
// 1000ms flush timer, issue AT+SBDRB, and decode the resulting blob.
func (m *Modem) readMT(ctx context.Context) ([]byte, error) {
	res, err := m.sendCommand(ctx, commandDescriptor{
		name:    "AT+SBDRB",
		payload: []byte("AT+SBDRB"),
		isText:  true,
		binary:  true,
		timeout: binaryFlushWindow,
	})
	if err != nil {
		return nil, err
	}
	return decodeMTFrame(res.body)
}

func decodeMTFrame(blob []byte) ([]byte, error) {
	if len(blob) < 4 {
		return nil, &ParseError{Field: "SBDRB frame", Value: fmt.Sprintf("%d bytes", len(blob))}
	}
	length := int(blob[0])<<8 | int(blob[1])
	if 2+length+2 > len(blob) {
		return nil, &ParseError{Field: "SBDRB frame", Value: fmt.Sprintf("declared length %d exceeds %d byte frame", length, len(blob))}
	}
	payload := blob[2 : 2+length]
	want := sbdChecksum(payload)
	gotHi, gotLo := blob[2+length], blob[2+length+1]
	if gotHi != byte(want>>8) || gotLo != byte(want) {
		return nil, &ParseError{Field: "SBDRB checksum", Value: fmt.Sprintf("got %02x%02x want %04x", gotHi, gotLo, want)}
	}
	return payload, nil
}

// mailboxAttempt runs one full SBDIX round per §4.5: write, wait for
// network, disable signal monitoring, initiate session, disposition the
// result, and optionally drain a queued MT message.
func (m *Modem) mailboxAttempt(ctx context.Context, write func(context.Context) error) (int, error) {
	if err := write(ctx); err != nil {
		return 0, err
	}
	m.session.mu.Lock()
	m.session.messagePending = 1
	m.session.mu.Unlock()
	if err := m.waitForNetwork(ctx); err != nil {
		return 0, err
	}
	if err := m.disableSignalMonitoring(ctx); err != nil {
		return 0, err
	}
	result, err := m.initiateSession(ctx)
	if err != nil {
		return 0, err
	}

	if result.status > 4 {
		kind := UnknownSBDFailure
		switch result.status {
		case 18:
			kind = RadioFailure
		case 32:
			kind = NetworkFailure
		}
		m.clearMOBuffers()
		return 0, &SBDIXError{Status: result.status, Kind: kind}
	}
	m.clearMOBuffers()

	switch result.mtstatus {
	case 0:
		// No MT message waiting.
	case 1:
		payload, err := m.readMT(ctx)
		if err != nil {
			m.logger.Warnf("sbd: failed to read queued MT message: %v", err)
			break
		}
		m.setPending(result.mtqueued)
		m.bus.emit(EventNewMessage, &NewMessagePayload{Payload: payload, Pending: result.mtqueued})
	default:
		m.logger.Infof("sbd: unexpected mt status %d, treating as no message", result.mtstatus)
	}

	return result.momsn, nil
}

func (m *Modem) clearMOBuffers() {
	m.session.mu.Lock()
	m.session.messagePending = 0
	m.session.mu.Unlock()
}

func (m *Modem) setPending(n int) {
	m.session.mu.Lock()
	m.session.pending = n
	m.session.mu.Unlock()
}

func (m *Modem) getPending() int {
	m.session.mu.Lock()
	defer m.session.mu.Unlock()
	return m.session.pending
}

// Pending returns the last known count of MT messages queued at the
// gateway, as reported by the most recent SBDIX result (§3).
func (m *Modem) Pending() int { return m.getPending() }

// Attempt returns the current MO retry counter (c_attempt, §3).
func (m *Modem) Attempt() int {
	m.session.mu.Lock()
	defer m.session.mu.Unlock()
	return m.session.attempt
}

// mailboxSend implements the retry/back-off policy of §4.5.2: attempts are
// spaced by a fixed 20s delay (backoff.NewConstantBackOff), capped at
// Config.MaxAttempts, using the same retry-with-back-off dependency the
// example pack's IIOD client reconnect logic is built on. A successful
// attempt that leaves MT messages queued schedules one follow-up
// MailboxCheck after 1s to drain them.
func (m *Modem) mailboxSend(ctx context.Context, write func(context.Context) error) (int, error) {
	m.mailboxMu.Lock()
	defer m.mailboxMu.Unlock()

	attempts := m.cfg.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var momsn int
	var lastErr error
	attempt := 0

	operation := func() error {
		attempt++
		m.session.mu.Lock()
		m.session.attempt = attempt
		m.session.mu.Unlock()

		n, err := m.mailboxAttempt(ctx, write)
		if err != nil {
			lastErr = err
			return err
		}
		momsn = n
		return nil
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(mailboxRetryDelay), uint64(attempts-1)),
		ctx,
	)
	if err := backoff.Retry(operation, policy); err != nil {
		if ctx.Err() != nil {
			return 0, ctx.Err()
		}
		return 0, &MaxAttemptsError{Attempts: attempt, Last: lastErr}
	}

	if pending := m.getPending(); pending > 0 {
		time.AfterFunc(mailboxDrainDelay, func() {
			if _, err := m.MailboxCheck(context.Background()); err != nil {
				m.logger.Warnf("sbd: follow-up mailbox check failed: %v", err)
			}
		})
	}
	return momsn, nil
}
