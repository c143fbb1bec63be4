package sbd

import (
	"context"
	"strings"
	"time"
)

// loop is the single logical execution context required by §5: one
// goroutine owns the framer, the inflight slot, and the binary-mode flush
// timer, and every state transition happens inside its select. Inbound
// bytes, command submissions, and timer expirations are all funneled
// through channels instead of the reference's manual microsecond-accumulator
// poll cycle (§9's re-architecture note).
func (m *Modem) loop() {
	defer close(m.closedCh)
	for {
		var timeoutC <-chan time.Time
		if m.slot.active && m.slot.timer != nil {
			timeoutC = m.slot.timer.C
		}
		var flushC <-chan time.Time
		if m.binaryFlushTimer != nil {
			flushC = m.binaryFlushTimer.C
		}

		select {
		case req := <-m.sendCh:
			m.handleSend(req)
		case data, ok := <-m.rxCh:
			if !ok {
				return
			}
			m.handleRx(data)
		case <-timeoutC:
			m.handleTimeout()
		case <-flushC:
			m.handleFlush()
		case <-m.closeCh:
			m.drainInflight()
			return
		}
	}
}

// sendCommand is the bridge between an API-calling goroutine and the loop.
// cmdMu serializes all callers so the "at most one inflight" invariant of
// §3/§5 is never violated by concurrent application calls; handleSend still
// asserts it, since any violation past cmdMu is a genuine internal bug
// rather than a recoverable race.
func (m *Modem) sendCommand(ctx context.Context, desc commandDescriptor) (*commandResult, error) {
	m.cmdMu.Lock()
	defer m.cmdMu.Unlock()

	resp := make(chan commandResult, 1)
	select {
	case m.sendCh <- sendRequest{desc: desc, resp: resp}:
	case <-m.closedCh:
		return nil, ErrNotOpen
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	select {
	case res := <-resp:
		if res.err != nil {
			return nil, res.err
		}
		return &res, nil
	case <-m.closedCh:
		return nil, ErrNotOpen
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (m *Modem) handleSend(req sendRequest) {
	if m.slot.active {
		panic("sbd: send called while a command is already in flight")
	}
	desc := req.desc
	m.slot = inflightSlot{
		active:      true,
		name:        desc.name,
		endPattern:  desc.endPattern,
		keepPattern: desc.keepPattern,
		done:        req.resp,
	}
	if desc.binary {
		// Binary reads are terminated by the flush timer alone (§4.2,
		// §4.5.1); an end-pattern based slot timer would race it for no
		// benefit.
		m.framer.enterBinaryMode()
		m.binaryFlushTimer = time.NewTimer(binaryFlushWindow)
	} else if desc.timeout > 0 {
		m.slot.timer = time.NewTimer(desc.timeout)
	}

	payload := desc.payload
	if desc.isText {
		payload = append(append([]byte(nil), payload...), '\r')
	}
	m.logDebugf("-> %s", strings.TrimRight(desc.name, "\r\n"))
	if _, err := m.tr.Write(payload); err != nil {
		m.completeSlot(commandResult{err: &TransportError{Op: "write", Err: err}})
	}
}

func (m *Modem) handleRx(data []byte) {
	for _, line := range m.framer.feed(data) {
		m.dispatchLine(line)
	}
}

func (m *Modem) handleTimeout() {
	name := m.slot.name
	m.completeSlot(commandResult{err: &TimeoutError{Command: name}})
}

func (m *Modem) handleFlush() {
	m.binaryFlushTimer = nil
	blob := m.framer.flushBinary()
	m.completeSlot(commandResult{body: blob})
}

// completeSlot fires the waiting continuation exactly once and clears the
// slot (§4.4). Safe to call when no command is in flight (a no-op), which
// simplifies callers that race a transport error against a line arriving.
func (m *Modem) completeSlot(res commandResult) {
	if !m.slot.active {
		return
	}
	if m.slot.timer != nil {
		m.slot.timer.Stop()
	}
	done := m.slot.done
	m.slot = inflightSlot{}
	done <- res
}

// drainInflight unblocks any caller still waiting on the slot when Close
// tears down the loop, so sendCommand never hangs past shutdown.
func (m *Modem) drainInflight() {
	if m.slot.timer != nil {
		m.slot.timer.Stop()
	}
	if m.binaryFlushTimer != nil {
		m.binaryFlushTimer.Stop()
	}
	if m.slot.active {
		m.slot.done <- commandResult{err: ErrNotOpen}
		m.slot = inflightSlot{}
	}
}
