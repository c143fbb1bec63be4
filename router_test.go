package sbd

import (
	"regexp"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
)

func newTestModem() *Modem {
	logger := logrus.New()
	logger.SetOutput(new(discardWriter))
	return &Modem{
		cfg:    DefaultConfig(),
		logger: logger,
		bus:    newEventBus(),
		framer: newLineFramer(),
	}
}

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }

func TestDispatchLineRingAlertEmitsEvent(t *testing.T) {
	m := newTestModem()
	fired := false
	m.On(EventRingAlert, func(any) { fired = true })

	m.dispatchLine("SBDRING")
	assert.True(t, fired)
}

func TestDispatchLineDiscardsWithNoCommandInFlight(t *testing.T) {
	m := newTestModem()
	assert.NotPanics(t, func() { m.dispatchLine("some stray line") })
}

func TestDispatchLineCompletesOnEndPattern(t *testing.T) {
	m := newTestModem()
	done := make(chan commandResult, 1)
	m.slot = inflightSlot{active: true, name: "ATE0", endPattern: okPattern, done: done}

	m.dispatchLine("OK")
	res := <-done
	assert.NoError(t, res.err)
}

func TestDispatchLineErrorTerminatesCommand(t *testing.T) {
	m := newTestModem()
	done := make(chan commandResult, 1)
	m.slot = inflightSlot{active: true, name: "AT+SBDIXA", endPattern: okPattern, done: done}

	m.dispatchLine("ERROR")
	res := <-done
	var modemErr *ModemError
	assert.ErrorAs(t, res.err, &modemErr)
}

func TestDispatchLineKeepPatternFiltersBody(t *testing.T) {
	m := newTestModem()
	done := make(chan commandResult, 1)
	m.slot = inflightSlot{
		active:      true,
		name:        "AT+SBDIXA",
		endPattern:  okPattern,
		keepPattern: regexp.MustCompile(`\+SBDIX`),
		done:        done,
	}

	m.dispatchLine("some other unrelated line")
	m.dispatchLine("+SBDIX: 0, 1, 0, -1, 0, 0")
	m.dispatchLine("OK")

	res := <-done
	assert.Contains(t, string(res.body), "+SBDIX")
	assert.NotContains(t, string(res.body), "unrelated")
}
