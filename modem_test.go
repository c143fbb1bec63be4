package sbd

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scottp/node-iridium-sbd/internal/fakemodem"
)

func scriptWithInit() *fakemodem.Script {
	return fakemodem.NewScript().
		On("ATE0", "OK").
		On("AT+SBDD2", "OK").
		On("AT+SBDAREG=1", "OK").
		On("AT+SBDMTA=1", "OK")
}

func openTestModem(t *testing.T, script *fakemodem.Script) (*Modem, *fakemodem.Modem) {
	t.Helper()
	fm := fakemodem.New(script)
	cfg := DefaultConfig()
	cfg.SimpleTimeout = 2 * time.Second
	cfg.DefaultTimeout = 3 * time.Second

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	m, err := OpenWithContext(ctx, cfg, fm.Transport())
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = m.Close()
		_ = fm.Close()
	})
	return m, fm
}

func TestOpenRunsInitSequence(t *testing.T) {
	fm := fakemodem.New(scriptWithInit())
	cfg := DefaultConfig()
	cfg.SimpleTimeout = 2 * time.Second

	m, err := Open(cfg, fm.Transport())
	require.NoError(t, err)
	defer m.Close()
	defer fm.Close()
}

func TestOpenFailsWhenInitStepErrors(t *testing.T) {
	script := fakemodem.NewScript().
		On("ATE0", "OK").
		On("AT+SBDD2", "ERROR")
	fm := fakemodem.New(script)
	cfg := DefaultConfig()
	cfg.SimpleTimeout = 500 * time.Millisecond

	_, err := Open(cfg, fm.Transport())
	require.Error(t, err)
	fm.Close()
}

func TestSendMessageTextNoMTPending(t *testing.T) {
	script := scriptWithInit().
		On("AT+SBDWT=hello", "OK").
		On("AT+CIER=1,1,0", "+CIEV:0,5").
		On("AT+CIER=0,0,0", "OK").
		On("AT+SBDIXA", "+SBDIX: 0, 1, 0, -1, 0, 0", "OK")
	m, _ := openTestModem(t, script)

	momsn, err := m.SendMessage(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, 1, momsn)
	assert.Equal(t, 0, m.Pending())
}

func TestSendBinaryMessageWithQueuedMT(t *testing.T) {
	mtPayload := []byte("incoming")
	checksum := sbdChecksum(mtPayload)
	frame := append([]byte{0x00, byte(len(mtPayload))}, mtPayload...)
	frame = append(frame, byte(checksum>>8), byte(checksum))

	script := scriptWithInit().
		On("AT+SBDWB=5", "READY").
		On("AT+SBDWB=5", "OK").
		On("AT+CIER=1,1,0", "+CIEV:0,5").
		On("AT+CIER=0,0,0", "OK").
		On("AT+SBDIXA", "+SBDIX: 0, 7, 1, 3, 8, 1", "OK").
		OnBinary("AT+SBDRB", frame)
	m, _ := openTestModem(t, script)

	var received []byte
	done := make(chan struct{})
	m.On(EventNewMessage, func(payload any) {
		if p, ok := payload.(*NewMessagePayload); ok {
			received = p.Payload
		}
		close(done)
	})

	momsn, err := m.SendBinaryMessage(context.Background(), []byte{1, 2, 3, 4, 5})
	require.NoError(t, err)
	assert.Equal(t, 7, momsn)

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for EventNewMessage")
	}
	assert.Equal(t, mtPayload, received)
	assert.Equal(t, 1, m.Pending())
}

func TestRingAlertPublishesEvent(t *testing.T) {
	m, fm := openTestModem(t, scriptWithInit())

	fired := make(chan struct{})
	m.On(EventRingAlert, func(any) { close(fired) })
	fm.Push("SBDRING")

	select {
	case <-fired:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for ring alert")
	}
}

func TestMailboxSBDIXRadioFailure(t *testing.T) {
	script := scriptWithInit().
		On("AT+SBDD0", "OK").
		On("AT+CIER=1,1,0", "+CIEV:0,5").
		On("AT+CIER=0,0,0", "OK").
		On("AT+SBDIXA", "+SBDIX: 18, 0, 0, -1, 0, 0", "OK")
	m, _ := openTestModem(t, script)
	m.cfg.MaxAttempts = 1

	_, err := m.MailboxCheck(context.Background())
	require.Error(t, err)

	var maxErr *MaxAttemptsError
	require.ErrorAs(t, err, &maxErr)
	var sbdixErr *SBDIXError
	require.ErrorAs(t, maxErr.Last, &sbdixErr)
	assert.Equal(t, RadioFailure, sbdixErr.Kind)
	assert.Equal(t, 18, sbdixErr.Status)
}

func TestMailboxGivesUpAfterMaxAttempts(t *testing.T) {
	script := scriptWithInit().
		On("AT+SBDD0", "OK").
		On("AT+CIER=1,1,0", "+CIEV:0,5").
		On("AT+CIER=0,0,0", "OK").
		On("AT+SBDIXA", "+SBDIX: 32, 0, 0, -1, 0, 0", "OK")
	m, _ := openTestModem(t, script)
	m.cfg.MaxAttempts = 1

	_, err := m.MailboxCheck(context.Background())
	require.Error(t, err)

	var maxErr *MaxAttemptsError
	require.ErrorAs(t, err, &maxErr)
	assert.Equal(t, 1, maxErr.Attempts)
	assert.Equal(t, 1, m.Attempt())
}
