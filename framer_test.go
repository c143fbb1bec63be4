package sbd

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLineFramerSplitsOnLF(t *testing.T) {
	f := newLineFramer()
	lines := f.feed([]byte("OK\r\nREADY\r\n"))
	assert.Equal(t, []string{"OK\r", "READY\r"}, lines)
}

func TestLineFramerPartialLineBuffers(t *testing.T) {
	f := newLineFramer()
	assert.Empty(t, f.feed([]byte("AT+CS")))
	lines := f.feed([]byte("Q:3\r\nOK\r\n"))
	assert.Equal(t, []string{"AT+CSQ:3\r", "OK\r"}, lines)
}

func TestLineFramerBinaryAccumulatesAndFlushes(t *testing.T) {
	f := newLineFramer()
	f.enterBinaryMode()
	assert.True(t, f.inBinaryMode())

	lines := f.feed([]byte{0x00, 0x03, 'a', 'b', 'c', 0x01, 0x64})
	assert.Empty(t, lines, "binary mode produces no lines")

	blob := f.flushBinary()
	assert.Equal(t, []byte{0x00, 0x03, 'a', 'b', 'c', 0x01, 0x64}, blob)
	assert.False(t, f.inBinaryMode())
}

func TestLineFramerBinaryOverflowIsTruncated(t *testing.T) {
	f := newLineFramer()
	f.enterBinaryMode()
	f.feed(make([]byte, binaryBufferCapacity+50))
	blob := f.flushBinary()
	assert.Len(t, blob, binaryBufferCapacity)
}
