package sbd

// binaryBufferCapacity is the fixed capacity of the binary buffer (§4.2);
// bytes beyond it are truncated rather than crashing the framer.
const binaryBufferCapacity = 2048

type frameMode int

const (
	modeText frameMode = iota
	modeBinary
)

// lineFramer splits inbound bytes into LF-delimited text lines, or
// accumulates a fixed-size binary blob while in binary mode (§4.2). It owns
// no timers: entering binary mode and deciding when to flush is the loop's
// job (§4.5.1) -- the framer only knows how to shovel bytes once told which
// mode it is in, keeping it a small, independently testable unit the way
// the teacher keeps its Fifo buffer separate from the SDO state machine
// that drives it.
type lineFramer struct {
	mode      frameMode
	textBuf   []byte
	binBuf    []byte
	binOffset int
}

func newLineFramer() *lineFramer {
	return &lineFramer{
		mode:   modeText,
		binBuf: make([]byte, binaryBufferCapacity),
	}
}

// enterBinaryMode switches to binary accumulation starting from an empty
// buffer. Any partial text fragment is dropped: a binary read (SBDRB) is
// only ever issued right after a command's own terminator line, never
// mid-line.
func (f *lineFramer) enterBinaryMode() {
	f.mode = modeBinary
	f.binOffset = 0
	f.textBuf = f.textBuf[:0]
}

func (f *lineFramer) inBinaryMode() bool { return f.mode == modeBinary }

// flushBinary returns the bytes accumulated so far and resets to text mode,
// implementing the flush-timer-driven transition of §4.2.
func (f *lineFramer) flushBinary() []byte {
	blob := make([]byte, f.binOffset)
	copy(blob, f.binBuf[:f.binOffset])
	f.mode = modeText
	f.binOffset = 0
	return blob
}

// feed appends data and returns any text lines completed along the way (the
// LF delimiter is consumed, CR is retained per §4.2). While in binary mode,
// bytes are copied into the fixed buffer and no lines are produced.
func (f *lineFramer) feed(data []byte) []string {
	var lines []string
	for _, b := range data {
		if f.mode == modeBinary {
			if f.binOffset < len(f.binBuf) {
				f.binBuf[f.binOffset] = b
				f.binOffset++
			}
			continue
		}
		if b == '\n' {
			lines = append(lines, string(f.textBuf))
			f.textBuf = f.textBuf[:0]
			continue
		}
		f.textBuf = append(f.textBuf, b)
	}
	return lines
}
