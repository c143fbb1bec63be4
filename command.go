package sbd

import (
	"regexp"
	"time"
)

// commandDescriptor is an explicit, self-contained command request (§3):
// everything the engine needs to run one AT dialog lives in a single value
// instead of the file-global bindings the reference implementation used
// (§9's "shared mutable state" re-architecture note).
type commandDescriptor struct {
	// name is the human-readable command used in log lines and errors; it
	// is not re-parsed, just carried for diagnostics.
	name string

	payload []byte
	// isText marks a text payload that should be CR-suffixed on the wire;
	// false means the bytes are written verbatim (SBDWB's binary frame).
	isText bool

	// endPattern terminates the command successfully when it matches an
	// inbound line. Absent (nil) only makes sense together with binary.
	endPattern *regexp.Regexp
	// keepPattern, when set, is the only line shape retained in the body;
	// unset means every non-terminator, non-error line is kept.
	keepPattern *regexp.Regexp

	// binary puts the framer into binary-accumulation mode for the
	// duration of this command; termination is by timer, not endPattern
	// (§4.2, §4.5.1).
	binary bool

	// timeout bounds the command. Zero or negative disables the timer
	// (the §3 timeoutForever sentinel).
	timeout time.Duration
}

// commandResult is what a completed command reports: either a collected
// body or one of the error kinds in §7.
type commandResult struct {
	body []byte
	err  error
}

// sendRequest carries a commandDescriptor from an API-calling goroutine
// into the driver loop, with a buffered channel for the loop to report
// completion back on.
type sendRequest struct {
	desc commandDescriptor
	resp chan commandResult
}

// inflightSlot is the single-cell mailbox described in §3: either empty
// (active == false) or holding exactly one command's completion context.
// It is mutated exclusively by the loop goroutine.
type inflightSlot struct {
	active      bool
	name        string
	endPattern  *regexp.Regexp
	keepPattern *regexp.Regexp
	body        []byte
	done        chan commandResult
	timer       *time.Timer
}
