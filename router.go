package sbd

import "regexp"

// unsolicitedEntry pairs a pattern with the handler that reacts to it. The
// table is ordered and scanned top to bottom, matching §3's "ordered list
// of (pattern, handler_name)" -- and, per §9, iterated with a scoped index
// rather than the reference's leaked loop variable.
type unsolicitedEntry struct {
	pattern *regexp.Regexp
	handle  func(m *Modem, line string)
}

var (
	sbdringPattern = regexp.MustCompile(`^SBDRING`)
	aregPattern    = regexp.MustCompile(`^\+AREG:\s*(\d+)\s*,\s*(-?\d+)`)
)

// unsolicitedTable is the minimum table required by §3: SBDRING raises
// ringalert, +AREG is logged only.
var unsolicitedTable = []unsolicitedEntry{
	{pattern: sbdringPattern, handle: func(m *Modem, _ string) {
		m.bus.emit(EventRingAlert, nil)
	}},
	{pattern: aregPattern, handle: func(m *Modem, line string) {
		match := aregPattern.FindStringSubmatch(line)
		if match == nil {
			m.logger.Warnf("sbd: malformed +AREG line, ignoring: %q", line)
			return
		}
		m.logger.Infof("sbd: registration event %s (err %s)", match[1], match[2])
	}},
}

// errorTable is the minimum required by §3: any line containing ERROR
// terminates the inflight command.
var errorTable = []*regexp.Regexp{
	regexp.MustCompile(`ERROR`),
}

// dispatchLine implements the Response Router of §4.3 for one text line.
// Order matters: unsolicited lines are recognized and consumed before any
// inflight-command bookkeeping, so they never reach a command's body or its
// terminator check. A line matching both an unsolicited pattern and the
// inflight command's end pattern would be consumed as unsolicited; none of
// the entries in unsolicitedTable overlaps a terminator used in this
// package (§9).
func (m *Modem) dispatchLine(line string) {
	m.logDebugf("<- %s", line)

	for _, entry := range unsolicitedTable {
		if entry.pattern.MatchString(line) {
			entry.handle(m, line)
			return
		}
	}

	if !m.slot.active {
		m.logger.Warnf("sbd: discarding line with no command in flight: %q", line)
		return
	}

	for _, pattern := range errorTable {
		if pattern.MatchString(line) {
			m.completeSlot(commandResult{err: &ModemError{Command: m.slot.name, Line: line}})
			return
		}
	}

	if m.slot.keepPattern == nil || m.slot.keepPattern.MatchString(line) {
		m.slot.body = append(m.slot.body, []byte(line)...)
		m.slot.body = append(m.slot.body, '\n')
	}

	if m.slot.endPattern != nil && m.slot.endPattern.MatchString(line) {
		m.completeSlot(commandResult{body: m.slot.body})
	}
}
