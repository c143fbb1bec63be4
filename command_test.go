package sbd

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestInflightSlotZeroValueIsInactive(t *testing.T) {
	var slot inflightSlot
	assert.False(t, slot.active)
	assert.Nil(t, slot.timer)
}

func TestCommandDescriptorTimeoutZeroDisablesTimer(t *testing.T) {
	desc := commandDescriptor{name: "AT+SBDIXA"}
	assert.True(t, timeoutForever(desc.timeout))

	desc.timeout = 5 * time.Second
	assert.False(t, timeoutForever(desc.timeout))
}
