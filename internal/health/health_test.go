package health

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestHandleHealthyAfterReport(t *testing.T) {
	h := NewHandle(50 * time.Millisecond)
	assert.True(t, h.Healthy())

	h.Report()
	assert.True(t, h.Healthy())
}

func TestHandleUnhealthyAfterMaxAgeElapses(t *testing.T) {
	h := NewHandle(10 * time.Millisecond)

	time.Sleep(30 * time.Millisecond)

	assert.False(t, h.Healthy())
}
