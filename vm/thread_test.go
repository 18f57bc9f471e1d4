package vm

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestThreadStatusString(t *testing.T) {
	assert.Equal(t, "suspended", ThreadSuspended.String())
	assert.Equal(t, "running", ThreadRunning.String())
	assert.Equal(t, "normal", ThreadNormal.String())
	assert.Equal(t, "dead", ThreadDead.String())
	assert.Equal(t, "unknown", ThreadStatus(99).String())
}

func TestNewThreadStartsSuspendedWithEmptyStack(t *testing.T) {
	th := NewThread()
	assert.Equal(t, ThreadSuspended, th.Status)
	assert.NotNil(t, th.Stack)
	assert.Equal(t, 0, th.Stack.Top())
}

func TestThreadFrameStackPushPopAndLevel(t *testing.T) {
	th := NewThread()
	f1 := NewFrame(nil, 0)
	f2 := NewFrame(nil, 0)
	th.PushFrame(f1)
	th.PushFrame(f2)

	assert.Same(t, f2, th.FrameAt(0))
	assert.Same(t, f1, th.FrameAt(1))
	assert.Nil(t, th.FrameAt(2))

	popped := th.PopFrame()
	assert.Same(t, f2, popped)
	assert.Same(t, f1, th.FrameAt(0))

	th.PopFrame()
	assert.Nil(t, th.PopFrame())
}
