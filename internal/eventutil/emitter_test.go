package eventutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEmitterDispatchesToAllListeners(t *testing.T) {
	e := NewEmitter[int]()
	var a, b int
	e.On(func(v int) { a = v })
	e.On(func(v int) { b = v })

	e.Emit(7)
	assert.Equal(t, 7, a)
	assert.Equal(t, 7, b)
}

func TestEmitterUnregisterStopsDelivery(t *testing.T) {
	e := NewEmitter[string]()
	var got string
	unregister := e.On(func(v string) { got = v })
	unregister()

	e.Emit("hello")
	assert.Equal(t, "", got)
}

func TestEmitterListenerCanUnregisterAnotherDuringDispatch(t *testing.T) {
	e := NewEmitter[int]()
	var unregisterB func()
	var bCalled bool
	e.On(func(int) { unregisterB() })
	unregisterB = e.On(func(int) { bCalled = true })

	e.Emit(1)
	assert.True(t, bCalled, "listener B should still fire on the snapshot from the emit that unregistered it")

	bCalled = false
	e.Emit(2)
	assert.False(t, bCalled, "listener B should not fire on subsequent emits")
}
