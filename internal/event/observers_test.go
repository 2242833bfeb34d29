package event

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestObservers_EmitInOrder(t *testing.T) {
	var o Observers[int]
	var got []string

	o.Subscribe(func(v int) { got = append(got, "a") })
	o.Subscribe(func(v int) { got = append(got, "b") })
	o.Emit(1)

	assert.Equal(t, []string{"a", "b"}, got)
	assert.Equal(t, 2, o.Len())
}

func TestObservers_Unsubscribe(t *testing.T) {
	var o Observers[string]
	count := 0

	unsub := o.Subscribe(func(string) { count++ })
	o.Emit("x")
	unsub()
	unsub()
	o.Emit("y")

	assert.Equal(t, 1, count)
	assert.Zero(t, o.Len())
}

func TestObservers_UnsubscribeDuringEmit(t *testing.T) {
	var o Observers[int]
	calls := 0
	var unsub func()
	unsub = o.Subscribe(func(int) {
		calls++
		unsub()
	})

	o.Emit(1)
	o.Emit(2)
	assert.Equal(t, 1, calls)
}
