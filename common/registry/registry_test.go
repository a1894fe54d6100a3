package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type greeter interface {
	Greet() string
}

type englishGreeter struct{}

func (englishGreeter) Greet() string { return "hello" }

func TestSetAndGet(t *testing.T) {
	r := New()
	key := NewKey[greeter]("GREETER")

	Set[greeter](r, key, englishGreeter{})

	got, err := Get(r, key)
	require.NoError(t, err)
	assert.Equal(t, "hello", got.Greet())
	assert.True(t, r.Has("GREETER"))
}

func TestMissingService(t *testing.T) {
	r := New()
	key := NewKey[greeter]("GREETER")

	_, err := Get(r, key)
	require.Error(t, err)
	var missing *MissingServiceError
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, "GREETER", missing.Name)
}

func TestWrongTypeDetected(t *testing.T) {
	r := New()
	Set(r, NewKey[int]("SLOT"), 42)

	_, err := Get(r, NewKey[string]("SLOT"))
	require.Error(t, err)
	var wrong *WrongTypeError
	assert.ErrorAs(t, err, &wrong)
}

func TestVerifyNamesEveryGap(t *testing.T) {
	r := New()
	Set(r, NewKey[int]("A"), 1)

	require.NoError(t, r.Verify("A"))
	err := r.Verify("A", "B", "C")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "B")
	assert.Contains(t, err.Error(), "C")
}

func TestNamesSorted(t *testing.T) {
	r := New()
	Set(r, NewKey[int]("B"), 1)
	Set(r, NewKey[int]("A"), 2)
	assert.Equal(t, []string{"A", "B"}, r.Names())
}
