package runtime

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubHandler struct {
	typ string
}

func (h *stubHandler) Type() string       { return h.typ }
func (h *stubHandler) Run(*Context) error { return nil }

func TestRegistryRegisterAndGet(t *testing.T) {
	r := NewRegistry()
	h := &stubHandler{typ: "thumbnail_generate"}
	require.NoError(t, r.Register(h))

	got, ok := r.Get("thumbnail_generate")
	assert.True(t, ok)
	assert.Same(t, h, got)

	_, ok = r.Get("unknown")
	assert.False(t, ok)
}

func TestRegistryRejectsDuplicates(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(&stubHandler{typ: "audio_analyze"}))
	assert.Error(t, r.Register(&stubHandler{typ: "audio_analyze"}))
}

func TestRegistryRejectsInvalidHandlers(t *testing.T) {
	r := NewRegistry()
	assert.Error(t, r.Register(nil))
	assert.Error(t, r.Register(&stubHandler{typ: ""}))
}

func TestRegistryTypes(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(&stubHandler{typ: "a"}))
	require.NoError(t, r.Register(&stubHandler{typ: "b"}))
	assert.ElementsMatch(t, []string{"a", "b"}, r.Types())
}
