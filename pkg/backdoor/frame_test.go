package backdoor

import (
	"testing"
	"unsafe"

	"github.com/stretchr/testify/assert"
	"pgregory.net/rapid"
)

func TestRegisterWordRoundTrip(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		var r Register
		r.SetQuad(rapid.Uint64().Draw(t, "quad"))
		high := r.WordHigh()

		w := rapid.Uint32().Draw(t, "word")
		r.SetWord(w)

		assert.Equal(t, w, r.Word())
		assert.Equal(t, high, r.WordHigh(), "SetWord must not disturb the high half")
	})
}

func TestRegisterWordHighRoundTrip(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		var r Register
		r.SetQuad(rapid.Uint64().Draw(t, "quad"))
		low := r.Word()

		w := rapid.Uint32().Draw(t, "wordHigh")
		r.SetWordHigh(w)

		assert.Equal(t, w, r.WordHigh())
		assert.Equal(t, low, r.Word(), "SetWordHigh must not disturb the low half")
	})
}

func TestRegisterLowHighRoundTrip(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		var r Register
		r.SetQuad(rapid.Uint64().Draw(t, "quad"))
		hi := r.WordHigh()

		lo := rapid.Uint16().Draw(t, "low")
		hiOfWord := rapid.Uint16().Draw(t, "high")
		r.SetLow(lo)
		r.SetHigh(hiOfWord)

		assert.Equal(t, lo, r.Low())
		assert.Equal(t, hiOfWord, r.High())
		assert.Equal(t, hi, r.WordHigh(), "SetLow/SetHigh must not disturb the upper 32 bits")
	})
}

func TestFrameSize(t *testing.T) {
	// The assembly stubs index Frame by fixed byte offset (0x00..0x30); if
	// this ever stops holding, they silently read the wrong register.
	var f Frame
	assert.Equal(t, 56, int(unsafe.Sizeof(f)))
}
