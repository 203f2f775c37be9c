package bytecodec

import (
	"math"
	"testing"

	"binsim-go/internal/apperr"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPackUnpackDoublesRoundTrip(t *testing.T) {
	cases := [][]float64{
		{},
		{0},
		{1.5, -2.25, 0, math.MaxFloat64, math.SmallestNonzeroFloat64},
		{math.Inf(1), math.Inf(-1)},
	}
	for _, values := range cases {
		packed := PackDoubles(values)
		require.Equal(t, len(values)*8, len(packed))

		got, err := UnpackDoubles(packed)
		require.NoError(t, err)
		assert.Equal(t, values, got)
	}
}

func TestPackDoublesLittleEndian(t *testing.T) {
	// 1.0 的 IEEE-754 位型为 0x3FF0000000000000，小端序时高位字节在末尾
	packed := PackDoubles([]float64{1.0})
	assert.Equal(t, []byte{0, 0, 0, 0, 0, 0, 0xF0, 0x3F}, packed)
}

func TestUnpackDoublesRejectsBadLength(t *testing.T) {
	_, err := UnpackDoubles(make([]byte, 7))
	assert.ErrorIs(t, err, apperr.ErrInvalidEncoding)
}

func TestPackUnpackInt32sRoundTrip(t *testing.T) {
	values := []int32{0, 1, -1, math.MaxInt32, math.MinInt32, 123456789}
	packed := PackInt32s(values)
	require.Equal(t, len(values)*4, len(packed))

	got, err := UnpackInt32s(packed)
	require.NoError(t, err)
	assert.Equal(t, values, got)
}

func TestUnpackInt32sRejectsBadLength(t *testing.T) {
	_, err := UnpackInt32s(make([]byte, 5))
	assert.ErrorIs(t, err, apperr.ErrInvalidEncoding)
}

func TestSha256Hex(t *testing.T) {
	got := Sha256Hex([]byte("abc"))
	assert.Equal(t, "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad", got)
	assert.Len(t, got, 64)

	empty := Sha256Hex(nil)
	assert.Equal(t, "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855", empty)
}
