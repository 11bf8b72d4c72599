package vector

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCodec_HNSWRoundTrip(t *testing.T) {
	vecs := randomVectors(11, 120, 24)
	h := buildHNSW(t, vecs)
	h.Delete("doc_3")
	h.Delete("doc_77")
	require.NoError(t, h.Insert("doc_10", vecs[11]))

	data, err := h.MarshalBinary()
	require.NoError(t, err)
	decoded, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, IndexTypeHNSW, decoded.Type())
	assert.Equal(t, h.Len(), decoded.Len())
	assert.Equal(t, h.Dimensions(), decoded.Dimensions())

	for i, q := range randomVectors(12, 15, 24) {
		for _, ef := range []int{10, 50, 200} {
			want, err := h.Search(q, 10, ef)
			require.NoError(t, err)
			got, err := decoded.Search(q, 10, ef)
			require.NoError(t, err)
			assert.Equal(t, want, got, "query %d ef %d", i, ef)
		}
	}

	again, err := decoded.MarshalBinary()
	require.NoError(t, err)
	assert.Equal(t, data, again)
}

func TestCodec_FlatRoundTrip(t *testing.T) {
	f, err := NewFlatIndex(4)
	require.NoError(t, err)
	for i, v := range randomVectors(2, 20, 4) {
		require.NoError(t, f.Insert(fmt.Sprintf("n%d", i), v))
	}
	data, err := f.MarshalBinary()
	require.NoError(t, err)
	decoded, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, IndexTypeFlat, decoded.Type())

	q := []float32{0.1, 0.2, -0.3, 0.4}
	want, _ := f.Search(q, 5, 0)
	got, _ := decoded.Search(q, 5, 0)
	assert.Equal(t, want, got)
}

func TestCodec_EmptyIndexRoundTrip(t *testing.T) {
	h, err := NewHNSWIndex(8)
	require.NoError(t, err)
	data, err := h.MarshalBinary()
	require.NoError(t, err)
	decoded, err := Decode(data)
	require.NoError(t, err)
	assert.True(t, decoded.IsEmpty())
	assert.Equal(t, 8, decoded.Dimensions())
}

func TestCodec_RejectsBadInput(t *testing.T) {
	h := buildHNSW(t, randomVectors(9, 10, 8))
	good, err := h.MarshalBinary()
	require.NoError(t, err)

	flipped := append([]byte{}, good...)
	flipped[headerSize+5] ^= 0xff

	wrongVersion := append([]byte{}, good...)
	wrongVersion[len(codecMagic)] = 9

	tests := []struct {
		name string
		data []byte
	}{
		{"nil", nil},
		{"empty", []byte{}},
		{"truncated", good[:len(good)/2]},
		{"header only", good[:headerSize]},
		{"foreign", []byte("this is definitely not an index blob at all")},
		{"checksum mismatch", flipped},
		{"unknown version", wrongVersion},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			idx, err := Decode(tt.data)
			assert.Nil(t, idx)
			assert.True(t, errors.Is(err, ErrDeserialize), "err = %v", err)
		})
	}
}
