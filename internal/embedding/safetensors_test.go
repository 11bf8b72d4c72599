package embedding

import (
	"encoding/binary"
	"encoding/json"
	"math"
	"testing"

	"github.com/x448/float16"
)

func buildSafetensors(t *testing.T, name, dtype string, rows, cols int, raw []byte) []byte {
	t.Helper()
	header := map[string]any{
		"__metadata__": map[string]string{"format": "pt"},
		name: map[string]any{
			"dtype":        dtype,
			"shape":        []int{rows, cols},
			"data_offsets": []int{0, len(raw)},
		},
	}
	h, err := json.Marshal(header)
	if err != nil {
		t.Fatal(err)
	}
	buf := make([]byte, 8, 8+len(h)+len(raw))
	binary.LittleEndian.PutUint64(buf, uint64(len(h)))
	buf = append(buf, h...)
	return append(buf, raw...)
}

func f32Bytes(vals ...float32) []byte {
	out := make([]byte, 4*len(vals))
	for i, v := range vals {
		binary.LittleEndian.PutUint32(out[i*4:], math.Float32bits(v))
	}
	return out
}

func TestReadSafetensor_Dtypes(t *testing.T) {
	vals := []float32{1, -2, 0.5, 0.25, 3, -0.125}

	f16 := make([]byte, 2*len(vals))
	bf16 := make([]byte, 2*len(vals))
	for i, v := range vals {
		binary.LittleEndian.PutUint16(f16[i*2:], float16.Fromfloat32(v).Bits())
		binary.LittleEndian.PutUint16(bf16[i*2:], uint16(math.Float32bits(v)>>16))
	}

	tests := []struct {
		name  string
		dtype string
		raw   []byte
	}{
		{"F32", "F32", f32Bytes(vals...)},
		{"F16", "F16", f16},
		{"BF16", "BF16", bf16},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := buildSafetensors(t, "embeddings", tt.dtype, 3, 2, tt.raw)
			m, err := ReadSafetensor(buf, "embeddings", "0")
			if err != nil {
				t.Fatalf("ReadSafetensor: %v", err)
			}
			if m.Rows != 3 || m.Cols != 2 {
				t.Fatalf("shape = %dx%d", m.Rows, m.Cols)
			}
			for i, want := range vals {
				if m.Data[i] != want {
					t.Errorf("Data[%d] = %f, want %f", i, m.Data[i], want)
				}
			}
			if r := m.Row(1); r[0] != 0.5 || r[1] != 0.25 {
				t.Errorf("Row(1) = %v", r)
			}
		})
	}
}

func TestReadSafetensor_FallbackName(t *testing.T) {
	buf := buildSafetensors(t, "0", "F32", 1, 2, f32Bytes(1, 2))
	if _, err := ReadSafetensor(buf, "embeddings", "0"); err != nil {
		t.Fatalf("expected tensor 0 to be found: %v", err)
	}
}

func TestReadSafetensor_Errors(t *testing.T) {
	good := buildSafetensors(t, "embeddings", "F32", 2, 2, f32Bytes(1, 2, 3, 4))
	tests := []struct {
		name string
		buf  []byte
	}{
		{"empty", nil},
		{"truncated header", good[:12]},
		{"missing tensor", buildSafetensors(t, "other", "F32", 1, 1, f32Bytes(1))},
		{"unsupported dtype", buildSafetensors(t, "embeddings", "I64", 1, 1, make([]byte, 8))},
		{"shape mismatch", buildSafetensors(t, "embeddings", "F32", 3, 3, f32Bytes(1, 2))},
		{"truncated data", good[:len(good)-4]},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ReadSafetensor(tt.buf, "embeddings", "0"); err == nil {
				t.Error("expected error")
			}
		})
	}
}
