package embedding

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"

	"github.com/x448/float16"
)

// maxSafetensorsHeader bounds the JSON header we are willing to parse.
const maxSafetensorsHeader = 100 << 20

type tensorInfo struct {
	DType       string `json:"dtype"`
	Shape       []int  `json:"shape"`
	DataOffsets [2]int `json:"data_offsets"`
}

// Matrix is a dense row-major float32 matrix.
type Matrix struct {
	Rows int
	Cols int
	Data []float32
}

// Row returns row i as a slice into the backing data.
func (m *Matrix) Row(i int) []float32 {
	return m.Data[i*m.Cols : (i+1)*m.Cols]
}

// ReadSafetensor decodes the first tensor found under one of names from a
// safetensors buffer. The tensor must be 2-D with dtype F32, F16 or BF16.
func ReadSafetensor(buf []byte, names ...string) (*Matrix, error) {
	if len(buf) < 8 {
		return nil, fmt.Errorf("safetensors: buffer too small")
	}
	headerLen := binary.LittleEndian.Uint64(buf[:8])
	if headerLen > maxSafetensorsHeader || uint64(len(buf)-8) < headerLen {
		return nil, fmt.Errorf("safetensors: invalid header length %d", headerLen)
	}
	data := buf[8+headerLen:]

	var header map[string]json.RawMessage
	if err := json.Unmarshal(buf[8:8+headerLen], &header); err != nil {
		return nil, fmt.Errorf("safetensors: parse header: %w", err)
	}

	var (
		info  tensorInfo
		found bool
	)
	for _, name := range names {
		raw, ok := header[name]
		if !ok {
			continue
		}
		if err := json.Unmarshal(raw, &info); err != nil {
			return nil, fmt.Errorf("safetensors: tensor %q: %w", name, err)
		}
		found = true
		break
	}
	if !found {
		return nil, fmt.Errorf("safetensors: no tensor named %v", names)
	}
	if len(info.Shape) != 2 {
		return nil, fmt.Errorf("safetensors: expected 2D tensor, got %dD", len(info.Shape))
	}

	start, end := info.DataOffsets[0], info.DataOffsets[1]
	if start < 0 || end < start || end > len(data) {
		return nil, fmt.Errorf("safetensors: data offsets [%d, %d] out of range", start, end)
	}
	raw := data[start:end]
	rows, cols := info.Shape[0], info.Shape[1]

	values, err := decodeFloats(info.DType, raw)
	if err != nil {
		return nil, err
	}
	if len(values) != rows*cols {
		return nil, fmt.Errorf("safetensors: data length mismatch: %d vs %dx%d", len(values), rows, cols)
	}
	return &Matrix{Rows: rows, Cols: cols, Data: values}, nil
}

func decodeFloats(dtype string, raw []byte) ([]float32, error) {
	switch dtype {
	case "F32":
		if len(raw)%4 != 0 {
			return nil, fmt.Errorf("safetensors: F32 data not a multiple of 4 bytes")
		}
		out := make([]float32, len(raw)/4)
		for i := range out {
			out[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[i*4:]))
		}
		return out, nil
	case "F16":
		if len(raw)%2 != 0 {
			return nil, fmt.Errorf("safetensors: F16 data not a multiple of 2 bytes")
		}
		out := make([]float32, len(raw)/2)
		for i := range out {
			out[i] = float16.Frombits(binary.LittleEndian.Uint16(raw[i*2:])).Float32()
		}
		return out, nil
	case "BF16":
		if len(raw)%2 != 0 {
			return nil, fmt.Errorf("safetensors: BF16 data not a multiple of 2 bytes")
		}
		out := make([]float32, len(raw)/2)
		for i := range out {
			// bfloat16 is the upper half of a float32
			out[i] = math.Float32frombits(uint32(binary.LittleEndian.Uint16(raw[i*2:])) << 16)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("safetensors: unsupported dtype %q", dtype)
	}
}
