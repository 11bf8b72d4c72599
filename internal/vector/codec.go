package vector

import (
	"encoding/binary"
	"fmt"
	"math"
	"math/rand"

	"github.com/cespare/xxhash/v2"
)

// Binary layout: magic | format version (1 byte) | index type (1 byte) | body | xxhash64(body) (8 bytes LE).
const (
	codecMagic   = "KIOKUIDX"
	codecVersion = 1

	typeByteHNSW = 1
	typeByteFlat = 2

	headerSize  = len(codecMagic) + 2
	trailerSize = 8
)

type encoder struct {
	buf []byte
}

func (e *encoder) u8(v uint8)   { e.buf = append(e.buf, v) }
func (e *encoder) u32(v uint32) { e.buf = binary.LittleEndian.AppendUint32(e.buf, v) }
func (e *encoder) i64(v int64)  { e.buf = binary.LittleEndian.AppendUint64(e.buf, uint64(v)) }

func (e *encoder) str(s string) {
	e.u32(uint32(len(s)))
	e.buf = append(e.buf, s...)
}

func (e *encoder) floats(v []float32) {
	for _, f := range v {
		e.u32(math.Float32bits(f))
	}
}

// decoder reads little-endian values; the first failure sticks in err.
type decoder struct {
	buf []byte
	off int
	err error
}

func (d *decoder) need(n int) bool {
	if d.err != nil {
		return false
	}
	if n < 0 || len(d.buf)-d.off < n {
		d.err = fmt.Errorf("%w: truncated at offset %d", ErrDeserialize, d.off)
		return false
	}
	return true
}

func (d *decoder) u8() uint8 {
	if !d.need(1) {
		return 0
	}
	v := d.buf[d.off]
	d.off++
	return v
}

func (d *decoder) u32() uint32 {
	if !d.need(4) {
		return 0
	}
	v := binary.LittleEndian.Uint32(d.buf[d.off:])
	d.off += 4
	return v
}

func (d *decoder) i64() int64 {
	if !d.need(8) {
		return 0
	}
	v := binary.LittleEndian.Uint64(d.buf[d.off:])
	d.off += 8
	return int64(v)
}

func (d *decoder) str() string {
	n := int(d.u32())
	if !d.need(n) {
		return ""
	}
	s := string(d.buf[d.off : d.off+n])
	d.off += n
	return s
}

func (d *decoder) floats(n int) []float32 {
	if !d.need(4 * n) {
		return nil
	}
	out := make([]float32, n)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(d.buf[d.off:]))
		d.off += 4
	}
	return out
}

// count reads a length prefix and rejects values that cannot fit in the remaining bytes.
func (d *decoder) count(minElemSize int) int {
	n := int(d.u32())
	if d.err == nil && n*minElemSize > len(d.buf)-d.off {
		d.err = fmt.Errorf("%w: count %d exceeds remaining data", ErrDeserialize, n)
		return 0
	}
	return n
}

func (d *decoder) fail(format string, args ...any) {
	if d.err == nil {
		d.err = fmt.Errorf("%w: %s", ErrDeserialize, fmt.Sprintf(format, args...))
	}
}

func frame(typeByte uint8, body []byte) []byte {
	out := make([]byte, 0, headerSize+len(body)+trailerSize)
	out = append(out, codecMagic...)
	out = append(out, codecVersion, typeByte)
	out = append(out, body...)
	return binary.LittleEndian.AppendUint64(out, xxhash.Sum64(body))
}

// Checksum returns the xxhash64 of data, used to fingerprint stored blobs.
func Checksum(data []byte) uint64 {
	return xxhash.Sum64(data)
}

// Decode reads an index produced by MarshalBinary of either index type.
func Decode(data []byte) (VectorIndex, error) {
	if len(data) < headerSize+trailerSize {
		return nil, fmt.Errorf("%w: %d bytes is too short", ErrDeserialize, len(data))
	}
	if string(data[:len(codecMagic)]) != codecMagic {
		return nil, fmt.Errorf("%w: bad magic", ErrDeserialize)
	}
	if v := data[len(codecMagic)]; v != codecVersion {
		return nil, fmt.Errorf("%w: unsupported format version %d", ErrDeserialize, v)
	}
	typeByte := data[len(codecMagic)+1]
	body := data[headerSize : len(data)-trailerSize]
	if want := binary.LittleEndian.Uint64(data[len(data)-trailerSize:]); xxhash.Sum64(body) != want {
		return nil, fmt.Errorf("%w: checksum mismatch", ErrDeserialize)
	}

	d := &decoder{buf: body}
	var (
		idx VectorIndex
		err error
	)
	switch typeByte {
	case typeByteHNSW:
		idx, err = decodeHNSW(d)
	case typeByteFlat:
		idx, err = decodeFlat(d)
	default:
		return nil, fmt.Errorf("%w: unknown index type %d", ErrDeserialize, typeByte)
	}
	if err != nil {
		return nil, err
	}
	if d.off != len(body) {
		return nil, fmt.Errorf("%w: %d trailing bytes", ErrDeserialize, len(body)-d.off)
	}
	return idx, nil
}

// MarshalBinary encodes the graph including tombstones.
func (h *HNSWIndex) MarshalBinary() ([]byte, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	e := &encoder{}
	e.u32(uint32(h.dimensions))
	e.i64(h.seed)
	e.u32(uint32(h.maxLevel))
	e.u32(uint32(int32(h.entry)))
	e.u32(uint32(len(h.nodes)))
	for _, n := range h.nodes {
		e.str(n.id)
		e.u32(uint32(n.level))
		if n.deleted {
			e.u8(1)
		} else {
			e.u8(0)
		}
		e.floats(n.vector)
		for _, links := range n.neighbors {
			e.u32(uint32(len(links)))
			for _, l := range links {
				e.u32(uint32(l))
			}
		}
	}
	return frame(typeByteHNSW, e.buf), nil
}

func decodeHNSW(d *decoder) (*HNSWIndex, error) {
	dim := int(d.u32())
	seed := d.i64()
	top := int(d.u32())
	entry := int(int32(d.u32()))
	n := d.count(4 + 4 + 1)
	if d.err != nil {
		return nil, d.err
	}
	if dim <= 0 {
		return nil, fmt.Errorf("%w: dimension %d", ErrDeserialize, dim)
	}

	h := &HNSWIndex{
		dimensions: dim,
		seed:       seed,
		nodes:      make([]*hnswNode, 0, n),
		byID:       make(map[string]int, n),
		entry:      entry,
		maxLevel:   top,
	}
	for i := 0; i < n && d.err == nil; i++ {
		node := &hnswNode{id: d.str()}
		node.level = int(d.u32())
		node.deleted = d.u8() == 1
		if node.level > levelCap {
			d.fail("node %d level %d", i, node.level)
			break
		}
		node.vector = d.floats(dim)
		node.norm = L2Norm(node.vector)
		node.neighbors = make([][]int, node.level+1)
		for lc := range node.neighbors {
			m := d.count(4)
			links := make([]int, 0, m)
			for j := 0; j < m; j++ {
				l := int(d.u32())
				if l >= n {
					d.fail("node %d links to %d of %d", i, l, n)
				}
				links = append(links, l)
			}
			node.neighbors[lc] = links
		}
		if node.deleted {
			h.deleted++
		} else {
			if _, dup := h.byID[node.id]; dup {
				d.fail("duplicate live id %q", node.id)
			}
			h.byID[node.id] = i
		}
		h.nodes = append(h.nodes, node)
	}
	if d.err != nil {
		return nil, d.err
	}
	switch {
	case n == 0 && entry != -1:
		return nil, fmt.Errorf("%w: entry point %d in empty graph", ErrDeserialize, entry)
	case n > 0 && (entry < 0 || entry >= n):
		return nil, fmt.Errorf("%w: entry point %d out of range", ErrDeserialize, entry)
	case n > 0 && h.nodes[entry].level != top:
		return nil, fmt.Errorf("%w: entry level %d does not match top %d", ErrDeserialize, h.nodes[entry].level, top)
	}
	// continue the level sequence deterministically after a reload
	h.rng = rand.New(rand.NewSource(seed + int64(n)))
	return h, nil
}

// MarshalBinary encodes the entries in insertion order.
func (f *FlatIndex) MarshalBinary() ([]byte, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	e := &encoder{}
	e.u32(uint32(f.dimensions))
	e.u32(uint32(len(f.entries)))
	for _, en := range f.entries {
		e.str(en.id)
		e.floats(en.vector)
	}
	return frame(typeByteFlat, e.buf), nil
}

func decodeFlat(d *decoder) (*FlatIndex, error) {
	dim := int(d.u32())
	if d.err == nil && dim <= 0 {
		d.fail("dimension %d", dim)
	}
	n := d.count(4 + 4*max(dim, 0))
	if d.err != nil {
		return nil, d.err
	}
	f := &FlatIndex{dimensions: dim, byID: make(map[string]int, n)}
	for i := 0; i < n && d.err == nil; i++ {
		id := d.str()
		vec := d.floats(dim)
		if _, dup := f.byID[id]; dup {
			d.fail("duplicate id %q", id)
		}
		f.byID[id] = i
		f.entries = append(f.entries, flatEntry{id: id, vector: vec, norm: L2Norm(vec)})
	}
	if d.err != nil {
		return nil, d.err
	}
	return f, nil
}
