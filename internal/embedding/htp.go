package embedding

import (
	"context"
	"math"
	"strings"
	"unicode"

	"github.com/cespare/xxhash/v2"
)

// HTPDimensions is the width of HTP vectors: a sin/cos pair per modulus.
const HTPDimensions = 384

// htpModuli are the first 192 primes.
var htpModuli = [HTPDimensions / 2]uint64{
	2, 3, 5, 7, 11, 13, 17, 19, 23, 29, 31, 37, 41, 43, 47, 53, 59, 61, 67, 71, 73, 79, 83, 89, 97,
	101, 103, 107, 109, 113, 127, 131, 137, 139, 149, 151, 157, 163, 167, 173, 179, 181, 191, 193,
	197, 199, 211, 223, 227, 229, 233, 239, 241, 251, 257, 263, 269, 271, 277, 281, 283, 293, 307,
	311, 313, 317, 331, 337, 347, 349, 353, 359, 367, 373, 379, 383, 389, 397, 401, 409, 419, 421,
	431, 433, 439, 443, 449, 457, 461, 463, 467, 479, 487, 491, 499, 503, 509, 521, 523, 541, 547,
	557, 563, 569, 571, 577, 587, 593, 599, 601, 607, 613, 617, 619, 631, 641, 643, 647, 653, 659,
	661, 673, 677, 683, 691, 701, 709, 719, 727, 733, 739, 743, 751, 757, 761, 769, 773, 787, 797,
	809, 811, 821, 823, 827, 829, 839, 853, 857, 859, 863, 877, 881, 883, 887, 907, 911, 919, 929,
	937, 941, 947, 953, 967, 971, 977, 983, 991, 997, 1009, 1013, 1019, 1021, 1031, 1033, 1039,
	1049, 1051, 1061, 1063, 1069, 1087, 1091, 1093, 1097, 1103, 1109, 1117, 1123, 1129, 1151, 1153,
	1163,
}

// HTPEmbedder is the deterministic embedder. It needs no model, never fails,
// and maps texts that share tokens to nearby vectors.
type HTPEmbedder struct{}

// NewHTPEmbedder returns the deterministic embedder.
func NewHTPEmbedder() *HTPEmbedder {
	return &HTPEmbedder{}
}

// Embed returns the mean of the token projections, L2-normalized. Empty text yields a zero vector.
func (e *HTPEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	return HTPEmbed(text), nil
}

// Dimensions returns HTPDimensions.
func (e *HTPEmbedder) Dimensions() int { return HTPDimensions }

// Mode returns ModeHTP.
func (e *HTPEmbedder) Mode() Mode { return ModeHTP }

// Ready is always true.
func (e *HTPEmbedder) Ready() bool { return true }

// HTPEmbed is the pure function behind HTPEmbedder.
func HTPEmbed(text string) []float32 {
	tokens := HTPTokenize(text)
	out := make([]float32, HTPDimensions)
	if len(tokens) == 0 {
		return out
	}

	sum := make([]float64, HTPDimensions)
	for _, tok := range tokens {
		n := xxhash.Sum64String(tok)
		for i, m := range htpModuli {
			theta := 2 * math.Pi * float64(n%m) / float64(m)
			sum[2*i] += math.Sin(theta)
			sum[2*i+1] += math.Cos(theta)
		}
	}

	count := float64(len(tokens))
	var norm float64
	for i := range sum {
		sum[i] /= count
		norm += sum[i] * sum[i]
	}
	norm = math.Sqrt(norm)
	for i, v := range sum {
		if norm > 0 {
			v /= norm
		}
		out[i] = float32(v)
	}
	return out
}

// HTPTokenize splits on whitespace and ASCII punctuation and lowercases each token.
func HTPTokenize(text string) []string {
	fields := strings.FieldsFunc(text, func(r rune) bool {
		return unicode.IsSpace(r) || (r < unicode.MaxASCII && unicode.IsPunct(r)) || isASCIISymbol(r)
	})
	for i, f := range fields {
		fields[i] = strings.ToLower(f)
	}
	return fields
}

// isASCIISymbol covers ASCII punctuation that unicode.IsPunct classifies as symbols ($+<=>^`|~).
func isASCIISymbol(r rune) bool {
	return r < unicode.MaxASCII && unicode.IsSymbol(r)
}
