package embedding

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Tokenizer turns text into vocabulary ids. No special tokens are added.
type Tokenizer interface {
	Encode(text string) []int
	VocabSize() int
}

const metaspace = "▁"

type tokenizerFile struct {
	Normalizer json.RawMessage `json:"normalizer"`
	Model      struct {
		Type                    string          `json:"type"`
		UnkToken                string          `json:"unk_token"`
		UnkID                   *int            `json:"unk_id"`
		ContinuingSubwordPrefix *string         `json:"continuing_subword_prefix"`
		MaxInputCharsPerWord    int             `json:"max_input_chars_per_word"`
		Vocab                   json.RawMessage `json:"vocab"`
	} `json:"model"`
}

type normalizerConfig struct {
	Type               string             `json:"type"`
	Lowercase          *bool              `json:"lowercase"`
	StripAccents       *bool              `json:"strip_accents"`
	CleanText          *bool              `json:"clean_text"`
	HandleChineseChars *bool              `json:"handle_chinese_chars"`
	Normalizers        []normalizerConfig `json:"normalizers"`
}

// normalizer is the subset of HuggingFace normalizers that static-embedding tokenizers use.
type normalizer struct {
	lowercase    bool
	stripAccents bool
	cleanText    bool
	chineseChars bool
	nfkc         bool
}

func (n *normalizer) apply(nc normalizerConfig) {
	switch nc.Type {
	case "BertNormalizer":
		n.lowercase = nc.Lowercase == nil || *nc.Lowercase
		n.cleanText = nc.CleanText == nil || *nc.CleanText
		n.chineseChars = nc.HandleChineseChars == nil || *nc.HandleChineseChars
		// strip_accents defaults to the lowercase setting
		if nc.StripAccents != nil {
			n.stripAccents = *nc.StripAccents
		} else {
			n.stripAccents = n.lowercase
		}
	case "Lowercase":
		n.lowercase = true
	case "StripAccents":
		n.stripAccents = true
	case "NFKC":
		n.nfkc = true
	case "Sequence":
		for _, s := range nc.Normalizers {
			n.apply(s)
		}
	}
}

func (n *normalizer) normalize(text string) string {
	if n.nfkc {
		text = norm.NFKC.String(text)
	}
	if n.cleanText || n.chineseChars {
		var b strings.Builder
		for _, r := range text {
			switch {
			case n.cleanText && (r == 0 || r == utf8.RuneError || (unicode.IsControl(r) && !unicode.IsSpace(r))):
				continue
			case n.cleanText && unicode.IsSpace(r):
				b.WriteByte(' ')
			case n.chineseChars && isCJK(r):
				b.WriteByte(' ')
				b.WriteRune(r)
				b.WriteByte(' ')
			default:
				b.WriteRune(r)
			}
		}
		text = b.String()
	}
	if n.stripAccents {
		t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
		if out, _, err := transform.String(t, text); err == nil {
			text = out
		}
	}
	if n.lowercase {
		text = strings.ToLower(text)
	}
	return text
}

func isCJK(r rune) bool {
	return unicode.Is(unicode.Han, r)
}

// ParseTokenizer builds a Tokenizer from a HuggingFace tokenizer.json with a
// WordPiece or Unigram model.
func ParseTokenizer(data []byte) (Tokenizer, error) {
	var tf tokenizerFile
	if err := json.Unmarshal(data, &tf); err != nil {
		return nil, fmt.Errorf("parse tokenizer: %w", err)
	}
	var n normalizer
	if len(tf.Normalizer) > 0 && string(tf.Normalizer) != "null" {
		var nc normalizerConfig
		if err := json.Unmarshal(tf.Normalizer, &nc); err != nil {
			return nil, fmt.Errorf("parse tokenizer normalizer: %w", err)
		}
		n.apply(nc)
	}

	modelType := tf.Model.Type
	if modelType == "" {
		// older files omit the type; the vocab shape tells them apart
		if trimmed := strings.TrimSpace(string(tf.Model.Vocab)); strings.HasPrefix(trimmed, "[") {
			modelType = "Unigram"
		} else {
			modelType = "WordPiece"
		}
	}

	switch modelType {
	case "WordPiece":
		var vocab map[string]int
		if err := json.Unmarshal(tf.Model.Vocab, &vocab); err != nil {
			return nil, fmt.Errorf("parse WordPiece vocab: %w", err)
		}
		return newWordPiece(vocab, tf.Model.UnkToken, tf.Model.ContinuingSubwordPrefix, tf.Model.MaxInputCharsPerWord, n)
	case "Unigram":
		var pieces [][2]json.RawMessage
		if err := json.Unmarshal(tf.Model.Vocab, &pieces); err != nil {
			return nil, fmt.Errorf("parse Unigram vocab: %w", err)
		}
		return newUnigram(pieces, tf.Model.UnkID, n)
	default:
		return nil, fmt.Errorf("unsupported tokenizer model %q", modelType)
	}
}

// WordPiece is greedy longest-match-first subword tokenization over a BERT-style pre-split.
type WordPiece struct {
	vocab        map[string]int
	unkID        int
	prefix       string
	maxWordChars int
	norm         normalizer
}

func newWordPiece(vocab map[string]int, unk string, prefix *string, maxChars int, n normalizer) (*WordPiece, error) {
	if len(vocab) == 0 {
		return nil, fmt.Errorf("WordPiece vocab is empty")
	}
	if unk == "" {
		unk = "[UNK]"
	}
	unkID, ok := vocab[unk]
	if !ok {
		unkID = -1
	}
	p := "##"
	if prefix != nil {
		p = *prefix
	}
	if maxChars <= 0 {
		maxChars = 100
	}
	return &WordPiece{vocab: vocab, unkID: unkID, prefix: p, maxWordChars: maxChars, norm: n}, nil
}

// NewWordPiece returns a WordPiece tokenizer with BERT defaults (lowercasing, "##" prefix).
func NewWordPiece(vocab map[string]int, unk string) (*WordPiece, error) {
	var n normalizer
	n.apply(normalizerConfig{Type: "BertNormalizer"})
	return newWordPiece(vocab, unk, nil, 0, n)
}

// VocabSize returns the number of vocabulary entries.
func (w *WordPiece) VocabSize() int { return len(w.vocab) }

// Encode tokenizes text. Words that cannot be segmented map to the unknown token.
func (w *WordPiece) Encode(text string) []int {
	var ids []int
	for _, word := range bertPreTokenize(w.norm.normalize(text)) {
		ids = append(ids, w.encodeWord(word)...)
	}
	return ids
}

func (w *WordPiece) encodeWord(word string) []int {
	unk := func() []int {
		if w.unkID < 0 {
			return nil
		}
		return []int{w.unkID}
	}
	if utf8.RuneCountInString(word) > w.maxWordChars {
		return unk()
	}
	var ids []int
	start := 0
	for start < len(word) {
		end := len(word)
		matched := -1
		for end > start {
			sub := word[start:end]
			if start > 0 {
				sub = w.prefix + sub
			}
			if id, ok := w.vocab[sub]; ok {
				matched = id
				break
			}
			_, size := utf8.DecodeLastRuneInString(word[start:end])
			end -= size
		}
		if matched < 0 {
			return unk()
		}
		ids = append(ids, matched)
		start = end
	}
	return ids
}

// bertPreTokenize splits on whitespace and isolates each punctuation rune.
func bertPreTokenize(text string) []string {
	var (
		words []string
		cur   strings.Builder
	)
	flush := func() {
		if cur.Len() > 0 {
			words = append(words, cur.String())
			cur.Reset()
		}
	}
	for _, r := range text {
		switch {
		case unicode.IsSpace(r):
			flush()
		case isBertPunct(r):
			flush()
			words = append(words, string(r))
		default:
			cur.WriteRune(r)
		}
	}
	flush()
	return words
}

func isBertPunct(r rune) bool {
	if (r >= 33 && r <= 47) || (r >= 58 && r <= 64) || (r >= 91 && r <= 96) || (r >= 123 && r <= 126) {
		return true
	}
	return unicode.IsPunct(r)
}

// Unigram segments metaspace-prefixed words with the Viterbi path over piece log-probabilities.
type Unigram struct {
	pieces      map[string]int
	scores      []float64
	unkID       int
	unkScore    float64
	maxPieceLen int
	norm        normalizer
}

func newUnigram(raw [][2]json.RawMessage, unkID *int, n normalizer) (*Unigram, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("Unigram vocab is empty")
	}
	u := &Unigram{
		pieces: make(map[string]int, len(raw)),
		scores: make([]float64, len(raw)),
		unkID:  -1,
		norm:   n,
	}
	minScore := math.Inf(1)
	for i, entry := range raw {
		var piece string
		if err := json.Unmarshal(entry[0], &piece); err != nil {
			return nil, fmt.Errorf("Unigram vocab entry %d: %w", i, err)
		}
		var score float64
		if err := json.Unmarshal(entry[1], &score); err != nil {
			return nil, fmt.Errorf("Unigram vocab entry %d: %w", i, err)
		}
		u.pieces[piece] = i
		u.scores[i] = score
		if score < minScore {
			minScore = score
		}
		if l := utf8.RuneCountInString(piece); l > u.maxPieceLen {
			u.maxPieceLen = l
		}
	}
	if unkID != nil && *unkID >= 0 && *unkID < len(raw) {
		u.unkID = *unkID
	}
	u.unkScore = minScore - 10
	return u, nil
}

// VocabSize returns the number of pieces.
func (u *Unigram) VocabSize() int { return len(u.scores) }

// Encode tokenizes text.
func (u *Unigram) Encode(text string) []int {
	var ids []int
	for _, word := range strings.Fields(u.norm.normalize(text)) {
		ids = append(ids, u.encodeWord(metaspace+word)...)
	}
	return ids
}

func (u *Unigram) encodeWord(word string) []int {
	// byte offsets of rune starts, plus len(word)
	offsets := make([]int, 0, len(word)+1)
	for i := range word {
		offsets = append(offsets, i)
	}
	offsets = append(offsets, len(word))
	n := len(offsets) - 1

	type node struct {
		score float64
		prev  int
		id    int
	}
	best := make([]node, n+1)
	for i := 1; i <= n; i++ {
		best[i].score = math.Inf(-1)
	}
	for i := 0; i < n; i++ {
		if math.IsInf(best[i].score, -1) {
			continue
		}
		matchedSingle := false
		for j := i + 1; j <= n && j-i <= u.maxPieceLen; j++ {
			id, ok := u.pieces[word[offsets[i]:offsets[j]]]
			if !ok {
				continue
			}
			if j == i+1 {
				matchedSingle = true
			}
			if s := best[i].score + u.scores[id]; s > best[j].score {
				best[j] = node{score: s, prev: i, id: id}
			}
		}
		if !matchedSingle {
			if s := best[i].score + u.unkScore; s > best[i+1].score {
				best[i+1] = node{score: s, prev: i, id: u.unkID}
			}
		}
	}

	var ids []int
	for pos := n; pos > 0; pos = best[pos].prev {
		ids = append(ids, best[pos].id)
	}
	// ids is in reverse; fuse consecutive unknowns and drop them when the model has no unk id
	out := make([]int, 0, len(ids))
	for i := len(ids) - 1; i >= 0; i-- {
		id := ids[i]
		if id < 0 {
			continue
		}
		if id == u.unkID && len(out) > 0 && out[len(out)-1] == u.unkID {
			continue
		}
		out = append(out, id)
	}
	return out
}
