package keyword

import (
	"context"
	"fmt"
	"strings"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/standard"
	blevequery "github.com/blevesearch/bleve/v2/search/query"
	bleveindex "github.com/blevesearch/bleve_index_api"
	"github.com/hyperjump/kioku/internal/models"
)

// Indexed fields.
const (
	fieldGist  = "gist"
	fieldTitle = "title"
	fieldTags  = "tags"
)

var searchFields = []string{fieldGist, fieldTitle, fieldTags}

// noteDoc is the document bleve indexes for one record.
type noteDoc struct {
	Gist  string `json:"gist"`
	Title string `json:"title"`
	Tags  string `json:"tags"`
}

func newNoteDoc(rec *models.Record) noteDoc {
	return noteDoc{
		Gist:  rec.Gist,
		Title: rec.Title(),
		Tags:  strings.Join(rec.Tags, " "),
	}
}

// BleveIndex implements KeywordIndex using an in-memory Bleve index.
type BleveIndex struct {
	index bleve.Index
}

var (
	_ KeywordIndex   = (*BleveIndex)(nil)
	_ TermDictionary = (*BleveIndex)(nil)
)

// NewBleveIndex creates an empty in-memory index. It is rebuilt from the
// records on load, so nothing is written to disk.
func NewBleveIndex() (*BleveIndex, error) {
	im := bleve.NewIndexMapping()

	docMapping := bleve.NewDocumentMapping()
	textFieldMapping := bleve.NewTextFieldMapping()
	// Standard analyzer (lowercase + tokenize, no stemming) so tag and title
	// terms match exactly.
	textFieldMapping.Analyzer = standard.Name
	for _, f := range searchFields {
		docMapping.AddFieldMappingsAt(f, textFieldMapping)
	}
	im.AddDocumentMapping("note", docMapping)
	im.DefaultType = "note"
	im.DefaultMapping = docMapping

	index, err := bleve.NewMemOnly(im)
	if err != nil {
		return nil, fmt.Errorf("failed to create Bleve index: %w", err)
	}
	return &BleveIndex{index: index}, nil
}

// Build creates an index holding records.
func Build(ctx context.Context, records []*models.Record) (*BleveIndex, error) {
	b, err := NewBleveIndex()
	if err != nil {
		return nil, err
	}
	batch := b.index.NewBatch()
	for _, rec := range records {
		if err := batch.Index(rec.ID, newNoteDoc(rec)); err != nil {
			_ = b.Close()
			return nil, fmt.Errorf("index %s: %w", rec.ID, err)
		}
	}
	if err := b.index.Batch(batch); err != nil {
		_ = b.Close()
		return nil, fmt.Errorf("Bleve batch failed: %w", err)
	}
	return b, nil
}

// Search runs a match query over gist, title and tags and returns up to limit
// hits by descending BM25 score, ties broken by id.
func (b *BleveIndex) Search(ctx context.Context, query string, limit int, opts *SearchOptions) ([]*KeywordResult, error) {
	titleBoost, fuzziness := 1.0, 0
	if opts != nil {
		if opts.TitleBoost > 1 {
			titleBoost = opts.TitleBoost
		}
		fuzziness = opts.Fuzziness
	}

	queries := make([]blevequery.Query, 0, len(searchFields))
	for _, f := range searchFields {
		mq := bleve.NewMatchQuery(query)
		mq.SetField(f)
		if fuzziness > 0 {
			mq.SetFuzziness(fuzziness)
		}
		if f == fieldTitle && titleBoost > 1 {
			mq.SetBoost(titleBoost)
		}
		queries = append(queries, mq)
	}

	search := bleve.NewSearchRequest(bleve.NewDisjunctionQuery(queries...))
	search.Size = limit
	search.SortBy([]string{"-_score", "_id"})
	results, err := b.index.SearchInContext(ctx, search)
	if err != nil {
		return nil, fmt.Errorf("Bleve search failed: %w", err)
	}
	out := make([]*KeywordResult, len(results.Hits))
	for i, hit := range results.Hits {
		out[i] = &KeywordResult{ID: hit.ID, Score: hit.Score}
	}
	return out, nil
}

// DocCount returns the total number of documents in the index.
func (b *BleveIndex) DocCount() (uint64, error) {
	return b.index.DocCount()
}

// Terms returns every indexed term with its highest per-field document frequency.
func (b *BleveIndex) Terms() (map[string]int, error) {
	terms := make(map[string]int)
	for _, f := range searchFields {
		dict, err := b.index.FieldDict(f)
		if err != nil {
			return nil, fmt.Errorf("read %s dictionary: %w", f, err)
		}
		err = addTerms(terms, dict)
		_ = dict.Close()
		if err != nil {
			return nil, fmt.Errorf("read %s dictionary: %w", f, err)
		}
	}
	return terms, nil
}

type termIterator interface {
	Next() (*bleveindex.DictEntry, error)
}

// addTerms drains it into terms, keeping the highest count per term.
func addTerms(terms map[string]int, it termIterator) error {
	for {
		entry, err := it.Next()
		if err != nil {
			return err
		}
		if entry == nil {
			return nil
		}
		if n := int(entry.Count); n > terms[entry.Term] {
			terms[entry.Term] = n
		}
	}
}

// Close closes the Bleve index.
func (b *BleveIndex) Close() error {
	return b.index.Close()
}
