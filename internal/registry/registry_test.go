package registry

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/materium/paperbase/internal/document"
	"github.com/materium/paperbase/internal/log"
)

// memStore is an in-memory Store for unit tests. It mimics the unique
// indexes of the documents table.
type memStore struct {
	mu   sync.Mutex
	docs []document.Document
}

func (m *memStore) FindByContentHash(_ context.Context, hash string) (*document.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.docs {
		if m.docs[i].ContentHash == hash {
			d := m.docs[i]
			return &d, nil
		}
	}
	return nil, nil
}

func (m *memStore) FindByDOI(_ context.Context, doi string, typ document.Type) (*document.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.docs {
		if m.docs[i].DOI != nil && *m.docs[i].DOI == doi && m.docs[i].Type == typ {
			d := m.docs[i]
			return &d, nil
		}
	}
	return nil, nil
}

func (m *memStore) FindByTitle(_ context.Context, titleNorm string, typ document.Type) (*document.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.docs {
		rec := m.docs[i].Record()
		if rec.TitleNormalized != "" && rec.TitleNormalized == titleNorm && m.docs[i].Type == typ {
			d := m.docs[i]
			return &d, nil
		}
	}
	return nil, nil
}

func (m *memStore) Insert(_ context.Context, doc document.Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec := doc.Record()
	for i := range m.docs {
		other := m.docs[i].Record()
		if other.ContentHash == rec.ContentHash {
			return fmt.Errorf("%w: documents_content_hash_key", ErrDuplicateDocument)
		}
		if rec.DOI != nil && other.DOI != nil && *rec.DOI == *other.DOI && rec.Type == other.Type {
			return fmt.Errorf("%w: documents_doi_type_key", ErrDuplicateDocument)
		}
		if rec.TitleNormalized != "" && rec.TitleNormalized == other.TitleNormalized && rec.Type == other.Type {
			return fmt.Errorf("%w: documents_title_type_key", ErrDuplicateDocument)
		}
	}
	m.docs = append(m.docs, doc)
	return nil
}

func (m *memStore) Count(_ context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int64(len(m.docs)), nil
}

func newDoc(hash string, doi, title *string, typ document.Type, batch uuid.UUID) document.Document {
	return document.Document{
		ContentHash:    hash,
		DOI:            doi,
		Title:          title,
		Type:           typ,
		SourceFilename: hash + ".pdf",
		UploadBatchID:  batch,
		CreatedAt:      time.Now(),
	}
}

func TestRegisterThenDuplicateByDOI(t *testing.T) {
	ctx := context.Background()
	r := New(&memStore{}, log.NewNop())
	batch1 := uuid.New()
	batch2 := uuid.New()

	a := newDoc("hashA", document.StringPtr("10.1/x"), document.StringPtr("Foo"), document.TypePaper, batch1)
	require.NoError(t, r.Register(ctx, a))

	// Same DOI and type, different hash and title: duplicate of A.
	b := newDoc("hashB", document.StringPtr("10.1/x"), document.StringPtr("Foo v2"), document.TypePaper, batch2)
	match, err := r.CheckDuplicate(ctx, b)
	require.NoError(t, err)
	assert.True(t, match.Duplicate)
	assert.Equal(t, ReasonDOI, match.Reason)
	assert.Equal(t, "hashA.pdf", match.Matched.SourceFilename)
	assert.ErrorIs(t, r.Register(ctx, b), ErrDuplicateDocument)

	// Same DOI, different type axis: succeeds.
	c := newDoc("hashC", document.StringPtr("10.1/x"), document.StringPtr("Foo SI"), document.TypeSupportingInfo, batch2)
	require.NoError(t, r.Register(ctx, c))

	n, err := r.Count(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)
}

func TestCheckDuplicateContentHashWinsFirst(t *testing.T) {
	ctx := context.Background()
	r := New(&memStore{}, log.NewNop())

	a := newDoc("samehash", document.StringPtr("10.1/a"), document.StringPtr("Foo"), document.TypePaper, uuid.New())
	require.NoError(t, r.Register(ctx, a))

	// Matches on hash AND doi AND title; reported reason must be the hash.
	b := newDoc("samehash", document.StringPtr("10.1/a"), document.StringPtr("Foo"), document.TypePaper, uuid.New())
	match, err := r.CheckDuplicate(ctx, b)
	require.NoError(t, err)
	assert.Equal(t, ReasonContentHash, match.Reason)
}

func TestCheckDuplicateMissingFieldsNeverMatch(t *testing.T) {
	ctx := context.Background()
	r := New(&memStore{}, log.NewNop())

	// Registered document with no DOI and no title.
	a := newDoc("hashA", nil, nil, document.TypePaper, uuid.New())
	require.NoError(t, r.Register(ctx, a))

	// Candidate also missing both: nil DOI must not equal nil DOI.
	b := newDoc("hashB", nil, nil, document.TypePaper, uuid.New())
	match, err := r.CheckDuplicate(ctx, b)
	require.NoError(t, err)
	assert.False(t, match.Duplicate)
	require.NoError(t, r.Register(ctx, b))
}

func TestCheckDuplicateTitleNormalization(t *testing.T) {
	ctx := context.Background()
	r := New(&memStore{}, log.NewNop())

	a := newDoc("hashA", nil, document.StringPtr("MOF-5: Synthesis & Properties"), document.TypePaper, uuid.New())
	require.NoError(t, r.Register(ctx, a))

	b := newDoc("hashB", nil, document.StringPtr("mof 5 synthesis properties"), document.TypePaper, uuid.New())
	match, err := r.CheckDuplicate(ctx, b)
	require.NoError(t, err)
	assert.True(t, match.Duplicate)
	assert.Equal(t, ReasonTitle, match.Reason)
}

func TestCheckDuplicateInternalBatch(t *testing.T) {
	ctx := context.Background()
	r := New(&memStore{}, log.NewNop())
	batch := uuid.New()

	a := newDoc("hashA", nil, document.StringPtr("Same Title"), document.TypePaper, batch)
	require.NoError(t, r.Register(ctx, a))

	b := newDoc("hashB", nil, document.StringPtr("Same Title"), document.TypePaper, batch)
	match, err := r.CheckDuplicate(ctx, b)
	require.NoError(t, err)
	assert.True(t, match.Duplicate)
	assert.Equal(t, ReasonInternalDuplicate, match.Reason)
}

func TestRegisterConcurrentSameKey(t *testing.T) {
	ctx := context.Background()
	r := New(&memStore{}, log.NewNop())

	const workers = 16
	var wg sync.WaitGroup
	errs := make([]error, workers)
	for i := range workers {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			doc := newDoc(fmt.Sprintf("hash%d", i),
				document.StringPtr("10.99/contested"), document.StringPtr(fmt.Sprintf("Title %d", i)),
				document.TypePaper, uuid.New())
			errs[i] = r.Register(ctx, doc)
		}(i)
	}
	wg.Wait()

	// Exactly one registration may win the (doi, type) key.
	wins := 0
	for _, err := range errs {
		if err == nil {
			wins++
		} else {
			assert.ErrorIs(t, err, ErrDuplicateDocument)
		}
	}
	assert.Equal(t, 1, wins)
}

func TestTypeResolver(t *testing.T) {
	ctx := context.Background()

	t.Run("doi rule wins", func(t *testing.T) {
		res := NewTypeResolver(DefaultDOIRules(), failingClassifier{}, log.NewNop())
		typ, review, err := res.Resolve(ctx, document.StringPtr("10.1021/ja0001.s001"), "whatever")
		require.NoError(t, err)
		assert.Equal(t, document.TypeSupportingInfo, typ)
		assert.False(t, review)
	})

	t.Run("plain doi is paper", func(t *testing.T) {
		res := NewTypeResolver(DefaultDOIRules(), failingClassifier{}, log.NewNop())
		typ, review, err := res.Resolve(ctx, document.StringPtr("10.1021/ja0001"), "whatever")
		require.NoError(t, err)
		assert.Equal(t, document.TypePaper, typ)
		assert.False(t, review)
	})

	t.Run("no doi uses classifier", func(t *testing.T) {
		res := NewTypeResolver(DefaultDOIRules(), KeywordClassifier{}, log.NewNop())
		typ, review, err := res.Resolve(ctx, nil, "Supporting Information for: MOF synthesis")
		require.NoError(t, err)
		assert.Equal(t, document.TypeSupportingInfo, typ)
		assert.False(t, review)
	})

	t.Run("default rule table", func(t *testing.T) {
		res := NewTypeResolver(DefaultDOIRules(), failingClassifier{}, log.NewNop())
		tests := []struct {
			doi  string
			want document.Type
		}{
			{"10.1021/ja0001.s001", document.TypeSupportingInfo},
			{"10.1021/ja0001-s2", document.TypeSupportingInfo},
			{"10.1000/xyz.si", document.TypeSupportingInfo},
			{"10.1000/xyz.suppl3", document.TypeSupportingInfo},
			{"10.1039/c9sc01234a.esi", document.TypeSupportingInfo},
			{"10.1021/ja0001", document.TypePaper},
			{"10.1000/analysis", document.TypePaper},
			{"10.1000/series", document.TypePaper},
		}
		for _, tt := range tests {
			typ, _, err := res.Resolve(ctx, document.StringPtr(tt.doi), "whatever")
			require.NoError(t, err, tt.doi)
			assert.Equal(t, tt.want, typ, tt.doi)
		}
	})

	t.Run("opening slice keeps runes intact", func(t *testing.T) {
		cl := &capturingClassifier{}
		res := NewTypeResolver(DefaultDOIRules(), cl, log.NewNop())
		_, _, err := res.Resolve(ctx, nil, strings.Repeat("研究", 2000))
		require.NoError(t, err)
		assert.LessOrEqual(t, len(cl.opening), 2000)
		assert.True(t, utf8.ValidString(cl.opening))
	})

	t.Run("classifier failure defaults to paper and flags", func(t *testing.T) {
		res := NewTypeResolver(DefaultDOIRules(), failingClassifier{}, log.NewNop())
		typ, review, err := res.Resolve(ctx, nil, "some text")
		assert.Equal(t, document.TypePaper, typ)
		assert.True(t, review)
		assert.ErrorIs(t, err, ErrClassificationAmbiguous)
	})
}

type failingClassifier struct{}

func (failingClassifier) Classify(context.Context, string) (document.Type, error) {
	return "", fmt.Errorf("model unavailable")
}

type capturingClassifier struct{ opening string }

func (c *capturingClassifier) Classify(_ context.Context, opening string) (document.Type, error) {
	c.opening = opening
	return document.TypePaper, nil
}
