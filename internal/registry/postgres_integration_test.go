package registry

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/materium/paperbase/internal/document"
	"github.com/materium/paperbase/internal/testutil"
)

// testDocument mirrors the pipeline: CreatedAt stays zero and the database
// default fills it in.
func testDocument(filename, text string) document.Document {
	return document.Document{
		ContentHash:    document.HashContent(text),
		Type:           document.TypePaper,
		SourceFilename: filename,
		UploadBatchID:  uuid.New(),
	}
}

func TestPostgresInsertAndFind(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	testDB := testutil.SetupTestDB(t)
	store := NewPostgres(testDB.Pool)
	ctx := context.Background()

	doc := testDocument("smith2021.pdf", "pd-catalyzed coupling of aryl halides")
	doc.DOI = document.StringPtr("10.1021/ja0203621")
	doc.Title = document.StringPtr("Pd-Catalyzed Coupling of Aryl Halides")

	require.NoError(t, store.Insert(ctx, doc))

	t.Run("by content hash", func(t *testing.T) {
		found, err := store.FindByContentHash(ctx, doc.ContentHash)
		require.NoError(t, err)
		require.NotNil(t, found)
		assert.Equal(t, doc.SourceFilename, found.SourceFilename)
		assert.Equal(t, doc.UploadBatchID, found.UploadBatchID)
		assert.WithinDuration(t, time.Now(), found.CreatedAt, time.Minute,
			"created_at should come from the schema default")
	})

	t.Run("by doi", func(t *testing.T) {
		found, err := store.FindByDOI(ctx, "10.1021/ja0203621", document.TypePaper)
		require.NoError(t, err)
		require.NotNil(t, found)
		require.NotNil(t, found.DOI)
		assert.Equal(t, "10.1021/ja0203621", *found.DOI)
	})

	t.Run("by doi wrong type", func(t *testing.T) {
		found, err := store.FindByDOI(ctx, "10.1021/ja0203621", document.TypeSupportingInfo)
		require.NoError(t, err)
		assert.Nil(t, found)
	})

	t.Run("by normalized title", func(t *testing.T) {
		norm := document.NormalizeTitle("Pd-Catalyzed   Coupling of ARYL Halides")
		found, err := store.FindByTitle(ctx, norm, document.TypePaper)
		require.NoError(t, err)
		require.NotNil(t, found)
	})

	t.Run("missing document", func(t *testing.T) {
		found, err := store.FindByContentHash(ctx, "no-such-hash")
		require.NoError(t, err)
		assert.Nil(t, found)
	})
}

func TestPostgresUniqueViolations(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	testDB := testutil.SetupTestDB(t)
	store := NewPostgres(testDB.Pool)
	ctx := context.Background()

	base := testDocument("original.pdf", "unique violation source text")
	base.DOI = document.StringPtr("10.1002/anie.202012345")
	base.Title = document.StringPtr("A Study of Duplicates")
	require.NoError(t, store.Insert(ctx, base))

	t.Run("same content hash", func(t *testing.T) {
		dup := testDocument("renamed.pdf", "unique violation source text")
		err := store.Insert(ctx, dup)
		assert.ErrorIs(t, err, ErrDuplicateDocument)
	})

	t.Run("same doi and type", func(t *testing.T) {
		dup := testDocument("other.pdf", "entirely different text")
		dup.DOI = document.StringPtr("10.1002/anie.202012345")
		err := store.Insert(ctx, dup)
		assert.ErrorIs(t, err, ErrDuplicateDocument)
	})

	t.Run("same title different type allowed", func(t *testing.T) {
		si := testDocument("supporting.pdf", "supporting information text")
		si.Type = document.TypeSupportingInfo
		si.Title = document.StringPtr("A Study of Duplicates")
		assert.NoError(t, store.Insert(ctx, si))
	})
}

func TestPostgresCount(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	testDB := testutil.SetupTestDB(t)
	store := NewPostgres(testDB.Pool)
	ctx := context.Background()

	count, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, count)

	require.NoError(t, store.Insert(ctx, testDocument("a.pdf", "document a")))
	require.NoError(t, store.Insert(ctx, testDocument("b.pdf", "document b")))

	count, err = store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)
}
