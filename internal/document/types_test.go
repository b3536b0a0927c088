package document

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeTitle(t *testing.T) {
	tests := []struct {
		name  string
		title string
		want  string
	}{
		{"lowercase passthrough", "mof synthesis", "mof synthesis"},
		{"mixed case and punctuation", "Foo-Bar: Synthesis of MOFs.", "foo bar synthesis of mofs"},
		{"collapses whitespace runs", "  Foo \t Bar  ", "foo bar"},
		{"unicode letters kept", "Über-Katalyse", "über katalyse"},
		{"empty", "", ""},
		{"only punctuation", "---!!!", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizeTitle(tt.title))
		})
	}
}

func TestHashContentDeterministic(t *testing.T) {
	a := HashContent("some document text")
	b := HashContent("some document text")
	c := HashContent("some document text ")

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Len(t, a, 64)
}

func TestRecordOptionalFields(t *testing.T) {
	doc := Document{
		ContentHash: "abc",
		Type:        TypePaper,
	}
	rec := doc.Record()
	assert.Nil(t, rec.DOI)
	assert.Empty(t, rec.TitleNormalized)

	doc.Title = StringPtr("Foo Bar")
	doc.DOI = StringPtr("10.1/x")
	rec = doc.Record()
	assert.Equal(t, "foo bar", rec.TitleNormalized)
	assert.Equal(t, "10.1/x", *rec.DOI)
}

func TestTypeAndCollectionValid(t *testing.T) {
	assert.True(t, TypePaper.Valid())
	assert.True(t, TypeSupportingInfo.Valid())
	assert.False(t, Type("thesis").Valid())

	assert.True(t, CollectionPaper.Valid())
	assert.True(t, CollectionExperiment.Valid())
	assert.False(t, Collection("notes").Valid())
}
