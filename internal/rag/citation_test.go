package rag

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtractCitations(t *testing.T) {
	tests := []struct {
		name string
		text string
		want []Citation
	}{
		{
			name: "no markers",
			text: "Concrete is strong in compression.",
			want: []Citation{},
		},
		{
			name: "single marker",
			text: "It is 42 MPa [Source: paper1.pdf, Page: 4].",
			want: []Citation{{Source: "paper1.pdf", Page: 4}},
		},
		{
			name: "duplicates keep first occurrence order",
			text: "A [Source: b.pdf, Page: 2] B [Source: a.pdf, Page: 1] C [Source: b.pdf, Page: 2]",
			want: []Citation{{Source: "b.pdf", Page: 2}, {Source: "a.pdf", Page: 1}},
		},
		{
			name: "same file different pages",
			text: "[Source: a.pdf, Page: 1] and [Source: a.pdf, Page: 3]",
			want: []Citation{{Source: "a.pdf", Page: 1}, {Source: "a.pdf", Page: 3}},
		},
		{
			name: "loose whitespace",
			text: "[Source:   my paper.pdf ,Page:12 ]",
			want: []Citation{{Source: "my paper.pdf", Page: 12}},
		},
		{
			name: "non numeric page is ignored",
			text: "[Source: a.pdf, Page: iv]",
			want: []Citation{},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExtractCitations(tt.text))
		})
	}
}

func TestIsConclusive(t *testing.T) {
	s := func(v string) *string { return &v }

	assert.False(t, IsConclusive(nil))
	assert.True(t, IsConclusive(s("The value is 42 MPa.")))
	assert.False(t, IsConclusive(s("The provided documents do not contain sufficient information to answer this query.")))
	assert.False(t, IsConclusive(s(MsgNoRelevantDocuments)))
	assert.False(t, IsConclusive(s("I CANNOT ANSWER that.")))
	assert.False(t, IsConclusive(s("I couldn't find relevant information in the papers.")))
}
