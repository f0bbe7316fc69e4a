package codec_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atlasapi/atlas-deer-sub000/pkg/deer"
	"github.com/atlasapi/atlas-deer-sub000/pkg/deer/codec"
)

func TestDecodeDocuments(t *testing.T) {
	tests := []struct {
		name  string
		input string
		types []deer.ContentType
	}{
		{
			name:  "single document",
			input: `{"type":"film","content":{"source":"pa","title":"Heat"}}`,
			types: []deer.ContentType{deer.ContentTypeFilm},
		},
		{
			name: "array",
			input: `
			[
				{"type":"brand","content":{"source":"bbc.co.uk","title":"Brand"}},
				{"type":"episode","content":{"source":"bbc.co.uk","container_ref":{"id":1,"source":"bbc.co.uk","type":"brand"}}}
			]`,
			types: []deer.ContentType{deer.ContentTypeBrand, deer.ContentTypeEpisode},
		},
		{
			name:  "empty array",
			input: `[]`,
			types: []deer.ContentType{},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			contents, err := codec.DecodeDocuments([]byte(tt.input))
			require.NoError(t, err)
			types := make([]deer.ContentType, 0, len(contents))
			for _, c := range contents {
				types = append(types, c.Type())
			}
			assert.Equal(t, tt.types, types)
		})
	}
}

func TestDecodeDocuments_Errors(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"not json", `nope`, "parse document"},
		{"bad array", `[{]`, "parse documents"},
		{"unknown type", `{"type":"podcast","content":{}}`, "unknown content type"},
		{"bad content", `[{"type":"film","content":{"title":7}}]`, "document 0"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := codec.DecodeDocuments([]byte(tt.input))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestEncodeDocument(t *testing.T) {
	e := &deer.Episode{EpisodeNumber: 2}
	e.ID = 4
	e.Source = "bbc.co.uk"
	e.Title = "Two"

	doc, err := codec.EncodeDocument(e)
	require.NoError(t, err)
	assert.Equal(t, deer.ContentTypeEpisode, doc.Type)

	data, err := json.Marshal(doc)
	require.NoError(t, err)
	contents, err := codec.DecodeDocuments(data)
	require.NoError(t, err)
	require.Len(t, contents, 1)
	assert.Equal(t, e, contents[0])

	_, err = codec.EncodeDocument(nil)
	assert.ErrorIs(t, err, deer.ErrNilContent)
}
