package codec

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/atlasapi/atlas-deer-sub000/pkg/deer"
)

// Document is the self-describing JSON form of content used at the edges,
// e.g. {"type": "episode", "content": {...}}.
type Document struct {
	Type    deer.ContentType `json:"type"`
	Content json.RawMessage  `json:"content"`
}

// EncodeDocument wraps content with its type.
func EncodeDocument(content deer.Content) (Document, error) {
	if content == nil {
		return Document{}, deer.ErrNilContent
	}
	data, err := json.Marshal(content)
	if err != nil {
		return Document{}, fmt.Errorf("failed to encode %s: %w", content.Type(), err)
	}
	return Document{Type: content.Type(), Content: data}, nil
}

// Decode returns the content held by the document.
func (d Document) Decode() (deer.Content, error) {
	content, ok := deer.NewContent(d.Type)
	if !ok {
		return nil, fmt.Errorf("unknown content type %q", d.Type)
	}
	if err := json.Unmarshal(d.Content, content); err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", d.Type, err)
	}
	return content, nil
}

// DecodeDocuments reads either a single document or an array of them.
func DecodeDocuments(data []byte) ([]deer.Content, error) {
	data = bytes.TrimSpace(data)
	var docs []Document
	if len(data) > 0 && data[0] == '[' {
		if err := json.Unmarshal(data, &docs); err != nil {
			return nil, fmt.Errorf("failed to parse documents: %w", err)
		}
	} else {
		var doc Document
		if err := json.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("failed to parse document: %w", err)
		}
		docs = append(docs, doc)
	}

	out := make([]deer.Content, 0, len(docs))
	for i, doc := range docs {
		content, err := doc.Decode()
		if err != nil {
			return nil, fmt.Errorf("document %d: %w", i, err)
		}
		out = append(out, content)
	}
	return out, nil
}
