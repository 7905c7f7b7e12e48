package remote

import (
	"fmt"

	"github.com/goccy/go-json"
)

// toDoc converts a document struct into the map form the client sends.
func toDoc(v any) (map[string]any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var doc map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	delete(doc, "_id")
	return doc, nil
}

// fromDoc decodes a stored document into T. The server-assigned numeric
// _id is ignored; documents are keyed by their own id fields.
func fromDoc[T any](doc map[string]any) (*T, error) {
	data, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("marshal doc: %w", err)
	}
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("unmarshal doc: %w", err)
	}
	return &v, nil
}

// docID renders the server-assigned _id for log messages.
func docID(doc map[string]any) string {
	switch v := doc["_id"].(type) {
	case float64:
		return fmt.Sprintf("%.0f", v)
	case string:
		return v
	}
	return "?"
}
