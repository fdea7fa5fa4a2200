package encode

import (
	"encoding/json"
	"fmt"

	"telship/internal/event"
)

// JSONContentType is sent with every JSON body.
const JSONContentType = "application/json; charset=utf-8"

// JSONEncoder renders metrics as a series document and logs as one JSON object.
type JSONEncoder struct{}

// ContentType returns the HTTP content type for JSON payloads.
func (JSONEncoder) ContentType() string { return JSONContentType }

// Encode serializes one event.
// Params: ev metric or log event.
// Returns: JSON bytes or error when data cannot be serialized.
func (JSONEncoder) Encode(ev event.Event) ([]byte, error) {
	doc, err := document(ev)
	if err != nil {
		return nil, err
	}
	payload, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("encode %s event: %w", ev.Kind, err)
	}
	return payload, nil
}
