package encode

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"telship/internal/event"
)

// CBORContentType identifies CBOR payloads.
const CBORContentType = "application/cbor"

// CBOREncoder renders the JSON documents with Core Deterministic Encoding,
// so equal events always produce identical bytes.
type CBOREncoder struct {
	mode cbor.EncMode
}

// NewCBOREncoder builds the deterministic encoding mode.
// Params: none.
// Returns: encoder or option error.
func NewCBOREncoder() (*CBOREncoder, error) {
	options := cbor.CoreDetEncOptions()
	options.TextMarshaler = cbor.TextMarshalerTextString
	mode, err := options.EncMode()
	if err != nil {
		return nil, fmt.Errorf("init cbor encoder: %w", err)
	}
	return &CBOREncoder{mode: mode}, nil
}

// ContentType returns the CBOR media type.
func (e *CBOREncoder) ContentType() string { return CBORContentType }

// Encode serializes one event as CBOR.
// Params: ev metric or log event.
// Returns: CBOR bytes or error for unsupported data values.
func (e *CBOREncoder) Encode(ev event.Event) ([]byte, error) {
	doc, err := document(ev)
	if err != nil {
		return nil, err
	}
	payload, err := e.mode.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("encode %s event: %w", ev.Kind, err)
	}
	return payload, nil
}
