// Package relay implements the event-relay pull connector. Relays speak a
// JSON array framing over websockets: the client opens a subscription with
// ["REQ", id, filter], the relay streams ["EVENT", id, event] frames, marks
// the end of stored events with ["EOSE", id], and the client tears the
// subscription down with ["CLOSE", id].
package relay

import (
	"encoding/json"
	"fmt"

	"github.com/finchsearch/finch/internal/document"
)

// Event is one relay event as it appears on the wire.
type Event struct {
	ID        string     `json:"id"`
	PubKey    string     `json:"pubkey"`
	CreatedAt int64      `json:"created_at"`
	Kind      int        `json:"kind"`
	Tags      [][]string `json:"tags"`
	Content   string     `json:"content"`
	Sig       string     `json:"sig"`
}

// Filter narrows a subscription. Tag filters are serialized as "#<name>"
// keys alongside the fixed fields.
type Filter struct {
	Kinds   []int               `json:"kinds,omitempty"`
	Authors []string            `json:"authors,omitempty"`
	Since   *int64              `json:"since,omitempty"`
	Until   *int64              `json:"until,omitempty"`
	Limit   int                 `json:"limit,omitempty"`
	Tags    map[string][]string `json:"-"`
}

// MarshalJSON flattens the tag filters into the same object.
func (f Filter) MarshalJSON() ([]byte, error) {
	type plain Filter
	raw, err := json.Marshal(plain(f))
	if err != nil {
		return nil, err
	}
	if len(f.Tags) == 0 {
		return raw, nil
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil, err
	}
	for name, values := range f.Tags {
		encoded, err := json.Marshal(values)
		if err != nil {
			return nil, err
		}
		obj["#"+name] = encoded
	}
	return json.Marshal(obj)
}

// NewFilter translates the source configuration into a wire filter.
func NewFilter(cfg document.RelayConfig) Filter {
	f := Filter{
		Kinds:   cfg.Kinds,
		Authors: cfg.Authors,
		Limit:   cfg.Limit,
		Tags:    cfg.Tags,
	}
	if cfg.Since != nil {
		since := cfg.Since.Unix()
		f.Since = &since
	}
	if cfg.Until != nil {
		until := cfg.Until.Unix()
		f.Until = &until
	}
	return f
}

// reqFrame encodes the subscription open frame.
func reqFrame(subID string, f Filter) ([]byte, error) {
	frame, err := json.Marshal([]any{"REQ", subID, f})
	if err != nil {
		return nil, fmt.Errorf("encode REQ frame: %w", err)
	}
	return frame, nil
}

// closeFrame encodes the subscription teardown frame.
func closeFrame(subID string) ([]byte, error) {
	frame, err := json.Marshal([]any{"CLOSE", subID})
	if err != nil {
		return nil, fmt.Errorf("encode CLOSE frame: %w", err)
	}
	return frame, nil
}

// decodeFrame splits an incoming frame into its label and payload elements.
func decodeFrame(raw []byte) (string, []json.RawMessage, error) {
	var elems []json.RawMessage
	if err := json.Unmarshal(raw, &elems); err != nil {
		return "", nil, fmt.Errorf("decode frame: %w", err)
	}
	if len(elems) == 0 {
		return "", nil, fmt.Errorf("empty frame")
	}
	var label string
	if err := json.Unmarshal(elems[0], &label); err != nil {
		return "", nil, fmt.Errorf("decode frame label: %w", err)
	}
	return label, elems[1:], nil
}
