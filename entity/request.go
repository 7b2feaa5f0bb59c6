package entity

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
)

// ParsedRequest is the decoded view of one inbound call. It is produced once
// per entity and must not be modified afterwards.
type ParsedRequest struct {
	// Verb is the transport-level method, e.g. POST.
	Verb   string
	Header http.Header

	// Content is the decoded envelope. It is only meaningful when Decoded is
	// true; a failed decode leaves it nil with Decoded false.
	Content any
	Decoded bool

	// RequestID is the envelope's id member. HasID distinguishes an explicit
	// null id from a missing one.
	RequestID any
	HasID     bool

	IsBatch bool

	Path string
	URL  *url.URL
}

// Envelope returns the content as a JSON object, if it is one.
func (r *ParsedRequest) Envelope() (map[string]any, bool) {
	if r == nil || !r.Decoded {
		return nil, false
	}
	m, ok := r.Content.(map[string]any)
	return m, ok
}

// IsNotification reports whether the envelope is an object without an id
// member.
func (r *ParsedRequest) IsNotification() bool {
	_, ok := r.Envelope()
	return ok && !r.HasID
}

// Method returns the envelope's method member when it is a string.
func (r *ParsedRequest) Method() (string, bool) {
	env, ok := r.Envelope()
	if !ok {
		return "", false
	}
	m, ok := env["method"].(string)
	return m, ok
}

func newParsedRequest(verb string, header http.Header, u *url.URL, content any, decoded bool) *ParsedRequest {
	req := &ParsedRequest{
		Verb:    verb,
		Header:  header.Clone(),
		Content: content,
		Decoded: decoded,
		URL:     u,
	}
	if req.Header == nil {
		req.Header = http.Header{}
	}
	if u != nil {
		req.Path = u.Path
	}
	if !decoded {
		req.Content = nil
		return req
	}
	switch c := content.(type) {
	case []any:
		req.IsBatch = true
	case map[string]any:
		if id, ok := c["id"]; ok {
			req.RequestID = id
			req.HasID = true
		}
	}
	return req
}

var errTrailingData = errors.New("entity: unexpected data after JSON value")

// decodeJSON decodes exactly one JSON value from b, keeping numbers as
// json.Number.
func decodeJSON(b []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()

	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, errTrailingData
	}
	return v, nil
}

// normalizePayload turns a caller supplied payload into generic JSON values.
// Raw JSON is decoded; maps, slices and structs of other types are projected
// through a JSON round trip.
func normalizePayload(p any) (any, error) {
	switch v := p.(type) {
	case nil:
		return nil, errors.New("entity: no payload")
	case map[string]any, []any:
		return v, nil
	case json.RawMessage:
		return decodeJSON(v)
	case []byte:
		return decodeJSON(v)
	}
	b, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	return decodeJSON(b)
}
