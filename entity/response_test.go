package entity

import (
	"encoding/json"
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ggoodman/jsonrpc-server-go/internal/jsonrpc"
	"github.com/ggoodman/jsonrpc-server-go/rpcerr"
)

func withID(id any) *ParsedRequest {
	return &ParsedRequest{Decoded: true, Content: map[string]any{"id": id}, RequestID: id, HasID: true}
}

func notification() *ParsedRequest {
	return &ParsedRequest{Decoded: true, Content: map[string]any{"method": "x"}}
}

func marshal(t *testing.T, v any) string {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return string(b)
}

func TestFormatResponseResult(t *testing.T) {
	reply := FormatResponse(withID(json.Number("1")), nil, map[string]any{"foo": "bar"})
	require.Equal(t, http.StatusOK, reply.Status)
	assert.Equal(t, ContentType, reply.Header.Get("Content-Type"))
	assert.Equal(t, `{"jsonrpc":"2.0","result":{"foo":"bar"},"id":1}`, marshal(t, reply.Body))
}

func TestFormatResponseFalsyResultKeepsEnvelope(t *testing.T) {
	for _, result := range []any{0, false, "", nil} {
		reply := FormatResponse(withID("a"), nil, result)
		assert.Equal(t, http.StatusOK, reply.Status, "result %#v", result)
		assert.NotNil(t, reply.Body, "result %#v", result)
	}
}

func TestFormatResponseNotification(t *testing.T) {
	reply := FormatResponse(notification(), nil, "ignored")
	require.Equal(t, http.StatusNoContent, reply.Status)
	require.Nil(t, reply.Body)
	assert.Equal(t, ContentType, reply.Header.Get("Content-Type"))
}

func TestFormatResponseErrors(t *testing.T) {
	tests := []struct {
		name   string
		req    *ParsedRequest
		err    error
		status int
		body   string
	}{
		{
			name:   "unknown endpoint",
			req:    withID(json.Number("7")),
			err:    rpcerr.New(rpcerr.UnknownEndpoint),
			status: 500,
			body:   `{"jsonrpc":"2.0","error":{"code":-32001,"message":"Server error","data":"Unknown endpoint"},"id":7}`,
		},
		{
			name:   "notification still gets the error",
			req:    notification(),
			err:    rpcerr.New(rpcerr.MethodNotFound),
			status: 404,
			body:   `{"jsonrpc":"2.0","error":{"code":-32601,"message":"Method not found"},"id":null}`,
		},
		{
			name:   "data override",
			req:    withID("x"),
			err:    rpcerr.WithData(rpcerr.InvalidParams, "foo: want string"),
			status: 500,
			body:   `{"jsonrpc":"2.0","error":{"code":-32602,"message":"Invalid params","data":"foo: want string"},"id":"x"}`,
		},
		{
			name:   "plain error falls back to server error",
			req:    withID(json.Number("2")),
			err:    errors.New("boom"),
			status: 500,
			body:   `{"jsonrpc":"2.0","error":{"code":-32000,"message":"Server error","data":"boom"},"id":2}`,
		},
		{
			name:   "missing request",
			req:    nil,
			err:    rpcerr.New(rpcerr.InternalError),
			status: 500,
			body:   `{"jsonrpc":"2.0","error":{"code":-32603,"message":"Internal error"},"id":null}`,
		},
		{
			name:   "invalid id type is reported as null",
			req:    withID(map[string]any{}),
			err:    rpcerr.New(rpcerr.InvalidRequest),
			status: 400,
			body:   `{"jsonrpc":"2.0","error":{"code":-32600,"message":"Invalid Request"},"id":null}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reply := FormatResponse(tt.req, tt.err, nil)
			assert.Equal(t, tt.status, reply.Status)
			assert.Equal(t, tt.body, marshal(t, reply.Body))
		})
	}
}

func TestFormatResponseBodylessErrors(t *testing.T) {
	reply := FormatResponse(withID(json.Number("1")), rpcerr.New(rpcerr.DisallowedMethod), nil)
	require.Equal(t, http.StatusMethodNotAllowed, reply.Status)
	require.Nil(t, reply.Body)
	assert.Equal(t, http.MethodPost, reply.Header.Get("Allow"))

	reply = FormatResponse(withID(json.Number("1")), rpcerr.New(rpcerr.Timeout), nil)
	require.Equal(t, http.StatusGatewayTimeout, reply.Status)
	require.Nil(t, reply.Body)
	assert.Empty(t, reply.Header.Get("Allow"))
}

func TestEncodeFallsBackOnUnmarshalableResult(t *testing.T) {
	reply, body, err := encode(FormatResponse(withID(json.Number("3")), nil, make(chan int)))
	require.Error(t, err)
	assert.Equal(t, http.StatusInternalServerError, reply.Status)
	assert.Equal(t, rpcerr.InternalError, reply.Kind)

	var resp jsonrpc.Response
	require.NoError(t, json.Unmarshal(body, &resp), "fallback body does not decode")
	require.NotNil(t, resp.Error)
	assert.Equal(t, jsonrpc.ErrorCodeInternalError, resp.Error.Code)
	assert.Equal(t, "3", resp.ID.String())
}
