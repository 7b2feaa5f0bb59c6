package redisrelay

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ggoodman/jsonrpc-server-go/dispatcher"
	"github.com/ggoodman/jsonrpc-server-go/entity"
	"github.com/ggoodman/jsonrpc-server-go/internal/jsonrpc"
	"github.com/ggoodman/jsonrpc-server-go/schema"
)

func TestConfigFromEnv(t *testing.T) {
	t.Setenv("REDIS_ADDR", "redis.internal:6380")
	t.Setenv("RELAY_REPLY_TTL", "30s")

	cfg, err := ConfigFromEnv()
	require.NoError(t, err)
	assert.Equal(t, "redis.internal:6380", cfg.RedisAddr)
	assert.Equal(t, "jsonrpc:relay:", cfg.KeyPrefix)
	assert.Equal(t, "requests", cfg.Queue)
	assert.Equal(t, 30*time.Second, cfg.ReplyTTL)
	assert.Equal(t, 16, cfg.Concurrency)
}

func TestConfigFromEnvRejectsMalformedValues(t *testing.T) {
	t.Setenv("RELAY_REPLY_TTL", "abc")
	_, err := ConfigFromEnv()
	require.Error(t, err)

	_, err = NewFromEnv(context.Background(), dispatcher.New())
	require.Error(t, err)
}

func TestConfigDefaults(t *testing.T) {
	cfg := Config{}.withDefaults()
	assert.Equal(t, "jsonrpc:relay:requests", queueKey(cfg))
	assert.Equal(t, "jsonrpc:relay:reply:abc", replyKey(cfg, "abc"))
	assert.Equal(t, time.Minute, cfg.ReplyTTL)
}

func TestNewRequiresDispatcher(t *testing.T) {
	_, err := New(context.Background(), Config{}, nil)
	require.Error(t, err)
}

func TestNewRequest(t *testing.T) {
	req, err := newRequest("hello", map[string]any{"name": "n"}, jsonrpc.NewRequestID("abc"))
	require.NoError(t, err)
	b, err := json.Marshal(req)
	require.NoError(t, err)
	assert.JSONEq(t, `{"jsonrpc":"2.0","method":"hello","params":{"name":"n"},"id":"abc"}`, string(b))

	note, err := newRequest("hello", nil, nil)
	require.NoError(t, err)
	b, err = json.Marshal(note)
	require.NoError(t, err)
	assert.JSONEq(t, `{"jsonrpc":"2.0","method":"hello"}`, string(b))

	_, err = newRequest("hello", make(chan int), nil)
	require.Error(t, err)
}

func TestDecodeResult(t *testing.T) {
	id := jsonrpc.NewRequestID("abc")

	got, err := decodeResult(Reply{Status: http.StatusOK, Payload: json.RawMessage(`{"jsonrpc":"2.0","result":{"n":1},"id":"abc"}`)}, id)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"n": float64(1)}, got)

	_, err = decodeResult(Reply{Status: http.StatusNotFound, Payload: json.RawMessage(`{"jsonrpc":"2.0","error":{"code":-32601,"message":"Method not found"},"id":"abc"}`)}, id)
	var rpcErr *jsonrpc.Error
	require.ErrorAs(t, err, &rpcErr)
	assert.Equal(t, jsonrpc.ErrorCodeMethodNotFound, rpcErr.Code)

	_, err = decodeResult(Reply{Status: http.StatusGatewayTimeout}, id)
	require.ErrorIs(t, err, ErrEmptyReply)

	_, err = decodeResult(Reply{Status: http.StatusOK, Payload: json.RawMessage(`{"jsonrpc":"2.0","result":1,"id":"other"}`)}, id)
	require.Error(t, err)

	_, err = decodeResult(Reply{Status: http.StatusOK, Payload: json.RawMessage(`{"jsonrpc":"2.0","result":1,"id":null}`)}, id)
	require.Error(t, err)

	_, err = decodeResult(Reply{Status: http.StatusOK, Payload: json.RawMessage(`{"jsonrpc":"2.0","id":"abc"}`)}, id)
	require.Error(t, err, "a response needs a result or an error")
}

type greeter struct{}

func (greeter) Hello(ctx context.Context, params any, respond dispatcher.Respond, req *entity.ParsedRequest, _ int) {
	respond(nil, "hello "+params.(map[string]any)["name"].(string))
}

func TestRelayRoundTrip(t *testing.T) {
	testClient := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
	if err := testClient.Ping(context.Background()).Err(); err != nil {
		t.Skipf("Redis not available: %v", err)
	}
	defer testClient.Close()

	d := dispatcher.New()
	require.NoError(t, d.Register("/greet", dispatcher.Registration{
		Receiver: greeter{},
		Methods: map[string]dispatcher.Method{
			"hello": {Handler: "Hello", Params: schema.Named{"name": {Type: schema.String, Required: true}}},
		},
	}))

	cfg := Config{
		Client:    redis.NewClient(&redis.Options{Addr: "localhost:6379"}),
		KeyPrefix: "test:relay:" + uuid.NewString() + ":",
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	relay, err := New(ctx, cfg, d)
	require.NoError(t, err)
	defer relay.Close()

	served := make(chan error, 1)
	go func() { served <- relay.Serve(ctx) }()

	client, err := NewClient(Config{Client: testClient, KeyPrefix: cfg.KeyPrefix})
	require.NoError(t, err)

	callCtx, callCancel := context.WithTimeout(ctx, 5*time.Second)
	defer callCancel()

	reply, err := client.Call(callCtx, "/greet", map[string]any{
		"jsonrpc": "2.0", "method": "hello", "params": map[string]any{"name": "redis"}, "id": 1,
	})
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, reply.Status)
	assert.JSONEq(t, `{"jsonrpc":"2.0","result":"hello redis","id":1}`, string(reply.Payload))

	reply, err = client.Call(callCtx, "/greet", map[string]any{"jsonrpc": "2.0", "method": "hello", "params": map[string]any{"name": "n"}})
	require.NoError(t, err)
	assert.Equal(t, http.StatusNoContent, reply.Status)
	assert.Empty(t, reply.Payload)

	reply, err = client.Call(callCtx, "/nowhere", map[string]any{"jsonrpc": "2.0", "method": "hello", "id": "x"})
	require.NoError(t, err)
	var body map[string]any
	require.NoError(t, json.Unmarshal(reply.Payload, &body))
	assert.Equal(t, float64(-32001), body["error"].(map[string]any)["code"])

	require.NoError(t, client.Notify(callCtx, "/greet", map[string]any{"jsonrpc": "2.0", "method": "hello", "params": map[string]any{"name": "n"}}))

	result, err := client.Invoke(callCtx, "/greet", "hello", map[string]any{"name": "typed"})
	require.NoError(t, err)
	assert.Equal(t, "hello typed", result)

	_, err = client.Invoke(callCtx, "/greet", "missing", nil)
	var rpcErr *jsonrpc.Error
	require.ErrorAs(t, err, &rpcErr)
	assert.Equal(t, jsonrpc.ErrorCodeMethodNotFound, rpcErr.Code)

	require.NoError(t, client.Emit(callCtx, "/greet", "hello", map[string]any{"name": "n"}))

	cancel()
	select {
	case err := <-served:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}
