package redisrelay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/ggoodman/jsonrpc-server-go/internal/jsonrpc"
)

// ErrNoReply is returned by Client.Call when no reply arrived in time.
var ErrNoReply = errors.New("redisrelay: no reply")

// ErrEmptyReply is returned by Client.Invoke for a reply without a JSON-RPC
// envelope, such as a timeout.
var ErrEmptyReply = errors.New("redisrelay: reply has no body")

// Client submits calls to a Relay through Redis.
type Client struct {
	client redis.UniversalClient
	cfg    Config
}

// NewClient returns a Client using the same key layout as a Relay built
// from cfg. cfg.Client must be set.
func NewClient(cfg Config) (*Client, error) {
	if cfg.Client == nil {
		return nil, errors.New("redisrelay: Config.Client is required")
	}
	return &Client{client: cfg.Client, cfg: cfg.withDefaults()}, nil
}

// Notify enqueues payload for path without waiting for a reply.
func (c *Client) Notify(ctx context.Context, path string, payload any) error {
	return c.push(ctx, Envelope{Path: path}, payload)
}

// Call enqueues payload for path and waits for its reply. The wait is bounded
// by ctx and by the configured reply TTL.
func (c *Client) Call(ctx context.Context, path string, payload any) (Reply, error) {
	to := uuid.NewString()
	if err := c.push(ctx, Envelope{Path: path, ReplyTo: to}, payload); err != nil {
		return Reply{}, err
	}

	wait := c.cfg.ReplyTTL
	if deadline, ok := ctx.Deadline(); ok {
		wait = time.Until(deadline)
	}
	if wait <= 0 {
		return Reply{}, ErrNoReply
	}
	res, err := c.client.BLPop(ctx, wait, replyKey(c.cfg, to)).Result()
	if errors.Is(err, redis.Nil) {
		return Reply{}, ErrNoReply
	}
	if err != nil {
		return Reply{}, fmt.Errorf("redisrelay: wait reply: %w", err)
	}

	var reply Reply
	if err := json.Unmarshal([]byte(res[1]), &reply); err != nil {
		return Reply{}, fmt.Errorf("redisrelay: decode reply: %w", err)
	}
	return reply, nil
}

func (c *Client) push(ctx context.Context, env Envelope, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("redisrelay: encode payload: %w", err)
	}
	env.Payload = raw

	b, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("redisrelay: encode envelope: %w", err)
	}
	if err := c.client.RPush(ctx, queueKey(c.cfg), b).Err(); err != nil {
		return fmt.Errorf("redisrelay: push: %w", err)
	}
	return nil
}

// Invoke calls method at path with params and returns the decoded result.
// A JSON-RPC error reply is returned as the error.
func (c *Client) Invoke(ctx context.Context, path, method string, params any) (any, error) {
	req, err := newRequest(method, params, jsonrpc.NewRequestID(uuid.NewString()))
	if err != nil {
		return nil, err
	}
	reply, err := c.Call(ctx, path, req)
	if err != nil {
		return nil, err
	}
	return decodeResult(reply, req.ID)
}

// Emit sends method at path as a notification.
func (c *Client) Emit(ctx context.Context, path, method string, params any) error {
	req, err := newRequest(method, params, nil)
	if err != nil {
		return err
	}
	return c.Notify(ctx, path, req)
}

func newRequest(method string, params any, id *jsonrpc.RequestID) (*jsonrpc.Request, error) {
	req := &jsonrpc.Request{JSONRPCVersion: jsonrpc.ProtocolVersion, Method: method, ID: id}
	if params != nil {
		raw, err := json.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("redisrelay: encode params: %w", err)
		}
		req.Params = raw
	}
	return req, nil
}

func decodeResult(reply Reply, id *jsonrpc.RequestID) (any, error) {
	if len(reply.Payload) == 0 {
		return nil, fmt.Errorf("%w: status %d", ErrEmptyReply, reply.Status)
	}
	var resp jsonrpc.Response
	if err := json.Unmarshal(reply.Payload, &resp); err != nil {
		return nil, fmt.Errorf("redisrelay: decode response: %w", err)
	}
	if resp.Error != nil {
		return nil, resp.Error
	}
	if resp.ID.IsNil() || resp.ID.String() != id.String() {
		return nil, fmt.Errorf("redisrelay: reply id %q does not match request %q", resp.ID.String(), id.String())
	}
	return resp.Result, nil
}
