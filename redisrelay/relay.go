package redisrelay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/redis/go-redis/v9"

	"github.com/ggoodman/jsonrpc-server-go/dispatcher"
	"github.com/ggoodman/jsonrpc-server-go/entity"
	"github.com/ggoodman/jsonrpc-server-go/internal/logctx"
)

// Config for the relay. Defaults can be loaded via envdecode.
type Config struct {
	// Client overrides the client built from RedisAddr.
	Client redis.UniversalClient

	// RedisAddr like "localhost:6379". ENV: REDIS_ADDR
	RedisAddr string `env:"REDIS_ADDR,default=localhost:6379"`
	// KeyPrefix for all keys. ENV: RELAY_KEY_PREFIX
	KeyPrefix string `env:"RELAY_KEY_PREFIX,default=jsonrpc:relay:"`
	// Queue names the request list under KeyPrefix. ENV: RELAY_QUEUE
	Queue string `env:"RELAY_QUEUE,default=requests"`
	// ReplyTTL bounds how long an unread reply is kept. ENV: RELAY_REPLY_TTL
	ReplyTTL time.Duration `env:"RELAY_REPLY_TTL,default=1m"`
	// Concurrency caps the calls in flight. ENV: RELAY_CONCURRENCY
	Concurrency int `env:"RELAY_CONCURRENCY,default=16"`
}

func (c Config) withDefaults() Config {
	if c.RedisAddr == "" {
		c.RedisAddr = "localhost:6379"
	}
	if c.KeyPrefix == "" {
		c.KeyPrefix = "jsonrpc:relay:"
	}
	if c.Queue == "" {
		c.Queue = "requests"
	}
	if c.ReplyTTL <= 0 {
		c.ReplyTTL = time.Minute
	}
	if c.Concurrency <= 0 {
		c.Concurrency = 16
	}
	return c
}

// Envelope is one call on the request list.
type Envelope struct {
	// ReplyTo names the reply list under the key prefix. Empty means the
	// producer does not want a reply.
	ReplyTo string          `json:"replyTo,omitempty"`
	Path    string          `json:"path"`
	Payload json.RawMessage `json:"payload"`
}

// Reply is pushed to the ReplyTo list once the call completes. Payload is
// empty for notifications and for errors without a JSON-RPC body.
type Reply struct {
	Status  int             `json:"status"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Option configures a Relay.
type Option func(*Relay)

// WithLogger sets the logger. If not provided, logs are discarded.
func WithLogger(l *slog.Logger) Option {
	return func(r *Relay) { r.log = l }
}

// Relay pops envelopes from Redis and dispatches them.
type Relay struct {
	client redis.UniversalClient
	cfg    Config
	d      *dispatcher.Dispatcher
	log    *slog.Logger
}

// New connects to Redis and returns a Relay for d.
func New(ctx context.Context, cfg Config, d *dispatcher.Dispatcher, opts ...Option) (*Relay, error) {
	if d == nil {
		return nil, errors.New("redisrelay: dispatcher is required")
	}
	cfg = cfg.withDefaults()

	client := cfg.Client
	if client == nil {
		client = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	}
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	r := &Relay{client: client, cfg: cfg, d: d}
	for _, opt := range opts {
		opt(r)
	}
	r.log = logctx.Wrap(r.log)
	return r, nil
}

// NewFromEnv builds a Relay using envdecode to populate Config.
func NewFromEnv(ctx context.Context, d *dispatcher.Dispatcher, opts ...Option) (*Relay, error) {
	cfg, err := ConfigFromEnv()
	if err != nil {
		return nil, err
	}
	return New(ctx, cfg, d, opts...)
}

// ConfigFromEnv decodes Config from the environment. Defaults come from the
// struct tags; a malformed value is an error.
func ConfigFromEnv() (Config, error) {
	var cfg Config
	if err := envdecode.Decode(&cfg); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return Config{}, fmt.Errorf("redisrelay: decode environment: %w", err)
	}
	return cfg, nil
}

// Close closes the Redis client.
func (r *Relay) Close() error { return r.client.Close() }

func (r *Relay) queueKey() string { return queueKey(r.cfg) }

func queueKey(cfg Config) string            { return cfg.KeyPrefix + cfg.Queue }
func replyKey(cfg Config, to string) string { return cfg.KeyPrefix + "reply:" + to }

// Serve pops and dispatches envelopes until ctx is canceled. It returns
// ctx's error, or the first Redis error other than a pop timeout.
func (r *Relay) Serve(ctx context.Context) error {
	key := r.queueKey()
	slots := make(chan struct{}, r.cfg.Concurrency)
	r.log.InfoContext(ctx, "relay.serve.start", slog.String("queue", key))

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case slots <- struct{}{}:
		}

		res, err := r.client.BLPop(ctx, time.Second, key).Result()
		if err != nil {
			<-slots
			if errors.Is(err, redis.Nil) {
				continue
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			r.log.ErrorContext(ctx, "relay.pop.fail", slog.String("err", err.Error()))
			return fmt.Errorf("redisrelay: pop %s: %w", key, err)
		}

		// BLPOP returns the key followed by the value.
		e := r.dispatch(ctx, []byte(res[1]))
		go func() {
			<-e.Done()
			<-slots
		}()
	}
}

func (r *Relay) dispatch(ctx context.Context, raw []byte) entity.Entity {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		// Let the engine report the parse error; there is nowhere to reply.
		r.log.WarnContext(ctx, "relay.envelope.invalid", slog.String("err", err.Error()))
		env = Envelope{Payload: raw}
	}

	return r.d.Proxy(ctx, &entity.DirectRequest{
		Header:  http.Header{"Content-Type": {entity.ContentType}},
		Path:    env.Path,
		Payload: env.Payload,
	}, func(resp entity.DirectResponse) {
		if env.ReplyTo == "" {
			return
		}
		r.reply(ctx, env.ReplyTo, Reply{Status: resp.Status, Payload: resp.Body})
	})
}

func (r *Relay) reply(ctx context.Context, to string, reply Reply) {
	b, err := json.Marshal(reply)
	if err != nil {
		r.log.ErrorContext(ctx, "relay.reply.encode_fail", slog.String("err", err.Error()))
		return
	}

	key := replyKey(r.cfg, to)
	pipe := r.client.TxPipeline()
	pipe.RPush(ctx, key, b)
	pipe.Expire(ctx, key, r.cfg.ReplyTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		r.log.ErrorContext(ctx, "relay.reply.push_fail", slog.String("key", key), slog.String("err", err.Error()))
	}
}
