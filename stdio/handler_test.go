package stdio

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ggoodman/jsonrpc-server-go/dispatcher"
	"github.com/ggoodman/jsonrpc-server-go/entity"
	"github.com/ggoodman/jsonrpc-server-go/schema"
)

// testHarness encapsulates pipes and collected output for stdio handler tests.
type testHarness struct {
	t      *testing.T
	stdinW io.WriteCloser
	outMu  sync.Mutex
	lines  []string
	served chan error
	users  chan string
}

func newHarness(t *testing.T) *testHarness {
	t.Helper()

	inR, inW := io.Pipe()
	outR, outW := io.Pipe()

	th := &testHarness{t: t, stdinW: inW, served: make(chan error, 1), users: make(chan string, 4)}

	d := dispatcher.New()
	err := d.Register("/", dispatcher.Registration{
		Receiver: th,
		Methods: map[string]dispatcher.Method{
			"echo":   {Handler: "Echo", Params: schema.Positional{{Type: schema.Any, Required: true}}},
			"whoami": {Handler: "WhoAmI"},
		},
	})
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	h, err := NewHandler(d,
		WithIO(inR, outW),
		WithLogger(slog.Default()),
		WithUserProvider(StaticUserProvider("tester")),
	)
	if err != nil {
		t.Fatalf("new handler: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		th.served <- h.Serve(ctx)
	}()

	go func() {
		sc := bufio.NewScanner(outR)
		for sc.Scan() {
			line := strings.TrimSpace(sc.Text())
			t.Logf("OUT: %s", line)
			th.outMu.Lock()
			th.lines = append(th.lines, line)
			th.outMu.Unlock()
		}
	}()

	t.Cleanup(func() {
		cancel()
		_ = inW.Close()
		_ = outW.Close()
	})
	return th
}

func (th *testHarness) Echo(ctx context.Context, params any, respond dispatcher.Respond, req *entity.ParsedRequest, _ int) {
	respond(nil, params.([]any)[0])
}

func (th *testHarness) WhoAmI(ctx context.Context, params any, respond dispatcher.Respond, req *entity.ParsedRequest, _ int) {
	user := req.Header.Get(PeerUserHeader)
	th.users <- user
	respond(nil, user)
}

func (th *testHarness) send(line string) {
	th.t.Helper()
	if _, err := io.WriteString(th.stdinW, line+"\n"); err != nil {
		th.t.Fatalf("write stdin: %v", err)
	}
}

func (th *testHarness) nextLine(timeout time.Duration) (string, error) {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		th.outMu.Lock()
		if len(th.lines) > 0 {
			s := th.lines[0]
			th.lines = th.lines[1:]
			th.outMu.Unlock()
			return s, nil
		}
		th.outMu.Unlock()
		time.Sleep(2 * time.Millisecond)
	}
	return "", fmt.Errorf("timeout waiting for output line")
}

func (th *testHarness) expectLine(want string) {
	th.t.Helper()
	got, err := th.nextLine(2 * time.Second)
	if err != nil {
		th.t.Fatal(err)
	}
	if got != want {
		th.t.Fatalf("unexpected output:\nwant %s\ngot  %s", want, got)
	}
}

func TestRequestResponse(t *testing.T) {
	th := newHarness(t)

	th.send(`{"jsonrpc":"2.0","method":"echo","params":[{"a":1}],"id":1}`)
	th.expectLine(`{"jsonrpc":"2.0","result":{"a":1},"id":1}`)

	th.send(`{"jsonrpc":"2.0","method":"echo","params":[1],"id":9007199254740993}`)
	th.expectLine(`{"jsonrpc":"2.0","result":1,"id":9007199254740993}`)
}

func TestNotificationProducesNoOutput(t *testing.T) {
	th := newHarness(t)

	th.send(`{"jsonrpc":"2.0","method":"echo","params":["quiet"]}`)
	th.send(`{"jsonrpc":"2.0","method":"echo","params":["loud"],"id":"after"}`)
	th.expectLine(`{"jsonrpc":"2.0","result":"loud","id":"after"}`)

	if line, err := th.nextLine(50 * time.Millisecond); err == nil {
		t.Fatalf("unexpected extra output %s", line)
	}
}

func TestErrorsAreFramed(t *testing.T) {
	th := newHarness(t)

	th.send(`{"jsonrpc":"2.0","method":"nope","id":2}`)
	th.expectLine(`{"jsonrpc":"2.0","error":{"code":-32601,"message":"Method not found"},"id":2}`)

	th.send(`{not json`)
	th.expectLine(`{"jsonrpc":"2.0","error":{"code":-32700,"message":"Parse error"},"id":null}`)

	th.send(`[{"jsonrpc":"2.0","method":"echo","id":3}]`)
	th.expectLine(`{"jsonrpc":"2.0","error":{"code":-32002,"message":"Server error","data":"Batch requests not implemented"},"id":null}`)
}

func TestPeerUserHeader(t *testing.T) {
	th := newHarness(t)

	th.send(`{"jsonrpc":"2.0","method":"whoami","id":1}`)
	th.expectLine(`{"jsonrpc":"2.0","result":"tester","id":1}`)
}

func TestServeReturnsOnEOF(t *testing.T) {
	th := newHarness(t)

	th.send(`{"jsonrpc":"2.0","method":"echo","params":[true],"id":1}`)
	th.expectLine(`{"jsonrpc":"2.0","result":true,"id":1}`)
	_ = th.stdinW.Close()

	select {
	case err := <-th.served:
		if err != nil {
			t.Fatalf("Serve returned %v, want nil on EOF", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return after EOF")
	}
}

type failingUser struct{}

func (failingUser) CurrentUserID() (string, error) { return "", errors.New("no user") }

func TestServeFailsWithoutUser(t *testing.T) {
	h, err := NewHandler(dispatcher.New(), WithIO(strings.NewReader(""), io.Discard), WithUserProvider(failingUser{}))
	if err != nil {
		t.Fatal(err)
	}
	if err := h.Serve(context.Background()); err == nil {
		t.Fatal("expected error when the peer user cannot be resolved")
	}
}

func TestServeRejectsLongLines(t *testing.T) {
	long := `{"jsonrpc":"2.0","method":"echo","params":["` + strings.Repeat("x", 256) + `"],"id":1}` + "\n"
	var out strings.Builder
	h, err := NewHandler(dispatcher.New(),
		WithIO(strings.NewReader(long), &out),
		WithMaxLineBytes(64),
		WithUserProvider(StaticUserProvider("u")),
	)
	if err != nil {
		t.Fatal(err)
	}
	if err := h.Serve(context.Background()); !errors.Is(err, bufio.ErrTooLong) {
		t.Fatalf("err = %v, want bufio.ErrTooLong", err)
	}
}

func TestNewHandlerRequiresDispatcher(t *testing.T) {
	if _, err := NewHandler(nil); err == nil {
		t.Fatal("expected error")
	}
}

func TestReplyIsValidJSON(t *testing.T) {
	th := newHarness(t)
	th.send(`{"jsonrpc":"2.0","method":"echo","params":["<tag>"],"id":1}`)
	line, err := th.nextLine(2 * time.Second)
	if err != nil {
		t.Fatal(err)
	}
	var v map[string]any
	if err := json.Unmarshal([]byte(line), &v); err != nil {
		t.Fatalf("reply is not JSON: %v", err)
	}
	if v["result"] != "<tag>" {
		t.Fatalf("result = %v", v["result"])
	}
}
