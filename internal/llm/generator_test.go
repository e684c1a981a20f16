package llm

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"assistant-bot/internal/logging"
)

type fakeBackend struct {
	mu      sync.Mutex
	replies map[string]string
	errs    map[string]error
	calls   []Request
}

func (f *fakeBackend) Complete(ctx context.Context, req Request) (Response, error) {
	f.mu.Lock()
	f.calls = append(f.calls, req)
	f.mu.Unlock()
	if err := f.errs[req.Model]; err != nil {
		return Response{}, err
	}
	return Response{Content: f.replies[req.Model], Model: req.Model}, nil
}

func (f *fakeBackend) models() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.calls))
	for _, c := range f.calls {
		out = append(out, c.Model)
	}
	return out
}

func newTestGenerator(b Backend, models ...string) *Generator {
	return NewGenerator(b, NewPool(2), Options{Models: models, AttemptTimeout: time.Second, MaxTokens: 64, Temperature: 0.5})
}

func TestBuildPrompt_Order(t *testing.T) {
	g := newTestGenerator(&fakeBackend{}, "m")
	history := []Message{{Role: "user", Content: "one"}, {Role: "assistant", Content: "two"}}
	got := g.BuildPrompt("three", history)

	want := []Message{
		{Role: "system", Content: DefaultSystemPrompt},
		{Role: "user", Content: "one"},
		{Role: "assistant", Content: "two"},
		{Role: "user", Content: "three"},
	}
	if len(got) != len(want) {
		t.Fatalf("got %d messages, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("msg %d: got %+v, want %+v", i, got[i], want[i])
		}
	}
}

func TestGenerate_FirstModelSucceeds(t *testing.T) {
	fb := &fakeBackend{replies: map[string]string{"a": "  hi there \n", "b": "unused"}}
	g := newTestGenerator(fb, "a", "b")

	reply, err := g.Generate(context.Background(), "hello", nil)
	if err != nil {
		t.Fatal(err)
	}
	if reply != "hi there" {
		t.Fatalf("reply = %q", reply)
	}
	if m := fb.models(); len(m) != 1 || m[0] != "a" {
		t.Fatalf("models tried = %v", m)
	}
	if fb.calls[0].MaxTokens != 64 || fb.calls[0].Temperature != 0.5 {
		t.Fatalf("request options not forwarded: %+v", fb.calls[0])
	}
}

func TestGenerate_FallsBackToSecondModel(t *testing.T) {
	fb := &fakeBackend{
		replies: map[string]string{"b": "from b", "c": "from c"},
		errs:    map[string]error{"a": errors.New("rate limited")},
	}
	g := newTestGenerator(fb, "a", "b", "c")

	reply, err := g.Generate(context.Background(), "hello", nil)
	if err != nil {
		t.Fatalf("fallback error leaked: %v", err)
	}
	if reply != "from b" {
		t.Fatalf("reply = %q, want second model output", reply)
	}
	if m := fb.models(); strings.Join(m, ",") != "a,b" {
		t.Fatalf("models tried = %v", m)
	}
}

// captureLogs routes the default logger into a buffer for one test.
func captureLogs(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	logger, _, err := logging.New(logging.Options{Level: "DEBUG"}, &buf)
	if err != nil {
		t.Fatal(err)
	}
	prev := slog.Default()
	slog.SetDefault(logger)
	t.Cleanup(func() { slog.SetDefault(prev) })
	return &buf
}

func TestGenerate_FallbackFailureIsLogged(t *testing.T) {
	buf := captureLogs(t)
	fb := &fakeBackend{
		replies: map[string]string{"b": "from b"},
		errs:    map[string]error{"a": errors.New("rate limited")},
	}
	g := newTestGenerator(fb, "a", "b")
	ctx := logging.WithRequestID(context.Background())

	if _, err := g.Generate(ctx, "hello", nil); err != nil {
		t.Fatalf("fallback error leaked: %v", err)
	}

	var warn string
	for _, line := range strings.Split(buf.String(), "\n") {
		if strings.Contains(line, "level=WARN") && strings.Contains(line, `msg="model failed"`) {
			warn = line
		}
	}
	if warn == "" {
		t.Fatalf("no warning for the failed model:\n%s", buf.String())
	}
	for _, want := range []string{"model=a", "rate limited", "request_id=" + logging.RequestID(ctx)} {
		if !strings.Contains(warn, want) {
			t.Errorf("warning %q missing %q", warn, want)
		}
	}
	if strings.Contains(buf.String(), "model=b error=") {
		t.Error("successful model logged as failed")
	}
}

func TestModels_ReturnsCopy(t *testing.T) {
	g := newTestGenerator(&fakeBackend{}, "a", "b")
	got := g.Models()
	if strings.Join(got, ",") != "a,b" {
		t.Fatalf("models = %v", got)
	}
	got[0] = "changed"
	if g.Models()[0] != "a" {
		t.Fatal("Models exposes the internal slice")
	}
	if d := NewGenerator(&fakeBackend{}, NewPool(1), Options{}).Models(); strings.Join(d, ",") != strings.Join(DefaultModels, ",") {
		t.Fatalf("default models = %v", d)
	}
}

func TestGenerate_EmptyTextCountsAsFailure(t *testing.T) {
	fb := &fakeBackend{replies: map[string]string{"a": "   ", "b": "ok"}}
	g := newTestGenerator(fb, "a", "b")

	reply, err := g.Generate(context.Background(), "x", nil)
	if err != nil || reply != "ok" {
		t.Fatalf("reply=%q err=%v", reply, err)
	}
}

func TestGenerate_AllModelsFail(t *testing.T) {
	last := errors.New("c is down")
	fb := &fakeBackend{errs: map[string]error{
		"a": errors.New("a is down"),
		"b": errors.New("b is down"),
		"c": last,
	}}
	g := newTestGenerator(fb, "a", "b", "c")

	_, err := g.Generate(context.Background(), "x", nil)
	var ex *ExhaustedError
	if !errors.As(err, &ex) {
		t.Fatalf("want *ExhaustedError, got %T %v", err, err)
	}
	if len(ex.Attempts) != 3 {
		t.Fatalf("attempts = %d, want 3", len(ex.Attempts))
	}
	if !errors.Is(err, last) {
		t.Fatalf("aggregate error does not wrap the last failure: %v", err)
	}
	if m := fb.models(); strings.Join(m, ",") != "a,b,c" {
		t.Fatalf("each model must be tried exactly once, got %v", m)
	}

	if got := g.GenerateResponse(context.Background(), "x", nil); got != Apology {
		t.Fatalf("GenerateResponse = %q, want apology", got)
	}
}

type slowBackend struct{ delay time.Duration }

func (s slowBackend) Complete(ctx context.Context, req Request) (Response, error) {
	if req.Model == "fast" {
		return Response{Content: "fast reply"}, nil
	}
	select {
	case <-time.After(s.delay):
		return Response{Content: "too late"}, nil
	case <-ctx.Done():
		return Response{}, ctx.Err()
	}
}

func TestGenerate_TimeoutMovesToNextModel(t *testing.T) {
	g := NewGenerator(slowBackend{delay: time.Second}, NewPool(2), Options{
		Models:         []string{"slow", "fast"},
		AttemptTimeout: 20 * time.Millisecond,
	})
	reply, err := g.Generate(context.Background(), "x", nil)
	if err != nil {
		t.Fatal(err)
	}
	if reply != "fast reply" {
		t.Fatalf("reply = %q", reply)
	}
}

func TestPing(t *testing.T) {
	ok := newTestGenerator(&fakeBackend{replies: map[string]string{"m": "Hello!"}}, "m")
	if !ok.Ping(context.Background()) {
		t.Fatal("ping should succeed on hello")
	}
	bad := newTestGenerator(&fakeBackend{replies: map[string]string{"m": "nope"}}, "m")
	if bad.Ping(context.Background()) {
		t.Fatal("ping should fail without hello")
	}
	down := newTestGenerator(&fakeBackend{errs: map[string]error{"m": errors.New("down")}}, "m")
	if down.Ping(context.Background()) {
		t.Fatal("ping should fail when backend is down")
	}
}

func TestGenerate_AfterCloseReturnsApology(t *testing.T) {
	g := newTestGenerator(&fakeBackend{replies: map[string]string{"m": "hi"}}, "m")
	g.Close()
	_, err := g.Generate(context.Background(), "x", nil)
	if !errors.Is(err, ErrPoolClosed) {
		t.Fatalf("want ErrPoolClosed, got %v", err)
	}
	if got := g.GenerateResponse(context.Background(), "x", nil); got != Apology {
		t.Fatalf("got %q", got)
	}
}
