package source

import (
	"bytes"
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
)

// fakeGate はテスト用のGate実装。呼び出しを記録する。
type fakeGate struct {
	mu         sync.Mutex
	acquires   int
	acquireErr error
	updates    []int // Updateで渡されたremaining
	unknowns   int
	failures   int
	successes  int
}

func (g *fakeGate) Acquire(_ context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.acquires++
	return g.acquireErr
}

func (g *fakeGate) Update(remaining int, _ time.Time) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.updates = append(g.updates, remaining)
}

func (g *fakeGate) UpdateUnknown() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.unknowns++
}

func (g *fakeGate) ReportFailure() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.failures++
}

func (g *fakeGate) ReportSuccess() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.successes++
}

// newTestClient はテストサーバーに向けたClientとfakeGateを生成する。
func newTestClient(t *testing.T, handler http.Handler) (*Client, *fakeGate, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	gate := &fakeGate{}
	client := NewClient(Config{
		BaseURL:      server.URL,
		UserAgent:    "buzztail-test",
		PageSize:     100,
		PollInterval: time.Millisecond,
	}, gate, logger, nil)

	return client, gate, server
}

// TestDo_ParsesRateHeaders は応答ヘッダーのクォータ情報がゲートに反映されることを検証する。
func TestDo_ParsesRateHeaders(t *testing.T) {
	client, gate, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Ratelimit-Remaining", "42.0")
		w.Header().Set("X-Ratelimit-Reset", "120")
		w.Write([]byte(`{"kind":"Listing","data":{"after":"","children":[]}}`))
	}))

	if _, err := client.do(context.Background(), "/r/stocks/search.json", nil); err != nil {
		t.Fatalf("do() error = %v", err)
	}

	if gate.acquires != 1 {
		t.Errorf("Acquire呼び出し回数 = %d, want 1", gate.acquires)
	}
	if len(gate.updates) != 1 || gate.updates[0] != 42 {
		t.Errorf("updates = %v, want [42]", gate.updates)
	}
	if gate.successes != 1 {
		t.Errorf("ReportSuccess呼び出し回数 = %d, want 1", gate.successes)
	}
}

// TestDo_MissingRateHeaders はクォータヘッダー欠落時に悲観的デフォルトが
// 設定されることを検証する。
func TestDo_MissingRateHeaders(t *testing.T) {
	client, gate, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{}`))
	}))

	if _, err := client.do(context.Background(), "/r/stocks/new.json", nil); err != nil {
		t.Fatalf("do() error = %v", err)
	}

	if gate.unknowns != 1 {
		t.Errorf("UpdateUnknown呼び出し回数 = %d, want 1", gate.unknowns)
	}
}

// TestDo_RetriesTransientErrors は5xxが再試行され、成功すれば結果が返ることを検証する。
func TestDo_RetriesTransientErrors(t *testing.T) {
	var calls int
	client, gate, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Write([]byte(`{"ok":true}`))
	}))

	body, err := client.do(context.Background(), "/comments/abc.json", nil)
	if err != nil {
		t.Fatalf("do() error = %v", err)
	}
	if string(body) != `{"ok":true}` {
		t.Errorf("body = %s", body)
	}

	if calls != 3 {
		t.Errorf("リクエスト回数 = %d, want 3", calls)
	}
	if gate.failures != 2 {
		t.Errorf("ReportFailure呼び出し回数 = %d, want 2", gate.failures)
	}
	if gate.acquires != 3 {
		t.Errorf("Acquire呼び出し回数 = %d, want 3（再試行ごとにゲートを通る）", gate.acquires)
	}
}

// TestDo_GivesUpAfterMaxAttempts は再試行上限超過でエラーになることを検証する。
func TestDo_GivesUpAfterMaxAttempts(t *testing.T) {
	var calls int
	client, _, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusServiceUnavailable)
	}))

	if _, err := client.do(context.Background(), "/r/stocks/new.json", nil); err == nil {
		t.Fatal("再試行上限超過でエラーになりませんでした")
	}
	if calls != maxAttempts {
		t.Errorf("リクエスト回数 = %d, want %d", calls, maxAttempts)
	}
}

// TestDo_TerminalStatusNotRetried は404等の恒久的エラーが再試行されないことを検証する。
func TestDo_TerminalStatusNotRetried(t *testing.T) {
	var calls int
	client, gate, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusNotFound)
	}))

	if _, err := client.do(context.Background(), "/comments/zzz.json", nil); err == nil {
		t.Fatal("404でエラーになりませんでした")
	}
	if calls != 1 {
		t.Errorf("リクエスト回数 = %d, want 1", calls)
	}
	if gate.failures != 0 {
		t.Errorf("恒久的エラーでReportFailureが呼ばれました: %d", gate.failures)
	}
}

// TestDo_GateErrorPropagates はゲートのエラーがそのまま返ることを検証する。
func TestDo_GateErrorPropagates(t *testing.T) {
	client, gate, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{}`))
	}))
	gate.acquireErr = context.Canceled

	if _, err := client.do(context.Background(), "/r/stocks/new.json", nil); err == nil {
		t.Fatal("ゲートエラーが伝播しませんでした")
	}
}

// TestDo_SendsAuthHeaders はUser-AgentとBearerトークンが送信されることを検証する。
func TestDo_SendsAuthHeaders(t *testing.T) {
	var gotUA, gotAuth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		gotAuth = r.Header.Get("Authorization")
		w.Write([]byte(`{}`))
	}))
	defer server.Close()

	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	client := NewClient(Config{
		BaseURL:   server.URL,
		UserAgent: "Buzztail/1.0 discussion collector",
		Token:     "secret-token",
	}, &fakeGate{}, logger, nil)

	if _, err := client.do(context.Background(), "/r/stocks/new.json", nil); err != nil {
		t.Fatalf("do() error = %v", err)
	}

	if gotUA != "Buzztail/1.0 discussion collector" {
		t.Errorf("User-Agent = %q", gotUA)
	}
	if gotAuth != "Bearer secret-token" {
		t.Errorf("Authorization = %q", gotAuth)
	}
}
