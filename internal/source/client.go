package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

const (
	// maxAttempts は一時的エラーに対する1呼び出しあたりの最大試行回数。
	maxAttempts = 3
	// maxResponseSize はレスポンスボディの最大読み取りサイズ（5MiB）。
	maxResponseSize = 5 * 1024 * 1024

	headerRateRemaining = "X-Ratelimit-Remaining"
	headerRateReset     = "X-Ratelimit-Reset"
)

// errTransient は再試行可能な呼び出し失敗を表す。
type errTransient struct {
	err error
}

func (e *errTransient) Error() string { return e.err.Error() }
func (e *errTransient) Unwrap() error { return e.err }

// CallRecorder はAPI呼び出しのメトリクス記録のインターフェース。
type CallRecorder interface {
	RecordAPICall(endpoint string, statusCode int)
}

// Config はクライアントの設定を保持する。
type Config struct {
	BaseURL      string
	UserAgent    string
	Token        string // 省略可。設定時はBearerトークンとして送信する
	Timeout      time.Duration
	PageSize     int           // 検索1ページあたりの取得件数
	PollInterval time.Duration // ストリームのポーリング間隔
}

// Client はコンテンツソースのHTTP APIクライアント。
// すべてのリクエストは単一のチョークポイント（do）を通り、
// Gate.Acquireによるゲートと応答メタデータによる予算更新を受ける。
type Client struct {
	httpClient *http.Client
	cfg        Config
	gate       Gate
	logger     *slog.Logger
	metrics    CallRecorder
}

// NewClient はClientの新しいインスタンスを生成する。
// metricsはnilでもよい（記録なし）。
func NewClient(cfg Config, gate Gate, logger *slog.Logger, metrics CallRecorder) *Client {
	if cfg.PageSize <= 0 {
		cfg.PageSize = 100
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 10 * time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	return &Client{
		httpClient: &http.Client{Timeout: cfg.Timeout},
		cfg:        cfg,
		gate:       gate,
		logger:     logger,
		metrics:    metrics,
	}
}

// do はゲート取得→リクエスト実行→予算更新を行う単一のチョークポイント。
// 429/5xx/ネットワークエラーは一時的エラーとして指数バックオフ付きで
// 最大maxAttempts回まで再試行する。
func (c *Client) do(ctx context.Context, path string, query url.Values) ([]byte, error) {
	var lastErr error

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		body, err := c.doOnce(ctx, path, query)
		if err == nil {
			return body, nil
		}

		var transient *errTransient
		if !errors.As(err, &transient) {
			return nil, err
		}

		lastErr = err
		c.logger.Warn("一時的エラーが発生しました。再試行します",
			slog.String("path", path),
			slog.Int("attempt", attempt),
			slog.String("error", err.Error()),
		)
	}

	return nil, fmt.Errorf("再試行の上限に達しました: %w", lastErr)
}

// doOnce は1回のゲート付きリクエストを実行する。
func (c *Client) doOnce(ctx context.Context, path string, query url.Values) ([]byte, error) {
	if err := c.gate.Acquire(ctx); err != nil {
		return nil, err
	}

	reqURL, err := url.Parse(c.cfg.BaseURL + path)
	if err != nil {
		return nil, fmt.Errorf("リクエストURLの構築に失敗しました: %w", err)
	}
	if query != nil {
		reqURL.RawQuery = query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("HTTPリクエストの作成に失敗しました: %w", err)
	}
	req.Header.Set("User-Agent", c.cfg.UserAgent)
	req.Header.Set("Accept", "application/json")
	if c.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.Token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		// コンテキストのキャンセルは再試行しない
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		c.gate.ReportFailure()
		return nil, &errTransient{err: fmt.Errorf("HTTPリクエストに失敗しました: %w", err)}
	}
	defer resp.Body.Close()

	c.updateBudget(resp)
	if c.metrics != nil {
		c.metrics.RecordAPICall(path, resp.StatusCode)
	}

	switch {
	case resp.StatusCode == http.StatusOK:
		// 以下で処理を続行
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		c.gate.ReportFailure()
		return nil, &errTransient{err: fmt.Errorf("ソースがステータス %d を返しました", resp.StatusCode)}
	default:
		return nil, fmt.Errorf("ソースがステータス %d を返しました: %s", resp.StatusCode, path)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		c.gate.ReportFailure()
		return nil, &errTransient{err: fmt.Errorf("レスポンスボディの読み取りに失敗しました: %w", err)}
	}

	c.gate.ReportSuccess()
	return body, nil
}

// updateBudget は応答ヘッダーのクォータ情報をゲートに反映する。
// ヘッダーが欠落している場合は悲観的デフォルトを設定する。
func (c *Client) updateBudget(resp *http.Response) {
	remainingStr := resp.Header.Get(headerRateRemaining)
	resetStr := resp.Header.Get(headerRateReset)

	if remainingStr == "" || resetStr == "" {
		c.gate.UpdateUnknown()
		return
	}

	// remainingは"598.0"のような小数表記で届く
	remaining, err1 := strconv.ParseFloat(remainingStr, 64)
	resetSec, err2 := strconv.ParseFloat(resetStr, 64)
	if err1 != nil || err2 != nil {
		c.gate.UpdateUnknown()
		return
	}

	c.gate.Update(int(remaining), time.Now().Add(time.Duration(resetSec*float64(time.Second))))
}
