// Package sentiment は外部のテキスト分類サービスを呼び出して
// レビュー本文の感情ラベルを取得するクライアントを提供する。
package sentiment

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
)

// DefaultEndpoint はHugging Face Inference APIのSST-2分類モデルのエンドポイント。
const DefaultEndpoint = "https://api-inference.huggingface.co/models/distilbert-base-uncased-finetuned-sst-2-english"

// maxResponseBytes はレスポンスボディの読み取り上限。
const maxResponseBytes = 1 << 20

// ErrEmptyResult は分類サービスがラベルを返さなかったことを表す。
var ErrEmptyResult = errors.New("classifier returned no label")

// Client はテキスト分類サービスのクライアント。
type Client struct {
	httpClient *http.Client
	logger     *slog.Logger
	endpoint   string
	apiKey     string
}

// NewClient はClientの新しいインスタンスを生成する。
// endpointが空の場合は DefaultEndpoint を使用する。
func NewClient(httpClient *http.Client, logger *slog.Logger, endpoint, apiKey string) *Client {
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	return &Client{
		httpClient: httpClient,
		logger:     logger,
		endpoint:   endpoint,
		apiKey:     apiKey,
	}
}

type classifyRequest struct {
	Inputs string `json:"inputs"`
}

type labelScore struct {
	Label string  `json:"label"`
	Score float64 `json:"score"`
}

// Classify はテキストの感情ラベルを返す。ラベルは大文字に正規化する。
// タイムアウトはctxで制御し、呼び出し元が期限を設定する。
func (c *Client) Classify(ctx context.Context, text string) (string, error) {
	payload, err := json.Marshal(classifyRequest{Inputs: text})
	if err != nil {
		return "", fmt.Errorf("failed to encode classifier request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("failed to create classifier request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("classifier request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return "", fmt.Errorf("failed to read classifier response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		c.logger.Warn("分類サービスがエラーステータスを返しました",
			slog.Int("http_status", resp.StatusCode),
		)
		return "", fmt.Errorf("classifier returned status %d", resp.StatusCode)
	}

	label, err := parseLabel(body)
	if err != nil {
		return "", err
	}
	return label, nil
}

// parseLabel は [[{label,score}...]] と [{label,score}...] の両形式を受け付け、
// 最もスコアの高いラベルを返す。
func parseLabel(body []byte) (string, error) {
	var candidates []labelScore

	var nested [][]labelScore
	if err := json.Unmarshal(body, &nested); err == nil {
		if len(nested) > 0 {
			candidates = nested[0]
		}
	} else {
		var flat []labelScore
		if err := json.Unmarshal(body, &flat); err != nil {
			return "", fmt.Errorf("failed to parse classifier response: %w", err)
		}
		candidates = flat
	}

	best := -1
	for i, cand := range candidates {
		if strings.TrimSpace(cand.Label) == "" {
			continue
		}
		if best < 0 || cand.Score > candidates[best].Score {
			best = i
		}
	}
	if best < 0 {
		return "", ErrEmptyResult
	}
	return strings.ToUpper(strings.TrimSpace(candidates[best].Label)), nil
}
