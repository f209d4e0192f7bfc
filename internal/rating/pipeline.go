// Package rating はレビュー付き評価の取り込みパイプラインを提供する。
//
// 状態遷移: Received → Classifying → Persisting → Committed
// 入力検証の失敗は Rejected、保存の失敗は Failed で終了する。
// 感情分類の失敗はパイプラインを止めず、NEUTRALにフォールバックして保存へ進む。
package rating

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/storerating/internal/metrics"
	"github.com/hitoshi/storerating/internal/model"
	"github.com/hitoshi/storerating/internal/repository"
	"github.com/hitoshi/storerating/internal/security"
	"github.com/hitoshi/storerating/internal/sentiment"
)

// DefaultClassifierTimeout は感情分類呼び出しのデフォルトのタイムアウト。
const DefaultClassifierTimeout = 5 * time.Second

// ErrPersistence は評価の保存に失敗したことを表す。
// 分類の失敗と異なり、送信された評価が失われたことを意味する。
var ErrPersistence = errors.New("rating persistence failed")

// State はパイプラインの状態。
type State string

const (
	StateReceived    State = "received"
	StateClassifying State = "classifying"
	StatePersisting  State = "persisting"
	StateCommitted   State = "committed"
	StateRejected    State = "rejected"
	StateFailed      State = "failed"
)

// フォールバック理由
const (
	fallbackTimeout      = "timeout"
	fallbackUnavailable  = "unavailable"
	fallbackEmpty        = "empty"
	fallbackUnrecognized = "unrecognized" // 保存できる3値以外のラベル
)

// Classifier はテキストの感情ラベルを返す外部サービス。
type Classifier interface {
	Classify(ctx context.Context, text string) (string, error)
}

// Submission は評価の送信内容。
type Submission struct {
	StoreID    string
	UserID     string
	Value      int
	ReviewText string
}

// Result はコミットされた評価と実際に使用した感情ラベル。
// Classified がfalseの場合、Sentiment はフォールバック値。
type Result struct {
	Rating     *model.Rating
	Sentiment  string
	Classified bool
	State      State
}

// Config はパイプラインの設定。
type Config struct {
	ClassifierTimeout time.Duration
}

// Pipeline は評価を検証・分類・保存する。
// 送信ごとに独立して動作し、ロックを保持しない。
type Pipeline struct {
	classifier Classifier
	repo       repository.RatingRepository
	sanitizer  security.TextSanitizer
	metrics    metrics.RatingMetrics
	logger     *slog.Logger
	timeout    time.Duration
	now        func() time.Time
	newID      func() string
}

// NewPipeline はPipelineの新しいインスタンスを生成する。
func NewPipeline(
	classifier Classifier,
	repo repository.RatingRepository,
	sanitizer security.TextSanitizer,
	m metrics.RatingMetrics,
	logger *slog.Logger,
	cfg Config,
) *Pipeline {
	if cfg.ClassifierTimeout <= 0 {
		cfg.ClassifierTimeout = DefaultClassifierTimeout
	}
	if m == nil {
		m = metrics.NopCollector{}
	}
	return &Pipeline{
		classifier: classifier,
		repo:       repo,
		sanitizer:  sanitizer,
		metrics:    m,
		logger:     logger,
		timeout:    cfg.ClassifierTimeout,
		now:        time.Now,
		newID:      uuid.NewString,
	}
}

// Submit は評価を1件取り込む。
// 検証エラーは *model.APIError（分類器の呼び出し・保存は行わない）、
// 保存エラーは ErrPersistence をラップして返す。
func (p *Pipeline) Submit(ctx context.Context, sub Submission) (*Result, error) {
	// Received
	if err := validate(sub); err != nil {
		p.metrics.RecordRatingOutcome(string(StateRejected))
		return nil, err
	}

	// Classifying: 分類器にはマークアップを除いた本文を渡す。保存するのは送信された本文
	label, classified := p.classify(ctx, p.sanitizer.Clean(sub.ReviewText))

	// Persisting: 以降は呼び出し元のキャンセルに影響されない
	persistCtx := context.WithoutCancel(ctx)
	r := &model.Rating{
		ID:         p.newID(),
		StoreID:    strings.TrimSpace(sub.StoreID),
		UserID:     sub.UserID,
		Value:      sub.Value,
		ReviewText: sub.ReviewText,
		Sentiment:  label,
		CreatedAt:  p.now(),
	}
	if err := p.repo.Create(persistCtx, r); err != nil {
		p.metrics.RecordRatingOutcome(string(StateFailed))
		p.logger.Error("評価の保存に失敗しました",
			slog.String("error", err.Error()),
			slog.String("store_id", r.StoreID),
			slog.String("user_id", r.UserID),
		)
		return nil, fmt.Errorf("%w: %w", ErrPersistence, err)
	}

	// Committed
	p.metrics.RecordRatingOutcome(string(StateCommitted))
	return &Result{
		Rating:     r,
		Sentiment:  label,
		Classified: classified,
		State:      StateCommitted,
	}, nil
}

// classify は上限時間内で感情分類を行う。
// 失敗した場合と、保存できる3値以外のラベルが返った場合はNEUTRALを返す。
func (p *Pipeline) classify(ctx context.Context, text string) (string, bool) {
	if text == "" {
		return model.SentimentNeutral, false
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	start := p.now()
	label, err := p.classifier.Classify(ctx, text)
	p.metrics.RecordClassifierLatency(p.now().Sub(start))
	if err == nil && model.IsKnownSentiment(label) {
		return label, true
	}

	reason := fallbackUnavailable
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		reason = fallbackTimeout
	case errors.Is(err, sentiment.ErrEmptyResult), err == nil && label == "":
		reason = fallbackEmpty
	case err == nil:
		reason = fallbackUnrecognized
	}
	p.metrics.RecordClassifierFallback(reason)

	attrs := []any{slog.String("reason", reason)}
	if err != nil {
		attrs = append(attrs, slog.String("error", err.Error()))
	}
	if reason == fallbackUnrecognized {
		attrs = append(attrs, slog.String("label", label))
	}
	p.logger.Warn("感情分類に失敗したためNEUTRALを使用します", attrs...)

	return model.SentimentNeutral, false
}

func validate(sub Submission) error {
	if sub.Value < model.MinRatingValue || sub.Value > model.MaxRatingValue {
		return model.NewInvalidRatingError(sub.Value)
	}
	if strings.TrimSpace(sub.StoreID) == "" {
		return model.NewValidationError("店舗IDを指定してください")
	}
	if strings.TrimSpace(sub.UserID) == "" {
		return model.NewValidationError("ユーザーIDが指定されていません")
	}
	return nil
}
