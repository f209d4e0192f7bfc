package model

import "time"

// 感情ラベル。保存できるのはこの3値のみ。
// 分類器はこれ以外のラベルを返すこともある。
const (
	SentimentPositive = "POSITIVE"
	SentimentNegative = "NEGATIVE"
	SentimentNeutral  = "NEUTRAL"
)

// IsKnownSentiment はラベルが保存可能な感情ラベルかどうかを返す。
func IsKnownSentiment(label string) bool {
	switch label {
	case SentimentPositive, SentimentNegative, SentimentNeutral:
		return true
	}
	return false
}

const (
	// MinRatingValue は評価値の下限。
	MinRatingValue = 1
	// MaxRatingValue は評価値の上限。
	MaxRatingValue = 5
)

// Rating は店舗に対するユーザーの評価を表す。
// Sentimentは常に設定され、分類失敗時はSentimentNeutralになる。
type Rating struct {
	ID         string
	StoreID    string
	UserID     string
	Value      int
	ReviewText string
	Sentiment  string
	CreatedAt  time.Time
}
