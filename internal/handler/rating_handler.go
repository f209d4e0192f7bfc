package handler

import (
	"context"
	"net/http"

	"github.com/hitoshi/storerating/internal/middleware"
	"github.com/hitoshi/storerating/internal/rating"
)

// RatingSubmitter は評価を取り込む。
type RatingSubmitter interface {
	Submit(ctx context.Context, sub rating.Submission) (*rating.Result, error)
}

// RatingHandler は評価送信のHTTPハンドラー。
type RatingHandler struct {
	pipeline RatingSubmitter
}

// NewRatingHandler はRatingHandlerを生成する。
func NewRatingHandler(pipeline RatingSubmitter) *RatingHandler {
	return &RatingHandler{pipeline: pipeline}
}

type submitRatingRequest struct {
	StoreID    string `json:"storeId"`
	Value      int    `json:"value"`
	ReviewText string `json:"reviewText"`
}

type ratingResponse struct {
	ID         string `json:"id"`
	StoreID    string `json:"storeId"`
	UserID     string `json:"userId"`
	Value      int    `json:"value"`
	ReviewText string `json:"reviewText"`
	Sentiment  string `json:"sentiment"`
}

type submitRatingResponse struct {
	Sentiment  string         `json:"sentiment"`
	Classified bool           `json:"classified"`
	Rating     ratingResponse `json:"rating"`
}

// SubmitRating は評価を送信する。ユーザーIDは呼び出し元から決定し、ボディの値は使わない。
// POST /ratings
func (h *RatingHandler) SubmitRating(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		middleware.WriteUnauthenticated(w)
		return
	}

	var req submitRatingRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	res, err := h.pipeline.Submit(r.Context(), rating.Submission{
		StoreID:    req.StoreID,
		UserID:     userID,
		Value:      req.Value,
		ReviewText: req.ReviewText,
	})
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, submitRatingResponse{
		Sentiment:  res.Sentiment,
		Classified: res.Classified,
		Rating: ratingResponse{
			ID:         res.Rating.ID,
			StoreID:    res.Rating.StoreID,
			UserID:     res.Rating.UserID,
			Value:      res.Rating.Value,
			ReviewText: res.Rating.ReviewText,
			Sentiment:  res.Rating.Sentiment,
		},
	})
}
