package handler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/creditgate/creditgate/internal/middleware"
	"github.com/creditgate/creditgate/internal/model"
	"github.com/creditgate/creditgate/internal/service"
)

// PredictService runs metered predictions.
type PredictService interface {
	HandlePredict(ctx context.Context, req service.PredictRequest) (*service.PredictResult, error)
}

// PredictHandler serves POST /predict.
type PredictHandler struct {
	svc        PredictService
	logger     *slog.Logger
	writeError middleware.ErrorWriter
}

// NewPredictHandler creates a new PredictHandler.
func NewPredictHandler(svc PredictService, logger *slog.Logger) *PredictHandler {
	return &PredictHandler{
		svc:        svc,
		logger:     logger,
		writeError: ErrorWriter(logger),
	}
}

// Predict handles POST /predict?requested_model_type={type}.
// The body is passed to the model untouched; the token is read from the
// Authorization header. The remaining balance is returned in
// X-Credits-Remaining.
func (h *PredictHandler) Predict(w http.ResponseWriter, r *http.Request) {
	input, err := io.ReadAll(r.Body)
	if err != nil {
		var maxBytes *http.MaxBytesError
		if !errors.As(err, &maxBytes) {
			err = fmt.Errorf("%w: %w", errInvalidBody, err)
		}
		h.writeError(w, r, err)
		return
	}

	res, err := h.svc.HandlePredict(r.Context(), service.PredictRequest{
		Token:     middleware.BearerToken(r),
		ModelType: r.URL.Query().Get("requested_model_type"),
		Input:     input,
		RequestID: middleware.GetRequestID(r.Context()),
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	middleware.AddLogAttrs(r.Context(),
		slog.String("username", res.Username),
		slog.String("model_type", res.ModelType.String()),
		slog.Int64("credits_charged", res.Price),
		slog.Int64("credits_remaining", res.Balance),
		slog.Int64("prediction_id", res.PredictionID),
	)

	w.Header().Set(middleware.CreditsRemainingHeader, strconv.FormatInt(res.Balance, 10))
	writeJSON(w, http.StatusOK, model.PredictResponse{PredResult: res.Labels})
}
