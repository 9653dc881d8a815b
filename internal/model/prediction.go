package model

import "time"

// Prediction is an immutable audit record of one billed inference.
// ID is assigned by the store and increases monotonically.
type Prediction struct {
	ID                int64     `json:"id"`
	ModelType         ModelType `json:"model_type"`
	CreatedAt         time.Time `json:"datetime"`
	RequesterUsername string    `json:"requester_username"`
}

// PredictionResponse is the public view of a prediction record.
type PredictionResponse struct {
	ID        int64     `json:"id"`
	ModelType string    `json:"model_type"`
	Datetime  time.Time `json:"datetime"`
}

// ToResponse converts a Prediction to its public view.
func (p *Prediction) ToResponse() PredictionResponse {
	return PredictionResponse{
		ID:        p.ID,
		ModelType: p.ModelType.String(),
		Datetime:  p.CreatedAt,
	}
}

// PredictResponse is the body returned by POST /predict.
type PredictResponse struct {
	PredResult []string `json:"pred_result"`
}
