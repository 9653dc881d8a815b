package handler

import (
	"net/http"
	"slices"

	"github.com/creditgate/creditgate/internal/model"
)

// LoadedModels reports which model types are resident in memory.
type LoadedModels interface {
	Loaded() []model.ModelType
}

// ModelsHandler serves the public model catalog.
type ModelsHandler struct {
	pricing model.Pricing
	models  LoadedModels
}

// NewModelsHandler creates a new ModelsHandler.
func NewModelsHandler(pricing model.Pricing, models LoadedModels) *ModelsHandler {
	return &ModelsHandler{pricing: pricing, models: models}
}

// ModelInfo describes one model in the catalog.
type ModelInfo struct {
	ModelType string `json:"model_type"`
	Price     int64  `json:"price"`
	Default   bool   `json:"default"`
	Loaded    bool   `json:"loaded"`
}

// ModelsResponse is the body of GET /models.
type ModelsResponse struct {
	Models []ModelInfo `json:"models"`
}

// List handles GET /models.
func (h *ModelsHandler) List(w http.ResponseWriter, r *http.Request) {
	var loaded []model.ModelType
	if h.models != nil {
		loaded = h.models.Loaded()
	}

	resp := ModelsResponse{Models: make([]ModelInfo, 0, len(model.ModelTypes))}
	for _, mt := range model.ModelTypes {
		price, _ := h.pricing.Price(mt)
		resp.Models = append(resp.Models, ModelInfo{
			ModelType: mt.String(),
			Price:     price,
			Default:   mt == model.DefaultModelType,
			Loaded:    slices.Contains(loaded, mt),
		})
	}

	writeJSON(w, http.StatusOK, resp)
}
