package api

import (
	"github.com/SherClockHolmes/webpush-go"

	"range-instance-backend/internal/orchestrator"
	"range-instance-backend/internal/store"
)

// Handler holds shared dependencies for API handlers.
type Handler struct {
	facade  *orchestrator.Facade
	orch    *orchestrator.Orchestrator
	store   store.Store
	webpush *webpush.Options
}

// NewHandler creates a new API handler.
func NewHandler(facade *orchestrator.Facade, orch *orchestrator.Orchestrator, s store.Store, webpushOptions *webpush.Options) *Handler {
	return &Handler{
		facade:  facade,
		orch:    orch,
		store:   s,
		webpush: webpushOptions,
	}
}
