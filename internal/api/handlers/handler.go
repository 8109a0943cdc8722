package handlers

import (
	"github.com/pulseboard/pulseboard/internal/cache"
	"github.com/pulseboard/pulseboard/internal/engine"
	"go.uber.org/zap"
)

type Handler struct {
	store     cache.Store
	scheduler *engine.Scheduler
	logger    *zap.Logger
}

func NewHandler(store cache.Store, scheduler *engine.Scheduler, logger *zap.Logger) *Handler {
	return &Handler{
		store:     store,
		scheduler: scheduler,
		logger:    logger,
	}
}
