package ai

import (
	"context"

	"go.uber.org/zap"

	"securerag/internal/config"
)

// NewGenerator returns the mock generator in mock mode, otherwise the
// configured chat model service.
func NewGenerator(ctx context.Context, cfg *config.Config, logger *zap.Logger) (Generator, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.BasicConfig.MockMode {
		logger.Info("mock mode enabled, using canned generator")
		return NewMockGenerator(), nil
	}
	svc, err := NewService(ctx, cfg)
	if err != nil {
		return nil, err
	}
	logger.Info("generation service ready",
		zap.String("provider", svc.Provider()),
		zap.String("model", svc.Model()))
	return svc, nil
}
