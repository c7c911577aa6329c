package service

import (
	"context"
	"fmt"

	"ErrandDispatchPlatform/pkg/config"
	"ErrandDispatchPlatform/services/dispatch-service/internal/domain"
)

// ApplicationPolicy внешние правила подачи откликов
type ApplicationPolicy interface {
	// CanReapply разрешает повторный отклик после отказа заказчика
	CanReapply(ctx context.Context, task *domain.Task, previous *domain.Application) bool

	// ValidateProposedPrice проверяет предложенную исполнителем цену
	ValidateProposedPrice(ctx context.Context, task *domain.Task, price *int64) error
}

// ConfigApplicationPolicy правила откликов из секции dispatch конфигурации
type ConfigApplicationPolicy struct {
	allowReapply bool
	minPrice     int64
}

var _ ApplicationPolicy = (*ConfigApplicationPolicy)(nil)

// NewApplicationPolicy создает политику откликов по конфигурации
func NewApplicationPolicy(cfg config.DispatchConfig) *ConfigApplicationPolicy {
	return &ConfigApplicationPolicy{
		allowReapply: cfg.AllowReapplyAfterReject,
		minPrice:     cfg.MinProposedPrice,
	}
}

func (p *ConfigApplicationPolicy) CanReapply(_ context.Context, _ *domain.Task, previous *domain.Application) bool {
	return p.allowReapply && previous.Status == domain.ApplicationStatusRejected
}

func (p *ConfigApplicationPolicy) ValidateProposedPrice(_ context.Context, _ *domain.Task, price *int64) error {
	if price == nil {
		return nil
	}
	if *price < 0 {
		return domain.ErrValidation.WithDetails(fmt.Sprintf("proposed_price must not be negative, got: %d", *price))
	}
	if *price > domain.MaxPrice {
		return domain.ErrValidation.WithDetails(fmt.Sprintf("proposed_price must not exceed %d, got: %d", domain.MaxPrice, *price))
	}
	if *price < p.minPrice {
		return domain.ErrValidation.WithDetails(fmt.Sprintf("proposed_price must be at least %d, got: %d", p.minPrice, *price))
	}
	return nil
}
