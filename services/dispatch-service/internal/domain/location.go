package domain

import "time"

// WorkerLocation последнее известное положение исполнителя
type WorkerLocation struct {
	WorkerID  string    `json:"worker_id"`
	Lat       float64   `json:"lat"`
	Lng       float64   `json:"lng"`
	Accuracy  *float64  `json:"accuracy,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	IsOnline  bool      `json:"is_online"`
}

// PositionReport входящий отчет о местоположении
type PositionReport struct {
	WorkerID  string
	Lat       float64
	Lng       float64
	Accuracy  *float64
	SetOnline *bool
	Timestamp time.Time
}

// PositionAck подтверждение принятого отчета
type PositionAck struct {
	WorkerID  string    `json:"worker_id"`
	Timestamp time.Time `json:"timestamp"`
	IsOnline  bool      `json:"is_online"`
	// MovedKm расстояние от предыдущей известной точки, nil для первого отчета
	MovedKm *float64 `json:"moved_km,omitempty"`
	// WasOnline признак онлайн до отчета
	WasOnline bool `json:"-"`
}

// SubscriptionStatus статус подписки исполнителя
type SubscriptionStatus string

const (
	SubscriptionActive    SubscriptionStatus = "active"
	SubscriptionTrial     SubscriptionStatus = "trial"
	SubscriptionExpired   SubscriptionStatus = "expired"
	SubscriptionCancelled SubscriptionStatus = "cancelled"
)

// WorkerProfile профиль исполнителя из внешнего хранилища профилей
type WorkerProfile struct {
	WorkerID           string             `json:"worker_id"`
	SubscriptionStatus SubscriptionStatus `json:"subscription_status"`
}

// CanReportPosition сообщает, может ли исполнитель выходить на линию
func (p *WorkerProfile) CanReportPosition() bool {
	return p.SubscriptionStatus == SubscriptionActive || p.SubscriptionStatus == SubscriptionTrial
}

// NearbyQuery параметры подсчета исполнителей поблизости
type NearbyQuery struct {
	Lat        float64
	Lng        float64
	RadiusKm   float64
	StaleAfter time.Duration
	Now        time.Time
}
