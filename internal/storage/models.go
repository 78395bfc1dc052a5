package storage

import (
	"time"

	"github.com/shopspring/decimal"
)

// AlertType is the price domain an alert watches.
type AlertType string

const (
	AlertTypeVES    AlertType = "ves"
	AlertTypeCrypto AlertType = "crypto"
	AlertTypeForex  AlertType = "forex"
)

// Valid reports whether t is a known alert type.
func (t AlertType) Valid() bool {
	switch t {
	case AlertTypeVES, AlertTypeCrypto, AlertTypeForex:
		return true
	}
	return false
}

// Direction is the side of the threshold that fires an alert.
type Direction string

const (
	DirectionAbove Direction = "above"
	DirectionBelow Direction = "below"
)

// Valid reports whether d is a known direction.
func (d Direction) Valid() bool {
	return d == DirectionAbove || d == DirectionBelow
}

// Alert is a user-defined price alert. The evaluator only reads it and updates TriggeredAt.
type Alert struct {
	ID          string          `json:"id"`
	UserID      string          `json:"userId"`
	Type        AlertType       `json:"type"`
	Symbol      string          `json:"symbol"`
	Threshold   decimal.Decimal `json:"threshold"`
	Direction   Direction       `json:"direction"`
	Enabled     bool            `json:"enabled"`
	TriggeredAt *time.Time      `json:"triggeredAt,omitempty"`
	CreatedAt   time.Time       `json:"createdAt"`
	UpdatedAt   time.Time       `json:"updatedAt"`
}

// PushToken is a device registration for a user.
type PushToken struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	Token     string    `json:"token"`
	Platform  string    `json:"platform"`
	CreatedAt time.Time `json:"createdAt"`
}

// Profile is the public part of a user account.
type Profile struct {
	ID          string    `json:"id"`
	DisplayName string    `json:"displayName"`
	CreatedAt   time.Time `json:"createdAt"`
}
