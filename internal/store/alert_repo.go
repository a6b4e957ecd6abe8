package store

import (
	"context"
	"time"
)

// AlertView is an alert joined with the disclosure that raised it.
type AlertView struct {
	ID           int64     `json:"id"`
	DisclosureID int64     `json:"disclosure_id"`
	Keyword      string    `json:"keyword"`
	CreatedAt    time.Time `json:"created_at"`
	Market       string    `json:"market"`
	CompanyCode  string    `json:"company_code"`
	CompanyName  string    `json:"company_name"`
	PublishDate  string    `json:"publish_date"`
	PublishTime  string    `json:"publish_time"`
	Subject      string    `json:"subject"`
}

// AlertRepository reads recent alerts.
type AlertRepository interface {
	RecentAlerts(ctx context.Context, limit int) ([]AlertView, error)
}
