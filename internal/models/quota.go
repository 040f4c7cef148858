package models

// QuotaRecord is the per-user, per-day usage row.
type QuotaRecord struct {
	UserID        string `json:"userId"`
	Date          string `json:"date"`
	MessageCount  int    `json:"messageCount"`
	PremiumClicks int    `json:"premiumClicks"`
}
