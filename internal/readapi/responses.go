package readapi

import "gemwatch/internal/domain"

// errorResponse is the stable JSON error shape from spec §6.
type errorResponse struct {
	Error  string `json:"error"`
	Status int    `json:"status"`
}

type recentResponse struct {
	Alerts         []domain.AlertRecord `json:"alerts"`
	Count          int                  `json:"count"`
	TotalInStorage int                  `json:"total_in_storage"`
	Timestamp      string               `json:"timestamp"`
}

type tierCount struct {
	Tier  domain.Tier `json:"tier"`
	Count int         `json:"count"`
}

type statsResponse struct {
	Total             int            `json:"total"`
	PerTier           []tierCount    `json:"per_tier"`
	Last24h           int            `json:"last_24h"`
	Last7d            int            `json:"last_7d"`
	SubscriberCount   int            `json:"subscriber_count,omitempty"`
	SubscribersByKind map[string]int `json:"subscribers_by_kind,omitempty"`
	Timestamp         string         `json:"timestamp"`
}

type tierBucket struct {
	Tier   domain.Tier          `json:"tier"`
	Count  int                  `json:"count"`
	Recent []domain.AlertRecord `json:"recent"`
}

type tiersResponse struct {
	Tiers     []tierBucket `json:"tiers"`
	Timestamp string       `json:"timestamp"`
}

type dailyBucket struct {
	Date    string      `json:"date"`
	Total   int         `json:"total"`
	PerTier []tierCount `json:"per_tier"`
}

type dailyResponse struct {
	Days      []dailyBucket `json:"days"`
	Timestamp string        `json:"timestamp"`
}

type healthResponse struct {
	LogPresent       bool             `json:"log_present"`
	BackupsPresent   int              `json:"backups_present"`
	EmergencyPresent bool             `json:"emergency_present"`
	LatestRecordID   *string          `json:"latest_record_id"`
	LatestTimestamp  *string          `json:"latest_timestamp"`
	CacheAgeSeconds  float64          `json:"cache_age_seconds"`
	EventsByCategory map[string]int64 `json:"events_by_category"`
	Timestamp        string           `json:"timestamp"`
}

type cacheRefreshResponse struct {
	Refreshed bool   `json:"refreshed"`
	Timestamp string `json:"timestamp"`
}
