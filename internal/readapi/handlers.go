package readapi

import (
	"encoding/json"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"gemwatch/internal/domain"
	"gemwatch/internal/observability"
)

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg, Status: status})
}

func nowStamp() string {
	return domain.FormatWireTimestamp(time.Now().UTC())
}

// sortedNewestFirst returns a copy of alerts ordered newest-first by
// timestamp.
func sortedNewestFirst(alerts []domain.AlertRecord) []domain.AlertRecord {
	out := make([]domain.AlertRecord, len(alerts))
	copy(out, alerts)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	return out
}

// dedupeByToken keeps only the first (i.e. most recent, given a
// newest-first slice) record per uppercased token symbol.
func dedupeByToken(alerts []domain.AlertRecord) []domain.AlertRecord {
	seen := make(map[string]bool, len(alerts))
	out := make([]domain.AlertRecord, 0, len(alerts))
	for _, a := range alerts {
		key := strings.ToUpper(a.Token)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, a)
	}
	return out
}

func (s *Server) handleRecent(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	limit := 20
	if raw := q.Get("limit"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 0 {
			writeError(w, http.StatusBadRequest, "invalid limit parameter")
			return
		}
		limit = v
	}

	var tierFilter *domain.Tier
	if raw := q.Get("tier"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 1 || v > 3 {
			writeError(w, http.StatusBadRequest, "invalid tier parameter")
			return
		}
		t := domain.Tier(v)
		tierFilter = &t
	}

	dedupe := true
	if raw := q.Get("dedupe"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid dedupe parameter")
			return
		}
		dedupe = v
	}

	doc, err := s.cache.get()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	alerts := sortedNewestFirst(doc.Alerts)
	if tierFilter != nil {
		filtered := alerts[:0:0]
		for _, a := range alerts {
			if a.Tier == *tierFilter {
				filtered = append(filtered, a)
			}
		}
		alerts = filtered
	}
	if dedupe {
		alerts = dedupeByToken(alerts)
	}

	if limit > 0 && len(alerts) > limit {
		alerts = alerts[:limit]
	}

	writeJSON(w, http.StatusOK, recentResponse{
		Alerts:         alerts,
		Count:          len(alerts),
		TotalInStorage: len(doc.Alerts),
		Timestamp:      nowStamp(),
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	doc, err := s.cache.get()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	now := time.Now().UTC()
	perTier := map[domain.Tier]int{}
	last24h, last7d := 0, 0
	for _, a := range doc.Alerts {
		perTier[a.Tier]++
		age := now.Sub(a.Timestamp)
		if age <= 24*time.Hour {
			last24h++
		}
		if age <= 7*24*time.Hour {
			last7d++
		}
	}

	resp := statsResponse{
		Total:     len(doc.Alerts),
		PerTier:   tierCounts(perTier),
		Last24h:   last24h,
		Last7d:    last7d,
		Timestamp: nowStamp(),
	}

	if s.registry != nil {
		subs, err := s.registry.List(r.Context())
		if err == nil {
			resp.SubscriberCount = len(subs)
			byKind := map[string]int{}
			for _, sub := range subs {
				byKind[sub.Kind]++
			}
			resp.SubscribersByKind = byKind
		}
	}

	writeJSON(w, http.StatusOK, resp)
}

func tierCounts(m map[domain.Tier]int) []tierCount {
	out := make([]tierCount, 0, 3)
	for _, t := range []domain.Tier{domain.Tier1, domain.Tier2, domain.Tier3} {
		out = append(out, tierCount{Tier: t, Count: m[t]})
	}
	return out
}

func (s *Server) handleTiers(w http.ResponseWriter, r *http.Request) {
	doc, err := s.cache.get()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	byTier := map[domain.Tier][]domain.AlertRecord{}
	for _, a := range doc.Alerts {
		byTier[a.Tier] = append(byTier[a.Tier], a)
	}

	buckets := make([]tierBucket, 0, 3)
	for _, t := range []domain.Tier{domain.Tier1, domain.Tier2, domain.Tier3} {
		recent := sortedNewestFirst(byTier[t])
		if len(recent) > 3 {
			recent = recent[:3]
		}
		buckets = append(buckets, tierBucket{Tier: t, Count: len(byTier[t]), Recent: recent})
	}

	writeJSON(w, http.StatusOK, tiersResponse{Tiers: buckets, Timestamp: nowStamp()})
}

func (s *Server) handleDaily(w http.ResponseWriter, r *http.Request) {
	days := 7
	if raw := r.URL.Query().Get("days"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v <= 0 {
			writeError(w, http.StatusBadRequest, "invalid days parameter")
			return
		}
		days = v
	}

	doc, err := s.cache.get()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	type bucket struct {
		total   int
		perTier map[domain.Tier]int
	}
	buckets := make(map[string]*bucket)
	today := time.Now().UTC().Truncate(24 * time.Hour)

	dates := make([]string, days)
	for i := 0; i < days; i++ {
		d := today.AddDate(0, 0, -i)
		key := d.Format("2006-01-02")
		dates[days-1-i] = key
		buckets[key] = &bucket{perTier: map[domain.Tier]int{}}
	}

	cutoff := today.AddDate(0, 0, -(days - 1))
	for _, a := range doc.Alerts {
		day := a.Timestamp.UTC().Truncate(24 * time.Hour)
		if day.Before(cutoff) {
			continue
		}
		key := day.Format("2006-01-02")
		b, ok := buckets[key]
		if !ok {
			continue
		}
		b.total++
		b.perTier[a.Tier]++
	}

	out := make([]dailyBucket, 0, days)
	for _, key := range dates {
		b := buckets[key]
		out = append(out, dailyBucket{Date: key, Total: b.total, PerTier: tierCounts(b.perTier)})
	}

	writeJSON(w, http.StatusOK, dailyResponse{Days: out, Timestamp: nowStamp()})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	doc, err := s.cache.get()

	resp := healthResponse{
		BackupsPresent:   s.backupCount(),
		EmergencyPresent: s.emergencyPresent(),
		EventsByCategory: observability.CategorySnapshot(),
		Timestamp:        nowStamp(),
	}
	resp.LogPresent = err == nil
	resp.CacheAgeSeconds = s.cache.age().Seconds()

	if err == nil && len(doc.Alerts) > 0 {
		latest := sortedNewestFirst(doc.Alerts)[0]
		id := latest.ID
		ts := domain.FormatWireTimestamp(latest.Timestamp)
		resp.LatestRecordID = &id
		resp.LatestTimestamp = &ts
	}

	status := http.StatusOK
	if err != nil {
		status = http.StatusInternalServerError
	}
	writeJSON(w, status, resp)
}

func (s *Server) handleCacheRefresh(w http.ResponseWriter, r *http.Request) {
	s.cache.invalidate()
	writeJSON(w, http.StatusOK, cacheRefreshResponse{Refreshed: true, Timestamp: nowStamp()})
}
