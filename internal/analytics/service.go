package analytics

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/fraudshield/backend/internal/models"
	"github.com/fraudshield/backend/internal/queue"
	"github.com/fraudshield/backend/internal/repositories"
)

// AnalyticsService provides the aggregates behind the fraud dashboard
type AnalyticsService struct {
	txRepo      *repositories.TransactionRepository
	alertRepo   *repositories.AlertRepository
	db          *repositories.Database
	cacheClient *queue.CacheClient
}

// NewAnalyticsService creates a new analytics service
func NewAnalyticsService(
	txRepo *repositories.TransactionRepository,
	alertRepo *repositories.AlertRepository,
	db *repositories.Database,
	cacheClient *queue.CacheClient,
) *AnalyticsService {
	return &AnalyticsService{
		txRepo:      txRepo,
		alertRepo:   alertRepo,
		db:          db,
		cacheClient: cacheClient,
	}
}

// GetDailySummary returns the alert summary for a specific date
func (s *AnalyticsService) GetDailySummary(ctx context.Context, date time.Time) (*models.AlertSummary, error) {
	// Try cache first
	cacheKey := fmt.Sprintf("alert_summary:%s", date.Format("2006-01-02"))
	var cached models.AlertSummary
	if s.cacheClient != nil {
		if err := s.cacheClient.Get(ctx, cacheKey, &cached); err == nil {
			return &cached, nil
		}
	}

	summary, err := s.alertRepo.GetDailySummary(ctx, date)
	if err != nil {
		return nil, fmt.Errorf("failed to get daily summary: %w", err)
	}

	// Cache the result (5 minutes for the current day, longer for history)
	if s.cacheClient != nil {
		cacheDuration := 5 * time.Minute
		if time.Since(date) > 24*time.Hour {
			cacheDuration = 1 * time.Hour
		}
		if err := s.cacheClient.Set(ctx, cacheKey, summary, cacheDuration); err != nil {
			log.Warn().Err(err).Msg("Failed to cache daily summary")
		}
	}

	return summary, nil
}

// GetSummaryRange returns one summary per day across [startDate, endDate],
// serving the dashboard's trend view
func (s *AnalyticsService) GetSummaryRange(ctx context.Context, startDate, endDate time.Time) ([]*models.AlertSummary, error) {
	var summaries []*models.AlertSummary

	for d := startDate; !d.After(endDate); d = d.AddDate(0, 0, 1) {
		summary, err := s.GetDailySummary(ctx, d)
		if err != nil {
			log.Warn().Err(err).Time("date", d).Msg("Failed to get summary for date")
			continue
		}
		summaries = append(summaries, summary)
	}

	return summaries, nil
}

// GetCriticalityDistribution returns the alert criticality distribution over
// the last N days
func (s *AnalyticsService) GetCriticalityDistribution(ctx context.Context, days int) (*CriticalityDistribution, error) {
	levels, err := s.alertRepo.CriticalityDistribution(ctx, days)
	if err != nil {
		return nil, fmt.Errorf("failed to get criticality distribution: %w", err)
	}

	distribution := &CriticalityDistribution{
		Period: fmt.Sprintf("%d days", days),
		Levels: levels,
	}
	for _, count := range levels {
		distribution.Total += count
	}

	return distribution, nil
}

// GetTopReasonCodes returns the most frequent reason codes over the given
// window, excluding the no-signal sentinel
func (s *AnalyticsService) GetTopReasonCodes(ctx context.Context, days, limit int) ([]models.ReasonCount, error) {
	to := time.Now().UTC()
	from := to.AddDate(0, 0, -days)

	return s.alertRepo.TopReasonCodes(ctx, from, to, limit)
}

// GetHourlyVolume returns transaction volume by hour for a given date
func (s *AnalyticsService) GetHourlyVolume(ctx context.Context, date time.Time) ([]HourlyVolume, error) {
	byHour, err := s.txRepo.HourlyVolume(ctx, date)
	if err != nil {
		return nil, fmt.Errorf("failed to get hourly volume: %w", err)
	}

	volumes := make([]HourlyVolume, 0, len(byHour))
	for hour, count := range byHour {
		volumes = append(volumes, HourlyVolume{Hour: hour, Count: count})
	}
	sort.Slice(volumes, func(i, j int) bool { return volumes[i].Hour < volumes[j].Hour })

	return volumes, nil
}

// GetSystemMetrics returns current operational metrics
func (s *AnalyticsService) GetSystemMetrics(ctx context.Context, streamClient *queue.RedisStreamClient) (*SystemMetrics, error) {
	metrics := &SystemMetrics{
		Timestamp: time.Now().UTC(),
	}

	dbStats := s.db.Stats()
	metrics.DBConnectionsActive = int(dbStats.AcquiredConns())
	metrics.DBConnectionsIdle = int(dbStats.IdleConns())

	if streamClient != nil {
		if info, err := streamClient.GetStreamInfo(ctx); err == nil {
			metrics.StreamDepth = int(info.Length)
		}
		if pending, err := streamClient.GetPendingCount(ctx); err == nil {
			metrics.PendingMessages = int(pending)
		}
	}

	tps, err := s.calculateTPS(ctx)
	if err == nil {
		metrics.TransactionsPerSec = tps
	}

	pendingRate, err := s.calculatePendingRate(ctx)
	if err == nil {
		metrics.PendingRate = pendingRate
	}

	return metrics, nil
}

// calculateTPS calculates transactions per second over the last minute
func (s *AnalyticsService) calculateTPS(ctx context.Context) (float64, error) {
	query := `
		SELECT COUNT(*)
		FROM transactions
		WHERE created_at >= NOW() - INTERVAL '1 minute'
	`

	var count int
	err := s.db.Pool.QueryRow(ctx, query).Scan(&count)
	if err != nil {
		return 0, err
	}

	return float64(count) / 60.0, nil
}

// calculatePendingRate calculates the share of transactions held for review
// over the last hour
func (s *AnalyticsService) calculatePendingRate(ctx context.Context) (float64, error) {
	query := `
		SELECT
			COUNT(CASE WHEN status = 'EN_ATTENTE' THEN 1 END)::float /
			NULLIF(COUNT(*), 0)
		FROM transactions
		WHERE created_at >= NOW() - INTERVAL '1 hour'
	`

	var rate *float64
	err := s.db.Pool.QueryRow(ctx, query).Scan(&rate)
	if err != nil {
		return 0, err
	}

	if rate == nil {
		return 0, nil
	}

	return *rate, nil
}

// Response types

// CriticalityDistribution represents alert counts per criticality tier
type CriticalityDistribution struct {
	Period string         `json:"period"`
	Levels map[string]int `json:"levels"`
	Total  int            `json:"total"`
}

// HourlyVolume represents transaction volume for an hour
type HourlyVolume struct {
	Hour  int `json:"hour"`
	Count int `json:"count"`
}

// SystemMetrics represents a point-in-time operational snapshot
type SystemMetrics struct {
	Timestamp           time.Time `json:"timestamp"`
	TransactionsPerSec  float64   `json:"transactions_per_sec"`
	PendingRate         float64   `json:"pending_rate"`
	StreamDepth         int       `json:"stream_depth"`
	PendingMessages     int       `json:"pending_messages"`
	DBConnectionsActive int       `json:"db_connections_active"`
	DBConnectionsIdle   int       `json:"db_connections_idle"`
}
