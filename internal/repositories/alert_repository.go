package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/fraudshield/backend/internal/models"
)

var (
	ErrAlertNotFound     = errors.New("alert not found")
	ErrInvalidAlertState = errors.New("invalid alert status")
)

// AlertRepository is the alert sink: it persists the outcome of the
// decisioning pipeline (one alert plus one prediction row per model) and
// serves analyst review queries.
type AlertRepository struct {
	db *Database
}

// NewAlertRepository creates a new alert repository
func NewAlertRepository(db *Database) *AlertRepository {
	return &AlertRepository{db: db}
}

// CreateWithPredictions stores the alert and its model predictions
// atomically inside the given database transaction.
func (r *AlertRepository) CreateWithPredictions(ctx context.Context, dbtx pgx.Tx, alert *models.Alert, predictions []*models.ModelPrediction) error {
	if alert.ID == uuid.Nil {
		alert.ID = uuid.New()
	}
	now := time.Now().UTC()
	alert.CreatedAt = now
	alert.UpdatedAt = now

	featuresBytes, err := alert.Features.Value()
	if err != nil {
		return fmt.Errorf("failed to encode alert features: %w", err)
	}

	alertQuery := `
		INSERT INTO alerts (
			id, transaction_id, criticality, status, rationale,
			reason_codes, final_score, features, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	_, err = dbtx.Exec(ctx, alertQuery,
		alert.ID,
		alert.TransactionID,
		alert.Criticality,
		alert.Status,
		alert.Rationale,
		alert.ReasonCodes,
		alert.FinalScore,
		featuresBytes,
		alert.CreatedAt,
		alert.UpdatedAt,
	)
	if err != nil {
		return err
	}

	predQuery := `
		INSERT INTO model_predictions (
			id, transaction_id, model_name, model_version, risk_score, is_anomaly, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	for _, p := range predictions {
		if p.ID == uuid.Nil {
			p.ID = uuid.New()
		}
		p.CreatedAt = now
		if _, err := dbtx.Exec(ctx, predQuery,
			p.ID, p.TransactionID, p.ModelName, p.ModelVersion, p.RiskScore, p.IsAnomaly, p.CreatedAt,
		); err != nil {
			return err
		}
	}

	return nil
}

// GetByID retrieves an alert by ID
func (r *AlertRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Alert, error) {
	query := `
		SELECT id, transaction_id, criticality, status, rationale,
			   reason_codes, final_score, features, created_at, updated_at
		FROM alerts
		WHERE id = $1
	`
	return r.scanAlert(r.db.Pool.QueryRow(ctx, query, id))
}

// GetByTransactionID retrieves the alert attached to a transaction
func (r *AlertRepository) GetByTransactionID(ctx context.Context, transactionID uuid.UUID) (*models.Alert, error) {
	query := `
		SELECT id, transaction_id, criticality, status, rationale,
			   reason_codes, final_score, features, created_at, updated_at
		FROM alerts
		WHERE transaction_id = $1
	`
	return r.scanAlert(r.db.Pool.QueryRow(ctx, query, transactionID))
}

// List retrieves alerts with pagination, optionally filtered by criticality
// and/or status, newest first.
func (r *AlertRepository) List(ctx context.Context, criticality, status string, page, pageSize int) ([]*models.Alert, int, error) {
	offset := (page - 1) * pageSize

	countQuery := `
		SELECT COUNT(*) FROM alerts
		WHERE ($1 = '' OR criticality = $1)
		AND ($2 = '' OR status = $2)
	`
	var total int
	if err := r.db.Pool.QueryRow(ctx, countQuery, criticality, status).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `
		SELECT id, transaction_id, criticality, status, rationale,
			   reason_codes, final_score, features, created_at, updated_at
		FROM alerts
		WHERE ($1 = '' OR criticality = $1)
		AND ($2 = '' OR status = $2)
		ORDER BY created_at DESC
		LIMIT $3 OFFSET $4
	`

	rows, err := r.db.Pool.Query(ctx, query, criticality, status, pageSize, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var alerts []*models.Alert
	for rows.Next() {
		alert, err := r.scanAlertRow(rows)
		if err != nil {
			return nil, 0, err
		}
		alerts = append(alerts, alert)
	}

	return alerts, total, rows.Err()
}

// UpdateStatus moves an alert through the analyst workflow.
func (r *AlertRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status string) error {
	switch status {
	case models.AlertStatusOpen, models.AlertStatusInProgress, models.AlertStatusClosed:
	default:
		return ErrInvalidAlertState
	}

	query := `
		UPDATE alerts
		SET status = $2, updated_at = $3
		WHERE id = $1
	`

	result, err := r.db.Pool.Exec(ctx, query, id, status, time.Now().UTC())
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return ErrAlertNotFound
	}
	return nil
}

// GetDailySummary aggregates one UTC day of alerts for the dashboard.
func (r *AlertRepository) GetDailySummary(ctx context.Context, date time.Time) (*models.AlertSummary, error) {
	dayStart := time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, time.UTC)
	dayEnd := dayStart.Add(24 * time.Hour)

	query := `
		SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE status = 'OUVERTE'),
			COUNT(*) FILTER (WHERE criticality = 'ELEVE'),
			COUNT(*) FILTER (WHERE criticality = 'MOYEN'),
			COUNT(*) FILTER (WHERE criticality = 'FAIBLE'),
			COALESCE(AVG(final_score), 0)
		FROM alerts
		WHERE created_at >= $1 AND created_at < $2
	`

	summary := &models.AlertSummary{Date: dayStart.Format("2006-01-02")}
	err := r.db.Pool.QueryRow(ctx, query, dayStart, dayEnd).Scan(
		&summary.TotalAlerts,
		&summary.OpenAlerts,
		&summary.HighCount,
		&summary.MediumCount,
		&summary.LowCount,
		&summary.AvgFinalScore,
	)
	if err != nil {
		return nil, err
	}

	topReasons, err := r.TopReasonCodes(ctx, dayStart, dayEnd, 5)
	if err != nil {
		return nil, err
	}
	summary.TopReasonCodes = topReasons

	return summary, nil
}

// TopReasonCodes returns the most frequent reason codes in [from, to).
func (r *AlertRepository) TopReasonCodes(ctx context.Context, from, to time.Time, limit int) ([]models.ReasonCount, error) {
	query := `
		SELECT reason, COUNT(*) AS cnt
		FROM alerts, unnest(reason_codes) AS reason
		WHERE created_at >= $1 AND created_at < $2
			AND reason <> 'RAS_SIGNAL_FAIBLE'
		GROUP BY reason
		ORDER BY cnt DESC, reason
		LIMIT $3
	`

	rows, err := r.db.Pool.Query(ctx, query, from, to, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var counts []models.ReasonCount
	for rows.Next() {
		var rc models.ReasonCount
		if err := rows.Scan(&rc.ReasonCode, &rc.Count); err != nil {
			return nil, err
		}
		counts = append(counts, rc)
	}
	return counts, rows.Err()
}

// CriticalityDistribution counts alerts per tier over the trailing window.
func (r *AlertRepository) CriticalityDistribution(ctx context.Context, days int) (map[string]int, error) {
	since := time.Now().UTC().AddDate(0, 0, -days)

	query := `
		SELECT criticality, COUNT(*)
		FROM alerts
		WHERE created_at >= $1
		GROUP BY criticality
	`

	rows, err := r.db.Pool.Query(ctx, query, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	dist := map[string]int{
		models.CriticalityLow:    0,
		models.CriticalityMedium: 0,
		models.CriticalityHigh:   0,
	}
	for rows.Next() {
		var criticality string
		var count int
		if err := rows.Scan(&criticality, &count); err != nil {
			return nil, err
		}
		dist[criticality] = count
	}
	return dist, rows.Err()
}

// GetPredictions returns the per-model prediction rows for a transaction.
func (r *AlertRepository) GetPredictions(ctx context.Context, transactionID uuid.UUID) ([]*models.ModelPrediction, error) {
	query := `
		SELECT id, transaction_id, model_name, model_version, risk_score, is_anomaly, created_at
		FROM model_predictions
		WHERE transaction_id = $1
		ORDER BY model_name
	`

	rows, err := r.db.Pool.Query(ctx, query, transactionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var predictions []*models.ModelPrediction
	for rows.Next() {
		p := &models.ModelPrediction{}
		if err := rows.Scan(
			&p.ID, &p.TransactionID, &p.ModelName, &p.ModelVersion,
			&p.RiskScore, &p.IsAnomaly, &p.CreatedAt,
		); err != nil {
			return nil, err
		}
		predictions = append(predictions, p)
	}
	return predictions, rows.Err()
}

func (r *AlertRepository) scanAlert(row pgx.Row) (*models.Alert, error) {
	alert := &models.Alert{}
	var featuresBytes []byte

	err := row.Scan(
		&alert.ID,
		&alert.TransactionID,
		&alert.Criticality,
		&alert.Status,
		&alert.Rationale,
		&alert.ReasonCodes,
		&alert.FinalScore,
		&featuresBytes,
		&alert.CreatedAt,
		&alert.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAlertNotFound
		}
		return nil, err
	}

	if err := alert.Features.Scan(featuresBytes); err != nil {
		return nil, fmt.Errorf("failed to decode alert features: %w", err)
	}
	return alert, nil
}

func (r *AlertRepository) scanAlertRow(rows pgx.Rows) (*models.Alert, error) {
	alert := &models.Alert{}
	var featuresBytes []byte

	if err := rows.Scan(
		&alert.ID,
		&alert.TransactionID,
		&alert.Criticality,
		&alert.Status,
		&alert.Rationale,
		&alert.ReasonCodes,
		&alert.FinalScore,
		&featuresBytes,
		&alert.CreatedAt,
		&alert.UpdatedAt,
	); err != nil {
		return nil, err
	}

	if err := alert.Features.Scan(featuresBytes); err != nil {
		return nil, fmt.Errorf("failed to decode alert features: %w", err)
	}
	return alert, nil
}
