package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// User represents a back-office analyst account
type User struct {
	ID           uuid.UUID  `json:"id"`
	Email        string     `json:"email"`
	PasswordHash string     `json:"-"`
	Role         string     `json:"role"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
	DeletedAt    *time.Time `json:"deleted_at,omitempty"`
}

// Client represents a cardholder. The profile fields are reference data for
// feature derivation only; the decisioning pipeline never mutates them.
type Client struct {
	ID               uuid.UUID `json:"id"`
	FirstName        string    `json:"first_name"`
	LastName         string    `json:"last_name"`
	ExternalRef      string    `json:"external_ref"`
	Segment          string    `json:"segment"`           // STANDARD, PREMIUM
	ResidenceCountry string    `json:"residence_country"` // normalized upper-case, "" = unknown
	MonthlyIncome    float64   `json:"monthly_income"`    // 0 = unknown
	DailyCeiling     float64   `json:"daily_ceiling"`     // 0 = no ceiling configured
	CreatedAt        time.Time `json:"created_at"`
}

// ClientSegment enum values
const (
	SegmentStandard = "STANDARD"
	SegmentPremium  = "PREMIUM"
)

// Card represents a payment card attached to a client
type Card struct {
	ID        uuid.UUID `json:"id"`
	ClientID  uuid.UUID `json:"client_id"`
	MaskedPAN string    `json:"masked_pan"`
	Network   string    `json:"network"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

// Merchant represents an acquiring merchant
type Merchant struct {
	ID       uuid.UUID `json:"id"`
	Name     string    `json:"name"`
	Category string    `json:"category"`
	Country  string    `json:"country"` // normalized upper-case, "" = unknown
}

// Transaction represents a card payment event. Immutable once scored.
type Transaction struct {
	ID              uuid.UUID `json:"id"`
	ClientID        uuid.UUID `json:"client_id"`
	CardID          uuid.UUID `json:"card_id"`
	MerchantID      uuid.UUID `json:"merchant_id"`
	MerchantCountry string    `json:"merchant_country"`
	Amount          float64   `json:"amount"`
	Currency        string    `json:"currency"`
	Channel         string    `json:"channel"` // POS, E_COMMERCE, ATM
	Status          string    `json:"status"`  // ACCEPTEE, REFUSEE, EN_ATTENTE
	Timestamp       time.Time `json:"timestamp"`
	CreatedAt       time.Time `json:"created_at"`
}

// TransactionChannel enum values
const (
	ChannelPOS       = "POS"
	ChannelECommerce = "E_COMMERCE"
	ChannelATM       = "ATM"
)

// TransactionStatus enum values
const (
	TransactionStatusAccepted = "ACCEPTEE"
	TransactionStatusRefused  = "REFUSEE"
	TransactionStatusPending  = "EN_ATTENTE"
)

// Criticality tiers, ordered FAIBLE < MOYEN < ELEVE
const (
	CriticalityLow    = "FAIBLE"
	CriticalityMedium = "MOYEN"
	CriticalityHigh   = "ELEVE"
)

// Alert statuses for analyst review
const (
	AlertStatusOpen       = "OUVERTE"
	AlertStatusInProgress = "EN_COURS"
	AlertStatusClosed     = "CLOTUREE"
)

// BehaviorFeatures holds the point-in-time behavioral aggregates computed for
// one transaction. All windows are strictly historical: they exclude the
// transaction being scored and anything at or after its timestamp.
type BehaviorFeatures struct {
	NbTx1h          int     `json:"nb_tx_1h"`
	NbTx24h         int     `json:"nb_tx_24h"`
	AvgAmount7d     float64 `json:"avg_amount_7d"`
	NightHour       int     `json:"night_hour"`       // UTC hour in [0,5]
	UnusualCountry  int     `json:"unusual_country"`  // merchant country != residence country, both known
	CeilingExceeded int     `json:"ceiling_exceeded"` // amount > configured daily ceiling
	IncomeRatio     float64 `json:"income_ratio"`     // amount / monthly income, 0 when income unknown

	// Client context carried along for audit, not model input row material.
	ClientSegment string  `json:"client_segment,omitempty"`
	ClientCountry string  `json:"client_country,omitempty"`
	MonthlyIncome float64 `json:"client_monthly_income"`
	DailyCeiling  float64 `json:"client_daily_ceiling"`
}

// Map flattens the feature set to the name->value form consumed by the
// scoring engine and persisted alongside the alert.
func (f BehaviorFeatures) Map() map[string]float64 {
	return map[string]float64{
		"nb_tx_1h":         float64(f.NbTx1h),
		"nb_tx_24h":        float64(f.NbTx24h),
		"avg_amount_7d":    f.AvgAmount7d,
		"night_hour":       float64(f.NightHour),
		"unusual_country":  float64(f.UnusualCountry),
		"ceiling_exceeded": float64(f.CeilingExceeded),
		"income_ratio":     f.IncomeRatio,
	}
}

// FraudDecision is the full output of the decisioning pipeline for one
// transaction. Nothing computed along the way is discarded: the feature set
// and rationale travel with the decision for audit and explainability.
type FraudDecision struct {
	TransactionID   uuid.UUID        `json:"transaction_id"`
	ScoreSupervised float64          `json:"score_supervised"`
	ScoreAnomaly    float64          `json:"score_anomaly"`
	FinalScore      float64          `json:"final_score"`
	Criticality     string           `json:"criticality"`
	Rationale       string           `json:"rationale"`
	ReasonCodes     []string         `json:"reason_codes"`
	Features        BehaviorFeatures `json:"features"`
	Degraded        bool             `json:"degraded"` // heuristic fallback, not model output
	ModelVersion    string           `json:"model_version"`
	ScoredAt        time.Time        `json:"scored_at"`
}

// ModelPrediction is one model's raw output persisted against a transaction
type ModelPrediction struct {
	ID            uuid.UUID `json:"id"`
	TransactionID uuid.UUID `json:"transaction_id"`
	ModelName     string    `json:"model_name"` // XGBoost, IsolationForest
	ModelVersion  string    `json:"model_version"`
	RiskScore     float64   `json:"risk_score"`
	IsAnomaly     bool      `json:"is_anomaly"`
	CreatedAt     time.Time `json:"created_at"`
}

// Model names as persisted in prediction rows
const (
	ModelNameSupervised = "XGBoost"
	ModelNameAnomaly    = "IsolationForest"
)

// Alert is the analyst-facing record created for every scored transaction
type Alert struct {
	ID            uuid.UUID `json:"id"`
	TransactionID uuid.UUID `json:"transaction_id"`
	Criticality   string    `json:"criticality"` // FAIBLE, MOYEN, ELEVE
	Status        string    `json:"status"`      // OUVERTE, EN_COURS, CLOTUREE
	Rationale     string    `json:"rationale"`
	ReasonCodes   []string  `json:"reason_codes"`
	FinalScore    float64   `json:"final_score"`
	Features      JSONB     `json:"features"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// DecisionEvent is published to the decision stream after a transaction has
// been scored and its alert persisted
type DecisionEvent struct {
	TransactionID string    `json:"transaction_id"`
	ClientID      string    `json:"client_id"`
	Amount        float64   `json:"amount"`
	Currency      string    `json:"currency"`
	Channel       string    `json:"channel"`
	FinalScore    float64   `json:"final_score"`
	Criticality   string    `json:"criticality"`
	ReasonCodes   []string  `json:"reason_codes"`
	Degraded      bool      `json:"degraded"`
	ScoredAt      time.Time `json:"scored_at"`
	RetryCount    int       `json:"retry_count"`
}

// AuditLog represents an audit trail entry
type AuditLog struct {
	ID         uuid.UUID  `json:"id"`
	EventType  string     `json:"event_type"`
	EntityID   uuid.UUID  `json:"entity_id"`
	EntityType string     `json:"entity_type"`
	UserID     *uuid.UUID `json:"user_id,omitempty"`
	Action     string     `json:"action"`
	Payload    JSONB      `json:"payload"`
	RequestID  string     `json:"request_id"`
	CreatedAt  time.Time  `json:"created_at"`
}

// AuditEventType enum values
const (
	AuditEventTransaction = "transaction"
	AuditEventDecision    = "fraud_decision"
	AuditEventAlert       = "alert"
	AuditEventUserLogin   = "user_login"
)

// JSONB is a helper type for PostgreSQL JSONB columns
type JSONB map[string]interface{}

func (j JSONB) Value() ([]byte, error) {
	return json.Marshal(j)
}

func (j *JSONB) Scan(value interface{}) error {
	if value == nil {
		*j = nil
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		return nil
	}
	return json.Unmarshal(bytes, j)
}

// Pagination represents pagination parameters
type Pagination struct {
	Page     int `json:"page"`
	PageSize int `json:"page_size"`
	Total    int `json:"total"`
}

// PaginatedResponse wraps paginated results
type PaginatedResponse struct {
	Data       interface{} `json:"data"`
	Pagination Pagination  `json:"pagination"`
}

// AlertSummary represents aggregated alert statistics for the dashboard
type AlertSummary struct {
	Date           string        `json:"date"`
	TotalAlerts    int           `json:"total_alerts"`
	OpenAlerts     int           `json:"open_alerts"`
	HighCount      int           `json:"high_count"`
	MediumCount    int           `json:"medium_count"`
	LowCount       int           `json:"low_count"`
	AvgFinalScore  float64       `json:"avg_final_score"`
	TopReasonCodes []ReasonCount `json:"top_reason_codes"`
}

// ReasonCount represents a reason code and its occurrence count
type ReasonCount struct {
	ReasonCode string `json:"reason_code"`
	Count      int    `json:"count"`
}
