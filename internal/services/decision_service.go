package services

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog/log"

	"github.com/fraudshield/backend/internal/models"
	"github.com/fraudshield/backend/internal/queue"
	"github.com/fraudshield/backend/internal/repositories"
	"github.com/fraudshield/backend/internal/scoring"
)

const (
	decisionCacheTTL = 24 * time.Hour

	// Client profiles change rarely (ceiling, residence country); a short TTL
	// keeps hot clients off the database without a stale-read risk worth an
	// invalidation protocol.
	clientCacheTTL = 5 * time.Minute
)

// ErrNoClients is returned when a seeding run finds no clients to draw from
var ErrNoClients = errors.New("no clients available for seeding")

// ScoreRequest represents an incoming transaction to score
type ScoreRequest struct {
	ClientID        string             `json:"client_id" binding:"required"`
	CardID          string             `json:"card_id" binding:"required"`
	MerchantID      string             `json:"merchant_id"`
	MerchantCountry string             `json:"merchant_country"`
	Amount          float64            `json:"amount" binding:"required,gt=0"`
	Currency        string             `json:"currency" binding:"required,len=3"`
	Channel         string             `json:"channel" binding:"required,oneof=POS E_COMMERCE ATM"`
	Timestamp       *time.Time         `json:"timestamp"`
	MLFeatures      map[string]float64 `json:"ml_features,omitempty"`
}

// ScoreResponse represents the response after scoring a transaction
type ScoreResponse struct {
	TransactionID string                `json:"transaction_id"`
	AlertID       string                `json:"alert_id"`
	Status        string                `json:"status"`
	Decision      *models.FraudDecision `json:"decision"`
	CreatedAt     time.Time             `json:"created_at"`
}

// DecisionService runs the scoring pipeline for incoming transactions and
// persists the outcome: the transaction row, its alert and the per-model
// predictions, all in one database transaction. Scoring happens before the
// transaction is persisted so it never counts toward its own behavioral
// windows.
type DecisionService struct {
	db           *repositories.Database
	txRepo       *repositories.TransactionRepository
	clientRepo   *repositories.ClientRepository
	merchantRepo *repositories.MerchantRepository
	alertRepo    *repositories.AlertRepository
	auditRepo    *repositories.AuditRepository
	engine       *scoring.Engine
	streamClient *queue.RedisStreamClient
	cacheClient  *queue.CacheClient
}

// NewDecisionService creates a new decision service
func NewDecisionService(
	db *repositories.Database,
	txRepo *repositories.TransactionRepository,
	clientRepo *repositories.ClientRepository,
	merchantRepo *repositories.MerchantRepository,
	alertRepo *repositories.AlertRepository,
	auditRepo *repositories.AuditRepository,
	engine *scoring.Engine,
	streamClient *queue.RedisStreamClient,
	cacheClient *queue.CacheClient,
) *DecisionService {
	return &DecisionService{
		db:           db,
		txRepo:       txRepo,
		clientRepo:   clientRepo,
		merchantRepo: merchantRepo,
		alertRepo:    alertRepo,
		auditRepo:    auditRepo,
		engine:       engine,
		streamClient: streamClient,
		cacheClient:  cacheClient,
	}
}

// ScoreTransaction scores a transaction and persists it with its alert and
// model predictions
func (s *DecisionService) ScoreTransaction(ctx context.Context, req *ScoreRequest, requestID string) (*ScoreResponse, error) {
	startTime := time.Now()

	tx, profile, err := s.buildTransaction(ctx, req)
	if err != nil {
		return nil, err
	}

	decision, err := s.engine.Evaluate(ctx, scoring.EvalInput{
		Transaction: *tx,
		Profile:     profile,
		MLFeatures:  req.MLFeatures,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to evaluate transaction: %w", err)
	}

	// High-criticality transactions are held for analyst review
	if decision.Criticality == models.CriticalityHigh {
		tx.Status = models.TransactionStatusPending
	} else {
		tx.Status = models.TransactionStatusAccepted
	}

	alert := &models.Alert{
		TransactionID: tx.ID,
		Criticality:   decision.Criticality,
		Status:        models.AlertStatusOpen,
		Rationale:     decision.Rationale,
		ReasonCodes:   decision.ReasonCodes,
		FinalScore:    decision.FinalScore,
		Features:      featuresPayload(decision),
	}

	predictions := []*models.ModelPrediction{
		{
			TransactionID: tx.ID,
			ModelName:     models.ModelNameSupervised,
			ModelVersion:  decision.ModelVersion,
			RiskScore:     decision.ScoreSupervised,
			IsAnomaly:     false,
		},
		{
			TransactionID: tx.ID,
			ModelName:     models.ModelNameAnomaly,
			ModelVersion:  decision.ModelVersion,
			RiskScore:     decision.ScoreAnomaly,
			IsAnomaly:     decision.ScoreAnomaly >= 1.0,
		},
	}

	err = s.db.WithTransaction(ctx, func(dbtx pgx.Tx) error {
		if err := s.txRepo.CreateTx(ctx, dbtx, tx); err != nil {
			return fmt.Errorf("failed to create transaction: %w", err)
		}
		return s.alertRepo.CreateWithPredictions(ctx, dbtx, alert, predictions)
	})
	if err != nil {
		return nil, err
	}

	s.publishDecision(ctx, tx, decision)
	s.cacheDecision(ctx, decision)
	s.createAuditLog(ctx, tx, decision, requestID)

	log.Info().
		Str("transaction_id", tx.ID.String()).
		Str("client_id", tx.ClientID.String()).
		Float64("amount", tx.Amount).
		Str("criticality", decision.Criticality).
		Dur("processing_time", time.Since(startTime)).
		Msg("Transaction scored")

	return &ScoreResponse{
		TransactionID: tx.ID.String(),
		AlertID:       alert.ID.String(),
		Status:        tx.Status,
		Decision:      decision,
		CreatedAt:     tx.CreatedAt,
	}, nil
}

// Simulate scores a transaction without persisting anything. The behavioral
// windows still read committed history, so a simulation sees the same
// features a real transaction would.
func (s *DecisionService) Simulate(ctx context.Context, req *ScoreRequest) (*models.FraudDecision, error) {
	tx, profile, err := s.buildTransaction(ctx, req)
	if err != nil {
		return nil, err
	}

	decision, err := s.engine.Evaluate(ctx, scoring.EvalInput{
		Transaction: *tx,
		Profile:     profile,
		MLFeatures:  req.MLFeatures,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to evaluate transaction: %w", err)
	}

	return decision, nil
}

// buildTransaction validates the request, resolves the client profile and the
// merchant country, and assembles the transaction to score.
func (s *DecisionService) buildTransaction(ctx context.Context, req *ScoreRequest) (*models.Transaction, *models.Client, error) {
	clientID, err := uuid.Parse(req.ClientID)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid client_id format: %w", err)
	}

	cardID, err := uuid.Parse(req.CardID)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid card_id format: %w", err)
	}

	profile, err := s.getClientProfile(ctx, clientID)
	if err != nil {
		return nil, nil, fmt.Errorf("client not found: %w", err)
	}

	var merchantID uuid.UUID
	merchantCountry := normalizeCountry(req.MerchantCountry)

	if req.MerchantID != "" {
		merchantID, err = uuid.Parse(req.MerchantID)
		if err != nil {
			return nil, nil, fmt.Errorf("invalid merchant_id format: %w", err)
		}

		if merchantCountry == "" {
			merchant, err := s.merchantRepo.GetByID(ctx, merchantID)
			if err != nil {
				return nil, nil, fmt.Errorf("merchant not found: %w", err)
			}
			merchantCountry = merchant.Country
		}
	}

	ts := time.Now().UTC()
	if req.Timestamp != nil {
		ts = req.Timestamp.UTC()
	}

	tx := &models.Transaction{
		ID:              uuid.New(),
		ClientID:        clientID,
		CardID:          cardID,
		MerchantID:      merchantID,
		MerchantCountry: merchantCountry,
		Amount:          req.Amount,
		Currency:        strings.ToUpper(req.Currency),
		Channel:         req.Channel,
		Timestamp:       ts,
	}

	return tx, profile, nil
}

// GetTransaction retrieves a transaction by ID
func (s *DecisionService) GetTransaction(ctx context.Context, transactionID string) (*models.Transaction, error) {
	id, err := uuid.Parse(transactionID)
	if err != nil {
		return nil, fmt.Errorf("invalid transaction_id format: %w", err)
	}

	return s.txRepo.GetByID(ctx, id)
}

// ListTransactions retrieves transactions, optionally filtered by client
func (s *DecisionService) ListTransactions(ctx context.Context, clientID string, page, pageSize int) ([]*models.Transaction, int, error) {
	var filter *uuid.UUID
	if clientID != "" {
		id, err := uuid.Parse(clientID)
		if err != nil {
			return nil, 0, fmt.Errorf("invalid client_id format: %w", err)
		}
		filter = &id
	}

	return s.txRepo.List(ctx, filter, page, pageSize)
}

// GetDecision retrieves a cached decision for a transaction, falling back to
// the persisted alert when the cache entry has expired
func (s *DecisionService) GetDecision(ctx context.Context, transactionID string) (*models.FraudDecision, error) {
	id, err := uuid.Parse(transactionID)
	if err != nil {
		return nil, fmt.Errorf("invalid transaction_id format: %w", err)
	}

	var cached models.FraudDecision
	if err := s.cacheClient.Get(ctx, decisionCacheKey(id), &cached); err == nil {
		return &cached, nil
	}

	alert, err := s.alertRepo.GetByTransactionID(ctx, id)
	if err != nil {
		return nil, err
	}

	decision := &models.FraudDecision{
		TransactionID: alert.TransactionID,
		FinalScore:    alert.FinalScore,
		Criticality:   alert.Criticality,
		Rationale:     alert.Rationale,
		ReasonCodes:   alert.ReasonCodes,
		ScoredAt:      alert.CreatedAt,
	}

	predictions, err := s.alertRepo.GetPredictions(ctx, id)
	if err != nil {
		return nil, err
	}
	for _, p := range predictions {
		switch p.ModelName {
		case models.ModelNameSupervised:
			decision.ScoreSupervised = p.RiskScore
			decision.ModelVersion = p.ModelVersion
		case models.ModelNameAnomaly:
			decision.ScoreAnomaly = p.RiskScore
		}
	}

	return decision, nil
}

// publishDecision pushes the decision onto the out-stream for alert workers.
// A publish failure never fails the request: the decision is already durable.
func (s *DecisionService) publishDecision(ctx context.Context, tx *models.Transaction, decision *models.FraudDecision) {
	event := &models.DecisionEvent{
		TransactionID: tx.ID.String(),
		ClientID:      tx.ClientID.String(),
		Amount:        tx.Amount,
		Currency:      tx.Currency,
		Channel:       tx.Channel,
		FinalScore:    decision.FinalScore,
		Criticality:   decision.Criticality,
		ReasonCodes:   decision.ReasonCodes,
		Degraded:      decision.Degraded,
		ScoredAt:      decision.ScoredAt,
	}

	if _, err := s.streamClient.Publish(ctx, event); err != nil {
		log.Error().Err(err).
			Str("transaction_id", tx.ID.String()).
			Msg("Failed to publish decision to stream")
	}
}

func (s *DecisionService) cacheDecision(ctx context.Context, decision *models.FraudDecision) {
	key := decisionCacheKey(decision.TransactionID)
	if err := s.cacheClient.Set(ctx, key, decision, decisionCacheTTL); err != nil {
		log.Warn().Err(err).Str("key", key).Msg("Failed to cache decision")
	}
}

// getClientProfile reads the client profile through the cache. A cache
// failure falls back to the database silently; a database miss is the caller's
// error.
func (s *DecisionService) getClientProfile(ctx context.Context, clientID uuid.UUID) (*models.Client, error) {
	key := clientCacheKey(clientID)

	var cached models.Client
	if err := s.cacheClient.Get(ctx, key, &cached); err == nil {
		return &cached, nil
	}

	profile, err := s.clientRepo.GetByID(ctx, clientID)
	if err != nil {
		return nil, err
	}

	if err := s.cacheClient.Set(ctx, key, profile, clientCacheTTL); err != nil {
		log.Warn().Err(err).Str("key", key).Msg("Failed to cache client profile")
	}
	return profile, nil
}

// InvalidateClientProfile drops the cached profile for a client. Called after
// a profile update so the next scored transaction reads fresh ceilings.
func (s *DecisionService) InvalidateClientProfile(ctx context.Context, clientID uuid.UUID) {
	key := clientCacheKey(clientID)
	if err := s.cacheClient.Delete(ctx, key); err != nil {
		log.Warn().Err(err).Str("key", key).Msg("Failed to invalidate client profile cache")
	}
}

// SeedResult summarizes a bulk seeding run
type SeedResult struct {
	Created     int            `json:"created"`
	Criticality map[string]int `json:"criticality"`
}

// SeedTransactions generates count random transactions spread across existing
// clients and runs each one through the full scoring pipeline, persisting
// transactions, alerts and predictions like live traffic. Intended for demo
// and load-testing environments.
func (s *DecisionService) SeedTransactions(ctx context.Context, count int, requestID string) (*SeedResult, error) {
	clients, _, err := s.clientRepo.List(ctx, 1, 200)
	if err != nil {
		return nil, fmt.Errorf("failed to list clients: %w", err)
	}
	if len(clients) == 0 {
		return nil, ErrNoClients
	}

	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	result := &SeedResult{Criticality: make(map[string]int)}

	for i := 0; i < count; i++ {
		client := clients[rng.Intn(len(clients))]
		req := randomScoreRequest(rng, client.ID)

		resp, err := s.ScoreTransaction(ctx, req, requestID)
		if err != nil {
			return nil, fmt.Errorf("seeding failed after %d transactions: %w", result.Created, err)
		}

		result.Created++
		result.Criticality[resp.Decision.Criticality]++
	}

	log.Info().
		Int("created", result.Created).
		Str("request_id", requestID).
		Msg("Seeded transactions")

	return result, nil
}

var seedCountries = []string{"FR", "FR", "FR", "FR", "FR", "FR", "DE", "ES", "US", "NG"}

// randomScoreRequest builds a plausible transaction for a client. Amounts skew
// toward everyday purchases with a long tail, countries mostly domestic, and
// a slice of timestamps lands in night hours to exercise the time features.
func randomScoreRequest(rng *rand.Rand, clientID uuid.UUID) *ScoreRequest {
	var amount float64
	switch p := rng.Float64(); {
	case p < 0.70:
		amount = 5 + rng.Float64()*145
	case p < 0.90:
		amount = 150 + rng.Float64()*650
	default:
		amount = 800 + rng.Float64()*2200
	}
	amount = float64(int(amount*100)) / 100

	var channel string
	switch p := rng.Float64(); {
	case p < 0.55:
		channel = models.ChannelPOS
	case p < 0.90:
		channel = models.ChannelECommerce
	default:
		channel = models.ChannelATM
	}

	ts := time.Now().UTC().Add(-time.Duration(rng.Intn(72)) * time.Hour)

	return &ScoreRequest{
		ClientID:        clientID.String(),
		CardID:          uuid.New().String(),
		MerchantCountry: seedCountries[rng.Intn(len(seedCountries))],
		Amount:          amount,
		Currency:        "EUR",
		Channel:         channel,
		Timestamp:       &ts,
	}
}

func (s *DecisionService) createAuditLog(ctx context.Context, tx *models.Transaction, decision *models.FraudDecision, requestID string) {
	auditLog := &models.AuditLog{
		EventType:  models.AuditEventDecision,
		EntityID:   tx.ID,
		EntityType: "transaction",
		Action:     "score",
		RequestID:  requestID,
		Payload: models.JSONB{
			"client_id":    tx.ClientID.String(),
			"amount":       tx.Amount,
			"currency":     tx.Currency,
			"channel":      tx.Channel,
			"final_score":  decision.FinalScore,
			"criticality":  decision.Criticality,
			"reason_codes": decision.ReasonCodes,
			"degraded":     decision.Degraded,
		},
	}

	if err := s.auditRepo.Create(ctx, auditLog); err != nil {
		log.Error().Err(err).
			Str("transaction_id", tx.ID.String()).
			Msg("Failed to create audit log")
	}
}

func featuresPayload(decision *models.FraudDecision) models.JSONB {
	payload := models.JSONB{}
	for k, v := range decision.Features.Map() {
		payload[k] = v
	}
	return payload
}

func decisionCacheKey(id uuid.UUID) string {
	return "decision:" + id.String()
}

func clientCacheKey(id uuid.UUID) string {
	return "client:" + id.String()
}

func normalizeCountry(raw string) string {
	return strings.ToUpper(strings.TrimSpace(raw))
}
