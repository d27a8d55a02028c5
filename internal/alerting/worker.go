package alerting

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/fraudshield/backend/configs"
	"github.com/fraudshield/backend/internal/models"
	"github.com/fraudshield/backend/internal/queue"
	"github.com/fraudshield/backend/internal/repositories"
)

// Exporter publishes a decision event downstream. Satisfied by KafkaExporter;
// tests substitute a fake.
type Exporter interface {
	Export(event *models.DecisionEvent) error
}

// Worker consumes scored decisions from the stream, writes the dispatch audit
// trail and exports high-criticality alerts downstream
type Worker struct {
	id           string
	streamClient *queue.RedisStreamClient
	auditRepo    *repositories.AuditRepository
	exporter     Exporter
	config       configs.WorkerConfig
	wg           sync.WaitGroup
	stopCh       chan struct{}
	metrics      *WorkerMetrics
}

// WorkerMetrics tracks worker performance
type WorkerMetrics struct {
	mu                sync.RWMutex
	ProcessedCount    int64
	ExportedCount     int64
	FailedCount       int64
	TotalProcessingMs int64
	LastProcessedAt   time.Time
}

// NewWorker creates a new alert worker
func NewWorker(id string, streamClient *queue.RedisStreamClient, auditRepo *repositories.AuditRepository, exporter Exporter, config configs.WorkerConfig) *Worker {
	return &Worker{
		id:           id,
		streamClient: streamClient,
		auditRepo:    auditRepo,
		exporter:     exporter,
		config:       config,
		stopCh:       make(chan struct{}),
		metrics:      &WorkerMetrics{},
	}
}

// Start starts the worker goroutines and blocks until the context is
// cancelled or Stop is called
func (w *Worker) Start(ctx context.Context) error {
	log.Info().
		Str("worker_id", w.id).
		Msg("Starting alert worker")

	w.wg.Add(1)
	go w.processLoop(ctx, w.id)

	select {
	case <-w.stopCh:
	case <-ctx.Done():
	}

	w.wg.Wait()
	return nil
}

// Stop stops the worker gracefully
func (w *Worker) Stop() error {
	log.Info().Str("worker_id", w.id).Msg("Stopping worker...")
	select {
	case <-w.stopCh:
	default:
		close(w.stopCh)
	}
	w.wg.Wait()
	log.Info().Str("worker_id", w.id).Msg("Worker stopped")
	return nil
}

// processLoop is the main processing loop for a worker goroutine
func (w *Worker) processLoop(ctx context.Context, consumerName string) {
	defer w.wg.Done()

	log.Info().Str("consumer", consumerName).Msg("Worker goroutine started")

	for {
		select {
		case <-w.stopCh:
			log.Info().Str("consumer", consumerName).Msg("Worker goroutine stopping")
			return
		case <-ctx.Done():
			return
		default:
			w.processBatch(ctx, consumerName)
		}
	}
}

// processBatch consumes and processes one batch of decision events
func (w *Worker) processBatch(ctx context.Context, consumerName string) {
	messages, err := w.streamClient.Consume(ctx, consumerName, int64(w.config.BatchSize), w.config.PollInterval)
	if err != nil {
		log.Error().Err(err).Str("consumer", consumerName).Msg("Failed to consume messages")
		time.Sleep(time.Second) // Back off on error
		return
	}

	if len(messages) == 0 {
		return
	}

	log.Debug().
		Str("consumer", consumerName).
		Int("count", len(messages)).
		Msg("Processing batch")

	var ackIDs []string
	auditLogs := make([]*models.AuditLog, 0, len(messages))

	for _, msg := range messages {
		auditLog, err := w.processMessage(msg)
		if err != nil {
			log.Error().
				Err(err).
				Str("message_id", msg.ID).
				Str("transaction_id", msg.Event.TransactionID).
				Msg("Failed to process decision event")

			if msg.Event.RetryCount < w.config.RetryAttempts {
				msg.Event.RetryCount++
				if _, err := w.streamClient.Publish(ctx, msg.Event); err != nil {
					log.Error().Err(err).Msg("Failed to requeue message")
				}
			} else {
				if err := w.streamClient.SendToDeadLetter(ctx, msg.Event, err); err != nil {
					log.Error().Err(err).Msg("Failed to send to dead letter queue")
				}
			}

			w.metrics.mu.Lock()
			w.metrics.FailedCount++
			w.metrics.mu.Unlock()
		} else if auditLog != nil {
			auditLogs = append(auditLogs, auditLog)
		}

		ackIDs = append(ackIDs, msg.ID)
	}

	// One round trip for the whole batch
	if len(auditLogs) > 0 {
		if err := w.auditRepo.CreateBatch(ctx, auditLogs); err != nil {
			log.Error().Err(err).Int("count", len(auditLogs)).Msg("Failed to write audit batch")
		}
	}

	if len(ackIDs) > 0 {
		if err := w.streamClient.AcknowledgeBatch(ctx, ackIDs); err != nil {
			log.Error().Err(err).Msg("Failed to acknowledge messages")
		}
	}
}

// processMessage handles a single decision event and returns the dispatch
// audit entry to write; audit entries for a batch are persisted together by
// the caller
func (w *Worker) processMessage(msg queue.StreamMessage) (*models.AuditLog, error) {
	startTime := time.Now()
	event := msg.Event

	exported := false
	if event.Criticality == models.CriticalityHigh {
		if err := w.exporter.Export(event); err != nil {
			return nil, fmt.Errorf("alert export failed: %w", err)
		}
		exported = true
	}

	auditLog := w.buildAuditLog(event, exported)

	processingTime := time.Since(startTime)

	w.metrics.mu.Lock()
	w.metrics.ProcessedCount++
	if exported {
		w.metrics.ExportedCount++
	}
	w.metrics.TotalProcessingMs += processingTime.Milliseconds()
	w.metrics.LastProcessedAt = time.Now()
	w.metrics.mu.Unlock()

	return auditLog, nil
}

// buildAuditLog records that the decision event left the pipeline
func (w *Worker) buildAuditLog(event *models.DecisionEvent, exported bool) *models.AuditLog {
	entityID, err := uuid.Parse(event.TransactionID)
	if err != nil {
		log.Warn().Str("transaction_id", event.TransactionID).Msg("Invalid transaction ID in decision event")
		return nil
	}

	return &models.AuditLog{
		EventType:  models.AuditEventAlert,
		EntityID:   entityID,
		EntityType: "transaction",
		Action:     "dispatch",
		Payload: models.JSONB{
			"criticality":  event.Criticality,
			"final_score":  event.FinalScore,
			"reason_codes": event.ReasonCodes,
			"degraded":     event.Degraded,
			"exported":     exported,
		},
	}
}

// GetMetrics returns a snapshot of the worker metrics
func (w *Worker) GetMetrics() WorkerMetrics {
	w.metrics.mu.RLock()
	defer w.metrics.mu.RUnlock()
	return WorkerMetrics{
		ProcessedCount:    w.metrics.ProcessedCount,
		ExportedCount:     w.metrics.ExportedCount,
		FailedCount:       w.metrics.FailedCount,
		TotalProcessingMs: w.metrics.TotalProcessingMs,
		LastProcessedAt:   w.metrics.LastProcessedAt,
	}
}

// WorkerPool manages multiple alert workers
type WorkerPool struct {
	workers []*Worker
	wg      sync.WaitGroup
}

// NewWorkerPool creates a new worker pool
func NewWorkerPool(
	numWorkers int,
	streamClient *queue.RedisStreamClient,
	auditRepo *repositories.AuditRepository,
	exporter Exporter,
	config configs.WorkerConfig,
) *WorkerPool {
	pool := &WorkerPool{
		workers: make([]*Worker, numWorkers),
	}

	for i := 0; i < numWorkers; i++ {
		pool.workers[i] = NewWorker(
			fmt.Sprintf("alert-worker-%d", i),
			streamClient,
			auditRepo,
			exporter,
			config,
		)
	}

	return pool
}

// Start starts all workers in the pool
func (p *WorkerPool) Start(ctx context.Context) error {
	log.Info().Int("num_workers", len(p.workers)).Msg("Starting worker pool")

	errCh := make(chan error, len(p.workers))

	for _, worker := range p.workers {
		w := worker
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			if err := w.Start(ctx); err != nil {
				errCh <- err
			}
		}()
	}

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop stops all workers in the pool
func (p *WorkerPool) Stop() error {
	log.Info().Msg("Stopping worker pool")

	for _, worker := range p.workers {
		if err := worker.Stop(); err != nil {
			log.Error().Err(err).Str("worker_id", worker.id).Msg("Failed to stop worker")
		}
	}

	p.wg.Wait()
	log.Info().Msg("Worker pool stopped")
	return nil
}

// GetAggregatedMetrics returns aggregated metrics from all workers
func (p *WorkerPool) GetAggregatedMetrics() map[string]interface{} {
	var totalProcessed, totalExported, totalFailed, totalProcessingMs int64
	var lastProcessedAt time.Time

	for _, worker := range p.workers {
		m := worker.GetMetrics()
		totalProcessed += m.ProcessedCount
		totalExported += m.ExportedCount
		totalFailed += m.FailedCount
		totalProcessingMs += m.TotalProcessingMs
		if m.LastProcessedAt.After(lastProcessedAt) {
			lastProcessedAt = m.LastProcessedAt
		}
	}

	avgProcessingMs := float64(0)
	if totalProcessed > 0 {
		avgProcessingMs = float64(totalProcessingMs) / float64(totalProcessed)
	}

	return map[string]interface{}{
		"total_processed":   totalProcessed,
		"total_exported":    totalExported,
		"total_failed":      totalFailed,
		"avg_processing_ms": avgProcessingMs,
		"last_processed_at": lastProcessedAt,
		"active_workers":    len(p.workers),
	}
}
