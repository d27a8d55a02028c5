package repositories

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/fraudshield/backend/internal/models"
)

var (
	ErrTransactionNotFound  = errors.New("transaction not found")
	ErrDuplicateTransaction = errors.New("duplicate transaction")
)

// TransactionRepository handles transaction database operations. Its window
// aggregates implement the history accessor used by the feature store:
// half-open [from, to) intervals scoped by client, so a transaction never
// counts toward its own windows.
type TransactionRepository struct {
	db *Database
}

// NewTransactionRepository creates a new transaction repository
func NewTransactionRepository(db *Database) *TransactionRepository {
	return &TransactionRepository{db: db}
}

// CreateTx inserts a transaction inside an existing database transaction.
// The caller controls when this happens relative to feature computation;
// scoring a transaction before persisting it keeps it out of its own
// behavioral windows.
func (r *TransactionRepository) CreateTx(ctx context.Context, dbtx pgx.Tx, tx *models.Transaction) error {
	query := `
		INSERT INTO transactions (
			id, client_id, card_id, merchant_id, merchant_country,
			amount, currency, channel, status, ts, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`

	if tx.ID == uuid.Nil {
		tx.ID = uuid.New()
	}
	tx.CreatedAt = time.Now().UTC()

	_, err := dbtx.Exec(ctx, query,
		tx.ID, tx.ClientID, tx.CardID, tx.MerchantID, tx.MerchantCountry,
		tx.Amount, tx.Currency, tx.Channel, tx.Status, tx.Timestamp, tx.CreatedAt,
	)
	if err != nil && isDuplicateKeyError(err) {
		return ErrDuplicateTransaction
	}
	return err
}

// GetByID retrieves a transaction by ID
func (r *TransactionRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Transaction, error) {
	query := `
		SELECT id, client_id, card_id, merchant_id, merchant_country,
			   amount, currency, channel, status, ts, created_at
		FROM transactions
		WHERE id = $1
	`

	tx := &models.Transaction{}
	err := r.db.Pool.QueryRow(ctx, query, id).Scan(
		&tx.ID,
		&tx.ClientID,
		&tx.CardID,
		&tx.MerchantID,
		&tx.MerchantCountry,
		&tx.Amount,
		&tx.Currency,
		&tx.Channel,
		&tx.Status,
		&tx.Timestamp,
		&tx.CreatedAt,
	)

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrTransactionNotFound
		}
		return nil, err
	}

	return tx, nil
}

// CountByClient counts prior transactions of a client in [from, to).
func (r *TransactionRepository) CountByClient(ctx context.Context, clientID uuid.UUID, from, to time.Time) (int, error) {
	query := `
		SELECT COUNT(*)
		FROM transactions
		WHERE client_id = $1 AND ts >= $2 AND ts < $3
	`

	var count int
	if err := r.db.Pool.QueryRow(ctx, query, clientID, from, to).Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

// AvgAmountByClient averages prior transaction amounts of a client in
// [from, to). An empty window yields 0.0, never NULL.
func (r *TransactionRepository) AvgAmountByClient(ctx context.Context, clientID uuid.UUID, from, to time.Time) (float64, error) {
	query := `
		SELECT COALESCE(AVG(amount), 0)
		FROM transactions
		WHERE client_id = $1 AND ts >= $2 AND ts < $3
	`

	var avg float64
	if err := r.db.Pool.QueryRow(ctx, query, clientID, from, to).Scan(&avg); err != nil {
		return 0, err
	}
	return avg, nil
}

// List retrieves transactions with pagination, newest first, optionally
// scoped to one client.
func (r *TransactionRepository) List(ctx context.Context, clientID *uuid.UUID, page, pageSize int) ([]*models.Transaction, int, error) {
	offset := (page - 1) * pageSize

	countQuery := `
		SELECT COUNT(*) FROM transactions
		WHERE ($1::uuid IS NULL OR client_id = $1)
	`
	var total int
	if err := r.db.Pool.QueryRow(ctx, countQuery, clientID).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `
		SELECT id, client_id, card_id, merchant_id, merchant_country,
			   amount, currency, channel, status, ts, created_at
		FROM transactions
		WHERE ($1::uuid IS NULL OR client_id = $1)
		ORDER BY ts DESC
		LIMIT $2 OFFSET $3
	`

	rows, err := r.db.Pool.Query(ctx, query, clientID, pageSize, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	return r.scanTransactions(rows, total)
}

// HourlyVolume returns per-hour transaction counts for one UTC day.
func (r *TransactionRepository) HourlyVolume(ctx context.Context, date time.Time) (map[int]int, error) {
	dayStart := time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, time.UTC)
	dayEnd := dayStart.Add(24 * time.Hour)

	query := `
		SELECT EXTRACT(HOUR FROM ts)::int AS hour, COUNT(*)
		FROM transactions
		WHERE ts >= $1 AND ts < $2
		GROUP BY hour
		ORDER BY hour
	`

	rows, err := r.db.Pool.Query(ctx, query, dayStart, dayEnd)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	volume := make(map[int]int)
	for rows.Next() {
		var hour, count int
		if err := rows.Scan(&hour, &count); err != nil {
			return nil, err
		}
		volume[hour] = count
	}
	return volume, rows.Err()
}

func (r *TransactionRepository) scanTransactions(rows pgx.Rows, total int) ([]*models.Transaction, int, error) {
	var transactions []*models.Transaction
	for rows.Next() {
		tx := &models.Transaction{}
		if err := rows.Scan(
			&tx.ID,
			&tx.ClientID,
			&tx.CardID,
			&tx.MerchantID,
			&tx.MerchantCountry,
			&tx.Amount,
			&tx.Currency,
			&tx.Channel,
			&tx.Status,
			&tx.Timestamp,
			&tx.CreatedAt,
		); err != nil {
			return nil, 0, err
		}
		transactions = append(transactions, tx)
	}

	return transactions, total, rows.Err()
}

// isDuplicateKeyError reports a PostgreSQL unique-violation.
func isDuplicateKeyError(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
