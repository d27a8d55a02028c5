package repositories

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/fraudshield/backend/internal/models"
)

var (
	ErrClientNotFound   = errors.New("client not found")
	ErrMerchantNotFound = errors.New("merchant not found")
)

// ClientRepository handles client profile reads and writes. The decisioning
// pipeline only ever reads from it.
type ClientRepository struct {
	db *Database
}

// NewClientRepository creates a new client repository
func NewClientRepository(db *Database) *ClientRepository {
	return &ClientRepository{db: db}
}

// Create inserts a new client
func (r *ClientRepository) Create(ctx context.Context, client *models.Client) error {
	query := `
		INSERT INTO clients (
			id, first_name, last_name, external_ref, segment,
			residence_country, monthly_income, daily_ceiling, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	if client.ID == uuid.Nil {
		client.ID = uuid.New()
	}
	client.CreatedAt = time.Now().UTC()

	_, err := r.db.Pool.Exec(ctx, query,
		client.ID,
		client.FirstName,
		client.LastName,
		client.ExternalRef,
		client.Segment,
		client.ResidenceCountry,
		client.MonthlyIncome,
		client.DailyCeiling,
		client.CreatedAt,
	)
	return err
}

// GetByID retrieves a client by ID. Unknown profile fields come back as
// zero values, which the feature store treats as "unknown".
func (r *ClientRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Client, error) {
	query := `
		SELECT id, first_name, last_name, external_ref, segment,
			   COALESCE(residence_country, ''), COALESCE(monthly_income, 0),
			   COALESCE(daily_ceiling, 0), created_at
		FROM clients
		WHERE id = $1
	`

	client := &models.Client{}
	err := r.db.Pool.QueryRow(ctx, query, id).Scan(
		&client.ID,
		&client.FirstName,
		&client.LastName,
		&client.ExternalRef,
		&client.Segment,
		&client.ResidenceCountry,
		&client.MonthlyIncome,
		&client.DailyCeiling,
		&client.CreatedAt,
	)

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrClientNotFound
		}
		return nil, err
	}

	return client, nil
}

// GetByExternalRef retrieves a client by external reference
func (r *ClientRepository) GetByExternalRef(ctx context.Context, ref string) (*models.Client, error) {
	query := `
		SELECT id, first_name, last_name, external_ref, segment,
			   COALESCE(residence_country, ''), COALESCE(monthly_income, 0),
			   COALESCE(daily_ceiling, 0), created_at
		FROM clients
		WHERE external_ref = $1
	`

	client := &models.Client{}
	err := r.db.Pool.QueryRow(ctx, query, ref).Scan(
		&client.ID,
		&client.FirstName,
		&client.LastName,
		&client.ExternalRef,
		&client.Segment,
		&client.ResidenceCountry,
		&client.MonthlyIncome,
		&client.DailyCeiling,
		&client.CreatedAt,
	)

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrClientNotFound
		}
		return nil, err
	}

	return client, nil
}

// UpdateProfile updates the risk-relevant profile fields of a client. Callers
// must invalidate any cached copy afterwards.
func (r *ClientRepository) UpdateProfile(ctx context.Context, client *models.Client) error {
	query := `
		UPDATE clients
		SET segment = $2, residence_country = $3, monthly_income = $4, daily_ceiling = $5
		WHERE id = $1
	`

	result, err := r.db.Pool.Exec(ctx, query,
		client.ID,
		client.Segment,
		client.ResidenceCountry,
		client.MonthlyIncome,
		client.DailyCeiling,
	)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return ErrClientNotFound
	}
	return nil
}

// List retrieves clients with pagination
func (r *ClientRepository) List(ctx context.Context, page, pageSize int) ([]*models.Client, int, error) {
	offset := (page - 1) * pageSize

	var total int
	if err := r.db.Pool.QueryRow(ctx, `SELECT COUNT(*) FROM clients`).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `
		SELECT id, first_name, last_name, external_ref, segment,
			   COALESCE(residence_country, ''), COALESCE(monthly_income, 0),
			   COALESCE(daily_ceiling, 0), created_at
		FROM clients
		ORDER BY created_at DESC
		LIMIT $1 OFFSET $2
	`

	rows, err := r.db.Pool.Query(ctx, query, pageSize, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var clients []*models.Client
	for rows.Next() {
		client := &models.Client{}
		if err := rows.Scan(
			&client.ID,
			&client.FirstName,
			&client.LastName,
			&client.ExternalRef,
			&client.Segment,
			&client.ResidenceCountry,
			&client.MonthlyIncome,
			&client.DailyCeiling,
			&client.CreatedAt,
		); err != nil {
			return nil, 0, err
		}
		clients = append(clients, client)
	}

	return clients, total, rows.Err()
}

// MerchantRepository handles merchant reference data.
type MerchantRepository struct {
	db *Database
}

// NewMerchantRepository creates a new merchant repository
func NewMerchantRepository(db *Database) *MerchantRepository {
	return &MerchantRepository{db: db}
}

// Create inserts a new merchant
func (r *MerchantRepository) Create(ctx context.Context, merchant *models.Merchant) error {
	query := `
		INSERT INTO merchants (id, name, category, country)
		VALUES ($1, $2, $3, $4)
	`

	if merchant.ID == uuid.Nil {
		merchant.ID = uuid.New()
	}

	_, err := r.db.Pool.Exec(ctx, query,
		merchant.ID, merchant.Name, merchant.Category, merchant.Country,
	)
	return err
}

// GetByID retrieves a merchant by ID
func (r *MerchantRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Merchant, error) {
	query := `
		SELECT id, name, COALESCE(category, ''), COALESCE(country, '')
		FROM merchants
		WHERE id = $1
	`

	merchant := &models.Merchant{}
	err := r.db.Pool.QueryRow(ctx, query, id).Scan(
		&merchant.ID, &merchant.Name, &merchant.Category, &merchant.Country,
	)

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrMerchantNotFound
		}
		return nil, err
	}

	return merchant, nil
}
