package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"payment-orchestration/internal/models"
)

const uniqueViolation = "23505"

// PaymentRepository stores payment records in PostgreSQL. Status writes are
// conditional on the version read by the caller and on the row not being
// terminal, which makes each transition a compare-and-set.
type PaymentRepository struct {
	db *sql.DB
}

func NewPaymentRepository(db *sql.DB) *PaymentRepository {
	return &PaymentRepository{db: db}
}

const paymentColumns = `
	reference, order_ref, customer_ref, gateway_code, gateway_variant_code,
	account_number, amount, currency, status, gateway_reference, tracking_id,
	provider_final_message, version, created_at, updated_at
`

func (r *PaymentRepository) Create(ctx context.Context, rec models.PaymentRecord) error {
	query := `
		INSERT INTO payment_records (` + paymentColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	`

	_, err := r.db.ExecContext(ctx, query,
		rec.Reference,
		rec.OrderRef,
		rec.CustomerRef,
		rec.GatewayCode,
		rec.GatewayVariantCode,
		rec.AccountNumber,
		rec.Amount,
		rec.Currency,
		rec.Status,
		rec.GatewayReference,
		rec.TrackingID,
		rec.ProviderFinalMessage,
		rec.Version,
		rec.CreatedAt,
		rec.UpdatedAt,
	)

	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
		return fmt.Errorf("%w: %s", models.ErrDuplicateReference, rec.Reference)
	}
	return err
}

func (r *PaymentRepository) FindByReference(ctx context.Context, reference string) (models.PaymentRecord, error) {
	query := `SELECT ` + paymentColumns + ` FROM payment_records WHERE reference = $1`
	return r.scanOne(r.db.QueryRowContext(ctx, query, reference))
}

func (r *PaymentRepository) FindByTrackingID(ctx context.Context, gatewayCode, trackingID string) (models.PaymentRecord, error) {
	if trackingID == "" {
		return models.PaymentRecord{}, models.ErrPaymentNotFound
	}
	query := `
		SELECT ` + paymentColumns + `
		FROM payment_records
		WHERE gateway_code = $1 AND tracking_id = $2
		ORDER BY created_at DESC
		LIMIT 1
	`
	return r.scanOne(r.db.QueryRowContext(ctx, query, gatewayCode, trackingID))
}

// Save persists rec if the stored row still has expectedVersion and is not
// terminal. Otherwise it returns models.ErrConcurrentUpdate and changes nothing.
// Amount, currency and payer never change after Create.
func (r *PaymentRepository) Save(ctx context.Context, rec models.PaymentRecord, expectedVersion int64) error {
	query := `
		UPDATE payment_records
		SET status = $2,
		    gateway_reference = CASE WHEN gateway_reference = '' THEN $3 ELSE gateway_reference END,
		    tracking_id = CASE WHEN tracking_id = '' THEN $4 ELSE tracking_id END,
		    provider_final_message = $5,
		    version = $6,
		    updated_at = $7
		WHERE reference = $1
		  AND version = $8
		  AND status NOT IN ('SUCCESS', 'FAILED')
	`

	res, err := r.db.ExecContext(ctx, query,
		rec.Reference,
		rec.Status,
		rec.GatewayReference,
		rec.TrackingID,
		rec.ProviderFinalMessage,
		rec.Version,
		rec.UpdatedAt,
		expectedVersion,
	)
	if err != nil {
		return err
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("%w: %s", models.ErrConcurrentUpdate, rec.Reference)
	}
	return nil
}

func (r *PaymentRepository) AppendSnapshot(ctx context.Context, reference string, kind models.SnapshotKind, payload []byte) error {
	query := `
		INSERT INTO payment_snapshots (reference, kind, payload, created_at)
		VALUES ($1, $2, $3, $4)
	`
	_, err := r.db.ExecContext(ctx, query, reference, kind, string(payload), time.Now().UTC())
	return err
}

func (r *PaymentRepository) Snapshots(ctx context.Context, reference string) ([]models.Snapshot, error) {
	query := `
		SELECT reference, kind, payload, created_at
		FROM payment_snapshots
		WHERE reference = $1
		ORDER BY id ASC
	`

	rows, err := r.db.QueryContext(ctx, query, reference)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var snapshots []models.Snapshot
	for rows.Next() {
		var s models.Snapshot
		if err := rows.Scan(&s.Reference, &s.Kind, &s.Payload, &s.CreatedAt); err != nil {
			return nil, err
		}
		snapshots = append(snapshots, s)
	}

	return snapshots, rows.Err()
}

func (r *PaymentRepository) scanOne(row *sql.Row) (models.PaymentRecord, error) {
	var rec models.PaymentRecord
	err := row.Scan(
		&rec.Reference,
		&rec.OrderRef,
		&rec.CustomerRef,
		&rec.GatewayCode,
		&rec.GatewayVariantCode,
		&rec.AccountNumber,
		&rec.Amount,
		&rec.Currency,
		&rec.Status,
		&rec.GatewayReference,
		&rec.TrackingID,
		&rec.ProviderFinalMessage,
		&rec.Version,
		&rec.CreatedAt,
		&rec.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return models.PaymentRecord{}, models.ErrPaymentNotFound
	}
	return rec, err
}
