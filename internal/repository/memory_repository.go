package repository

import (
	"context"
	"fmt"
	"sync"
	"time"

	"payment-orchestration/internal/models"
)

// MemoryPaymentRepository is an in-process store with the same
// compare-and-set semantics as PaymentRepository. Used for local runs and tests.
type MemoryPaymentRepository struct {
	mu        sync.RWMutex
	records   map[string]models.PaymentRecord
	snapshots map[string][]models.Snapshot
}

func NewMemoryPaymentRepository() *MemoryPaymentRepository {
	return &MemoryPaymentRepository{
		records:   make(map[string]models.PaymentRecord),
		snapshots: make(map[string][]models.Snapshot),
	}
}

func (r *MemoryPaymentRepository) Create(_ context.Context, rec models.PaymentRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.records[rec.Reference]; exists {
		return fmt.Errorf("%w: %s", models.ErrDuplicateReference, rec.Reference)
	}
	r.records[rec.Reference] = rec
	return nil
}

func (r *MemoryPaymentRepository) FindByReference(_ context.Context, reference string) (models.PaymentRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.records[reference]
	if !ok {
		return models.PaymentRecord{}, models.ErrPaymentNotFound
	}
	return rec, nil
}

func (r *MemoryPaymentRepository) FindByTrackingID(_ context.Context, gatewayCode, trackingID string) (models.PaymentRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if trackingID == "" {
		return models.PaymentRecord{}, models.ErrPaymentNotFound
	}

	var (
		found models.PaymentRecord
		ok    bool
	)
	for _, rec := range r.records {
		if rec.GatewayCode != gatewayCode || rec.TrackingID != trackingID {
			continue
		}
		if !ok || rec.CreatedAt.After(found.CreatedAt) {
			found, ok = rec, true
		}
	}
	if !ok {
		return models.PaymentRecord{}, models.ErrPaymentNotFound
	}
	return found, nil
}

func (r *MemoryPaymentRepository) Save(_ context.Context, rec models.PaymentRecord, expectedVersion int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.records[rec.Reference]
	if !ok {
		return fmt.Errorf("%w: %s", models.ErrPaymentNotFound, rec.Reference)
	}
	if current.Version != expectedVersion || current.Status.Terminal() {
		return fmt.Errorf("%w: %s", models.ErrConcurrentUpdate, rec.Reference)
	}

	next := current
	next.Status = rec.Status
	if next.GatewayReference == "" {
		next.GatewayReference = rec.GatewayReference
	}
	if next.TrackingID == "" {
		next.TrackingID = rec.TrackingID
	}
	next.ProviderFinalMessage = rec.ProviderFinalMessage
	next.Version = rec.Version
	next.UpdatedAt = rec.UpdatedAt
	r.records[rec.Reference] = next
	return nil
}

func (r *MemoryPaymentRepository) AppendSnapshot(_ context.Context, reference string, kind models.SnapshotKind, payload []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.snapshots[reference] = append(r.snapshots[reference], models.Snapshot{
		Reference: reference,
		Kind:      kind,
		Payload:   string(payload),
		CreatedAt: time.Now().UTC(),
	})
	return nil
}

func (r *MemoryPaymentRepository) Snapshots(_ context.Context, reference string) ([]models.Snapshot, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]models.Snapshot, len(r.snapshots[reference]))
	copy(out, r.snapshots[reference])
	return out, nil
}
