package gateway

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"payment-orchestration/internal/models"
)

type recordedSnapshot struct {
	kind    models.SnapshotKind
	payload string
}

type snapshotRecorder struct {
	mu    sync.Mutex
	snaps []recordedSnapshot
}

func (r *snapshotRecorder) AppendSnapshot(_ context.Context, _ string, kind models.SnapshotKind, payload []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.snaps = append(r.snaps, recordedSnapshot{kind: kind, payload: string(payload)})
	return nil
}

func (r *snapshotRecorder) kinds() []models.SnapshotKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]models.SnapshotKind, 0, len(r.snaps))
	for _, s := range r.snaps {
		out = append(out, s.kind)
	}
	return out
}

func testRecord(gatewayCode, account string) models.PaymentRecord {
	rec := models.NewPaymentRecord("PAY-1001", "ORD-77", "CUST-9", account, decimal.NewFromInt(5000), "XAF", time.Now())
	rec.GatewayCode = gatewayCode
	return rec
}
