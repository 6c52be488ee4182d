package alerts

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// MemoryRepository keeps alerts and thresholds in process.
type MemoryRepository struct {
	mu         sync.RWMutex
	alerts     map[string]Alert
	thresholds map[string]decimal.Decimal
}

// NewMemoryRepository returns an empty repository. It implements both
// Repository and ThresholdStore.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		alerts:     make(map[string]Alert),
		thresholds: make(map[string]decimal.Decimal),
	}
}

func (r *MemoryRepository) Create(_ context.Context, alert Alert) (Alert, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if alert.ID == "" {
		alert.ID = uuid.NewString()
	}
	if alert.CreatedAt.IsZero() {
		alert.CreatedAt = time.Now().UTC()
	}
	r.alerts[alert.ID] = alert
	return alert, nil
}

func (r *MemoryRepository) ListUnread(_ context.Context, accountID string, limit int) ([]Alert, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := []Alert{}
	for _, a := range r.alerts {
		if a.AccountID == accountID && !a.IsRead {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *MemoryRepository) MarkRead(_ context.Context, accountID string, ids []string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	changed := 0
	for _, id := range ids {
		a, ok := r.alerts[id]
		if !ok || a.AccountID != accountID || a.IsRead {
			continue
		}
		a.IsRead = true
		r.alerts[id] = a
		changed++
	}
	return changed, nil
}

func (r *MemoryRepository) GetThreshold(_ context.Context, accountID string) (decimal.Decimal, bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.thresholds[accountID]
	return t, ok, nil
}

func (r *MemoryRepository) SetThreshold(_ context.Context, accountID string, threshold decimal.Decimal) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.thresholds[accountID] = threshold
	return nil
}
