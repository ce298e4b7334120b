package donations

import (
	"context"
	"math/big"
	"sort"
	"sync"
	"time"

	"github.com/openrelief/reliefd/internal/drusd"
)

// MemoryStore is an in-memory donation store for demo/development mode.
type MemoryStore struct {
	donations map[string]*Donation // by ID
	byIntent  map[string]string    // payment intent ID → donation ID
	order     []string
	mu        sync.RWMutex
}

// NewMemoryStore creates a new in-memory donation store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		donations: make(map[string]*Donation),
		byIntent:  make(map[string]string),
	}
}

func (m *MemoryStore) Create(ctx context.Context, d *Donation) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *d
	m.donations[d.ID] = &cp
	if d.PaymentIntentID != "" {
		m.byIntent[d.PaymentIntentID] = d.ID
	}
	m.order = append(m.order, d.ID)
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, id string) (*Donation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	d, ok := m.donations[id]
	if !ok {
		return nil, ErrDonationNotFound
	}
	cp := *d
	return &cp, nil
}

func (m *MemoryStore) GetByIntent(ctx context.Context, intentID string) (*Donation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.byIntent[intentID]
	if !ok {
		return nil, ErrDonationNotFound
	}
	cp := *m.donations[id]
	return &cp, nil
}

func (m *MemoryStore) SetStatus(ctx context.Context, id string, status Status, settledAt time.Time) (*Donation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	d, ok := m.donations[id]
	if !ok {
		return nil, ErrDonationNotFound
	}
	d.Status = status
	d.SettledAt = settledAt
	cp := *d
	return &cp, nil
}

func (m *MemoryStore) ListByCampaign(ctx context.Context, campaignID string, limit int) ([]*Donation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*Donation
	for _, id := range m.order {
		d := m.donations[id]
		if d.CampaignID != campaignID {
			continue
		}
		cp := *d
		result = append(result, &cp)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (m *MemoryStore) CampaignTotal(ctx context.Context, campaignID string) (int, string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	count := 0
	total := new(big.Int)
	for _, d := range m.donations {
		if d.CampaignID != campaignID || d.Status != StatusSucceeded {
			continue
		}
		count++
		if v, ok := drusd.Parse(d.Amount); ok {
			total.Add(total, v)
		}
	}
	return count, drusd.Format(total), nil
}
