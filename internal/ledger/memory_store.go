package ledger

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/openrelief/reliefd/internal/drusd"
	"github.com/openrelief/reliefd/internal/idgen"
)

// MemoryStore is an in-memory ledger for demo/development mode.
type MemoryStore struct {
	mu            sync.RWMutex
	campaigns     map[string]*Campaign
	allocations   map[string]*Allocation // by ID
	allocByPair   map[string]string      // campaignID|beneficiaryID -> ID
	transactions  map[string]*TransactionLog
	txOrder       []string // append order
	beneficiaries map[string]*Beneficiary
	wallets       map[string]*Wallet // by lowercased address
	merchants     map[string]*Merchant
}

// NewMemoryStore creates a new in-memory ledger store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		campaigns:     make(map[string]*Campaign),
		allocations:   make(map[string]*Allocation),
		allocByPair:   make(map[string]string),
		transactions:  make(map[string]*TransactionLog),
		beneficiaries: make(map[string]*Beneficiary),
		wallets:       make(map[string]*Wallet),
		merchants:     make(map[string]*Merchant),
	}
}

var _ Store = (*MemoryStore)(nil)

func pairKey(campaignID, beneficiaryID string) string {
	return campaignID + "|" + beneficiaryID
}

// Campaigns

func (m *MemoryStore) CreateCampaign(ctx context.Context, c *Campaign) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *c
	m.campaigns[c.ID] = &cp
	return nil
}

func (m *MemoryStore) GetCampaign(ctx context.Context, id string) (*Campaign, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	c, ok := m.campaigns[id]
	if !ok {
		return nil, ErrCampaignNotFound
	}
	cp := *c
	return &cp, nil
}

func (m *MemoryStore) ListCampaigns(ctx context.Context, status CampaignStatus, limit int) ([]*Campaign, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*Campaign
	for _, c := range m.campaigns {
		if status != "" && c.Status != status {
			continue
		}
		cp := *c
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

func (m *MemoryStore) SetCampaignStatus(ctx context.Context, id string, status CampaignStatus) (*Campaign, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.campaigns[id]
	if !ok {
		return nil, ErrCampaignNotFound
	}
	if !c.Status.CanTransitionTo(status) {
		return nil, ErrInvalidTransition
	}
	c.Status = status
	c.UpdatedAt = time.Now()
	cp := *c
	return &cp, nil
}

func (m *MemoryStore) AddRaised(ctx context.Context, campaignID, amount string) (*Campaign, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.campaigns[campaignID]
	if !ok {
		return nil, ErrCampaignNotFound
	}
	raised, ok := drusd.Add(c.RaisedAmount, amount)
	if !ok {
		return nil, ErrInvalidAmount
	}
	c.RaisedAmount = raised
	c.UpdatedAt = time.Now()
	cp := *c
	return &cp, nil
}

func (m *MemoryStore) AddDistributed(ctx context.Context, campaignID, amount string) (*Campaign, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.campaigns[campaignID]
	if !ok {
		return nil, ErrCampaignNotFound
	}
	cmp, ok := drusd.Cmp(amount, c.RemainingAmount())
	if !ok {
		return nil, ErrInvalidAmount
	}
	if cmp > 0 {
		return nil, ErrInsufficientFunds
	}
	distributed, ok := drusd.Add(c.DistributedAmount, amount)
	if !ok {
		return nil, ErrInvalidAmount
	}
	c.DistributedAmount = distributed
	c.UpdatedAt = time.Now()
	cp := *c
	return &cp, nil
}

func (m *MemoryStore) AddSpent(ctx context.Context, campaignID, amount string) (*Campaign, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.campaigns[campaignID]
	if !ok {
		return nil, ErrCampaignNotFound
	}
	spent, ok := drusd.Add(c.SpentAmount, amount)
	if !ok {
		return nil, ErrInvalidAmount
	}
	c.SpentAmount = spent
	c.UpdatedAt = time.Now()
	cp := *c
	return &cp, nil
}

// Allocations

func (m *MemoryStore) GetAllocation(ctx context.Context, campaignID, beneficiaryID string) (*Allocation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.allocByPair[pairKey(campaignID, beneficiaryID)]
	if !ok {
		return nil, ErrAllocationNotFound
	}
	cp := *m.allocations[id]
	return &cp, nil
}

func (m *MemoryStore) ListAllocations(ctx context.Context, campaignID string) ([]*Allocation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*Allocation
	for _, a := range m.allocations {
		if a.CampaignID == campaignID {
			cp := *a
			result = append(result, &cp)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result, nil
}

func (m *MemoryStore) AccumulateAllocation(ctx context.Context, campaignID, beneficiaryID, amount string, allowances CategoryAmounts, txHash string, at time.Time) (*Allocation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := pairKey(campaignID, beneficiaryID)
	id, exists := m.allocByPair[key]
	if !exists {
		now := time.Now()
		a := &Allocation{
			ID:                 idgen.WithPrefix("alloc_"),
			CampaignID:         campaignID,
			BeneficiaryID:      beneficiaryID,
			TotalAmount:        normalize(amount),
			DistributedAmount:  normalize(amount),
			Allowances:         normalizeCategories(allowances),
			IsActive:           true,
			DistributionTxHash: txHash,
			DistributedAt:      at,
			CreatedAt:          now,
			UpdatedAt:          now,
		}
		m.allocations[a.ID] = a
		m.allocByPair[key] = a.ID
		cp := *a
		return &cp, nil
	}

	a := m.allocations[id]
	total, ok := drusd.Add(a.TotalAmount, amount)
	if !ok {
		return nil, ErrInvalidAmount
	}
	a.TotalAmount = total
	a.DistributedAmount = total
	merged, err := addCategories(a.Allowances, allowances)
	if err != nil {
		return nil, err
	}
	a.Allowances = merged
	a.DistributionTxHash = txHash
	a.DistributedAt = at
	a.UpdatedAt = time.Now()
	cp := *a
	return &cp, nil
}

// Transaction log

func (m *MemoryStore) AppendTransaction(ctx context.Context, tx *TransactionLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *tx
	m.transactions[tx.ID] = &cp
	m.txOrder = append(m.txOrder, tx.ID)
	return nil
}

func (m *MemoryStore) GetTransaction(ctx context.Context, id string) (*TransactionLog, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	tx, ok := m.transactions[id]
	if !ok {
		return nil, ErrTransactionNotFound
	}
	cp := *tx
	return &cp, nil
}

func (m *MemoryStore) ListTransactions(ctx context.Context, f TransactionFilter) ([]*TransactionLog, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*TransactionLog
	for i := len(m.txOrder) - 1; i >= 0; i-- {
		tx := m.transactions[m.txOrder[i]]
		if f.CampaignID != "" && tx.CampaignID != f.CampaignID {
			continue
		}
		if f.BeneficiaryID != "" && tx.BeneficiaryID != f.BeneficiaryID {
			continue
		}
		if f.Type != "" && tx.Type != f.Type {
			continue
		}
		if f.FlaggedOnly && !tx.IsFlagged {
			continue
		}
		cp := *tx
		result = append(result, &cp)
		if f.Limit > 0 && len(result) >= f.Limit {
			break
		}
	}
	return result, nil
}

func (m *MemoryStore) History(ctx context.Context, beneficiaryID string, t time.Time, limit int) ([]*TransactionLog, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*TransactionLog
	for i := len(m.txOrder) - 1; i >= 0; i-- {
		tx := m.transactions[m.txOrder[i]]
		if tx.BeneficiaryID != beneficiaryID {
			continue
		}
		if !tx.CreatedAt.Before(t) {
			continue
		}
		cp := *tx
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

func (m *MemoryStore) ListPendingChain(ctx context.Context, limit int) ([]*TransactionLog, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*TransactionLog
	for _, id := range m.txOrder {
		tx := m.transactions[id]
		if tx.TxHash != "" || tx.Status == TxFailed {
			continue
		}
		cp := *tx
		result = append(result, &cp)
		if limit > 0 && len(result) >= limit {
			break
		}
	}
	return result, nil
}

func (m *MemoryStore) SettleChainLeg(ctx context.Context, id, txHash string) (*TransactionLog, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	tx, ok := m.transactions[id]
	if !ok {
		return nil, ErrTransactionNotFound
	}
	tx.TxHash = txHash
	tx.Status = TxConfirmed
	cp := *tx
	return &cp, nil
}

func (m *MemoryStore) FailChainLeg(ctx context.Context, id string) (*TransactionLog, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	tx, ok := m.transactions[id]
	if !ok {
		return nil, ErrTransactionNotFound
	}
	tx.Status = TxFailed
	cp := *tx
	return &cp, nil
}

func (m *MemoryStore) FlagTransaction(ctx context.Context, id, reason string, score float64) (*TransactionLog, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	tx, ok := m.transactions[id]
	if !ok {
		return nil, ErrTransactionNotFound
	}
	tx.IsFlagged = true
	tx.FlagReason = reason
	tx.FraudScore = score
	cp := *tx
	return &cp, nil
}

func (m *MemoryStore) ClearFlag(ctx context.Context, id, note string) (*TransactionLog, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	tx, ok := m.transactions[id]
	if !ok {
		return nil, ErrTransactionNotFound
	}
	if !tx.IsFlagged {
		return nil, ErrNotFlagged
	}
	tx.IsFlagged = false
	if note != "" {
		tx.FlagReason = tx.FlagReason + " (cleared: " + note + ")"
	}
	cp := *tx
	return &cp, nil
}

// Stats

func (m *MemoryStore) GetCampaignStats(ctx context.Context, campaignID string) (*CampaignStats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	c, ok := m.campaigns[campaignID]
	if !ok {
		return nil, ErrCampaignNotFound
	}

	stats := &CampaignStats{
		CampaignID:         campaignID,
		RaisedAmount:       c.RaisedAmount,
		DistributedAmount:  c.DistributedAmount,
		SpentAmount:        c.SpentAmount,
		RemainingAmount:    c.RemainingAmount(),
		SpendingByCategory: make(map[string]string),
	}
	for _, cat := range Categories {
		stats.SpendingByCategory[cat] = "0.000000"
	}

	for _, a := range m.allocations {
		if a.CampaignID == campaignID {
			stats.BeneficiaryCount++
		}
	}
	for _, tx := range m.transactions {
		if tx.CampaignID != campaignID {
			continue
		}
		stats.TransactionCount++
		if tx.IsFlagged {
			stats.FlaggedCount++
		}
		if tx.Type == TxSpend && tx.Category != "" {
			if sum, ok := drusd.Add(stats.SpendingByCategory[tx.Category], tx.Amount); ok {
				stats.SpendingByCategory[tx.Category] = sum
			}
		}
	}
	return stats, nil
}

// Beneficiaries

func (m *MemoryStore) CreateBeneficiary(ctx context.Context, b *Beneficiary) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *b
	m.beneficiaries[b.ID] = &cp
	return nil
}

func (m *MemoryStore) GetBeneficiary(ctx context.Context, id string) (*Beneficiary, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	b, ok := m.beneficiaries[id]
	if !ok {
		return nil, ErrBeneficiaryNotFound
	}
	cp := *b
	return &cp, nil
}

func (m *MemoryStore) ListBeneficiaries(ctx context.Context, status VerificationStatus, limit int) ([]*Beneficiary, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*Beneficiary
	for _, b := range m.beneficiaries {
		if status != "" && b.Status != status {
			continue
		}
		cp := *b
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

func (m *MemoryStore) SetVerification(ctx context.Context, id string, status VerificationStatus) (*Beneficiary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	b, ok := m.beneficiaries[id]
	if !ok {
		return nil, ErrBeneficiaryNotFound
	}
	b.Status = status
	b.UpdatedAt = time.Now()
	cp := *b
	return &cp, nil
}

func (m *MemoryStore) SetPrimaryWallet(ctx context.Context, beneficiaryID, address string) (*Beneficiary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	b, ok := m.beneficiaries[beneficiaryID]
	if !ok {
		return nil, ErrBeneficiaryNotFound
	}
	b.PrimaryWallet = address
	b.UpdatedAt = time.Now()
	cp := *b
	return &cp, nil
}

// Wallets

func (m *MemoryStore) GetWallet(ctx context.Context, address string) (*Wallet, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	w, ok := m.wallets[strings.ToLower(address)]
	if !ok {
		return nil, ErrWalletNotFound
	}
	cp := *w
	return &cp, nil
}

func (m *MemoryStore) UpsertWallet(ctx context.Context, w *Wallet) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *w
	m.wallets[strings.ToLower(w.Address)] = &cp
	return nil
}

func (m *MemoryStore) MarkWhitelisted(ctx context.Context, address string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	w, ok := m.wallets[strings.ToLower(address)]
	if !ok {
		return ErrWalletNotFound
	}
	w.IsWhitelisted = true
	w.WhitelistedAt = at
	return nil
}

// Merchants

func (m *MemoryStore) CreateMerchant(ctx context.Context, mr *Merchant) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *mr
	m.merchants[mr.ID] = &cp
	return nil
}

func (m *MemoryStore) ListMerchants(ctx context.Context, limit int) ([]*Merchant, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*Merchant
	for _, mr := range m.merchants {
		cp := *mr
		result = append(result, &cp)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// normalize pads an amount to canonical 6-decimal form; invalid input
// becomes zero (callers validate before the store sees it).
func normalize(amount string) string {
	v, ok := drusd.Parse(amount)
	if !ok {
		return "0.000000"
	}
	return drusd.Format(v)
}

func normalizeCategories(c CategoryAmounts) CategoryAmounts {
	return CategoryAmounts{
		Food:      normalize(c.Food),
		Medical:   normalize(c.Medical),
		Shelter:   normalize(c.Shelter),
		Utilities: normalize(c.Utilities),
		Transport: normalize(c.Transport),
	}
}

func addCategories(a, b CategoryAmounts) (CategoryAmounts, error) {
	var out CategoryAmounts
	var ok bool
	if out.Food, ok = drusd.Add(a.Food, b.Food); !ok {
		return out, ErrInvalidAmount
	}
	if out.Medical, ok = drusd.Add(a.Medical, b.Medical); !ok {
		return out, ErrInvalidAmount
	}
	if out.Shelter, ok = drusd.Add(a.Shelter, b.Shelter); !ok {
		return out, ErrInvalidAmount
	}
	if out.Utilities, ok = drusd.Add(a.Utilities, b.Utilities); !ok {
		return out, ErrInvalidAmount
	}
	if out.Transport, ok = drusd.Add(a.Transport, b.Transport); !ok {
		return out, ErrInvalidAmount
	}
	return out, nil
}
