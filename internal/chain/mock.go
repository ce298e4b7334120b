package chain

import (
	"context"
	"math/big"
	"sync"

	"github.com/openrelief/reliefd/internal/idgen"
)

// Mock is an in-process Adapter for development mode and tests. Every write
// succeeds with a fabricated transaction hash unless the op is scripted to
// fail. Balances and whitelist state are tracked so read calls stay coherent
// with the writes that preceded them.
type Mock struct {
	mu          sync.Mutex
	failures    map[string]error // op name -> error
	balances    map[string]*big.Int
	whitelisted map[string]bool
	calls       []MockCall
}

// MockCall records one adapter invocation for assertions.
type MockCall struct {
	Op     string
	Addr   string
	Amount *big.Int
}

// NewMock creates a mock adapter with no scripted failures.
func NewMock() *Mock {
	return &Mock{
		failures:    make(map[string]error),
		balances:    make(map[string]*big.Int),
		whitelisted: make(map[string]bool),
	}
}

// FailOn scripts the named op ("whitelist", "mint", "transfer",
// "set_allowances", "register_merchant") to return err.
func (m *Mock) FailOn(op string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures[op] = err
}

// Calls returns a copy of the recorded invocations.
func (m *Mock) Calls() []MockCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]MockCall, len(m.calls))
	copy(out, m.calls)
	return out
}

func (m *Mock) record(op, addr string, amount *big.Int) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, MockCall{Op: op, Addr: addr, Amount: amount})
	if err := m.failures[op]; err != nil {
		return "", &CallError{Op: op, Err: err}
	}
	return "0x" + idgen.Hex(32), nil
}

func (m *Mock) Whitelist(_ context.Context, addr, _, _ string) (string, error) {
	hash, err := m.record("whitelist", addr, nil)
	if err == nil {
		m.mu.Lock()
		m.whitelisted[addr] = true
		m.mu.Unlock()
	}
	return hash, err
}

func (m *Mock) Mint(_ context.Context, to string, amount *big.Int, _, _ string) (string, error) {
	hash, err := m.record("mint", to, amount)
	if err == nil {
		m.credit(to, amount)
	}
	return hash, err
}

func (m *Mock) Transfer(_ context.Context, to string, amount *big.Int) (string, error) {
	hash, err := m.record("transfer", to, amount)
	if err == nil {
		m.credit(to, amount)
	}
	return hash, err
}

func (m *Mock) SetAllowances(_ context.Context, addr string, _ Allowances) (string, error) {
	return m.record("set_allowances", addr, nil)
}

func (m *Mock) RegisterMerchant(_ context.Context, addr, _ string, _ SpendingCategory, _ string) (string, error) {
	return m.record("register_merchant", addr, nil)
}

func (m *Mock) BalanceOf(_ context.Context, addr string) (*big.Int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if b, ok := m.balances[addr]; ok {
		return new(big.Int).Set(b), nil
	}
	return big.NewInt(0), nil
}

func (m *Mock) IsWhitelisted(_ context.Context, addr string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.whitelisted[addr], nil
}

// SetWhitelisted seeds whitelist state for tests.
func (m *Mock) SetWhitelisted(addr string, v bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.whitelisted[addr] = v
}

// SetBalance seeds a balance for tests.
func (m *Mock) SetBalance(addr string, amount *big.Int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.balances[addr] = new(big.Int).Set(amount)
}

func (m *Mock) credit(addr string, amount *big.Int) {
	if amount == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.balances[addr]
	if !ok {
		cur = big.NewInt(0)
	}
	m.balances[addr] = new(big.Int).Add(cur, amount)
}

var _ Adapter = (*Mock)(nil)
