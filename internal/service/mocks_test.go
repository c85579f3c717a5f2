package service

import (
	"context"
	"sync"
	"time"

	"github.com/jmonteroh/polysignal/internal/domain"
)

// ---------------------------------------------------------------------------
// In-memory store fakes shared by the service tests. They mirror the
// postgres-backed semantics: compare-and-set on UpdateIfStatus, the partial
// uniqueness of one non-terminal position per (market, side), and ErrNotFound
// on misses.
// ---------------------------------------------------------------------------

type memSettings struct {
	mu      sync.Mutex
	limits  *domain.RiskLimits
	trading *domain.TradingSettings
	state   *domain.RiskState
}

func (m *memSettings) RiskLimits(context.Context) (domain.RiskLimits, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.limits == nil {
		return domain.DefaultRiskLimits(), nil
	}
	return *m.limits, nil
}

func (m *memSettings) SaveRiskLimits(_ context.Context, l domain.RiskLimits) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.limits = &l
	return nil
}

func (m *memSettings) Trading(context.Context) (domain.TradingSettings, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.trading == nil {
		return domain.DefaultTradingSettings(), nil
	}
	return *m.trading, nil
}

func (m *memSettings) SaveTrading(_ context.Context, s domain.TradingSettings) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.trading = &s
	return nil
}

func (m *memSettings) RiskState(context.Context) (domain.RiskState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == nil {
		return domain.RiskState{}, domain.ErrNotFound
	}
	return *m.state, nil
}

func (m *memSettings) SaveRiskState(_ context.Context, s domain.RiskState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = &s
	return nil
}

type memPositions struct {
	mu        sync.Mutex
	positions map[string]*domain.Position
}

func newMemPositions() *memPositions {
	return &memPositions{positions: make(map[string]*domain.Position)}
}

func (m *memPositions) put(p *domain.Position) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *p
	m.positions[p.ID] = &cp
}

func (m *memPositions) get(id string) *domain.Position {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.positions[id]; ok {
		cp := *p
		return &cp
	}
	return nil
}

func nonTerminal(s domain.PositionStatus) bool {
	return s == domain.PositionStatusPending || s == domain.PositionStatusOpen || s == domain.PositionStatusClosing
}

func (m *memPositions) Create(_ context.Context, p *domain.Position) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.positions {
		if existing.MarketID == p.MarketID && existing.Side == p.Side && nonTerminal(existing.Status) {
			return domain.ErrDuplicatePosition
		}
	}
	cp := *p
	m.positions[p.ID] = &cp
	return nil
}

func (m *memPositions) Get(_ context.Context, id string) (*domain.Position, error) {
	if p := m.get(id); p != nil {
		return p, nil
	}
	return nil, domain.ErrNotFound
}

func (m *memPositions) GetOpenByMarket(_ context.Context, marketID, side string) (*domain.Position, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.positions {
		if p.MarketID == marketID && p.Side == side && nonTerminal(p.Status) {
			cp := *p
			return &cp, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (m *memPositions) List(_ context.Context, f domain.PositionFilter) ([]*domain.Position, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.Position
	for _, p := range m.positions {
		if f.Status != "" && p.Status != f.Status {
			continue
		}
		if f.MarketID != "" && p.MarketID != f.MarketID {
			continue
		}
		cp := *p
		out = append(out, &cp)
	}
	return out, nil
}

func (m *memPositions) ListByStatus(_ context.Context, statuses ...domain.PositionStatus) ([]*domain.Position, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.Position
	for _, p := range m.positions {
		for _, s := range statuses {
			if p.Status == s {
				cp := *p
				out = append(out, &cp)
				break
			}
		}
	}
	return out, nil
}

func (m *memPositions) CountByStatus(ctx context.Context, status domain.PositionStatus) (int, error) {
	out, _ := m.ListByStatus(ctx, status)
	return len(out), nil
}

func (m *memPositions) Update(_ context.Context, p *domain.Position) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.positions[p.ID]; !ok {
		return domain.ErrNotFound
	}
	cp := *p
	m.positions[p.ID] = &cp
	return nil
}

func (m *memPositions) UpdateIfStatus(_ context.Context, p *domain.Position, expect domain.PositionStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.positions[p.ID]
	if !ok || stored.Status != expect {
		return domain.ErrInvalidTransition
	}
	cp := *p
	m.positions[p.ID] = &cp
	return nil
}

func (m *memPositions) OverviewByStrategy(context.Context) ([]domain.StrategyOverview, error) {
	return nil, nil
}

type memOrders struct {
	mu     sync.Mutex
	orders map[string]*domain.Order
}

func newMemOrders() *memOrders {
	return &memOrders{orders: make(map[string]*domain.Order)}
}

func (m *memOrders) Create(_ context.Context, o *domain.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *o
	m.orders[o.ID] = &cp
	return nil
}

func (m *memOrders) Get(_ context.Context, id string) (*domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if o, ok := m.orders[id]; ok {
		cp := *o
		return &cp, nil
	}
	return nil, domain.ErrNotFound
}

func (m *memOrders) GetByExchangeID(_ context.Context, exchangeID string) (*domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, o := range m.orders {
		if o.ExchangeID == exchangeID {
			cp := *o
			return &cp, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (m *memOrders) ListByPosition(_ context.Context, positionID string) ([]*domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.Order
	for _, o := range m.orders {
		if o.PositionID == positionID {
			cp := *o
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *memOrders) Update(_ context.Context, o *domain.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.orders[o.ID]; !ok {
		return domain.ErrNotFound
	}
	cp := *o
	m.orders[o.ID] = &cp
	return nil
}

type memRuntimes struct {
	mu       sync.Mutex
	runtimes map[string]*domain.StrategyRuntime
}

func newMemRuntimes() *memRuntimes {
	return &memRuntimes{runtimes: make(map[string]*domain.StrategyRuntime)}
}

func (m *memRuntimes) Get(_ context.Context, positionID string) (*domain.StrategyRuntime, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.runtimes[positionID]; ok {
		cp := *r
		return &cp, nil
	}
	return nil, domain.ErrNotFound
}

func (m *memRuntimes) Save(_ context.Context, r *domain.StrategyRuntime) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *r
	m.runtimes[r.PositionID] = &cp
	return nil
}

func (m *memRuntimes) Delete(_ context.Context, positionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.runtimes, positionID)
	return nil
}

type memStrategies struct {
	mu      sync.Mutex
	nextID  int64
	records map[int64]*domain.StrategyRecord
}

func newMemStrategies() *memStrategies {
	return &memStrategies{records: make(map[int64]*domain.StrategyRecord)}
}

func (m *memStrategies) Create(_ context.Context, s *domain.StrategyRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	s.ID = m.nextID
	s.CreatedAt = time.Now().UTC()
	s.UpdatedAt = s.CreatedAt
	cp := *s
	m.records[s.ID] = &cp
	return nil
}

func (m *memStrategies) Get(_ context.Context, id int64) (*domain.StrategyRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.records[id]; ok {
		cp := *r
		return &cp, nil
	}
	return nil, domain.ErrNotFound
}

func (m *memStrategies) GetByName(_ context.Context, name string) (*domain.StrategyRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.records {
		if r.Name == name {
			cp := *r
			return &cp, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (m *memStrategies) List(context.Context) ([]*domain.StrategyRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.StrategyRecord
	for _, r := range m.records {
		cp := *r
		out = append(out, &cp)
	}
	return out, nil
}

func (m *memStrategies) Update(_ context.Context, s *domain.StrategyRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.records[s.ID]; !ok {
		return domain.ErrNotFound
	}
	s.UpdatedAt = time.Now().UTC()
	cp := *s
	m.records[s.ID] = &cp
	return nil
}

func (m *memStrategies) Delete(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.records, id)
	return nil
}

type memAudit struct {
	mu      sync.Mutex
	entries []*domain.AuditEntry
}

func (m *memAudit) Append(_ context.Context, e *domain.AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *e
	cp.ID = int64(len(m.entries) + 1)
	cp.CreatedAt = time.Now().UTC()
	m.entries = append(m.entries, &cp)
	return nil
}

func (m *memAudit) ListRecent(_ context.Context, limit int) ([]*domain.AuditEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*domain.AuditEntry, len(m.entries))
	copy(out, m.entries)
	return out, nil
}

func (m *memAudit) ListSince(ctx context.Context, _ time.Time, limit int) ([]*domain.AuditEntry, error) {
	return m.ListRecent(ctx, limit)
}

func (m *memAudit) actions() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.entries))
	for i, e := range m.entries {
		out[i] = e.Action
	}
	return out
}

// fakeFeed serves scripted prices.
type fakeFeed struct {
	mu     sync.Mutex
	prices map[string]float64
}

func newFakeFeed() *fakeFeed {
	return &fakeFeed{prices: make(map[string]float64)}
}

func (f *fakeFeed) set(tokenID string, price float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prices[tokenID] = price
}

func (f *fakeFeed) Price(_ context.Context, tokenID string) (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if p, ok := f.prices[tokenID]; ok {
		return p, nil
	}
	return 0, domain.ErrPriceUnavailable
}

func (f *fakeFeed) Prices(ctx context.Context, tokenIDs []string) (map[string]float64, error) {
	out := make(map[string]float64, len(tokenIDs))
	for _, id := range tokenIDs {
		if p, err := f.Price(ctx, id); err == nil {
			out[id] = p
		}
	}
	return out, nil
}

// fakeGateway returns scripted order results and records requests.
type fakeGateway struct {
	mu          sync.Mutex
	validateErr error
	placeResult domain.OrderResult
	placeErr    error
	orders      map[string]domain.OrderResult
	placed      []domain.OrderRequest
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{orders: make(map[string]domain.OrderResult)}
}

func (g *fakeGateway) ValidateOrder(context.Context, domain.OrderRequest) error {
	return g.validateErr
}

func (g *fakeGateway) PlaceOrder(_ context.Context, req domain.OrderRequest) (domain.OrderResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.placed = append(g.placed, req)
	return g.placeResult, g.placeErr
}

func (g *fakeGateway) CancelOrder(context.Context, string) error { return nil }

func (g *fakeGateway) GetOrder(_ context.Context, exchangeID string) (domain.OrderResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if res, ok := g.orders[exchangeID]; ok {
		return res, nil
	}
	return domain.OrderResult{}, domain.ErrNotFound
}

// fakeBus is a scripted signal bus.
type fakeBus struct {
	mu      sync.Mutex
	pending []domain.SignalEnvelope
	acked   []string
}

func (b *fakeBus) Publish(_ context.Context, sig domain.TradeSignal) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pending = append(b.pending, domain.SignalEnvelope{
		StreamID: sig.ID,
		Signal:   sig,
	})
	return nil
}

func (b *fakeBus) Fetch(_ context.Context, _, _ string, count int64, _ time.Duration) ([]domain.SignalEnvelope, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := int(count)
	if n > len(b.pending) {
		n = len(b.pending)
	}
	out := b.pending[:n]
	b.pending = b.pending[n:]
	return out, nil
}

func (b *fakeBus) Ack(_ context.Context, _ string, streamIDs ...string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.acked = append(b.acked, streamIDs...)
	return nil
}
