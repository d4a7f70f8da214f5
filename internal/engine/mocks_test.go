package engine

import (
	"context"
	"time"

	"optionsPilot/internal/domain"
)

// Mock implementations shared by the engine package tests.

type mockLogger struct {
	debugMsgs []string
	infoMsgs  []string
	warnMsgs  []string
	errorMsgs []string
}

func (m *mockLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {
	m.debugMsgs = append(m.debugMsgs, msg)
}

func (m *mockLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{}) {
	m.infoMsgs = append(m.infoMsgs, msg)
}

func (m *mockLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{}) {
	m.warnMsgs = append(m.warnMsgs, msg)
}

func (m *mockLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
	m.errorMsgs = append(m.errorMsgs, msg)
}

type mockRisk struct {
	refreshCalls   int
	refreshErr     error
	snap           domain.RiskSnapshot
	snapErr        error
	lastLossAbs    float64
	venueTripped   bool
	venueErr       error
	minutesSinceSL int
	restrikesToday int
	orderNotes     int
	slFillNotes    int
	restrikeNotes  int
	lastLotsUsed   int
}

func (m *mockRisk) RefreshDailyLossFromBroker(ctx context.Context) error {
	m.refreshCalls++
	return m.refreshErr
}

func (m *mockRisk) GetSummary(ctx context.Context) (domain.RiskSnapshot, error) {
	return m.snap, m.snapErr
}

func (m *mockRisk) UpdateDailyLossAbs(ctx context.Context, lossAbs float64) {
	m.lastLossAbs = lossAbs
}

func (m *mockRisk) IsDailyCircuitTripped(ctx context.Context) (bool, error) {
	return m.venueTripped, m.venueErr
}

func (m *mockRisk) GetMinutesSinceLastSL(ctx context.Context, underlying string) int {
	return m.minutesSinceSL
}

func (m *mockRisk) GetRestrikesToday(ctx context.Context, underlying string) int {
	return m.restrikesToday
}

func (m *mockRisk) NoteOrder(ctx context.Context) {
	m.orderNotes++
}

func (m *mockRisk) NoteStopLossFill(ctx context.Context, underlying string) {
	m.slFillNotes++
}

func (m *mockRisk) NoteRestrike(ctx context.Context, underlying string) {
	m.restrikeNotes++
}

func (m *mockRisk) SetLotsUsed(ctx context.Context, lots int) {
	m.lastLotsUsed = lots
}

type mockStrategy struct {
	generateCalls int
	generated     int
	generateErr   error
	refreshCalls  int
	refreshErr    error
}

func (m *mockStrategy) GenerateProposalsNow(ctx context.Context) (int, error) {
	m.generateCalls++
	return m.generated, m.generateErr
}

func (m *mockStrategy) RefreshSignalCaches(ctx context.Context) error {
	m.refreshCalls++
	return m.refreshErr
}

type mockRepo struct {
	created         []*domain.Proposal
	createErr       error
	pending         []*domain.Proposal
	pendingErr      error
	lastLimit       int
	executedBuys    []*domain.Proposal
	executedBuysErr error
	executedIDs     []string
	executeErrs     map[string]error
}

func (m *mockRepo) Create(ctx context.Context, p *domain.Proposal) error {
	if m.createErr != nil {
		return m.createErr
	}
	m.created = append(m.created, p)
	return nil
}

func (m *mockRepo) FindAll(ctx context.Context) ([]*domain.Proposal, error) {
	return m.created, nil
}

func (m *mockRepo) FindPending(ctx context.Context, limit int) ([]*domain.Proposal, error) {
	m.lastLimit = limit
	if m.pendingErr != nil {
		return nil, m.pendingErr
	}
	out := make([]*domain.Proposal, len(m.pending))
	copy(out, m.pending)
	return out, nil
}

func (m *mockRepo) FindExecutedBuys(ctx context.Context) ([]*domain.Proposal, error) {
	return m.executedBuys, m.executedBuysErr
}

func (m *mockRepo) Execute(ctx context.Context, id string) error {
	if err, ok := m.executeErrs[id]; ok {
		return err
	}
	m.executedIDs = append(m.executedIDs, id)
	return nil
}

type placedOrder struct {
	instrumentKey string
	qty           int32
	price         float64
}

type amendedOrder struct {
	orderID string
	price   float64
}

type mockOrders struct {
	slID        string
	slErr       error
	slPlaced    []placedOrder
	tpID        string
	tpErr       error
	tpPlaced    []placedOrder
	amends      []amendedOrder
	amendErr    error
	working     map[string]bool
	workingErrs map[string]error
}

func (m *mockOrders) PlaceStopLoss(ctx context.Context, instrumentKey string, qty int32, triggerPrice float64) (string, error) {
	if m.slErr != nil {
		return "", m.slErr
	}
	m.slPlaced = append(m.slPlaced, placedOrder{instrumentKey, qty, triggerPrice})
	return m.slID, nil
}

func (m *mockOrders) PlaceTarget(ctx context.Context, instrumentKey string, qty int32, price float64) (string, error) {
	if m.tpErr != nil {
		return "", m.tpErr
	}
	m.tpPlaced = append(m.tpPlaced, placedOrder{instrumentKey, qty, price})
	return m.tpID, nil
}

func (m *mockOrders) AmendPrice(ctx context.Context, orderID string, price float64) error {
	if m.amendErr != nil {
		return m.amendErr
	}
	m.amends = append(m.amends, amendedOrder{orderID, price})
	return nil
}

func (m *mockOrders) IsWorking(ctx context.Context, orderID string) (bool, error) {
	if err, ok := m.workingErrs[orderID]; ok {
		return false, err
	}
	return m.working[orderID], nil
}

type mockMarket struct {
	lastPrices map[string]float64
	spot       float64
	haveSpot   bool
	score      int
	haveScore  bool
	atrPct     float64
	haveATR    bool
}

func (m *mockMarket) GetLastPrice(ctx context.Context, instrumentKey string) (float64, bool) {
	p, ok := m.lastPrices[instrumentKey]
	return p, ok
}

func (m *mockMarket) GetSpotPrice(ctx context.Context) (float64, bool) {
	return m.spot, m.haveSpot
}

func (m *mockMarket) GetDirectionScore(ctx context.Context) (int, bool) {
	return m.score, m.haveScore
}

func (m *mockMarket) GetAtrPercent(ctx context.Context) (float64, bool) {
	return m.atrPct, m.haveATR
}

type mockPortfolio struct {
	summary domain.PortfolioSummary
	err     error
}

func (m *mockPortfolio) GetSummary(ctx context.Context) (domain.PortfolioSummary, error) {
	return m.summary, m.err
}

type mockSession struct {
	authenticated bool
}

func (m *mockSession) IsAuthenticated(ctx context.Context) bool {
	return m.authenticated
}

type auditEvent struct {
	event string
	data  map[string]interface{}
}

type mockAudit struct {
	events []auditEvent
}

func (m *mockAudit) Publish(event string, data map[string]interface{}) {
	m.events = append(m.events, auditEvent{event: event, data: data})
}

func (m *mockAudit) byName(event string) []auditEvent {
	var out []auditEvent
	for _, e := range m.events {
		if e.event == event {
			out = append(out, e)
		}
	}
	return out
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}
