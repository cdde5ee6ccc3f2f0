package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/tenpo-pos/core/internal/domain"
	"github.com/tenpo-pos/core/internal/platform/pubsub"
	"github.com/tenpo-pos/core/internal/repositories"
)

// stubRepoError satisfies repositories.RepositoryError for the in-memory
// fakes below.
type stubRepoError struct {
	notFound bool
	conflict bool
	message  string
}

func (e stubRepoError) Error() string       { return e.message }
func (e stubRepoError) IsNotFound() bool    { return e.notFound }
func (e stubRepoError) IsConflict() bool    { return e.conflict }
func (e stubRepoError) IsUnavailable() bool { return false }

var (
	errStubNotFound = stubRepoError{notFound: true, message: "not found"}
	errStubConflict = stubRepoError{conflict: true, message: "already exists"}
)

func fixedClock(at time.Time) func() time.Time {
	return func() time.Time { return at }
}

func sessionKeyString(key repositories.SessionKey) string {
	return fmt.Sprintf("%s-%s-%d-%s-%d", key.TenantID, key.StoreCode, key.TerminalNo, key.BusinessDate, key.OpenCounter)
}

// ---- sessions ----

type memSessionMarker struct{}

// memSessions runs the function inline, marking the context so stubs can
// observe whether a write happened inside the atomic unit.
type memSessions struct {
	mu    sync.Mutex
	calls int
}

func (m *memSessions) RunAtomic(ctx context.Context, fn func(ctx context.Context) error) error {
	m.mu.Lock()
	m.calls++
	m.mu.Unlock()
	return fn(context.WithValue(ctx, memSessionMarker{}, true))
}

func (m *memSessions) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

func inMemSession(ctx context.Context) bool {
	v, _ := ctx.Value(memSessionMarker{}).(bool)
	return v
}

// ---- terminals ----

type memTerminals struct {
	mu   sync.Mutex
	rows map[string]domain.Terminal
}

func newMemTerminals(terminals ...domain.Terminal) *memTerminals {
	m := &memTerminals{rows: map[string]domain.Terminal{}}
	for _, t := range terminals {
		m.rows[t.ID()] = t
	}
	return m
}

func (m *memTerminals) Create(_ context.Context, terminal domain.Terminal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rows[terminal.ID()]; ok {
		return errStubConflict
	}
	m.rows[terminal.ID()] = terminal
	return nil
}

func (m *memTerminals) Get(_ context.Context, tenantID, storeCode string, terminalNo int) (domain.Terminal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	terminal, ok := m.rows[domain.TerminalID(tenantID, storeCode, terminalNo)]
	if !ok {
		return domain.Terminal{}, errStubNotFound
	}
	return terminal, nil
}

func (m *memTerminals) Update(_ context.Context, terminal domain.Terminal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rows[terminal.ID()]; !ok {
		return errStubNotFound
	}
	m.rows[terminal.ID()] = terminal
	return nil
}

func (m *memTerminals) Delete(_ context.Context, tenantID, storeCode string, terminalNo int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.rows, domain.TerminalID(tenantID, storeCode, terminalNo))
	return nil
}

func (m *memTerminals) List(_ context.Context, tenantID string, _ repositories.Page) ([]domain.Terminal, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Terminal
	for _, t := range m.rows {
		if t.TenantID == tenantID {
			out = append(out, t)
		}
	}
	return out, int64(len(out)), nil
}

func (m *memTerminals) FindByAPIKey(_ context.Context, apiKey string) (domain.Terminal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.rows {
		if t.APIKey == apiKey {
			return t, nil
		}
	}
	return domain.Terminal{}, errStubNotFound
}

// ---- carts ----

type memCarts struct {
	mu   sync.Mutex
	rows map[string]domain.Cart
}

func newMemCarts() *memCarts {
	return &memCarts{rows: map[string]domain.Cart{}}
}

func (m *memCarts) Create(_ context.Context, cart domain.Cart) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rows[cart.CartID]; ok {
		return errStubConflict
	}
	m.rows[cart.CartID] = cart
	return nil
}

func (m *memCarts) Get(_ context.Context, cartID string) (domain.Cart, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cart, ok := m.rows[cartID]
	if !ok {
		return domain.Cart{}, errStubNotFound
	}
	return cart, nil
}

func (m *memCarts) Save(_ context.Context, cart domain.Cart) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows[cart.CartID] = cart
	return nil
}

func (m *memCarts) Delete(_ context.Context, cartID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.rows, cartID)
	return nil
}

// ---- counters ----

type memCounters struct {
	mu     sync.Mutex
	values map[string]int64
}

func newMemCounters() *memCounters {
	return &memCounters{values: map[string]int64{}}
}

func (m *memCounters) Next(_ context.Context, terminalID string, counter domain.CounterType, bounds *repositories.NumberRange) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := terminalID + "/" + string(counter)
	next := m.values[key] + 1
	if bounds != nil && (next < bounds.Start || next > bounds.End) {
		next = bounds.Start
	}
	m.values[key] = next
	return next, nil
}

func (m *memCounters) Current(_ context.Context, terminalID string, counter domain.CounterType) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.values[terminalID+"/"+string(counter)], nil
}

// ---- tranlogs ----

type memTranLogs struct {
	mu   sync.Mutex
	rows []domain.TranLog
}

func newMemTranLogs(logs ...domain.TranLog) *memTranLogs {
	return &memTranLogs{rows: logs}
}

func (m *memTranLogs) Create(_ context.Context, log domain.TranLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, row := range m.rows {
		if row.ID() == log.ID() {
			return errStubConflict
		}
	}
	m.rows = append(m.rows, log)
	return nil
}

func (m *memTranLogs) Get(_ context.Context, tenantID, storeCode string, terminalNo int, transactionNo int64) (domain.TranLog, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := domain.TranLogID(tenantID, storeCode, terminalNo, transactionNo)
	for _, row := range m.rows {
		if row.ID() == id {
			return row, nil
		}
	}
	return domain.TranLog{}, errStubNotFound
}

func (m *memTranLogs) List(_ context.Context, filter repositories.TranLogFilter, page repositories.Page) ([]domain.TranLog, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var matched []domain.TranLog
	for _, row := range m.rows {
		if !tranLogMatches(row, filter) {
			continue
		}
		matched = append(matched, row)
	}
	total := int64(len(matched))
	if page.Limit > 0 {
		start := (page.Number - 1) * page.Limit
		if start < 0 {
			start = 0
		}
		if start >= len(matched) {
			return nil, total, nil
		}
		end := start + page.Limit
		if end > len(matched) {
			end = len(matched)
		}
		matched = matched[start:end]
	}
	return matched, total, nil
}

func tranLogMatches(row domain.TranLog, filter repositories.TranLogFilter) bool {
	if filter.TenantID != "" && row.TenantID != filter.TenantID {
		return false
	}
	if filter.StoreCode != "" && row.StoreCode != filter.StoreCode {
		return false
	}
	if filter.TerminalNo != nil && row.TerminalNo != *filter.TerminalNo {
		return false
	}
	if filter.BusinessDate != "" {
		if filter.BusinessDateTo != "" {
			if row.BusinessDate < filter.BusinessDate || row.BusinessDate > filter.BusinessDateTo {
				return false
			}
		} else if row.BusinessDate != filter.BusinessDate {
			return false
		}
	}
	if filter.OpenCounter != nil && row.OpenCounter != *filter.OpenCounter {
		return false
	}
	if len(filter.TransactionType) > 0 {
		found := false
		for _, tt := range filter.TransactionType {
			if row.TransactionType == tt {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func (m *memTranLogs) SessionTally(_ context.Context, key repositories.SessionKey) (repositories.SessionTally, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var tally repositories.SessionTally
	for _, row := range m.rows {
		if row.TenantID != key.TenantID || row.StoreCode != key.StoreCode || row.TerminalNo != key.TerminalNo {
			continue
		}
		if row.BusinessDate != key.BusinessDate || row.OpenCounter != key.OpenCounter {
			continue
		}
		tally.Count++
		if row.TransactionNo > tally.LastNo {
			tally.LastNo = row.TransactionNo
		}
		if row.GenerateDateTime > tally.LastDateTime {
			tally.LastDateTime = row.GenerateDateTime
		}
	}
	return tally, nil
}

func (m *memTranLogs) ListSessions(_ context.Context, tenantID, storeCode, businessDate string) ([]repositories.SessionKey, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	seen := map[repositories.SessionKey]struct{}{}
	var keys []repositories.SessionKey
	for _, row := range m.rows {
		if row.TenantID != tenantID || row.StoreCode != storeCode || row.BusinessDate != businessDate {
			continue
		}
		key := repositories.SessionKey{
			TenantID:     row.TenantID,
			StoreCode:    row.StoreCode,
			TerminalNo:   row.TerminalNo,
			BusinessDate: row.BusinessDate,
			OpenCounter:  row.OpenCounter,
		}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		keys = append(keys, key)
	}
	return keys, nil
}

// ---- transaction statuses ----

type memStatuses struct {
	mu   sync.Mutex
	rows map[string]domain.TransactionStatus
}

func newMemStatuses(statuses ...domain.TransactionStatus) *memStatuses {
	m := &memStatuses{rows: map[string]domain.TransactionStatus{}}
	for _, s := range statuses {
		m.rows[domain.TranLogID(s.TenantID, s.StoreCode, s.TerminalNo, s.TransactionNo)] = s
	}
	return m
}

func (m *memStatuses) Ensure(_ context.Context, status domain.TransactionStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := domain.TranLogID(status.TenantID, status.StoreCode, status.TerminalNo, status.TransactionNo)
	if _, ok := m.rows[id]; !ok {
		m.rows[id] = status
	}
	return nil
}

func (m *memStatuses) Get(_ context.Context, tenantID, storeCode string, terminalNo int, transactionNo int64) (domain.TransactionStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	status, ok := m.rows[domain.TranLogID(tenantID, storeCode, terminalNo, transactionNo)]
	if !ok {
		return domain.TransactionStatus{}, errStubNotFound
	}
	return status, nil
}

func (m *memStatuses) MarkVoided(_ context.Context, ref domain.TranReference, voidTransactionNo int64, at time.Time) error {
	return m.patch(ref, func(status *domain.TransactionStatus) {
		status.IsVoided = true
		status.VoidTransactionNo = voidTransactionNo
		status.UpdatedAt = at
	})
}

func (m *memStatuses) MarkRefunded(_ context.Context, ref domain.TranReference, returnTransactionNo int64, at time.Time) error {
	return m.patch(ref, func(status *domain.TransactionStatus) {
		status.IsRefunded = true
		status.ReturnTransactionNo = returnTransactionNo
		status.UpdatedAt = at
	})
}

func (m *memStatuses) ResetRefund(_ context.Context, ref domain.TranReference, at time.Time) error {
	return m.patch(ref, func(status *domain.TransactionStatus) {
		status.IsRefunded = false
		status.ReturnTransactionNo = 0
		status.UpdatedAt = at
	})
}

func (m *memStatuses) patch(ref domain.TranReference, apply func(*domain.TransactionStatus)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := domain.TranLogID(ref.TenantID, ref.StoreCode, ref.TerminalNo, ref.TransactionNo)
	status, ok := m.rows[id]
	if !ok {
		return errStubNotFound
	}
	apply(&status)
	m.rows[id] = status
	return nil
}

// ---- cash logs ----

type memCashLogs struct {
	mu   sync.Mutex
	rows []domain.CashInOutLog
}

func newMemCashLogs(logs ...domain.CashInOutLog) *memCashLogs {
	return &memCashLogs{rows: logs}
}

func (m *memCashLogs) Create(_ context.Context, log domain.CashInOutLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows = append(m.rows, log)
	return nil
}

func (m *memCashLogs) ListForSession(_ context.Context, key repositories.SessionKey) ([]domain.CashInOutLog, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.CashInOutLog
	for _, row := range m.rows {
		if cashLogInSession(row, key) {
			out = append(out, row)
		}
	}
	return out, nil
}

func (m *memCashLogs) SessionTally(_ context.Context, key repositories.SessionKey) (repositories.SessionTally, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var tally repositories.SessionTally
	for _, row := range m.rows {
		if !cashLogInSession(row, key) {
			continue
		}
		tally.Count++
		if row.GenerateDateTime > tally.LastDateTime {
			tally.LastDateTime = row.GenerateDateTime
		}
	}
	return tally, nil
}

func cashLogInSession(row domain.CashInOutLog, key repositories.SessionKey) bool {
	return row.TenantID == key.TenantID && row.StoreCode == key.StoreCode &&
		row.TerminalNo == key.TerminalNo && row.BusinessDate == key.BusinessDate &&
		row.OpenCounter == key.OpenCounter
}

// ---- open/close logs ----

type memOpenCloseLogs struct {
	mu   sync.Mutex
	rows []domain.OpenCloseLog
}

func newMemOpenCloseLogs(logs ...domain.OpenCloseLog) *memOpenCloseLogs {
	return &memOpenCloseLogs{rows: logs}
}

func (m *memOpenCloseLogs) Create(_ context.Context, log domain.OpenCloseLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows = append(m.rows, log)
	return nil
}

func (m *memOpenCloseLogs) FindClose(_ context.Context, key repositories.SessionKey) (domain.OpenCloseLog, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, row := range m.rows {
		if row.Operation != domain.OperationClose {
			continue
		}
		if row.TenantID == key.TenantID && row.StoreCode == key.StoreCode &&
			row.TerminalNo == key.TerminalNo && row.BusinessDate == key.BusinessDate &&
			row.OpenCounter == key.OpenCounter {
			return row, nil
		}
	}
	return domain.OpenCloseLog{}, errStubNotFound
}

func (m *memOpenCloseLogs) ListForSession(_ context.Context, key repositories.SessionKey) ([]domain.OpenCloseLog, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.OpenCloseLog
	for _, row := range m.rows {
		if row.TenantID == key.TenantID && row.StoreCode == key.StoreCode &&
			row.TerminalNo == key.TerminalNo && row.BusinessDate == key.BusinessDate &&
			row.OpenCounter == key.OpenCounter {
			out = append(out, row)
		}
	}
	return out, nil
}

func (m *memOpenCloseLogs) ListSessions(_ context.Context, tenantID, storeCode, businessDate string) ([]repositories.SessionKey, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	seen := map[repositories.SessionKey]struct{}{}
	var keys []repositories.SessionKey
	for _, row := range m.rows {
		if row.TenantID != tenantID || row.StoreCode != storeCode || row.BusinessDate != businessDate {
			continue
		}
		key := repositories.SessionKey{
			TenantID:     row.TenantID,
			StoreCode:    row.StoreCode,
			TerminalNo:   row.TerminalNo,
			BusinessDate: row.BusinessDate,
			OpenCounter:  row.OpenCounter,
		}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		keys = append(keys, key)
	}
	return keys, nil
}

// ---- delivery statuses ----

type memDeliveries struct {
	mu   sync.Mutex
	rows map[string]domain.DeliveryStatus
}

func newMemDeliveries() *memDeliveries {
	return &memDeliveries{rows: map[string]domain.DeliveryStatus{}}
}

func (m *memDeliveries) Create(_ context.Context, status domain.DeliveryStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rows[status.EventID]; ok {
		return errStubConflict
	}
	m.rows[status.EventID] = status
	return nil
}

func (m *memDeliveries) Get(_ context.Context, eventID string) (domain.DeliveryStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	status, ok := m.rows[eventID]
	if !ok {
		return domain.DeliveryStatus{}, errStubNotFound
	}
	return status, nil
}

func (m *memDeliveries) SetOverall(_ context.Context, eventID string, state domain.DeliveryState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	status, ok := m.rows[eventID]
	if !ok {
		return errStubNotFound
	}
	status.OverallStatus = state
	m.rows[eventID] = status
	return nil
}

func (m *memDeliveries) UpdateService(_ context.Context, eventID, service string, state domain.DeliveryServiceState, message string, at time.Time) (domain.DeliveryStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	status, ok := m.rows[eventID]
	if !ok {
		return domain.DeliveryStatus{}, errStubNotFound
	}
	for i := range status.Services {
		if status.Services[i].Name == service {
			status.Services[i].Status = state
			status.Services[i].Message = message
			status.Services[i].UpdatedAt = at
		}
	}
	status.OverallStatus = status.Overall()
	m.rows[eventID] = status
	return status, nil
}

func (m *memDeliveries) ListUndelivered(_ context.Context, now time.Time, window repositories.SweepWindow) ([]domain.DeliveryStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.DeliveryStatus
	for _, status := range m.rows {
		if status.OverallStatus == domain.DeliveryDelivered {
			continue
		}
		age := now.Sub(status.CreatedAt)
		if age < window.MinAge || age > window.MaxAge {
			continue
		}
		out = append(out, status)
		if window.Limit > 0 && len(out) >= window.Limit {
			break
		}
	}
	return out, nil
}

// ---- masters ----

type memMasters struct {
	items    map[string]domain.ItemMaster
	taxes    []domain.TaxMaster
	payments []domain.PaymentMaster
	settings map[string]string
	staff    map[string]domain.StaffRef
}

func (m *memMasters) GetItem(_ context.Context, _, _ string, itemCode string) (domain.ItemMaster, error) {
	item, ok := m.items[itemCode]
	if !ok {
		return domain.ItemMaster{}, errStubNotFound
	}
	return item, nil
}

func (m *memMasters) ListTaxes(context.Context, string) ([]domain.TaxMaster, error) {
	return m.taxes, nil
}

func (m *memMasters) ListPayments(context.Context, string) ([]domain.PaymentMaster, error) {
	return m.payments, nil
}

func (m *memMasters) GetSettings(context.Context, string, string) (map[string]string, error) {
	if m.settings == nil {
		return map[string]string{}, nil
	}
	return m.settings, nil
}

func (m *memMasters) GetStaff(_ context.Context, _, staffID string) (domain.StaffRef, error) {
	staff, ok := m.staff[staffID]
	if !ok {
		return domain.StaffRef{}, errStubNotFound
	}
	return staff, nil
}

// ---- reports ----

type memReports struct {
	mu     sync.Mutex
	saved  []domain.SalesReport
	daily  map[string]domain.DailyInfo
}

func newMemReports() *memReports {
	return &memReports{daily: map[string]domain.DailyInfo{}}
}

func (m *memReports) SaveReport(_ context.Context, report domain.SalesReport) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saved = append(m.saved, report)
	return nil
}

func (m *memReports) SaveDailyInfo(_ context.Context, info domain.DailyInfo) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := sessionKeyString(repositories.SessionKey{
		TenantID:     info.TenantID,
		StoreCode:    info.StoreCode,
		TerminalNo:   info.TerminalNo,
		BusinessDate: info.BusinessDate,
		OpenCounter:  info.OpenCounter,
	})
	m.daily[key] = info
	return nil
}

func (m *memReports) GetDailyInfo(_ context.Context, key repositories.SessionKey) (domain.DailyInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	info, ok := m.daily[sessionKeyString(key)]
	if !ok {
		return domain.DailyInfo{}, errStubNotFound
	}
	return info, nil
}

// ---- stocks ----

type memStocks struct {
	mu        sync.Mutex
	rows      map[string]domain.Stock
	updates   []domain.StockUpdate
	snapshots []domain.StockSnapshot
	applied   map[string]bool
	cutoffs   []time.Time
}

func newMemStocks(stocks ...domain.Stock) *memStocks {
	m := &memStocks{rows: map[string]domain.Stock{}, applied: map[string]bool{}}
	for _, s := range stocks {
		m.rows[domain.StockID(s.TenantID, s.StoreCode, s.ItemCode)] = s
	}
	return m
}

func (m *memStocks) Get(_ context.Context, tenantID, storeCode, itemCode string) (domain.Stock, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stock, ok := m.rows[domain.StockID(tenantID, storeCode, itemCode)]
	if !ok {
		return domain.Stock{}, errStubNotFound
	}
	return stock, nil
}

func (m *memStocks) List(_ context.Context, tenantID, storeCode string, _ repositories.Page) ([]domain.Stock, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Stock
	for _, s := range m.rows {
		if s.TenantID == tenantID && s.StoreCode == storeCode {
			out = append(out, s)
		}
	}
	return out, int64(len(out)), nil
}

func (m *memStocks) SetThresholds(_ context.Context, stock domain.Stock) (domain.Stock, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := domain.StockID(stock.TenantID, stock.StoreCode, stock.ItemCode)
	current := m.rows[id]
	current.TenantID = stock.TenantID
	current.StoreCode = stock.StoreCode
	current.ItemCode = stock.ItemCode
	current.MinimumQuantity = stock.MinimumQuantity
	current.ReorderPoint = stock.ReorderPoint
	current.ReorderQuantity = stock.ReorderQuantity
	m.rows[id] = current
	return current, nil
}

func (m *memStocks) Apply(_ context.Context, update domain.StockUpdate) (domain.Stock, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := domain.StockID(update.TenantID, update.StoreCode, update.ItemCode)
	dedupe := update.EventID + "/" + update.ItemCode
	current := m.rows[id]
	if m.applied[dedupe] {
		return current, false, nil
	}
	m.applied[dedupe] = true

	update.PreviousQuantity = current.CurrentQuantity
	update.NewQuantity = current.CurrentQuantity + update.QuantityChange
	current.TenantID = update.TenantID
	current.StoreCode = update.StoreCode
	current.ItemCode = update.ItemCode
	current.CurrentQuantity = update.NewQuantity
	current.LastUpdateTime = update.Timestamp
	m.rows[id] = current
	m.updates = append(m.updates, update)
	return current, true, nil
}

func (m *memStocks) ListUpdates(_ context.Context, filter repositories.StockUpdateFilter, _ repositories.Page) ([]domain.StockUpdate, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.StockUpdate
	for _, u := range m.updates {
		if filter.TenantID != "" && u.TenantID != filter.TenantID {
			continue
		}
		if filter.StoreCode != "" && u.StoreCode != filter.StoreCode {
			continue
		}
		if filter.ItemCode != "" && u.ItemCode != filter.ItemCode {
			continue
		}
		out = append(out, u)
	}
	return out, int64(len(out)), nil
}

func (m *memStocks) CreateSnapshot(_ context.Context, snapshot domain.StockSnapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snapshots = append(m.snapshots, snapshot)
	return nil
}

func (m *memStocks) ListSnapshots(_ context.Context, tenantID, storeCode string, _ repositories.Page) ([]domain.StockSnapshot, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.StockSnapshot
	for _, s := range m.snapshots {
		if s.TenantID == tenantID && s.StoreCode == storeCode {
			out = append(out, s)
		}
	}
	return out, int64(len(out)), nil
}

func (m *memStocks) DeleteSnapshotsBefore(_ context.Context, tenantID string, cutoff time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cutoffs = append(m.cutoffs, cutoff)
	kept := m.snapshots[:0:0]
	deleted := 0
	for _, s := range m.snapshots {
		at, err := time.Parse(domain.DateTimeLayout, s.GenerateDateTime)
		if s.TenantID == tenantID && err == nil && at.Before(cutoff) {
			deleted++
			continue
		}
		kept = append(kept, s)
	}
	m.snapshots = kept
	return deleted, nil
}

// ---- publisher / tracker / notifier stubs ----

type publishedEvent struct {
	topic string
	event pubsub.Event
}

type stubPublisher struct {
	mu        sync.Mutex
	published []publishedEvent
	fail      bool
}

func (p *stubPublisher) Publish(_ context.Context, topic string, event pubsub.Event) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fail {
		return "", errors.New("broker unavailable")
	}
	p.published = append(p.published, publishedEvent{topic: topic, event: event})
	return fmt.Sprintf("msg-%d", len(p.published)), nil
}

func (p *stubPublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.published)
}

// stagedEvent captures one Stage call and whether it ran inside an atomic
// unit.
type stagedEvent struct {
	input     TrackInput
	inSession bool
}

// stubTracker records tracked events without the delivery bookkeeping.
type stubTracker struct {
	mu        sync.Mutex
	tracked   []TrackInput
	staged    []stagedEvent
	published []domain.DeliveryStatus
	fail      bool
}

func (t *stubTracker) Stage(ctx context.Context, input TrackInput) (domain.DeliveryStatus, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.fail {
		return domain.DeliveryStatus{}, errors.New("tracking unavailable")
	}
	t.tracked = append(t.tracked, input)
	t.staged = append(t.staged, stagedEvent{input: input, inSession: inMemSession(ctx)})
	return domain.DeliveryStatus{
		EventID:   fmt.Sprintf("event-%d", len(t.tracked)),
		Topic:     input.Topic,
		EventType: input.EventType,
	}, nil
}

func (t *stubTracker) Publish(_ context.Context, staged domain.DeliveryStatus) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.published = append(t.published, staged)
}

func (t *stubTracker) Track(ctx context.Context, input TrackInput) (string, error) {
	staged, err := t.Stage(ctx, input)
	if err != nil {
		return "", err
	}
	t.Publish(ctx, staged)
	return staged.EventID, nil
}

func (t *stubTracker) Ack(context.Context, string, string, bool, string) (domain.DeliveryStatus, error) {
	return domain.DeliveryStatus{}, nil
}

func (t *stubTracker) Status(context.Context, string) (domain.DeliveryStatus, error) {
	return domain.DeliveryStatus{}, errStubNotFound
}

func (t *stubTracker) Sweep(context.Context) (int, error) { return 0, nil }

func (t *stubTracker) Interval() time.Duration { return time.Minute }

func (t *stubTracker) events() []TrackInput {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]TrackInput(nil), t.tracked...)
}

type ackCall struct {
	tran    domain.TranLog
	eventID string
	status  domain.DeliveryServiceState
}

type stubAckNotifier struct {
	mu    sync.Mutex
	calls []ackCall
	fail  bool
}

func (n *stubAckNotifier) Ack(_ context.Context, tran domain.TranLog, eventID string, status domain.DeliveryServiceState) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.fail {
		return errors.New("ack endpoint unavailable")
	}
	n.calls = append(n.calls, ackCall{tran: tran, eventID: eventID, status: status})
	return nil
}

func (n *stubAckNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.calls)
}

type stubAlertNotifier struct {
	mu     sync.Mutex
	alerts []domain.StockAlert
}

func (n *stubAlertNotifier) Notify(_ context.Context, alert domain.StockAlert) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.alerts = append(n.alerts, alert)
}

type postedReport struct {
	report   domain.SalesReport
	tranType domain.TransactionType
}

type stubJournalPoster struct {
	mu     sync.Mutex
	posted []postedReport
	fail   bool
}

func (p *stubJournalPoster) PostReport(_ context.Context, report domain.SalesReport, tranType domain.TransactionType) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fail {
		return errors.New("journal endpoint unavailable")
	}
	p.posted = append(p.posted, postedReport{report: report, tranType: tranType})
	return nil
}
