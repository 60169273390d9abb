package usecase

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/DesignerDev23/MiiMii-sub000/internal/config"
	"github.com/DesignerDev23/MiiMii-sub000/internal/domain"
	xerrors "github.com/DesignerDev23/MiiMii-sub000/internal/pkg/xerrors"
	"github.com/DesignerDev23/MiiMii-sub000/internal/repository"
	"github.com/DesignerDev23/MiiMii-sub000/internal/retry"
)

// fakeStore runs the callback without a database; the fake repositories
// apply their writes immediately, so "transactions" are not rolled back.
// Tests that need rollback semantics assert on the error path instead.
type fakeStore struct{}

func (fakeStore) WithTx(ctx context.Context, fn func(tx pgx.Tx) error) error { return fn(nil) }
func (fakeStore) Pool() *pgxpool.Pool                                        { return nil }

type fakeWallets struct {
	mu      sync.Mutex
	wallets map[string]*domain.Wallet
	holds   map[string]*domain.Hold
}

func newFakeWallets() *fakeWallets {
	return &fakeWallets{
		wallets: make(map[string]*domain.Wallet),
		holds:   make(map[string]*domain.Hold),
	}
}

func (f *fakeWallets) add(w *domain.Wallet) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.wallets[w.UserID] = w
}

func (f *fakeWallets) pendingDebit(userID string) decimal.Decimal {
	total := decimal.Zero
	for _, h := range f.holds {
		if h.UserID == userID {
			total = total.Add(h.Amount)
		}
	}
	return total
}

func (f *fakeWallets) Get(ctx context.Context, userID string) (*domain.Wallet, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	w, ok := f.wallets[userID]
	if !ok {
		return nil, xerrors.ErrWalletNotFound
	}
	cp := *w
	cp.AvailableBalance = w.Balance.Sub(f.pendingDebit(userID))
	return &cp, nil
}

func (f *fakeWallets) GetByAccountNumber(ctx context.Context, accountNumber string) (*domain.Wallet, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, w := range f.wallets {
		if w.VirtualAccount != nil && w.VirtualAccount.AccountNumber == accountNumber {
			cp := *w
			return &cp, nil
		}
	}
	return nil, xerrors.ErrWalletNotFound
}

func (f *fakeWallets) Create(ctx context.Context, w *domain.Wallet) error {
	w.IsActive = true
	f.add(w)
	return nil
}

func (f *fakeWallets) AttachVirtualAccount(ctx context.Context, userID string, va domain.VirtualAccount) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	w, ok := f.wallets[userID]
	if !ok {
		return xerrors.ErrWalletNotFound
	}
	w.VirtualAccount = &va
	return nil
}

func (f *fakeWallets) Reserve(ctx context.Context, tx pgx.Tx, userID, transactionRef string, amount decimal.Decimal, reason string, expiresAt time.Time) (*domain.Hold, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if h, ok := f.holds[transactionRef]; ok {
		return h, nil
	}
	w, ok := f.wallets[userID]
	if !ok {
		return nil, xerrors.ErrWalletNotFound
	}
	if !w.IsActive {
		return nil, xerrors.ErrWalletInactive
	}
	if w.IsFrozen {
		return nil, xerrors.ErrWalletFrozen
	}
	if w.Balance.Sub(f.pendingDebit(userID)).LessThan(amount) {
		return nil, xerrors.ErrInsufficientFunds
	}
	h := &domain.Hold{
		TransactionRef: transactionRef,
		UserID:         userID,
		Amount:         amount,
		Reason:         reason,
		CreatedAt:      time.Now(),
		ExpiresAt:      expiresAt,
	}
	f.holds[transactionRef] = h
	return h, nil
}

func (f *fakeWallets) ApplyDebit(ctx context.Context, tx pgx.Tx, transactionRef string) (*domain.BalanceChange, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	h, ok := f.holds[transactionRef]
	if !ok {
		return nil, xerrors.ErrHoldNotFound
	}
	w := f.wallets[h.UserID]
	before := w.Balance
	w.Balance = w.Balance.Sub(h.Amount)
	w.DailySpent = w.DailySpent.Add(h.Amount)
	w.MonthlySpent = w.MonthlySpent.Add(h.Amount)
	delete(f.holds, transactionRef)
	return &domain.BalanceChange{Before: before, After: w.Balance}, nil
}

func (f *fakeWallets) ReleaseHold(ctx context.Context, tx pgx.Tx, transactionRef string) (decimal.Decimal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	h, ok := f.holds[transactionRef]
	if !ok {
		return decimal.Zero, xerrors.ErrHoldNotFound
	}
	delete(f.holds, transactionRef)
	return h.Amount, nil
}

func (f *fakeWallets) Credit(ctx context.Context, tx pgx.Tx, userID string, amount decimal.Decimal) (*domain.BalanceChange, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	w, ok := f.wallets[userID]
	if !ok {
		return nil, xerrors.ErrWalletNotFound
	}
	if !w.IsActive {
		return nil, xerrors.ErrWalletInactive
	}
	before := w.Balance
	w.Balance = w.Balance.Add(amount)
	return &domain.BalanceChange{Before: before, After: w.Balance}, nil
}

func (f *fakeWallets) TransferInternal(ctx context.Context, tx pgx.Tx, srcUserID, dstUserID string, amount decimal.Decimal) (*domain.BalanceChange, *domain.BalanceChange, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	src, ok := f.wallets[srcUserID]
	if !ok {
		return nil, nil, xerrors.ErrWalletNotFound
	}
	dst, ok := f.wallets[dstUserID]
	if !ok {
		return nil, nil, xerrors.ErrWalletNotFound
	}
	if !src.IsActive {
		return nil, nil, xerrors.ErrWalletInactive
	}
	if src.IsFrozen {
		return nil, nil, xerrors.ErrWalletFrozen
	}
	if src.Balance.Sub(f.pendingDebit(srcUserID)).LessThan(amount) {
		return nil, nil, xerrors.ErrInsufficientFunds
	}
	srcBefore, dstBefore := src.Balance, dst.Balance
	src.Balance = src.Balance.Sub(amount)
	src.DailySpent = src.DailySpent.Add(amount)
	src.MonthlySpent = src.MonthlySpent.Add(amount)
	dst.Balance = dst.Balance.Add(amount)
	return &domain.BalanceChange{Before: srcBefore, After: src.Balance},
		&domain.BalanceChange{Before: dstBefore, After: dst.Balance}, nil
}

func (f *fakeWallets) ResetDailySpent(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, w := range f.wallets {
		w.DailySpent = decimal.Zero
	}
	return nil
}

func (f *fakeWallets) ResetMonthlySpent(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, w := range f.wallets {
		w.MonthlySpent = decimal.Zero
	}
	return nil
}

func (f *fakeWallets) ListMaintenanceDue(ctx context.Context, fee decimal.Decimal) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for userID, w := range f.wallets {
		if w.IsActive && !w.IsFrozen && w.Balance.Sub(f.pendingDebit(userID)).GreaterThanOrEqual(fee) {
			out = append(out, userID)
		}
	}
	return out, nil
}

type fakeTxns struct {
	mu  sync.Mutex
	txn map[string]*domain.Transaction
}

func newFakeTxns() *fakeTxns {
	return &fakeTxns{txn: make(map[string]*domain.Transaction)}
}

func (f *fakeTxns) Create(ctx context.Context, tx pgx.Tx, t *domain.Transaction) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.txn[t.Reference]; ok {
		return xerrors.ErrDuplicateReference
	}
	t.CreatedAt = time.Now()
	cp := *t
	f.txn[t.Reference] = &cp
	return nil
}

func (f *fakeTxns) Get(ctx context.Context, reference string) (*domain.Transaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.txn[reference]
	if !ok {
		return nil, xerrors.ErrTransactionNotFound
	}
	cp := *t
	return &cp, nil
}

func (f *fakeTxns) GetByProviderRef(ctx context.Context, provider, providerRef string) (*domain.Transaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, t := range f.txn {
		if t.Provider == provider && t.ProviderReference != nil && *t.ProviderReference == providerRef {
			cp := *t
			return &cp, nil
		}
	}
	return nil, xerrors.ErrTransactionNotFound
}

func (f *fakeTxns) Transition(ctx context.Context, tx pgx.Tx, reference, from, to string, update *repository.TransitionUpdate) error {
	if !domain.CanTransition(from, to) {
		return xerrors.ErrInvalidTransition
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.txn[reference]
	if !ok || t.Status != from {
		return xerrors.ErrConcurrentUpdate
	}
	t.Status = to
	if update != nil {
		if update.ProviderReference != nil {
			t.ProviderReference = update.ProviderReference
		}
		if update.BalanceBefore != nil {
			t.BalanceBefore = update.BalanceBefore
		}
		if update.BalanceAfter != nil {
			t.BalanceAfter = update.BalanceAfter
		}
		if update.FailureReason != nil {
			t.FailureReason = update.FailureReason
		}
		t.NextRetryAt = update.NextRetryAt
		if update.IncrementAttempt {
			t.AttemptCount++
		}
	} else {
		t.NextRetryAt = nil
	}
	return nil
}

func (f *fakeTxns) Reschedule(ctx context.Context, reference, status string, next time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.txn[reference]
	if !ok || t.Status != status {
		return xerrors.ErrConcurrentUpdate
	}
	t.NextRetryAt = &next
	t.AttemptCount++
	return nil
}

func (f *fakeTxns) ListByUser(ctx context.Context, userID string, limit, offset int) ([]domain.Transaction, int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.Transaction
	for _, t := range f.txn {
		if t.UserID == userID {
			out = append(out, *t)
		}
	}
	return out, int64(len(out)), nil
}

func (f *fakeTxns) ListPendingWebhook(ctx context.Context, now time.Time, limit int) ([]domain.Transaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.Transaction
	for _, t := range f.txn {
		if t.Status == domain.StatusPendingWebhook && t.NextRetryAt != nil && !t.NextRetryAt.After(now) {
			out = append(out, *t)
		}
	}
	return out, nil
}

func (f *fakeTxns) ListStaleReserved(ctx context.Context, cutoff time.Time, limit int) ([]domain.Transaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.Transaction
	for _, t := range f.txn {
		if t.Status == domain.StatusReserved && !t.CreatedAt.After(cutoff) {
			out = append(out, *t)
		}
	}
	return out, nil
}

type fakeIdem struct {
	mu     sync.Mutex
	claims map[string]string
}

func newFakeIdem() *fakeIdem {
	return &fakeIdem{claims: make(map[string]string)}
}

func (f *fakeIdem) Claim(ctx context.Context, userID, key, proposedRef string, ttl time.Duration) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	k := userID + "/" + key
	if ref, ok := f.claims[k]; ok {
		return ref, false, nil
	}
	f.claims[k] = proposedRef
	return proposedRef, true, nil
}

func (f *fakeIdem) Release(ctx context.Context, userID, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.claims, userID+"/"+key)
	return nil
}

func (f *fakeIdem) DeleteExpired(ctx context.Context) (int64, error) { return 0, nil }

type fakeWebhooks struct {
	mu      sync.Mutex
	applied map[string]bool
	records []domain.WebhookEvent
}

func newFakeWebhooks() *fakeWebhooks {
	return &fakeWebhooks{applied: make(map[string]bool)}
}

func (f *fakeWebhooks) InsertApplied(ctx context.Context, tx pgx.Tx, e *domain.WebhookEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	k := e.Provider + "/" + e.ExternalEventID
	if f.applied[k] {
		return xerrors.ErrDuplicateEvent
	}
	f.applied[k] = true
	e.Outcome = domain.WebhookApplied
	f.records = append(f.records, *e)
	return nil
}

func (f *fakeWebhooks) Record(ctx context.Context, e *domain.WebhookEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records = append(f.records, *e)
	return nil
}

func (f *fakeWebhooks) WasApplied(ctx context.Context, provider, externalEventID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.applied[provider+"/"+externalEventID], nil
}

func (f *fakeWebhooks) outcomes() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.records))
	for i, r := range f.records {
		out[i] = r.Outcome
	}
	return out
}

type fakePins struct {
	err error
}

func (f *fakePins) Verify(ctx context.Context, userID, pin string) error { return f.err }

// fakeAdapter covers every capability; unset functions report success.
type fakeAdapter struct {
	name string
	kind string

	transferFn func(domain.TransferRequest) (*domain.TransferResult, error)
	statusFn   func(string) (*domain.StatusResult, error)
	vtuFn      func(domain.VtuRequest) (*domain.TransferResult, error)
	vaFn       func(domain.KycPayload) (*domain.VirtualAccountResult, error)
	bvnFn      func(domain.BvnPayload) (*domain.BvnResult, error)
	verifyOK   bool
	parseFn    func([]byte) (*domain.ProviderEvent, error)

	transferCalls int
}

func (f *fakeAdapter) Name() string { return f.name }
func (f *fakeAdapter) Kind() string { return f.kind }

func (f *fakeAdapter) ResolveInstitution(ctx context.Context, nameOrCode string) (string, error) {
	return "000014", nil
}

func (f *fakeAdapter) NameEnquiry(ctx context.Context, account, institutionCode string) (*domain.NameEnquiryResult, error) {
	return &domain.NameEnquiryResult{AccountName: "ADA OBI", InstitutionCode: institutionCode}, nil
}

func (f *fakeAdapter) Transfer(ctx context.Context, req domain.TransferRequest) (*domain.TransferResult, error) {
	f.transferCalls++
	if f.transferFn != nil {
		return f.transferFn(req)
	}
	return &domain.TransferResult{ProviderReference: "SESSION1", Status: domain.SyncCompleted}, nil
}

func (f *fakeAdapter) QueryStatus(ctx context.Context, reference string) (*domain.StatusResult, error) {
	if f.statusFn != nil {
		return f.statusFn(reference)
	}
	return &domain.StatusResult{Status: domain.SyncPending}, nil
}

func (f *fakeAdapter) PurchaseVtu(ctx context.Context, req domain.VtuRequest) (*domain.TransferResult, error) {
	if f.vtuFn != nil {
		return f.vtuFn(req)
	}
	return &domain.TransferResult{ProviderReference: "VTU1", Status: domain.SyncCompleted}, nil
}

func (f *fakeAdapter) CreateVirtualAccount(ctx context.Context, payload domain.KycPayload) (*domain.VirtualAccountResult, error) {
	if f.vaFn != nil {
		return f.vaFn(payload)
	}
	return &domain.VirtualAccountResult{
		AccountNumber: "9012345678",
		AccountName:   payload.FirstName + " " + payload.LastName,
		BankCode:      "000023",
		BankName:      "Bell MFB",
	}, nil
}

func (f *fakeAdapter) VerifyBvn(ctx context.Context, payload domain.BvnPayload) (*domain.BvnResult, error) {
	if f.bvnFn != nil {
		return f.bvnFn(payload)
	}
	return &domain.BvnResult{FirstName: payload.FirstName, LastName: payload.LastName}, nil
}

func (f *fakeAdapter) VerifyWebhook(body []byte, headers http.Header) bool { return f.verifyOK }

func (f *fakeAdapter) ParseWebhook(body []byte) (*domain.ProviderEvent, error) {
	if f.parseFn != nil {
		return f.parseFn(body)
	}
	return nil, xerrors.ErrUnparseable
}

type fakeRegistry struct {
	adapters map[string]domain.Adapter
	breakers map[string]*retry.Breaker
	baas     string
}

func newFakeRegistry(baas string, adapters ...domain.Adapter) *fakeRegistry {
	r := &fakeRegistry{
		adapters: make(map[string]domain.Adapter),
		breakers: make(map[string]*retry.Breaker),
		baas:     baas,
	}
	for _, a := range adapters {
		r.adapters[a.Name()] = a
		r.breakers[a.Name()] = retry.NewBreaker(a.Name(), config.CircuitConfig{})
	}
	return r
}

func (r *fakeRegistry) Get(name string) (domain.Adapter, error) {
	a, ok := r.adapters[name]
	if !ok {
		return nil, xerrors.ErrNotFound
	}
	return a, nil
}

func (r *fakeRegistry) DefaultBaas() domain.Adapter { return r.adapters[r.baas] }

func (r *fakeRegistry) Breaker(name string) *retry.Breaker { return r.breakers[name] }

func (r *fakeRegistry) Policy(name string) retry.Policy {
	// Fast backoff keeps retry-path tests quick.
	return retry.Policy{Base: time.Millisecond, Multiplier: 1, MaxDelay: time.Millisecond, MaxAttempts: 2}
}

func (r *fakeRegistry) WebhookSource(name string) (domain.WebhookSource, bool) {
	a, ok := r.adapters[name]
	if !ok {
		return nil, false
	}
	ws, ok := a.(domain.WebhookSource)
	return ws, ok
}

func (r *fakeRegistry) Names() []string {
	out := make([]string, 0, len(r.adapters))
	for n := range r.adapters {
		out = append(out, n)
	}
	return out
}
