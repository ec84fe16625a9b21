// internal/repository/memory/store.go
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"healthwallet-service/internal/domain/loyalty"
	"healthwallet-service/internal/domain/topup"
	"healthwallet-service/internal/domain/wallet"
	xerrors "healthwallet-service/internal/pkg/errors"
)

type redemptionKey struct {
	accountID int64
	voucherID int64
}

// Store is an in-process wallet.Store. Work for one account is serialized by
// a per-account mutex; writes are staged on the unit of work and applied to
// the shared maps only when the callback returns nil.
type Store struct {
	mu sync.RWMutex

	accounts     map[int64]wallet.Account
	transactions map[int64][]wallet.Transaction
	references   map[string]wallet.Transaction
	sequence     int64

	intents     map[string]topup.Intent
	gatewayRefs map[string]string

	vouchers      map[int64]loyalty.Voucher
	voucherCodes  map[string]int64
	voucherSeq    int64
	redemptions   map[redemptionKey]loyalty.VoucherRedemption
	redemptionSeq int64

	locksMu sync.Mutex
	locks   map[int64]*sync.Mutex

	now func() time.Time
}

type Option func(*Store)

// WithClock overrides the clock used for default timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

func NewStore(opts ...Option) *Store {
	s := &Store{
		accounts:     make(map[int64]wallet.Account),
		transactions: make(map[int64][]wallet.Transaction),
		references:   make(map[string]wallet.Transaction),
		intents:      make(map[string]topup.Intent),
		gatewayRefs:  make(map[string]string),
		vouchers:     make(map[int64]loyalty.Voucher),
		voucherCodes: make(map[string]int64),
		redemptions:  make(map[redemptionKey]loyalty.VoucherRedemption),
		locks:        make(map[int64]*sync.Mutex),
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

var _ wallet.Store = (*Store)(nil)

func (s *Store) accountLock(accountID int64) *sync.Mutex {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()

	l, ok := s.locks[accountID]
	if !ok {
		l = &sync.Mutex{}
		s.locks[accountID] = l
	}
	return l
}

// WithinAccount runs fn while holding the account's lock.
func (s *Store) WithinAccount(ctx context.Context, accountID int64, fn func(ctx context.Context, tx wallet.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	lock := s.accountLock(accountID)
	lock.Lock()
	defer lock.Unlock()

	tx := newUnitOfWork(s, accountID)
	if err := fn(ctx, tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.commit(tx)
}

// commit re-checks the cross-account unique constraints and applies the
// staged writes. Sequence numbers and redemption ids are assigned here.
func (s *Store) commit(tx *unitOfWork) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, t := range tx.transactions {
		if t.ExternalReference == nil {
			continue
		}
		if _, exists := s.references[*t.ExternalReference]; exists {
			return xerrors.ErrDuplicateReference
		}
	}
	for _, in := range tx.intents {
		if in.GatewayReference == nil {
			continue
		}
		if owner, exists := s.gatewayRefs[*in.GatewayReference]; exists && owner != in.IntentID {
			return xerrors.ErrDuplicateReference
		}
	}

	if tx.account != nil && tx.accountDirty {
		s.accounts[tx.accountID] = *tx.account
	}

	for _, t := range tx.transactions {
		s.sequence++
		t.Sequence = s.sequence
		s.transactions[tx.accountID] = append(s.transactions[tx.accountID], *t)
		if t.ExternalReference != nil {
			s.references[*t.ExternalReference] = *t
		}
	}

	for id, in := range tx.intents {
		s.intents[id] = in
		if in.GatewayReference != nil {
			s.gatewayRefs[*in.GatewayReference] = id
		}
	}

	for voucherID, r := range tx.redemptions {
		if r.ID == 0 {
			s.redemptionSeq++
			r.ID = s.redemptionSeq
		}
		s.redemptions[redemptionKey{accountID: tx.accountID, voucherID: voucherID}] = *r
	}

	return nil
}

// ========== Ledger reads ==========

func (s *Store) EnsureAccount(ctx context.Context, accountID int64) (*wallet.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.accounts[accountID]
	if !ok {
		now := s.now()
		a = wallet.Account{AccountID: accountID, CreatedAt: now, UpdatedAt: now}
		s.accounts[accountID] = a
	}
	return &a, nil
}

func (s *Store) FindAccount(ctx context.Context, accountID int64) (*wallet.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.accounts[accountID]
	if !ok {
		return nil, xerrors.ErrAccountNotFound
	}
	return &a, nil
}

func (s *Store) ListTransactions(ctx context.Context, accountID int64, q wallet.TransactionQuery) ([]wallet.Transaction, int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows := s.transactions[accountID]

	var total int64
	out := make([]wallet.Transaction, 0)
	skipped := 0
	for i := len(rows) - 1; i >= 0; i-- {
		t := rows[i]
		if q.Type != nil && t.Type != *q.Type {
			continue
		}
		total++
		if q.Cursor > 0 && t.Sequence >= q.Cursor {
			continue
		}
		if skipped < q.Offset {
			skipped++
			continue
		}
		if q.Limit > 0 && len(out) >= q.Limit {
			continue
		}
		out = append(out, t)
	}
	return out, total, nil
}

func (s *Store) SumTransactions(ctx context.Context, accountID int64) (int64, int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var amount, points int64
	for _, t := range s.transactions[accountID] {
		amount += t.AmountMinorUnits
		points += t.PointsDelta
	}
	return amount, points, nil
}

func (s *Store) FindTransactionByReference(ctx context.Context, reference string) (*wallet.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.references[reference]
	if !ok {
		return nil, xerrors.ErrNotFound
	}
	return &t, nil
}

// ========== Intents ==========

func (s *Store) CreateIntent(ctx context.Context, intent *topup.Intent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.intents[intent.IntentID]; exists {
		return xerrors.ErrConflict
	}
	if intent.CreatedAt.IsZero() {
		intent.CreatedAt = s.now()
	}
	intent.UpdatedAt = intent.CreatedAt
	s.intents[intent.IntentID] = *intent
	return nil
}

func (s *Store) FindIntent(ctx context.Context, intentID string) (*topup.Intent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	in, ok := s.intents[intentID]
	if !ok {
		return nil, xerrors.ErrIntentNotFound
	}
	return &in, nil
}

func (s *Store) ListStaleIntents(ctx context.Context, createdBefore time.Time, limit int) ([]topup.Intent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stale := make([]topup.Intent, 0)
	for _, in := range s.intents {
		if in.Status == topup.IntentPending && in.CreatedAt.Before(createdBefore) {
			stale = append(stale, in)
		}
	}
	sort.Slice(stale, func(i, j int) bool { return stale[i].CreatedAt.Before(stale[j].CreatedAt) })
	if limit > 0 && len(stale) > limit {
		stale = stale[:limit]
	}
	return stale, nil
}

func (s *Store) ListSettledWithoutDeposit(ctx context.Context, limit int) ([]topup.Intent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	drift := make([]topup.Intent, 0)
	for _, in := range s.intents {
		if in.Status != topup.IntentSettled {
			continue
		}
		if in.GatewayReference != nil {
			t, ok := s.references[*in.GatewayReference]
			if ok && t.Type == wallet.TransactionDeposit && t.AccountID == in.AccountID {
				continue
			}
		}
		drift = append(drift, in)
	}
	sort.Slice(drift, func(i, j int) bool { return drift[i].CreatedAt.Before(drift[j].CreatedAt) })
	if limit > 0 && len(drift) > limit {
		drift = drift[:limit]
	}
	return drift, nil
}

// ========== Vouchers ==========

func (s *Store) UpsertVoucher(ctx context.Context, v *loyalty.Voucher) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if id, exists := s.voucherCodes[v.Code]; exists {
		existing := s.vouchers[id]
		v.ID = id
		v.CreatedAt = existing.CreatedAt
	} else {
		s.voucherSeq++
		v.ID = s.voucherSeq
		v.CreatedAt = now
		s.voucherCodes[v.Code] = v.ID
	}
	v.UpdatedAt = now
	s.vouchers[v.ID] = cloneVoucher(*v)
	return nil
}

func (s *Store) ListVouchers(ctx context.Context) ([]loyalty.Voucher, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]loyalty.Voucher, 0, len(s.vouchers))
	for _, v := range s.vouchers {
		out = append(out, cloneVoucher(v))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) FindVoucher(ctx context.Context, id int64) (*loyalty.Voucher, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	v, ok := s.vouchers[id]
	if !ok {
		return nil, xerrors.ErrVoucherNotFound
	}
	v = cloneVoucher(v)
	return &v, nil
}

func (s *Store) ListRedemptions(ctx context.Context, accountID int64) ([]loyalty.VoucherRedemption, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]loyalty.VoucherRedemption, 0)
	for key, r := range s.redemptions {
		if key.accountID == accountID {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func cloneVoucher(v loyalty.Voucher) loyalty.Voucher {
	if v.ApplicableServices != nil {
		services := make([]string, len(v.ApplicableServices))
		copy(services, v.ApplicableServices)
		v.ApplicableServices = services
	}
	if v.ExpiresAt != nil {
		expires := *v.ExpiresAt
		v.ExpiresAt = &expires
	}
	return v
}
