// internal/repository/memory/unit_of_work.go
package memory

import (
	"context"

	"healthwallet-service/internal/domain/loyalty"
	"healthwallet-service/internal/domain/topup"
	"healthwallet-service/internal/domain/wallet"
	xerrors "healthwallet-service/internal/pkg/errors"
)

// unitOfWork holds the staged writes of one WithinAccount call.
type unitOfWork struct {
	store     *Store
	accountID int64

	account      *wallet.Account
	accountDirty bool
	transactions []*wallet.Transaction
	intents      map[string]topup.Intent
	redemptions  map[int64]*loyalty.VoucherRedemption
}

func newUnitOfWork(s *Store, accountID int64) *unitOfWork {
	return &unitOfWork{
		store:       s,
		accountID:   accountID,
		intents:     make(map[string]topup.Intent),
		redemptions: make(map[int64]*loyalty.VoucherRedemption),
	}
}

var _ wallet.Tx = (*unitOfWork)(nil)

func (u *unitOfWork) AccountID() int64 {
	return u.accountID
}

func (u *unitOfWork) LockAccount(ctx context.Context) (*wallet.Account, error) {
	if u.account == nil {
		u.store.mu.RLock()
		a, ok := u.store.accounts[u.accountID]
		u.store.mu.RUnlock()

		if !ok {
			now := u.store.now()
			a = wallet.Account{AccountID: u.accountID, CreatedAt: now, UpdatedAt: now}
			u.accountDirty = true
		}
		u.account = &a
	}

	a := *u.account
	return &a, nil
}

func (u *unitOfWork) UpdateAccount(ctx context.Context, a *wallet.Account) error {
	if a.AccountID != u.accountID {
		return xerrors.Wrap(xerrors.ErrInvalidInput, "account outside unit of work")
	}
	if u.account == nil {
		return xerrors.Wrap(xerrors.ErrInvalidInput, "account must be locked before update")
	}
	a.UpdatedAt = u.store.now()
	staged := *a
	u.account = &staged
	u.accountDirty = true
	return nil
}

func (u *unitOfWork) InsertTransaction(ctx context.Context, t *wallet.Transaction) error {
	if t.AccountID != u.accountID {
		return xerrors.Wrap(xerrors.ErrInvalidInput, "transaction outside unit of work")
	}
	if t.ExternalReference != nil {
		for _, staged := range u.transactions {
			if staged.ExternalReference != nil && *staged.ExternalReference == *t.ExternalReference {
				return xerrors.ErrDuplicateReference
			}
		}
		u.store.mu.RLock()
		_, exists := u.store.references[*t.ExternalReference]
		u.store.mu.RUnlock()
		if exists {
			return xerrors.ErrDuplicateReference
		}
	}

	t.CreatedAt = u.store.now()
	u.transactions = append(u.transactions, t)
	return nil
}

func (u *unitOfWork) LockIntent(ctx context.Context, intentID string) (*topup.Intent, error) {
	in, ok := u.intents[intentID]
	if !ok {
		u.store.mu.RLock()
		in, ok = u.store.intents[intentID]
		u.store.mu.RUnlock()
	}
	if !ok || in.AccountID != u.accountID {
		return nil, xerrors.ErrIntentNotFound
	}
	return &in, nil
}

func (u *unitOfWork) UpdateIntent(ctx context.Context, intent *topup.Intent) error {
	if _, err := u.LockIntent(ctx, intent.IntentID); err != nil {
		return err
	}
	if intent.GatewayReference != nil {
		u.store.mu.RLock()
		owner, exists := u.store.gatewayRefs[*intent.GatewayReference]
		u.store.mu.RUnlock()
		if exists && owner != intent.IntentID {
			return xerrors.ErrDuplicateReference
		}
	}

	intent.UpdatedAt = u.store.now()
	u.intents[intent.IntentID] = *intent
	return nil
}

func (u *unitOfWork) FindRedemption(ctx context.Context, voucherID int64) (*loyalty.VoucherRedemption, error) {
	if r, ok := u.redemptions[voucherID]; ok {
		cp := *r
		return &cp, nil
	}

	u.store.mu.RLock()
	r, ok := u.store.redemptions[redemptionKey{accountID: u.accountID, voucherID: voucherID}]
	u.store.mu.RUnlock()
	if !ok {
		return nil, xerrors.ErrNotRedeemed
	}
	return &r, nil
}

func (u *unitOfWork) InsertRedemption(ctx context.Context, r *loyalty.VoucherRedemption) error {
	if r.AccountID != u.accountID {
		return xerrors.Wrap(xerrors.ErrInvalidInput, "redemption outside unit of work")
	}
	if _, err := u.FindRedemption(ctx, r.VoucherID); err == nil {
		return xerrors.ErrAlreadyRedeemed
	}
	if r.RedeemedAt.IsZero() {
		r.RedeemedAt = u.store.now()
	}
	u.redemptions[r.VoucherID] = r
	return nil
}

func (u *unitOfWork) UpdateRedemption(ctx context.Context, r *loyalty.VoucherRedemption) error {
	existing, err := u.FindRedemption(ctx, r.VoucherID)
	if err != nil {
		return err
	}
	r.ID = existing.ID
	staged := *r
	u.redemptions[r.VoucherID] = &staged
	return nil
}
