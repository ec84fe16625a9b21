// internal/service/ledger/appointment.go
package ledger

import (
	"context"
	"fmt"

	"healthwallet-service/internal/domain/wallet"
	xerrors "healthwallet-service/internal/pkg/errors"

	"go.uber.org/zap"
)

func appointmentReference(appointmentID int64, kind string) string {
	return fmt.Sprintf("appointment:%d:%s", appointmentID, kind)
}

// PayAppointment debits an appointment fee. Repeating the call for the same
// appointment returns the original payment instead of charging twice.
func (s *Service) PayAppointment(ctx context.Context, accountID int64, req *wallet.ChargeRequest) (*wallet.Transaction, error) {
	reference := appointmentReference(req.AppointmentID, "payment")

	if existing, ok, err := s.findOwnedReference(ctx, accountID, reference); err != nil || ok {
		return existing, err
	}

	description := req.Description
	if description == "" {
		description = fmt.Sprintf("Appointment #%d fee", req.AppointmentID)
	}

	t, err := s.PostTransaction(ctx, accountID, wallet.PostInput{
		Type:              wallet.TransactionPayment,
		AmountMinorUnits:  -req.Amount,
		Description:       description,
		ExternalReference: &reference,
	})
	if xerrors.Is(err, xerrors.ErrDuplicateReference) {
		return s.replayReference(ctx, accountID, reference)
	}
	return t, err
}

// RefundAppointment credits back up to the amount paid for the appointment.
func (s *Service) RefundAppointment(ctx context.Context, accountID int64, req *wallet.ChargeRequest) (*wallet.Transaction, error) {
	reference := appointmentReference(req.AppointmentID, "refund")

	if existing, ok, err := s.findOwnedReference(ctx, accountID, reference); err != nil || ok {
		return existing, err
	}

	payment, ok, err := s.findOwnedReference(ctx, accountID, appointmentReference(req.AppointmentID, "payment"))
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("appointment %d was not paid from the wallet: %w", req.AppointmentID, xerrors.ErrInvalidTransaction)
	}
	if req.Amount > -payment.AmountMinorUnits {
		return nil, fmt.Errorf("refund %d exceeds payment %d: %w", req.Amount, -payment.AmountMinorUnits, xerrors.ErrInvalidAmount)
	}

	description := req.Description
	if description == "" {
		description = fmt.Sprintf("Refund for appointment #%d", req.AppointmentID)
	}

	t, err := s.PostTransaction(ctx, accountID, wallet.PostInput{
		Type:              wallet.TransactionRefund,
		AmountMinorUnits:  req.Amount,
		Description:       description,
		ExternalReference: &reference,
	})
	if xerrors.Is(err, xerrors.ErrDuplicateReference) {
		return s.replayReference(ctx, accountID, reference)
	}
	return t, err
}

func (s *Service) findOwnedReference(ctx context.Context, accountID int64, reference string) (*wallet.Transaction, bool, error) {
	t, err := s.store.FindTransactionByReference(ctx, reference)
	if xerrors.Is(err, xerrors.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to look up %s: %w", reference, err)
	}
	if t.AccountID != accountID {
		return nil, false, fmt.Errorf("%s belongs to another account: %w", reference, xerrors.ErrConflict)
	}
	return t, true, nil
}

func (s *Service) replayReference(ctx context.Context, accountID int64, reference string) (*wallet.Transaction, error) {
	t, ok, err := s.findOwnedReference(ctx, accountID, reference)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, xerrors.ErrDuplicateReference
	}
	s.logger.Info("replayed charge", zap.Int64("account_id", accountID), zap.String("reference", reference))
	return t, nil
}
