package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/academy/backend/internal/domain/enrollment"
	"github.com/academy/backend/internal/domain/ledger"
	"github.com/academy/backend/internal/domain/shared"
	"github.com/academy/backend/internal/infrastructure/telemetry"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ErrPeriodAlreadyPaid is returned to operators booking a month that already has a SUCCESS payment
var ErrPeriodAlreadyPaid = shared.NewDomainError("PERIOD_ALREADY_PAID", "One of the months is already paid for this contract")

// PaymentRecorder receives settled payments for business metrics
type PaymentRecorder interface {
	RecordPayment(ctx context.Context, source, outcome string)
}

// LedgerService handles operator-side ledger writes: desk and bank payments,
// assignment of unmatched money, and cancellation of unsettled entries.
// Every write that settles money claims its months in the same database
// transaction, so the one-payment-per-month rule holds across all channels.
type LedgerService struct {
	scope           ledger.TransactionScope
	transactionRepo ledger.TransactionRepository
	metrics         PaymentRecorder
	logger          *zap.Logger
}

// NewLedgerService creates a new LedgerService
func NewLedgerService(scope ledger.TransactionScope, transactionRepo ledger.TransactionRepository, logger *zap.Logger) *LedgerService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LedgerService{
		scope:           scope,
		transactionRepo: transactionRepo,
		logger:          logger,
	}
}

// SetMetrics sets the payment recorder (optional)
func (s *LedgerService) SetMetrics(m PaymentRecorder) {
	s.metrics = m
}

// GetTransaction returns a ledger entry by ID
func (s *LedgerService) GetTransaction(ctx context.Context, id uuid.UUID) (*TransactionResponse, error) {
	t, err := s.transactionRepo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	resp := ToTransactionResponse(t)
	return &resp, nil
}

// RecordManualPayment books a SUCCESS payment received outside a gateway
func (s *LedgerService) RecordManualPayment(ctx context.Context, req RecordPaymentRequest) (*TransactionResponse, error) {
	ctx, span := telemetry.StartServiceSpan(ctx, "ledger", "record_payment")
	defer span.End()
	telemetry.SetAttribute(span, telemetry.SpanAttrContractID, req.ContractID)
	telemetry.SetAttribute(span, telemetry.SpanAttrPeriod, fmt.Sprintf("%d:%v", req.Year, req.Months))

	paidAt := time.Now()
	if req.PaidAt != nil {
		paidAt = *req.PaidAt
	}

	var created *ledger.Transaction
	err := s.scope.Execute(ctx, func(repos ledger.Repositories) error {
		contract, err := repos.Contracts().FindByID(ctx, req.ContractID)
		if err != nil {
			return err
		}
		if contract.Status == enrollment.ContractStatusDeleted {
			return shared.NewDomainError("INVALID_CONTRACT", "Cannot book payments on a deleted contract")
		}

		t, err := ledger.NewRecordedPayment(ledger.Source(req.Source), req.Amount, contract, req.Year, req.Months, req.Comment, paidAt)
		if err != nil {
			return err
		}
		if err := repos.Transactions().Create(ctx, t); err != nil {
			return err
		}
		if err := repos.Transactions().ClaimPeriods(ctx, t); err != nil {
			return translateClaimError(err)
		}
		created = t
		return nil
	})
	if err != nil {
		telemetry.RecordError(span, err)
		s.record(ctx, req.Source, "rejected")
		return nil, err
	}

	s.record(ctx, req.Source, "success")
	s.logger.Info("Manual payment recorded",
		zap.String("transaction_id", created.ID.String()),
		zap.String("contract_id", req.ContractID.String()),
		zap.String("source", req.Source),
		zap.String("amount", created.Amount.String()),
		zap.Ints("months", created.PaymentMonths))

	resp := ToTransactionResponse(created)
	return &resp, nil
}

// RecordUnassignedPayment books money that could not be matched to a contract
func (s *LedgerService) RecordUnassignedPayment(ctx context.Context, req RecordUnassignedRequest) (*TransactionResponse, error) {
	t, err := ledger.NewUnassignedPayment(req.ExternalID, ledger.Source(req.Source), req.Amount, req.Comment)
	if err != nil {
		return nil, err
	}
	if err := s.transactionRepo.Create(ctx, t); err != nil {
		if errors.Is(err, ledger.ErrDuplicateExternalID) {
			return nil, shared.NewDomainError("ALREADY_EXISTS", "A transaction with this external ID already exists")
		}
		return nil, err
	}

	s.logger.Info("Unassigned payment recorded",
		zap.String("transaction_id", t.ID.String()),
		zap.String("source", req.Source),
		zap.String("amount", t.Amount.String()))

	resp := ToTransactionResponse(t)
	return &resp, nil
}

// AssignUnassigned binds an UNASSIGNED payment to a contract and settles it
func (s *LedgerService) AssignUnassigned(ctx context.Context, id uuid.UUID, req AssignPaymentRequest) (*TransactionResponse, error) {
	var assigned *ledger.Transaction
	err := s.scope.Execute(ctx, func(repos ledger.Repositories) error {
		t, err := repos.Transactions().FindByIDForUpdate(ctx, id)
		if err != nil {
			return err
		}
		contract, err := repos.Contracts().FindByID(ctx, req.ContractID)
		if err != nil {
			return err
		}
		if contract.Status == enrollment.ContractStatusDeleted {
			return shared.NewDomainError("INVALID_CONTRACT", "Cannot assign payments to a deleted contract")
		}
		if err := t.Assign(contract, req.Year, req.Months, time.Now()); err != nil {
			return err
		}
		if err := repos.Transactions().ClaimPeriods(ctx, t); err != nil {
			return translateClaimError(err)
		}
		if err := repos.Transactions().Update(ctx, t); err != nil {
			return err
		}
		assigned = t
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.record(ctx, string(assigned.Source), "assigned")
	s.logger.Info("Payment assigned",
		zap.String("transaction_id", id.String()),
		zap.String("contract_id", req.ContractID.String()),
		zap.Ints("months", assigned.PaymentMonths))

	resp := ToTransactionResponse(assigned)
	return &resp, nil
}

// CancelPayment voids a PENDING or UNASSIGNED entry. Settled payments cannot
// be cancelled here; there is no refund flow.
func (s *LedgerService) CancelPayment(ctx context.Context, id uuid.UUID, req CancelPaymentRequest) (*TransactionResponse, error) {
	var cancelled *ledger.Transaction
	err := s.scope.Execute(ctx, func(repos ledger.Repositories) error {
		t, err := repos.Transactions().FindByIDForUpdate(ctx, id)
		if err != nil {
			return err
		}
		comment := req.Comment
		if comment == "" {
			comment = "Cancelled by operator"
		}
		if err := t.Cancel(ledger.CancelReasonDefault, comment, time.Now()); err != nil {
			return err
		}
		if err := repos.Transactions().Update(ctx, t); err != nil {
			return err
		}
		cancelled = t
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Payment cancelled by operator", zap.String("transaction_id", id.String()))
	resp := ToTransactionResponse(cancelled)
	return &resp, nil
}

func (s *LedgerService) record(ctx context.Context, source, outcome string) {
	if s.metrics != nil {
		s.metrics.RecordPayment(ctx, source, outcome)
	}
}

func translateClaimError(err error) error {
	if errors.Is(err, ledger.ErrPeriodAlreadyPaid) {
		return ErrPeriodAlreadyPaid
	}
	return err
}
