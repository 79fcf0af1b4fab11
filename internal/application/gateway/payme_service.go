package gateway

import (
	"context"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/academy/backend/internal/domain/enrollment"
	"github.com/academy/backend/internal/domain/ledger"
	"github.com/academy/backend/internal/domain/shared"
	"github.com/academy/backend/internal/domain/shared/valueobject"
	"github.com/academy/backend/internal/infrastructure/telemetry"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const providerPayme = "payme"

var paramsValidator = validator.New()

// Recorder receives gateway outcomes for business metrics
type Recorder interface {
	RecordGatewayCall(ctx context.Context, provider, method string, code int)
	RecordPayment(ctx context.Context, source, outcome string)
}

// PaymeConfig holds everything the Payme state machine needs. It is passed in
// explicitly; the service reads no global settings.
type PaymeConfig struct {
	MerchantID         string
	Login              string
	Key                string
	MinorUnitsPerMajor int64
	Location           *time.Location
	ExemptMethods      []string
}

// Credentials are the authentication headers of a Payme call
type Credentials struct {
	Authorization string
	XAuth         string
}

// PaymeService implements the Payme merchant JSON-RPC protocol on top of the
// ledger. Every state change runs inside a ledger.TransactionScope so a
// billing month is settled by at most one SUCCESS transaction.
type PaymeService struct {
	cfg             PaymeConfig
	contractRepo    enrollment.ContractRepository
	transactionRepo ledger.TransactionRepository
	scope           ledger.TransactionScope
	metrics         Recorder
	logger          *zap.Logger
	now             func() time.Time
}

// NewPaymeService creates a new PaymeService
func NewPaymeService(
	cfg PaymeConfig,
	contractRepo enrollment.ContractRepository,
	transactionRepo ledger.TransactionRepository,
	scope ledger.TransactionScope,
	logger *zap.Logger,
) *PaymeService {
	if cfg.Login == "" {
		cfg.Login = "Paycom"
	}
	if cfg.MinorUnitsPerMajor <= 0 {
		cfg.MinorUnitsPerMajor = 100
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PaymeService{
		cfg:             cfg,
		contractRepo:    contractRepo,
		transactionRepo: transactionRepo,
		scope:           scope,
		logger:          logger,
		now:             time.Now,
	}
}

// SetMetrics sets the metrics recorder (optional)
func (s *PaymeService) SetMetrics(m Recorder) {
	s.metrics = m
}

// Dispatch handles one raw JSON-RPC body and always produces a response
func (s *PaymeService) Dispatch(ctx context.Context, body []byte, creds Credentials) *Response {
	var req Request
	if err := json.Unmarshal(body, &req); err != nil {
		s.logger.Warn("Payme request is not valid JSON", zap.Error(err))
		s.recordCall(ctx, "", CodeParseError)
		return &Response{Error: errParse}
	}

	result, rpcErr := s.dispatch(ctx, &req, creds)

	code := 0
	if rpcErr != nil {
		code = rpcErr.Code
	}
	s.recordCall(ctx, req.Method, code)
	s.logger.Info("Payme call",
		zap.String("method", req.Method),
		zap.String("external_id", externalIDOf(req.Params)),
		zap.Int("code", code))

	if rpcErr != nil {
		return &Response{Error: rpcErr, ID: req.ID}
	}
	return &Response{Result: result, ID: req.ID}
}

func (s *PaymeService) dispatch(ctx context.Context, req *Request, creds Credentials) (interface{}, *RPCError) {
	if req.Method == "" {
		return nil, errMethodNotFound
	}
	if !s.isExempt(req.Method) && !s.Authorize(creds) {
		return nil, errUnauthorized
	}

	switch req.Method {
	case MethodCheckPerformTransaction:
		var p CheckPerformParams
		if rpcErr := decodeParams(req.Params, &p); rpcErr != nil {
			return nil, rpcErr
		}
		return s.CheckPerform(ctx, p)
	case MethodCreateTransaction:
		var p CreateParams
		if rpcErr := decodeParams(req.Params, &p); rpcErr != nil {
			return nil, rpcErr
		}
		return s.Create(ctx, p)
	case MethodPerformTransaction:
		var p TransactionIDParams
		if rpcErr := decodeParams(req.Params, &p); rpcErr != nil {
			return nil, rpcErr
		}
		return s.Perform(ctx, p)
	case MethodCancelTransaction:
		var p CancelParams
		if rpcErr := decodeParams(req.Params, &p); rpcErr != nil {
			return nil, rpcErr
		}
		return s.Cancel(ctx, p)
	case MethodCheckTransaction:
		var p TransactionIDParams
		if rpcErr := decodeParams(req.Params, &p); rpcErr != nil {
			return nil, rpcErr
		}
		return s.Check(ctx, p)
	case MethodGetStatement:
		var p StatementParams
		if rpcErr := decodeParams(req.Params, &p); rpcErr != nil {
			return nil, rpcErr
		}
		return s.GetStatement(ctx, p)
	default:
		return nil, errMethodNotFound
	}
}

// Authorize checks the Basic credential or the X-Auth key in constant time
func (s *PaymeService) Authorize(creds Credentials) bool {
	if s.cfg.Key == "" {
		return false
	}
	if creds.XAuth != "" && subtle.ConstantTimeCompare([]byte(creds.XAuth), []byte(s.cfg.Key)) == 1 {
		return true
	}

	const prefix = "Basic "
	if !strings.HasPrefix(creds.Authorization, prefix) {
		return false
	}
	decoded, err := base64.StdEncoding.DecodeString(strings.TrimSpace(creds.Authorization[len(prefix):]))
	if err != nil {
		return false
	}
	expected := []byte(s.cfg.Login + ":" + s.cfg.Key)
	return subtle.ConstantTimeCompare(decoded, expected) == 1
}

func (s *PaymeService) isExempt(method string) bool {
	for _, m := range s.cfg.ExemptMethods {
		if m == method {
			return true
		}
	}
	return false
}

// CheckPerform answers whether the payment would be accepted
func (s *PaymeService) CheckPerform(ctx context.Context, p CheckPerformParams) (interface{}, *RPCError) {
	if _, _, rpcErr := s.validateOrder(ctx, int64(*p.Amount), p.Account, ""); rpcErr != nil {
		return nil, rpcErr
	}
	return map[string]bool{"allow": true}, nil
}

// Create opens a PENDING transaction, or returns the existing one for a known id
func (s *PaymeService) Create(ctx context.Context, p CreateParams) (interface{}, *RPCError) {
	existing, err := s.transactionRepo.FindByExternalID(ctx, p.ID)
	if err == nil {
		return s.statePayload(existing), nil
	}
	if !errors.Is(err, shared.ErrNotFound) {
		return nil, s.internal("find by external id", err)
	}

	contract, period, rpcErr := s.validateOrder(ctx, int64(*p.Amount), p.Account, p.ID)
	if rpcErr != nil {
		return nil, rpcErr
	}

	amount := valueobject.FromMinorUnits(int64(*p.Amount), s.cfg.MinorUnitsPerMajor)
	comment := fmt.Sprintf("Payme create: ID %s, month %d/%d", p.ID, period.Month, period.Year)
	t, err := ledger.NewPendingTransaction(p.ID, ledger.SourcePayme, amount, contract, period, comment)
	if err != nil {
		return nil, s.internal("build pending transaction", err)
	}

	if err := s.transactionRepo.Create(ctx, t); err != nil {
		if !errors.Is(err, ledger.ErrDuplicateExternalID) {
			return nil, s.internal("create transaction", err)
		}
		winner, ferr := s.transactionRepo.FindByExternalID(ctx, p.ID)
		if ferr != nil {
			return nil, s.internal("re-read concurrent create", ferr)
		}
		return s.statePayload(winner), nil
	}

	s.logger.Info("Payme transaction created",
		zap.String("external_id", p.ID),
		zap.String("contract", contract.ContractNumber),
		zap.String("period", period.String()))
	return s.statePayload(t), nil
}

// Perform settles a PENDING transaction. A transaction that lost the race for
// its month is cancelled as a duplicate and the cancellation is committed.
func (s *PaymeService) Perform(ctx context.Context, p TransactionIDParams) (interface{}, *RPCError) {
	ctx, span := telemetry.StartServiceSpan(ctx, providerPayme, "perform_transaction")
	defer span.End()
	telemetry.SetAttribute(span, telemetry.SpanAttrExternalID, p.ID)

	var (
		result    *TransactionState
		rpcErr    *RPCError
		performed bool
	)

	err := s.scope.Execute(ctx, func(repos ledger.Repositories) error {
		t, err := repos.Transactions().FindByExternalIDForUpdate(ctx, p.ID)
		if errors.Is(err, shared.ErrNotFound) {
			rpcErr = errTransactionMissing
			return nil
		}
		if err != nil {
			return err
		}

		switch t.Status {
		case ledger.TransactionStatusSuccess:
			result = s.statePayload(t)
			return nil
		case ledger.TransactionStatusPending:
		default:
			rpcErr = errNotPerformable
			return nil
		}

		if t.ContractID == nil {
			rpcErr = errNotPerformable
			return nil
		}
		contract, err := repos.Contracts().FindByID(ctx, *t.ContractID)
		if errors.Is(err, shared.ErrNotFound) || (err == nil && contract.Status == enrollment.ContractStatusDeleted) {
			rpcErr = errNotPerformable
			return nil
		}
		if err != nil {
			return err
		}

		var duplicate *valueobject.YearMonth
		duplicate, err = settle(ctx, repos.Transactions(), t, s.now(),
			fmt.Sprintf("Payme confirmed: ID %s, month %s", p.ID, monthLabel(t)))
		if err != nil {
			return err
		}
		if duplicate != nil {
			s.recordPayment(ctx, "duplicate")
			s.logger.Warn("Payme transaction cancelled as duplicate",
				zap.String("transaction_id", t.ID.String()),
				zap.String("period", duplicate.String()))
			rpcErr = errPeriodPaid
			return nil
		}
		result = s.statePayload(t)
		performed = true
		return nil
	})
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, s.internal("perform transaction", err)
	}
	if rpcErr != nil {
		return nil, rpcErr
	}
	if performed {
		s.recordPayment(ctx, "success")
		s.logger.Info("Payme transaction performed", zap.String("external_id", p.ID))
	}
	return result, nil
}

// Cancel voids a PENDING transaction. Performed transactions are never refunded.
func (s *PaymeService) Cancel(ctx context.Context, p CancelParams) (interface{}, *RPCError) {
	reason := ledger.CancelReasonDefault
	if p.Reason != nil {
		reason = *p.Reason
	}

	var (
		result *TransactionState
		rpcErr *RPCError
	)
	err := s.scope.Execute(ctx, func(repos ledger.Repositories) error {
		t, err := repos.Transactions().FindByExternalIDForUpdate(ctx, p.ID)
		if errors.Is(err, shared.ErrNotFound) {
			rpcErr = errTransactionMissing
			return nil
		}
		if err != nil {
			return err
		}

		switch t.Status {
		case ledger.TransactionStatusCancelled:
			result = s.statePayload(t)
			return nil
		case ledger.TransactionStatusSuccess:
			rpcErr = errAlreadyDone
			return nil
		case ledger.TransactionStatusPending:
		default:
			rpcErr = errNotPerformable
			return nil
		}

		if err := t.Cancel(reason, fmt.Sprintf("Cancelled by Payme: reason %d", reason), s.now()); err != nil {
			return err
		}
		if err := repos.Transactions().Update(ctx, t); err != nil {
			return err
		}
		result = s.statePayload(t)
		return nil
	})
	if err != nil {
		return nil, s.internal("cancel transaction", err)
	}
	if rpcErr != nil {
		return nil, rpcErr
	}
	return result, nil
}

// Check returns the current state payload
func (s *PaymeService) Check(ctx context.Context, p TransactionIDParams) (interface{}, *RPCError) {
	t, err := s.transactionRepo.FindByExternalID(ctx, p.ID)
	if errors.Is(err, shared.ErrNotFound) {
		return nil, errTransactionMissing
	}
	if err != nil {
		return nil, s.internal("check transaction", err)
	}
	return s.statePayload(t), nil
}

// GetStatement lists Payme transactions created within [from, to]
func (s *PaymeService) GetStatement(ctx context.Context, p StatementParams) (interface{}, *RPCError) {
	source := ledger.SourcePayme
	from := time.UnixMilli(p.From)
	to := time.UnixMilli(p.To)
	txs, err := s.transactionRepo.List(ctx, ledger.TransactionFilter{
		Source:      &source,
		CreatedFrom: &from,
		CreatedTo:   &to,
	})
	if err != nil {
		return nil, s.internal("list statement", err)
	}

	numbers := make(map[uuid.UUID]string)
	entries := make([]StatementEntry, 0, len(txs))
	for i := range txs {
		t := &txs[i]
		state := s.statePayload(t)
		entry := StatementEntry{
			Time:        t.CreatedAt.UnixMilli(),
			Amount:      valueobject.ToMinorUnits(t.Amount, s.cfg.MinorUnitsPerMajor).IntPart(),
			CreateTime:  state.CreateTime,
			PerformTime: state.PerformTime,
			CancelTime:  state.CancelTime,
			Transaction: state.Transaction,
			State:       state.State,
			Reason:      state.Reason,
		}
		if t.ExternalID != nil {
			entry.ID = *t.ExternalID
		}
		if t.ContractID != nil {
			number, ok := numbers[*t.ContractID]
			if !ok {
				if c, err := s.contractRepo.FindByID(ctx, *t.ContractID); err == nil {
					number = c.ContractNumber
				}
				numbers[*t.ContractID] = number
			}
			entry.Account.Contract = number
		}
		if periods := t.Periods(); len(periods) > 0 {
			entry.Account.PaymentYear = periods[0].Year
			entry.Account.PaymentMonth = periods[0].Month
		}
		entries = append(entries, entry)
	}
	return map[string]interface{}{"transactions": entries}, nil
}

// validateOrder runs the checks shared by CheckPerform and Create. Pending
// transactions with excludeExternalID are ignored.
func (s *PaymeService) validateOrder(ctx context.Context, minor int64, account *Account, excludeExternalID string) (*enrollment.Contract, valueobject.YearMonth, *RPCError) {
	period, rpcErr := s.resolvePeriod(account)
	if rpcErr != nil {
		return nil, period, rpcErr
	}

	contract, err := s.contractRepo.FindByNumber(ctx, strings.TrimSpace(account.Contract))
	if errors.Is(err, shared.ErrNotFound) {
		return nil, period, errInvalidAccount
	}
	if err != nil {
		return nil, period, s.internal("find contract", err)
	}
	if !contract.IsActive() {
		return nil, period, errInvalidAccount
	}

	if minor <= 0 || !valueobject.EqualsInMinorUnits(decimal.NewFromInt(minor), contract.MonthlyFee, s.cfg.MinorUnitsPerMajor) {
		return nil, period, errInvalidAmount
	}
	if !contract.CoversMonth(period) {
		return nil, period, errOutsideContract
	}

	owner, err := s.transactionRepo.FindPeriodOwner(ctx, contract.ID, period)
	if err != nil {
		return nil, period, s.internal("find period owner", err)
	}
	if owner != uuid.Nil {
		return nil, period, errPeriodPaid
	}

	pending, err := s.transactionRepo.FindPendingForPeriod(ctx, contract.ID, period)
	if err != nil {
		return nil, period, s.internal("find pending", err)
	}
	for _, t := range pending {
		if t.ExternalID == nil || *t.ExternalID != excludeExternalID {
			return nil, period, errPending
		}
	}
	return contract, period, nil
}

// resolvePeriod defaults missing year or month to the current month in the configured timezone
func (s *PaymeService) resolvePeriod(account *Account) (valueobject.YearMonth, *RPCError) {
	current := valueobject.YearMonthOf(s.now().In(s.cfg.Location))
	year, month := current.Year, current.Month
	if account.PaymentYear != nil {
		year = int(*account.PaymentYear)
	}
	if account.PaymentMonth != nil {
		month = int(*account.PaymentMonth)
	}
	period, err := valueobject.NewYearMonth(year, month)
	if err != nil {
		return period, errInvalidParams
	}
	return period, nil
}

func (s *PaymeService) statePayload(t *ledger.Transaction) *TransactionState {
	state := &TransactionState{
		CreateTime:  t.CreatedAt.UnixMilli(),
		Transaction: t.ID.String(),
		State:       stateCode(t.Status),
	}
	if t.PaidAt != nil && t.Status == ledger.TransactionStatusSuccess {
		state.PerformTime = t.PaidAt.UnixMilli()
	}
	if t.CancelledAt != nil {
		state.CancelTime = t.CancelledAt.UnixMilli()
	}
	if t.Status == ledger.TransactionStatusCancelled {
		state.Reason = t.CancelReason
	}
	return state
}

func stateCode(status ledger.TransactionStatus) int {
	switch status {
	case ledger.TransactionStatusSuccess:
		return StateSuccess
	case ledger.TransactionStatusCancelled:
		return StateCancelled
	case ledger.TransactionStatusFailed:
		return StateFailed
	default:
		return StatePending
	}
}

func (s *PaymeService) internal(op string, err error) *RPCError {
	s.logger.Error("Payme internal error", zap.String("op", op), zap.Error(err))
	return errInternal
}

func (s *PaymeService) recordCall(ctx context.Context, method string, code int) {
	if s.metrics != nil {
		s.metrics.RecordGatewayCall(ctx, providerPayme, method, code)
	}
}

func (s *PaymeService) recordPayment(ctx context.Context, outcome string) {
	if s.metrics != nil {
		s.metrics.RecordPayment(ctx, providerPayme, outcome)
	}
}

// decodeParams unmarshals and validates params, mapping any failure to InvalidParams
func decodeParams(raw json.RawMessage, dst interface{}) *RPCError {
	if len(raw) == 0 {
		return errInvalidParams
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return errInvalidParams
	}
	if err := paramsValidator.Struct(dst); err != nil {
		return errInvalidParams
	}
	return nil
}

func externalIDOf(params json.RawMessage) string {
	var p struct {
		ID string `json:"id"`
	}
	_ = json.Unmarshal(params, &p)
	return p.ID
}

func monthLabel(t *ledger.Transaction) string {
	periods := t.Periods()
	if len(periods) == 0 {
		return ""
	}
	return fmt.Sprintf("%d/%d", periods[0].Month, periods[0].Year)
}
