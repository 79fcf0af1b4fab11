package gateway

import (
	"bytes"
	"context"
	"crypto/md5"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/academy/backend/internal/domain/enrollment"
	"github.com/academy/backend/internal/domain/ledger"
	"github.com/academy/backend/internal/domain/shared"
	"github.com/academy/backend/internal/domain/shared/valueobject"
	"github.com/academy/backend/internal/infrastructure/telemetry"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const providerClick = "click"

// Click actions
const (
	ClickActionGetInfo = 0
	ClickActionPrepare = 1
	ClickActionConfirm = 2
	ClickActionCheck   = 3
	ClickActionCompare = 4
)

// Click error codes
const (
	ClickOK                  = 0
	ClickSignFailed          = -1
	ClickInvalidAmount       = -2
	ClickActionNotFound      = -3
	ClickAlreadyPaid         = -4
	ClickContractNotFound    = -5
	ClickTransactionNotFound = -6
	ClickBadRequest          = -8
	ClickCancelled           = -9
)

// Click check statuses
const (
	ClickStatusUnprocessed = 0
	ClickStatusFailed      = 1
	ClickStatusDone        = 2
)

const clickTimeLayout = "2006-01-02 15:04:05"

var clickNotes = map[int]string{
	ClickOK:                  "Success",
	ClickSignFailed:          "SIGN CHECK FAILED!",
	ClickInvalidAmount:       "Incorrect parameter amount",
	ClickActionNotFound:      "Action not found",
	ClickAlreadyPaid:         "Already paid",
	ClickContractNotFound:    "Subscriber not found",
	ClickTransactionNotFound: "Transaction does not exist",
	ClickBadRequest:          "Error in request from click",
	ClickCancelled:           "Transaction cancelled",
}

// ClickConfig holds the merchant credentials of the Click integration
type ClickConfig struct {
	ServiceID string
	SecretKey string
	Location  *time.Location
}

// ClickRequest is the body Click posts for every action
type ClickRequest struct {
	Action            int          `json:"action"`
	ClickPaydocID     int64        `json:"click_paydoc_id"`
	AttemptTransID    int64        `json:"attempt_trans_id"`
	ServiceID         int64        `json:"service_id"`
	MerchantPrepareID string       `json:"merchant_prepare_id"`
	MerchantConfirmID string       `json:"merchant_confirm_id"`
	Error             int          `json:"error"`
	SignTime          string       `json:"sign_time"`
	SignString        string       `json:"sign_string"`
	Params            *ClickParams `json:"params"`
	FromDate          string       `json:"from_date"`
	TillDate          string       `json:"till_date"`
}

// ClickResponse is the reply to every action. Fields unused by an action stay empty.
type ClickResponse struct {
	ClickPaydocID     int64                        `json:"click_paydoc_id,omitempty"`
	AttemptTransID    int64                        `json:"attempt_trans_id,omitempty"`
	MerchantPrepareID string                       `json:"merchant_prepare_id,omitempty"`
	MerchantConfirmID string                       `json:"merchant_confirm_id,omitempty"`
	Error             int                          `json:"error"`
	ErrorNote         string                       `json:"error_note"`
	Status            *int                         `json:"status,omitempty"`
	Params            map[string]interface{}       `json:"params,omitempty"`
	Requests          map[string]ClickCompareEntry `json:"requests,omitempty"`
}

// ClickCompareEntry is one reconciled payment of the compare action
type ClickCompareEntry struct {
	ClickPaydocID int64                  `json:"click_paydoc_id"`
	Params        map[string]interface{} `json:"params"`
}

// ClickParams keeps the params object in transmitted order, which the
// signature depends on. Values are kept as their literal text.
type ClickParams struct {
	keys   []string
	values map[string]string
}

// NewClickParams builds params from alternating key, value pairs
func NewClickParams(pairs ...string) *ClickParams {
	p := &ClickParams{values: make(map[string]string)}
	for i := 0; i+1 < len(pairs); i += 2 {
		p.Set(pairs[i], pairs[i+1])
	}
	return p
}

// Set appends or replaces a value
func (p *ClickParams) Set(key, value string) {
	if p.values == nil {
		p.values = make(map[string]string)
	}
	if _, ok := p.values[key]; !ok {
		p.keys = append(p.keys, key)
	}
	p.values[key] = value
}

// Get returns the value of key
func (p *ClickParams) Get(key string) (string, bool) {
	if p == nil {
		return "", false
	}
	v, ok := p.values[key]
	return v, ok
}

// Concat joins all values in transmitted order
func (p *ClickParams) Concat() string {
	if p == nil {
		return ""
	}
	var b strings.Builder
	for _, k := range p.keys {
		b.WriteString(p.values[k])
	}
	return b.String()
}

// UnmarshalJSON reads a flat JSON object preserving key order
func (p *ClickParams) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return errors.New("click params must be an object")
	}
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return err
		}
		key, _ := keyTok.(string)
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return err
		}
		p.Set(key, literal(raw))
	}
	_, err = dec.Token()
	return err
}

// MarshalJSON writes the params back in their original order
func (p *ClickParams) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range p.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		kb, _ := json.Marshal(k)
		vb, _ := json.Marshal(p.values[k])
		buf.Write(kb)
		buf.WriteByte(':')
		buf.Write(vb)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func literal(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return strings.TrimSpace(string(raw))
}

// ClickService implements the Click "advanced shop" merchant API. Prepare
// and confirm go through the same PENDING to SUCCESS path as Payme.
type ClickService struct {
	cfg             ClickConfig
	studentRepo     enrollment.StudentRepository
	contractRepo    enrollment.ContractRepository
	transactionRepo ledger.TransactionRepository
	scope           ledger.TransactionScope
	metrics         Recorder
	logger          *zap.Logger
	now             func() time.Time
}

// NewClickService creates a new ClickService
func NewClickService(
	cfg ClickConfig,
	studentRepo enrollment.StudentRepository,
	contractRepo enrollment.ContractRepository,
	transactionRepo ledger.TransactionRepository,
	scope ledger.TransactionScope,
	logger *zap.Logger,
) *ClickService {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ClickService{
		cfg:             cfg,
		studentRepo:     studentRepo,
		contractRepo:    contractRepo,
		transactionRepo: transactionRepo,
		scope:           scope,
		logger:          logger,
		now:             time.Now,
	}
}

// SetMetrics sets the metrics recorder (optional)
func (s *ClickService) SetMetrics(m Recorder) {
	s.metrics = m
}

// Sign computes md5(click_paydoc_id + attempt_trans_id + service_id + secret + paramsIV + action + sign_time)
func (s *ClickService) Sign(req *ClickRequest) string {
	var b strings.Builder
	if req.ClickPaydocID != 0 {
		b.WriteString(strconv.FormatInt(req.ClickPaydocID, 10))
	}
	if req.AttemptTransID != 0 {
		b.WriteString(strconv.FormatInt(req.AttemptTransID, 10))
	}
	b.WriteString(strconv.FormatInt(req.ServiceID, 10))
	b.WriteString(s.cfg.SecretKey)
	b.WriteString(req.Params.Concat())
	b.WriteString(strconv.Itoa(req.Action))
	b.WriteString(req.SignTime)
	sum := md5.Sum([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}

func (s *ClickService) verify(req *ClickRequest) bool {
	if s.cfg.SecretKey == "" || req.SignString == "" {
		return false
	}
	if s.cfg.ServiceID != "" && strconv.FormatInt(req.ServiceID, 10) != s.cfg.ServiceID {
		return false
	}
	expected := s.Sign(req)
	return subtle.ConstantTimeCompare([]byte(strings.ToLower(req.SignString)), []byte(expected)) == 1
}

// Handle dispatches one Click call by action
func (s *ClickService) Handle(ctx context.Context, req *ClickRequest) *ClickResponse {
	var resp *ClickResponse
	switch req.Action {
	case ClickActionGetInfo:
		resp = s.getInfo(ctx, req)
	case ClickActionPrepare, ClickActionConfirm, ClickActionCheck:
		if !s.verify(req) {
			resp = clickError(ClickSignFailed)
			break
		}
		switch req.Action {
		case ClickActionPrepare:
			resp = s.prepare(ctx, req)
		case ClickActionConfirm:
			resp = s.confirm(ctx, req)
		default:
			resp = s.check(ctx, req)
		}
	case ClickActionCompare:
		resp = s.compare(ctx, req)
	default:
		resp = clickError(ClickActionNotFound)
	}

	if s.metrics != nil {
		s.metrics.RecordGatewayCall(ctx, providerClick, strconv.Itoa(req.Action), resp.Error)
	}
	s.logger.Info("Click call",
		zap.Int("action", req.Action),
		zap.Int64("click_paydoc_id", req.ClickPaydocID),
		zap.Int("code", resp.Error))
	return resp
}

func (s *ClickService) getInfo(ctx context.Context, req *ClickRequest) *ClickResponse {
	number, ok := req.Params.Get("contract")
	if !ok || number == "" {
		return clickError(ClickBadRequest)
	}
	contract, err := s.contractRepo.FindByNumber(ctx, number)
	if err != nil {
		return s.lookupError(err, ClickContractNotFound)
	}
	student, err := s.studentRepo.FindByID(ctx, contract.StudentID)
	if err != nil {
		return s.lookupError(err, ClickContractNotFound)
	}

	resp := clickError(ClickOK)
	resp.Params = map[string]interface{}{
		"contract":        contract.ContractNumber,
		"full_name":       student.FullName(),
		"phone":           student.Phone,
		"monthly_fee":     contract.MonthlyFee.InexactFloat64(),
		"contract_status": contract.Status.String(),
		"start_date":      contract.StartDate.Format("2006-01-02"),
		"end_date":        contract.EndDate.Format("2006-01-02"),
	}
	return resp
}

func (s *ClickService) prepare(ctx context.Context, req *ClickRequest) *ClickResponse {
	number, ok := req.Params.Get("contract")
	rawAmount, hasAmount := req.Params.Get("amount")
	if !ok || number == "" || !hasAmount || req.ClickPaydocID == 0 {
		return clickError(ClickBadRequest)
	}
	amount, err := decimal.NewFromString(rawAmount)
	if err != nil {
		return clickError(ClickBadRequest)
	}
	period, err := s.period(req.Params)
	if err != nil {
		return clickError(ClickBadRequest)
	}

	externalID := strconv.FormatInt(req.ClickPaydocID, 10)
	if existing, err := s.transactionRepo.FindByExternalID(ctx, externalID); err == nil {
		return s.prepared(req, existing)
	} else if !errors.Is(err, shared.ErrNotFound) {
		return s.internal("find by external id", err)
	}

	contract, err := s.contractRepo.FindByNumber(ctx, number)
	if err != nil {
		return s.lookupError(err, ClickContractNotFound)
	}
	if !contract.IsActive() {
		return clickError(ClickContractNotFound)
	}
	if !amount.Equal(contract.MonthlyFee) {
		return clickError(ClickInvalidAmount)
	}
	if !contract.CoversMonth(period) {
		return clickError(ClickBadRequest)
	}
	owner, err := s.transactionRepo.FindPeriodOwner(ctx, contract.ID, period)
	if err != nil {
		return s.internal("find period owner", err)
	}
	if owner != uuid.Nil {
		return clickError(ClickAlreadyPaid)
	}

	comment := fmt.Sprintf("Click prepare: attempt %d, month %d/%d", req.AttemptTransID, period.Month, period.Year)
	t, err := ledger.NewPendingTransaction(externalID, ledger.SourceClick, amount, contract, period, comment)
	if err != nil {
		return s.internal("build pending transaction", err)
	}
	if err := s.transactionRepo.Create(ctx, t); err != nil {
		if !errors.Is(err, ledger.ErrDuplicateExternalID) {
			return s.internal("create transaction", err)
		}
		winner, ferr := s.transactionRepo.FindByExternalID(ctx, externalID)
		if ferr != nil {
			return s.internal("re-read concurrent prepare", ferr)
		}
		return s.prepared(req, winner)
	}
	return s.prepared(req, t)
}

// prepared answers a prepare for an existing transaction
func (s *ClickService) prepared(req *ClickRequest, t *ledger.Transaction) *ClickResponse {
	switch t.Status {
	case ledger.TransactionStatusSuccess:
		return clickError(ClickAlreadyPaid)
	case ledger.TransactionStatusCancelled, ledger.TransactionStatusFailed:
		return clickError(ClickCancelled)
	}
	resp := clickError(ClickOK)
	resp.ClickPaydocID = req.ClickPaydocID
	resp.AttemptTransID = req.AttemptTransID
	resp.MerchantPrepareID = t.ID.String()
	return resp
}

func (s *ClickService) confirm(ctx context.Context, req *ClickRequest) *ClickResponse {
	id, err := uuid.Parse(req.MerchantPrepareID)
	if req.MerchantPrepareID == "" {
		return clickError(ClickBadRequest)
	}
	if err != nil {
		return clickError(ClickTransactionNotFound)
	}

	ctx, span := telemetry.StartServiceSpan(ctx, providerClick, "complete")
	defer span.End()
	telemetry.SetAttribute(span, telemetry.SpanAttrExternalID, req.ClickPaydocID)

	var (
		code      int
		performed bool
	)
	err = s.scope.Execute(ctx, func(repos ledger.Repositories) error {
		t, err := repos.Transactions().FindByIDForUpdate(ctx, id)
		if errors.Is(err, shared.ErrNotFound) || (err == nil && t.Source != ledger.SourceClick) {
			code = ClickTransactionNotFound
			return nil
		}
		if err != nil {
			return err
		}

		switch t.Status {
		case ledger.TransactionStatusSuccess:
			code = ClickAlreadyPaid
			return nil
		case ledger.TransactionStatusPending:
		default:
			code = ClickCancelled
			return nil
		}

		at := s.now()
		// Click reports its own failure in the error field; the payment is void
		if req.Error < 0 {
			code = ClickCancelled
			if err := t.Cancel(ledger.CancelReasonDefault, fmt.Sprintf("Cancelled by Click: error %d", req.Error), at); err != nil {
				return err
			}
			return repos.Transactions().Update(ctx, t)
		}

		duplicate, err := settle(ctx, repos.Transactions(), t, at,
			fmt.Sprintf("Click confirmed: attempt %d, month %s", req.AttemptTransID, monthLabel(t)))
		if err != nil {
			return err
		}
		if duplicate != nil {
			code = ClickAlreadyPaid
			s.recordPayment(ctx, "duplicate")
			s.logger.Warn("Click transaction cancelled as duplicate",
				zap.String("transaction_id", t.ID.String()),
				zap.String("period", duplicate.String()))
			return nil
		}
		performed = true
		return nil
	})
	if err != nil {
		telemetry.RecordError(span, err)
		return s.internal("confirm transaction", err)
	}
	if performed {
		s.recordPayment(ctx, "success")
	}

	resp := clickError(code)
	resp.ClickPaydocID = req.ClickPaydocID
	resp.AttemptTransID = req.AttemptTransID
	if code == ClickOK || code == ClickAlreadyPaid {
		resp.MerchantConfirmID = id.String()
	}
	return resp
}

func (s *ClickService) check(ctx context.Context, req *ClickRequest) *ClickResponse {
	if req.MerchantPrepareID == "" {
		return clickError(ClickBadRequest)
	}
	id, err := uuid.Parse(req.MerchantPrepareID)
	if err != nil {
		return clickError(ClickTransactionNotFound)
	}
	t, err := s.transactionRepo.FindByID(ctx, id)
	if err != nil {
		return s.lookupError(err, ClickTransactionNotFound)
	}

	status := ClickStatusUnprocessed
	switch t.Status {
	case ledger.TransactionStatusSuccess:
		status = ClickStatusDone
	case ledger.TransactionStatusCancelled, ledger.TransactionStatusFailed:
		status = ClickStatusFailed
	}

	resp := clickError(ClickOK)
	resp.ClickPaydocID = req.ClickPaydocID
	resp.AttemptTransID = req.AttemptTransID
	resp.Status = &status
	return resp
}

func (s *ClickService) compare(ctx context.Context, req *ClickRequest) *ClickResponse {
	if req.FromDate == "" || req.TillDate == "" {
		return clickError(ClickBadRequest)
	}
	from, err := time.ParseInLocation(clickTimeLayout, req.FromDate, s.cfg.Location)
	if err != nil {
		return clickError(ClickBadRequest)
	}
	till, err := time.ParseInLocation(clickTimeLayout, req.TillDate, s.cfg.Location)
	if err != nil {
		return clickError(ClickBadRequest)
	}

	source := ledger.SourceClick
	status := ledger.TransactionStatusSuccess
	txs, err := s.transactionRepo.List(ctx, ledger.TransactionFilter{
		Source:   &source,
		Status:   &status,
		PaidFrom: &from,
		PaidTo:   &till,
	})
	if err != nil {
		return s.internal("list compare", err)
	}

	numbers := make(map[uuid.UUID]string)
	requests := make(map[string]ClickCompareEntry)
	for _, t := range txs {
		if t.ExternalID == nil || t.ContractID == nil || t.PaidAt == nil || !t.PaidAt.Before(till) {
			continue
		}
		number, ok := numbers[*t.ContractID]
		if !ok {
			if c, err := s.contractRepo.FindByID(ctx, *t.ContractID); err == nil {
				number = c.ContractNumber
			}
			numbers[*t.ContractID] = number
		}
		if number == "" {
			continue
		}
		paydocID, _ := strconv.ParseInt(*t.ExternalID, 10, 64)
		requests[*t.ExternalID] = ClickCompareEntry{
			ClickPaydocID: paydocID,
			Params: map[string]interface{}{
				"contract": number,
				"amount":   t.Amount.InexactFloat64(),
			},
		}
	}

	resp := clickError(ClickOK)
	resp.Requests = requests
	return resp
}

// period reads optional payment_year and payment_month, defaulting to the current month
func (s *ClickService) period(params *ClickParams) (valueobject.YearMonth, error) {
	current := valueobject.YearMonthOf(s.now().In(s.cfg.Location))
	year, month := current.Year, current.Month
	if v, ok := params.Get("payment_year"); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return current, err
		}
		year = n
	}
	if v, ok := params.Get("payment_month"); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return current, err
		}
		month = n
	}
	return valueobject.NewYearMonth(year, month)
}

func (s *ClickService) lookupError(err error, notFound int) *ClickResponse {
	if errors.Is(err, shared.ErrNotFound) {
		return clickError(notFound)
	}
	return s.internal("lookup", err)
}

// internal hides storage failures behind a bad-request code; Click retries those
func (s *ClickService) internal(op string, err error) *ClickResponse {
	s.logger.Error("Click internal error", zap.String("op", op), zap.Error(err))
	return clickError(ClickBadRequest)
}

func (s *ClickService) recordPayment(ctx context.Context, outcome string) {
	if s.metrics != nil {
		s.metrics.RecordPayment(ctx, providerClick, outcome)
	}
}

func clickError(code int) *ClickResponse {
	return &ClickResponse{Error: code, ErrorNote: clickNotes[code]}
}

// ClickMalformed is the reply to a body that could not be decoded
func ClickMalformed() *ClickResponse {
	return clickError(ClickBadRequest)
}
