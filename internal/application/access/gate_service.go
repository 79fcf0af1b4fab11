package access

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/academy/backend/internal/domain/access"
	"github.com/academy/backend/internal/domain/enrollment"
	"github.com/academy/backend/internal/domain/ledger"
	"github.com/academy/backend/internal/domain/shared"
	"github.com/academy/backend/internal/domain/shared/valueobject"
	"github.com/academy/backend/internal/infrastructure/telemetry"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// DecisionRecorder receives gate decisions for business metrics
type DecisionRecorder interface {
	RecordGateDecision(ctx context.Context, reason string)
}

// GateService decides whether a student may pass the turnstile. Every call
// appends exactly one GateLog, whatever the outcome.
type GateService struct {
	studentRepo     enrollment.StudentRepository
	contractRepo    enrollment.ContractRepository
	transactionRepo ledger.TransactionRepository
	logRepo         access.GateLogRepository
	location        *time.Location
	metrics         DecisionRecorder
	logger          *zap.Logger
	now             func() time.Time
}

// NewGateService creates a new GateService. The snapshot date is taken in loc.
func NewGateService(
	studentRepo enrollment.StudentRepository,
	contractRepo enrollment.ContractRepository,
	transactionRepo ledger.TransactionRepository,
	logRepo access.GateLogRepository,
	loc *time.Location,
	logger *zap.Logger,
) *GateService {
	if loc == nil {
		loc = time.UTC
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GateService{
		studentRepo:     studentRepo,
		contractRepo:    contractRepo,
		transactionRepo: transactionRepo,
		logRepo:         logRepo,
		location:        loc,
		logger:          logger,
		now:             time.Now,
	}
}

// SetMetrics sets the decision recorder (optional)
func (s *GateService) SetMetrics(m DecisionRecorder) {
	s.metrics = m
}

// Admit resolves the student, computes the snapshot debt of the ACTIVE
// contract and records the decision. When the log cannot be written the
// decision is still returned together with the error.
func (s *GateService) Admit(ctx context.Context, req GateRequest) (*GateDecision, error) {
	ctx, span := telemetry.StartServiceSpan(ctx, "gate", "admit")
	defer span.End()

	at := s.now()
	reason, studentID, debt := s.decide(ctx, req, at)
	telemetry.SetAttribute(span, telemetry.SpanAttrGateReason, string(reason))

	decision := &GateDecision{
		Allowed:   reason.Allows(),
		Reason:    string(reason),
		StudentID: studentID,
		Debt:      debt,
	}

	entry, err := access.NewGateLog(studentID, req.Identifier(), reason, debt, at)
	if err != nil {
		return decision, err
	}
	decision.LogID = entry.ID

	if s.metrics != nil {
		s.metrics.RecordGateDecision(ctx, string(reason))
	}
	s.logger.Info("Gate decision",
		zap.String("identifier", req.Identifier()),
		zap.Bool("allowed", decision.Allowed),
		zap.String("reason", decision.Reason),
		zap.String("debt", debt.String()))

	if err := s.logRepo.Append(ctx, entry); err != nil {
		s.logger.Error("Failed to append gate log",
			zap.String("identifier", req.Identifier()),
			zap.Error(err))
		telemetry.RecordError(span, err)
		return decision, fmt.Errorf("append gate log: %w", err)
	}
	return decision, nil
}

// decide never fails: lookup errors are logged and end in a denial
func (s *GateService) decide(ctx context.Context, req GateRequest, at time.Time) (access.GateReason, *uuid.UUID, decimal.Decimal) {
	student, err := s.findStudent(ctx, req)
	if err != nil {
		if !errors.Is(err, shared.ErrNotFound) {
			s.logger.Error("Gate student lookup failed", zap.String("identifier", req.Identifier()), zap.Error(err))
		}
		return access.GateReasonNotFound, nil, decimal.Zero
	}
	studentID := student.ID

	contract, err := s.contractRepo.FindActiveByStudent(ctx, studentID)
	if errors.Is(err, shared.ErrNotFound) {
		return access.GateReasonOK, &studentID, decimal.Zero
	}
	if err != nil {
		s.logger.Error("Gate contract lookup failed", zap.String("student_id", studentID.String()), zap.Error(err))
		return access.GateReasonNotFound, &studentID, decimal.Zero
	}

	asOf := at.In(s.location)
	if !contract.InForceOn(asOf) {
		return access.GateReasonOK, &studentID, decimal.Zero
	}

	payments, err := s.transactionRepo.FindSuccessfulByContract(ctx, contract.ID)
	if err != nil {
		s.logger.Error("Gate payment lookup failed", zap.String("contract_id", contract.ID.String()), zap.Error(err))
		return access.GateReasonNotFound, &studentID, decimal.Zero
	}

	debt := ledger.SnapshotDebt(contract, payments, asOf)
	if debt.GreaterThan(valueobject.DebtEpsilon) {
		return access.GateReasonNoPayment, &studentID, debt
	}
	return access.GateReasonOK, &studentID, decimal.Zero
}

func (s *GateService) findStudent(ctx context.Context, req GateRequest) (*enrollment.Student, error) {
	switch {
	case req.StudentID != nil:
		return s.studentRepo.FindByID(ctx, *req.StudentID)
	case req.FaceID != "":
		return s.studentRepo.FindByFaceID(ctx, req.FaceID)
	default:
		return nil, shared.ErrNotFound
	}
}

// ListLogs returns one page of gate decisions, newest first by default
func (s *GateService) ListLogs(ctx context.Context, query ListLogsQuery) (*shared.Paginated[GateLogResponse], error) {
	studentID, err := shared.ParseOptionalID("student_id", query.StudentID)
	if err != nil {
		return nil, err
	}
	filter := access.GateLogFilter{
		Filter: shared.Filter{
			Page:     query.Page,
			PageSize: query.PageSize,
			OrderBy:  "created_at",
			OrderDir: query.OrderDir,
		}.Normalize(),
		StudentID: studentID,
		Allowed:   query.Allowed,
		From:      query.From,
		To:        query.To,
	}

	logs, total, err := s.logRepo.List(ctx, filter)
	if err != nil {
		return nil, err
	}

	items := make([]GateLogResponse, 0, len(logs))
	for i := range logs {
		items = append(items, ToGateLogResponse(&logs[i]))
	}
	page := shared.NewPaginated(items, total, filter.Page, filter.PageSize)
	return &page, nil
}
