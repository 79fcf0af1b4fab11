package gateway

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Payme JSON-RPC error codes
const (
	CodeInvalidAmount        = -31001
	CodeTransactionNotFound  = -31003
	CodeCouldNotPerform      = -31008
	CodeInvalidAccount       = -31050
	CodeAlreadyDone          = -31060
	CodePending              = -31099
	CodeInvalidAuthorization = -32504
	CodeInvalidParams        = -32602
	CodeMethodNotFound       = -32601
	CodeParseError           = -32700
)

// Payme transaction states reported in result payloads
const (
	StatePending   = 1
	StateSuccess   = 2
	StateFailed    = -1
	StateCancelled = -2
)

// Payme method names
const (
	MethodCheckPerformTransaction = "CheckPerformTransaction"
	MethodCreateTransaction       = "CreateTransaction"
	MethodPerformTransaction      = "PerformTransaction"
	MethodCancelTransaction       = "CancelTransaction"
	MethodCheckTransaction        = "CheckTransaction"
	MethodGetStatement            = "GetStatement"
)

// RPCError is a protocol-level error returned to the provider. It is kept
// apart from shared.DomainError because its codes are fixed by the provider.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Error implements the error interface
func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

func newRPCError(code int, message string) *RPCError {
	return &RPCError{Code: code, Message: message}
}

var (
	errParse              = newRPCError(CodeParseError, "Could not parse JSON request")
	errMethodNotFound     = newRPCError(CodeMethodNotFound, "Method not found")
	errUnauthorized       = newRPCError(CodeInvalidAuthorization, "Insufficient privileges to perform this method")
	errInvalidParams      = newRPCError(CodeInvalidParams, "Invalid parameters")
	errInvalidAccount     = newRPCError(CodeInvalidAccount, "Subscriber not found")
	errInvalidAmount      = newRPCError(CodeInvalidAmount, "Invalid amount")
	errTransactionMissing = newRPCError(CodeTransactionNotFound, "Transaction not found")
	errPeriodPaid         = newRPCError(CodeCouldNotPerform, "This month is already paid")
	errOutsideContract    = newRPCError(CodeCouldNotPerform, "Month is outside the contract period")
	errPending            = newRPCError(CodePending, "Another transaction for this month is in progress")
	errNotPerformable     = newRPCError(CodeCouldNotPerform, "Transaction cannot be performed")
	errAlreadyDone        = newRPCError(CodeAlreadyDone, "Cannot cancel a performed transaction")
	errInternal           = newRPCError(CodeCouldNotPerform, "Internal error")
)

// Request is a Payme JSON-RPC call
type Request struct {
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
	ID     json.RawMessage `json:"id"`
}

// Response is a Payme JSON-RPC reply. Exactly one of Result and Error is set.
// A reply to an unparseable body carries no id.
type Response struct {
	Result interface{}     `json:"result,omitempty"`
	Error  *RPCError       `json:"error,omitempty"`
	ID     json.RawMessage `json:"id,omitempty"`
}

// Account identifies what is being paid for
type Account struct {
	Contract     string   `json:"contract" validate:"required"`
	PaymentYear  *flexInt `json:"payment_year"`
	PaymentMonth *flexInt `json:"payment_month"`
}

// CheckPerformParams are the params of CheckPerformTransaction
type CheckPerformParams struct {
	Amount  *flexAmount `json:"amount" validate:"required"`
	Account *Account    `json:"account" validate:"required"`
}

// CreateParams are the params of CreateTransaction
type CreateParams struct {
	ID      string      `json:"id" validate:"required"`
	Time    int64       `json:"time"`
	Amount  *flexAmount `json:"amount" validate:"required"`
	Account *Account    `json:"account" validate:"required"`
}

// TransactionIDParams are the params of PerformTransaction and CheckTransaction
type TransactionIDParams struct {
	ID string `json:"id" validate:"required"`
}

// CancelParams are the params of CancelTransaction
type CancelParams struct {
	ID     string `json:"id" validate:"required"`
	Reason *int   `json:"reason"`
}

// StatementParams are the params of GetStatement, bounds in milliseconds
type StatementParams struct {
	From int64 `json:"from" validate:"required"`
	To   int64 `json:"to" validate:"required,gtefield=From"`
}

// TransactionState is the result payload of Create, Perform, Cancel and Check.
// Times are Unix milliseconds, zero when the event has not happened.
type TransactionState struct {
	CreateTime  int64  `json:"create_time"`
	PerformTime int64  `json:"perform_time"`
	CancelTime  int64  `json:"cancel_time"`
	Transaction string `json:"transaction"`
	State       int    `json:"state"`
	Reason      *int   `json:"reason"`
}

// StatementEntry is one row of GetStatement
type StatementEntry struct {
	ID          string           `json:"id"`
	Time        int64            `json:"time"`
	Amount      int64            `json:"amount"`
	Account     StatementAccount `json:"account"`
	CreateTime  int64            `json:"create_time"`
	PerformTime int64            `json:"perform_time"`
	CancelTime  int64            `json:"cancel_time"`
	Transaction string           `json:"transaction"`
	State       int              `json:"state"`
	Reason      *int             `json:"reason"`
}

// StatementAccount echoes the account a statement row was paid for
type StatementAccount struct {
	Contract     string `json:"contract"`
	PaymentYear  int    `json:"payment_year"`
	PaymentMonth int    `json:"payment_month"`
}

// flexInt accepts both 2025 and "2025"; providers are not consistent about it.
type flexInt int

func (f *flexInt) UnmarshalJSON(b []byte) error {
	s := strings.Trim(strings.TrimSpace(string(b)), `"`)
	if s == "" || s == "null" {
		return nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return fmt.Errorf("not an integer: %s", s)
	}
	*f = flexInt(n)
	return nil
}

// flexAmount is an integer amount in minor units, given as a number or a numeric string
type flexAmount int64

func (f *flexAmount) UnmarshalJSON(b []byte) error {
	s := strings.Trim(strings.TrimSpace(string(b)), `"`)
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		var fl float64
		if ferr := json.Unmarshal([]byte(s), &fl); ferr != nil || fl != float64(int64(fl)) {
			return fmt.Errorf("amount must be an integer in minor units: %s", s)
		}
		n = int64(fl)
	}
	*f = flexAmount(n)
	return nil
}
