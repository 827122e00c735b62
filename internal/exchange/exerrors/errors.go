// Package exerrors provides the exchange core's typed reject-code error
// model. Every rejection crossing the matching boundary is a *ServiceError
// with a stable Code; the core never returns a bare errors.New across that
// boundary.
package exerrors

import (
	"fmt"
	"time"
)

// ServiceError is a standardized, structured error carrying a stable code,
// the originating component, and optional structured detail.
type ServiceError struct {
	Code      string                 `json:"code"`
	Message   string                 `json:"message"`
	Component string                 `json:"component"`
	Timestamp time.Time              `json:"timestamp"`
	Details   map[string]interface{} `json:"details,omitempty"`
	Cause     error                  `json:"-"`
}

func (e *ServiceError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %s (caused by: %v)", e.Component, e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Component, e.Code, e.Message)
}

func (e *ServiceError) Unwrap() error { return e.Cause }

// WithDetail attaches a structured detail and returns the error for chaining.
func (e *ServiceError) WithDetail(key string, value interface{}) *ServiceError {
	cp := e.clone()
	if cp.Details == nil {
		cp.Details = make(map[string]interface{})
	}
	cp.Details[key] = value
	return cp
}

// WithCause attaches a wrapped cause and returns the error for chaining.
func (e *ServiceError) WithCause(cause error) *ServiceError {
	cp := e.clone()
	cp.Cause = cause
	return cp
}

func (e *ServiceError) clone() *ServiceError {
	details := make(map[string]interface{}, len(e.Details))
	for k, v := range e.Details {
		details[k] = v
	}
	return &ServiceError{
		Code:      e.Code,
		Message:   e.Message,
		Component: e.Component,
		Timestamp: time.Now(),
		Details:   details,
		Cause:     e.Cause,
	}
}

// New builds a fresh ServiceError for a given component/code/message.
func New(component, code, message string) *ServiceError {
	return &ServiceError{
		Code:      code,
		Message:   message,
		Component: component,
		Timestamp: time.Now(),
		Details:   make(map[string]interface{}),
	}
}

// Is reports whether err is a *ServiceError with the given code.
func Is(err error, code string) bool {
	se, ok := err.(*ServiceError)
	return ok && se.Code == code
}

// Reject code vocabulary, one constructor per kind named in spec §7.
// Each call produces a fresh timestamped instance so concurrent callers
// never share mutable Details maps.
const (
	CodeProductNotActive   = "PRODUCT_NOT_ACTIVE"
	CodeSizeOutOfRange     = "SIZE_OUT_OF_RANGE"
	CodeNotionalTooSmall   = "NOTIONAL_TOO_SMALL"
	CodeHalted             = "HALTED"
	CodeLimitUp            = "LIMIT_UP"
	CodeLimitDown          = "LIMIT_DOWN"
	CodeRiskBreach         = "RISK_BREACH"
	CodeMarginInsufficient = "MARGIN_INSUFFICIENT"
	CodePositionLimit      = "POSITION_LIMIT"
	CodeOpenInterestLimit  = "OPEN_INTEREST_LIMIT"
	CodeBandBreach         = "BAND_BREACH"
	CodeUnknownSymbol      = "UNKNOWN_SYMBOL"
	CodeNotFound           = "NOT_FOUND"
	CodeRejectedPostOnly   = "REJECTED_POST_ONLY"
	CodeRejectedFOK        = "REJECTED_FOK"
	CodeRateLimited        = "RATE_LIMITED"
	CodePersistenceFatal   = "PERSISTENCE_FATAL"
	CodeReplayInvariant    = "REPLAY_INVARIANT_FAILED"
)

func ProductNotActive(symbol string) *ServiceError {
	return New("matching", CodeProductNotActive, "product is not active").WithDetail("symbol", symbol)
}

func SizeOutOfRange(symbol string, qty, min, max interface{}) *ServiceError {
	return New("matching", CodeSizeOutOfRange, "order quantity outside allowed range").
		WithDetail("symbol", symbol).WithDetail("quantity", qty).WithDetail("min", min).WithDetail("max", max)
}

func NotionalTooSmall(symbol string, notional, minNotional interface{}) *ServiceError {
	return New("matching", CodeNotionalTooSmall, "order notional below minimum").
		WithDetail("symbol", symbol).WithDetail("notional", notional).WithDetail("min_notional", minNotional)
}

func Halted(symbol string) *ServiceError {
	return New("circuit_breaker", CodeHalted, "symbol is halted").WithDetail("symbol", symbol)
}

func LimitUp(symbol string) *ServiceError {
	return New("circuit_breaker", CodeLimitUp, "symbol is limit-up, buys rejected").WithDetail("symbol", symbol)
}

func LimitDown(symbol string) *ServiceError {
	return New("circuit_breaker", CodeLimitDown, "symbol is limit-down, sells rejected").WithDetail("symbol", symbol)
}

func RiskBreach(subCode, reason string) *ServiceError {
	return New("risk", CodeRiskBreach, reason).WithDetail("sub_code", subCode)
}

func MarginInsufficient(userID string, required, available interface{}) *ServiceError {
	return New("position", CodeMarginInsufficient, "insufficient available margin").
		WithDetail("user_id", userID).WithDetail("required", required).WithDetail("available", available)
}

func PositionLimit(userID, symbol string) *ServiceError {
	return New("risk", CodePositionLimit, "position limit exceeded").
		WithDetail("user_id", userID).WithDetail("symbol", symbol)
}

func OpenInterestLimit(symbol string) *ServiceError {
	return New("risk", CodeOpenInterestLimit, "symbol open-interest cap would be exceeded").WithDetail("symbol", symbol)
}

func BandBreach(symbol string, price, band interface{}) *ServiceError {
	return New("risk", CodeBandBreach, "price outside allowed band").
		WithDetail("symbol", symbol).WithDetail("price", price).WithDetail("band", band)
}

func UnknownSymbol(symbol string) *ServiceError {
	return New("catalog", CodeUnknownSymbol, "unknown symbol").WithDetail("symbol", symbol)
}

func NotFound(kind, id string) *ServiceError {
	return New("matching", CodeNotFound, "not found").WithDetail("kind", kind).WithDetail("id", id)
}

func RejectedPostOnly(symbol string) *ServiceError {
	return New("matching", CodeRejectedPostOnly, "post-only order would have crossed the book").WithDetail("symbol", symbol)
}

func RejectedFOK(symbol string) *ServiceError {
	return New("matching", CodeRejectedFOK, "fill-or-kill order could not be fully filled").WithDetail("symbol", symbol)
}

func RateLimited(userID string) *ServiceError {
	return New("risk", CodeRateLimited, "order submission rate exceeded").WithDetail("user_id", userID)
}

func PersistenceFatal(cause error) *ServiceError {
	return New("accounting", CodePersistenceFatal, "journal write failed, core must stop accepting orders").WithCause(cause)
}

func ReplayInvariantFailed(detail string) *ServiceError {
	return New("accounting", CodeReplayInvariant, "post-replay accounting identity check failed").WithDetail("detail", detail)
}
