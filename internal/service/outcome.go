package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/fjod/go_cart/storefront/internal/domain"
	"github.com/fjod/go_cart/storefront/internal/remote"
	"github.com/fjod/go_cart/storefront/internal/session"
)

// Strategy decides when local state changes relative to the remote call.
type Strategy int

const (
	// Optimistic mutates locally first and rolls back if the backend fails.
	Optimistic Strategy = iota
	// Pessimistic mutates locally only after the backend confirmed.
	Pessimistic
)

func (s Strategy) String() string {
	switch s {
	case Optimistic:
		return "optimistic"
	case Pessimistic:
		return "pessimistic"
	default:
		return fmt.Sprintf("strategy(%d)", int(s))
	}
}

func ParseStrategy(v string) (Strategy, error) {
	switch v {
	case "", "optimistic":
		return Optimistic, nil
	case "pessimistic":
		return Pessimistic, nil
	default:
		return 0, fmt.Errorf("unknown strategy %q", v)
	}
}

type Status int

const (
	Confirmed Status = iota + 1
	Pending
	// Ignored means nothing had to change: unknown product, stock ceiling
	// reached. No remote call was made.
	Ignored
	RolledBack
	Failed
)

func (s Status) String() string {
	switch s {
	case Confirmed:
		return "confirmed"
	case Pending:
		return "pending"
	case Ignored:
		return "ignored"
	case RolledBack:
		return "rolled_back"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

type ErrorKind int

const (
	NetworkError ErrorKind = iota + 1
	ServerRejected
	InvalidSession
	InvalidRequest
)

func (k ErrorKind) String() string {
	switch k {
	case NetworkError:
		return "network_error"
	case ServerRejected:
		return "server_rejected"
	case InvalidSession:
		return "invalid_session"
	case InvalidRequest:
		return "invalid_request"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

type SyncError struct {
	Kind      ErrorKind
	Op        string
	ProductID int64
	Err       error
}

func (e *SyncError) Error() string {
	if e.ProductID != 0 {
		return fmt.Sprintf("%s product %d: %s: %v", e.Op, e.ProductID, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *SyncError) Unwrap() error {
	return e.Err
}

// KindOf returns the kind of a *SyncError anywhere in err's chain.
func KindOf(err error) (ErrorKind, bool) {
	var se *SyncError
	if errors.As(err, &se) {
		return se.Kind, true
	}
	return 0, false
}

// Outcome is the result of one cart mutation. Err is a *SyncError whenever
// Status is RolledBack or Failed.
type Outcome struct {
	Status Status
	Err    error
}

// OK reports whether local and remote state agree after the call.
func (o Outcome) OK() bool {
	return o.Status == Confirmed || o.Status == Ignored
}

func classify(op string, productID int64, err error) *SyncError {
	kind := NetworkError
	var statusErr *remote.StatusError
	switch {
	case errors.Is(err, session.ErrSessionNotFound), errors.Is(err, session.ErrSessionMalformed):
		kind = InvalidSession
	case errors.Is(err, domain.ErrInvalidQuantity):
		kind = InvalidRequest
	case errors.As(err, &statusErr):
		kind = ServerRejected
	case errors.Is(err, remote.ErrNetwork),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		kind = NetworkError
	}
	return &SyncError{Kind: kind, Op: op, ProductID: productID, Err: err}
}
