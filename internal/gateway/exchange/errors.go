package exchange

import (
	"errors"
	"fmt"
)

// ErrNotConnected is returned by write operations that require an
// established session.
var ErrNotConnected = errors.New("account not connected")

// ErrNoQuote is returned when no quote has been cached yet for the
// requested symbol.
var ErrNoQuote = errors.New("no quote cached for symbol")

// ErrNoSnapshot is returned when no account snapshot has been cached
// yet, so the margin of a trade cannot be checked.
var ErrNoSnapshot = errors.New("no account snapshot cached")

// ValidationError rejects a malformed trade request before any network
// call is issued. Correcting the input makes it recoverable.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid trade request: %s %s", e.Field, e.Reason)
}

// MarginError rejects a trade whose required margin exceeds the free
// margin of the latest account snapshot.
type MarginError struct {
	Required float64
	Free     float64
}

func (e *MarginError) Error() string {
	return fmt.Sprintf("insufficient margin: required %.2f, free %.2f", e.Required, e.Free)
}

// ConnKind discriminates connection failures so callers can branch on
// kind instead of message text.
type ConnKind string

const (
	ConnNoAccessToken ConnKind = "no_access_token"
	ConnTimeout       ConnKind = "timeout"
	ConnAuthFailed    ConnKind = "authentication_failed"
)

// ConnectionError wraps a session-level failure for one account.
// Timeout is retryable; NoAccessToken needs the account re-linked;
// AuthFailed needs a fresh credential.
type ConnectionError struct {
	Kind      ConnKind
	AccountID string
	Err       error
}

func (e *ConnectionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("connection %s (account %s): %v", e.Kind, e.AccountID, e.Err)
	}
	return fmt.Sprintf("connection %s (account %s)", e.Kind, e.AccountID)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// IsConnKind reports whether err is a ConnectionError of the given kind.
func IsConnKind(err error, kind ConnKind) bool {
	var ce *ConnectionError
	return errors.As(err, &ce) && ce.Kind == kind
}

// GatewayError is a typed failure returned by the broker gateway for an
// order RPC. It is surfaced verbatim and never retried automatically.
type GatewayError struct {
	Code    string
	Message string
}

func (e *GatewayError) Error() string {
	return fmt.Sprintf("gateway rejected request: %s (%s)", e.Message, e.Code)
}

// SyncError marks one failed sync cycle, naming the stage that broke.
type SyncError struct {
	Stage string
	Err   error
}

func (e *SyncError) Error() string {
	return fmt.Sprintf("sync failed at stage %s: %v", e.Stage, e.Err)
}

func (e *SyncError) Unwrap() error { return e.Err }
