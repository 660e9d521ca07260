package chain

import (
	"errors"
	"fmt"
	"strings"
)

// ErrTransferInProgress is the double-submission guard: a second submission
// for the same transaction id fails immediately while the first is in flight.
var ErrTransferInProgress = errors.New("transfer already in progress for this transaction")

// ValidationError carries every pre-flight violation found, not just the
// first. Validation errors are never retried.
type ValidationError struct {
	TransactionId string
	Violations    []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("transfer validation failed for %s: %s",
		e.TransactionId, strings.Join(e.Violations, "; "))
}

// NetworkError marks a transport-level failure (timeout, connection reset,
// DNS) that is safe to retry. Business rejections from the node are returned
// as *RPCError and are never retried.
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string {
	if e.Op != "" {
		return fmt.Sprintf("network error during %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("network error: %v", e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// RPCError is a JSON-RPC error object returned by the node.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// isRetryable reports whether a submission error is transient. Validation
// and business errors propagate immediately.
func isRetryable(err error) bool {
	var netErr *NetworkError
	return errors.As(err, &netErr)
}
