package replica

import (
	"fmt"
	"time"
)

// RejectCode is the platform error code attached to a rejected call.
type RejectCode int

const (
	CanisterNotFound                 RejectCode = 301
	CanisterRejectedMessage          RejectCode = 406
	CanisterTrapped                  RejectCode = 502
	CanisterCalledTrap               RejectCode = 503
	CanisterContractViolation        RejectCode = 504
	CanisterDidNotReply              RejectCode = 506
	CanisterInstructionLimitExceeded RejectCode = 522
	CanisterMethodNotFound           RejectCode = 536
)

var rejectNames = map[RejectCode]string{
	CanisterNotFound:                 "CanisterNotFound",
	CanisterRejectedMessage:          "CanisterRejectedMessage",
	CanisterTrapped:                  "CanisterTrapped",
	CanisterCalledTrap:               "CanisterCalledTrap",
	CanisterContractViolation:        "CanisterContractViolation",
	CanisterDidNotReply:              "CanisterDidNotReply",
	CanisterInstructionLimitExceeded: "CanisterInstructionLimitExceeded",
	CanisterMethodNotFound:           "CanisterMethodNotFound",
}

// Name returns the symbolic name, e.g. "CanisterTrapped".
func (c RejectCode) Name() string {
	if n, ok := rejectNames[c]; ok {
		return n
	}
	return fmt.Sprintf("RejectCode(%d)", int(c))
}

// String returns the platform form, e.g. "IC0502".
func (c RejectCode) String() string {
	return fmt.Sprintf("IC%04d", int(c))
}

// Reject describes a call that produced no reply.
type Reject struct {
	Message string
	Code    RejectCode
}

func (r *Reject) Error() string {
	return fmt.Sprintf("%s (%s): %s", r.Code, r.Code.Name(), r.Message)
}

// CallResult is the outcome of a message that reached the actor. Exactly
// one of Reply and Reject is meaningful: Reject is nil for replies.
type CallResult struct {
	Reject   *Reject
	Reply    []byte
	Duration time.Duration
	// Generation of the actor instance after the call. It differs from the
	// generation before the call when the instance was rebuilt.
	Generation uint64
}

// Rejected reports whether the call was rejected.
func (r *CallResult) Rejected() bool {
	return r.Reject != nil
}

// Code returns the reject code, or 0 for a reply.
func (r *CallResult) Code() RejectCode {
	if r.Reject == nil {
		return 0
	}
	return r.Reject.Code
}

func replied(data []byte) *CallResult {
	return &CallResult{Reply: data}
}

func rejected(code RejectCode, format string, args ...any) *CallResult {
	return &CallResult{Reject: &Reject{Code: code, Message: fmt.Sprintf(format, args...)}}
}
