package fuzzer

import (
	"go.uber.org/zap"

	"github.com/wippyai/canfuzz/replica"
)

// Policy maps reject codes to outcomes.
type Policy map[replica.RejectCode]Outcome

// DefaultPolicy treats traps as crashes and an exceeded budget as a
// timeout.
func DefaultPolicy() Policy {
	return Policy{
		replica.CanisterTrapped:                  Crash,
		replica.CanisterCalledTrap:               Crash,
		replica.CanisterInstructionLimitExceeded: Timeout,
	}
}

// Classifier turns call results into outcomes. Codes the policy does not
// list fall back to Default, which is Ok unless configured otherwise.
type Classifier struct {
	Policy  Policy
	Default Outcome
}

// NewClassifier creates a classifier with DefaultPolicy.
func NewClassifier() *Classifier {
	return &Classifier{Policy: DefaultPolicy(), Default: Ok}
}

// Classify implements the rule table. A reply is always Ok.
func (c *Classifier) Classify(res *replica.CallResult) Outcome {
	if res == nil || !res.Rejected() {
		return Ok
	}
	if o, ok := c.Policy[res.Reject.Code]; ok {
		return o
	}
	Logger().Debug("reject classified by default",
		zap.Stringer("code", res.Reject.Code),
		zap.String("name", res.Reject.Code.Name()),
		zap.String("message", res.Reject.Message),
		zap.Stringer("outcome", c.Default))
	return c.Default
}
