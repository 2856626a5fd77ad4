package replica

import "time"

const (
	// StablePageSize is the stable memory page size.
	StablePageSize = 65536

	DefaultCallTimeout      = 5 * time.Second
	DefaultMaxReplySize     = 2 << 20
	DefaultStablePagesLimit = 1 << 16
	DefaultJournalLimit     = 1024
)

// DefaultStartTime is the replica clock at creation unless configured.
var DefaultStartTime = time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC)

// Config holds configuration for replica creation
type Config struct {
	// StartTime is the initial value of ic0.time.
	StartTime time.Time

	// Caller is the principal reported by msg_caller. Defaults to the
	// anonymous principal.
	Caller []byte

	// CallTimeout bounds the wall time of one message. Exceeding it rejects
	// the call with CanisterInstructionLimitExceeded and rebuilds the
	// instance. Negative disables the bound.
	CallTimeout time.Duration

	// MaxReplySize caps the reply of a single message.
	MaxReplySize int

	// JournalLimit caps the number of messages recorded for rebuilding an
	// instance, which bounds both the journal memory and the cost of a
	// rebuild. 0 selects DefaultJournalLimit, negative means unlimited.
	// Messages past the limit are not replayed.
	JournalLimit int

	// MemoryLimitPages sets the maximum linear memory per instance in pages.
	// 0 means the wazero default (65536 pages).
	MemoryLimitPages uint32

	// StablePagesLimit caps stable memory growth per actor.
	StablePagesLimit uint64

	// CycleBalance is reported by canister_cycle_balance.
	CycleBalance uint64

	// Interpreter selects the wazero interpreter instead of the compiler.
	Interpreter bool
}

func (c Config) withDefaults() Config {
	if c.StartTime.IsZero() {
		c.StartTime = DefaultStartTime
	}
	if c.Caller == nil {
		c.Caller = AnonymousPrincipal
	}
	if c.CallTimeout == 0 {
		c.CallTimeout = DefaultCallTimeout
	}
	if c.MaxReplySize <= 0 {
		c.MaxReplySize = DefaultMaxReplySize
	}
	if c.JournalLimit == 0 {
		c.JournalLimit = DefaultJournalLimit
	}
	if c.StablePagesLimit == 0 {
		c.StablePagesLimit = DefaultStablePagesLimit
	}
	if c.CycleBalance == 0 {
		c.CycleBalance = 100_000_000_000_000
	}
	return c
}
