// Package replica emulates the execution environment of canisters.
//
// A Replica hosts any number of actors in one wazero runtime. Each actor
// is a compiled module plus a live instance linked against the ic0 host
// module, which implements the message, stable memory, time and trap parts
// of the system API for 32-bit canisters.
//
// Messages run one at a time. Update and Query return a CallResult with
// either reply bytes or a Reject with a platform RejectCode:
//
//	ic0.trap                     CanisterCalledTrap
//	wasm trap                    CanisterTrapped
//	system API misuse            CanisterContractViolation
//	no reply                     CanisterDidNotReply
//	call budget exceeded         CanisterInstructionLimitExceeded
//	missing method               CanisterMethodNotFound
//
// The error return is reserved for failures of the replica itself, such
// as an unknown actor or a closed replica.
//
// Every update is journaled. When a message exceeds Config.CallTimeout the
// runtime closes the instance; the replica rebuilds it from the compiled
// module, runs canister_init again and replays the journal, then bumps the
// actor's generation. Snapshots are positions in the journal, so
// LoadSnapshot is a rebuild that replays a prefix.
//
// Unlike the real platform, a trapping message keeps the memory writes it
// made before trapping. Harnesses that need isolation between inputs
// restore a snapshot before each one.
package replica
