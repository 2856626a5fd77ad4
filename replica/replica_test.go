package replica_test

import (
	"context"
	"encoding/binary"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	canfuzzerrors "github.com/wippyai/canfuzz/errors"
	"github.com/wippyai/canfuzz/internal/wasmtest"
	"github.com/wippyai/canfuzz/replica"
)

func le32(v uint32) []byte {
	return binary.LittleEndian.AppendUint32(nil, v)
}

func newReplica(t *testing.T, cfg replica.Config) *replica.Replica {
	t.Helper()
	ctx := context.Background()
	r, err := replica.New(ctx, cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { r.Close(ctx) })
	return r
}

func installSample(t *testing.T, r *replica.Replica, arg []byte) replica.ActorID {
	t.Helper()
	id, err := r.Install(context.Background(), "sample", wasmtest.SampleCanister(), arg)
	if err != nil {
		t.Fatalf("Install: %v", err)
	}
	return id
}

func mustCall(t *testing.T, call func(context.Context, replica.ActorID, string, []byte) (*replica.CallResult, error), id replica.ActorID, method string, arg []byte) *replica.CallResult {
	t.Helper()
	res, err := call(context.Background(), id, method, arg)
	if err != nil {
		t.Fatalf("%s: %v", method, err)
	}
	return res
}

func mustReply(t *testing.T, res *replica.CallResult) []byte {
	t.Helper()
	if res.Rejected() {
		t.Fatalf("unexpected reject: %v", res.Reject)
	}
	return res.Reply
}

func TestInstallAndCall(t *testing.T) {
	r := newReplica(t, replica.Config{})
	id := installSample(t, r, []byte("abc"))

	if got := mustReply(t, mustCall(t, r.Query, id, "get", nil)); !cmp.Equal(got, le32(3)) {
		t.Errorf("get after init = %v, want %v", got, le32(3))
	}
	if got := mustReply(t, mustCall(t, r.Update, id, "inc", nil)); !cmp.Equal(got, le32(4)) {
		t.Errorf("inc = %v, want %v", got, le32(4))
	}
	if got := mustReply(t, mustCall(t, r.Query, id, "get", nil)); !cmp.Equal(got, le32(4)) {
		t.Errorf("get = %v, want %v", got, le32(4))
	}

	payload := []byte("payload")
	got := mustReply(t, mustCall(t, r.Update, id, "echo", payload))
	payload[0] = 'X'
	if string(got) != "payload" {
		t.Errorf("echo = %q, want %q", got, "payload")
	}

	if name, ok := r.ActorName(id); !ok || name != "sample" {
		t.Errorf("ActorName = %q, %v", name, ok)
	}
	if got, ok := r.Lookup("sample"); !ok || got != id {
		t.Errorf("Lookup = %v, %v, want %v", got, ok, id)
	}
}

func TestRejectCodes(t *testing.T) {
	r := newReplica(t, replica.Config{})
	id := installSample(t, r, nil)

	tests := []struct {
		method  string
		query   bool
		code    replica.RejectCode
		message string
	}{
		{method: "trap", code: replica.CanisterCalledTrap, message: "boom"},
		{method: "crash", code: replica.CanisterTrapped, message: "unreachable"},
		{method: "silent", code: replica.CanisterDidNotReply},
		{method: "twice", code: replica.CanisterContractViolation, message: "msg_reply"},
		{method: "reject", code: replica.CanisterRejectedMessage, message: "nope"},
		{method: "missing", code: replica.CanisterMethodNotFound},
		{method: "inc", query: true, code: replica.CanisterMethodNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.method, func(t *testing.T) {
			call := r.Update
			if tt.query {
				call = r.Query
			}
			res := mustCall(t, call, id, tt.method, nil)
			if !res.Rejected() {
				t.Fatalf("expected reject, got reply %v", res.Reply)
			}
			if res.Code() != tt.code {
				t.Errorf("code = %s (%s), want %s", res.Code(), res.Code().Name(), tt.code.Name())
			}
			if !strings.Contains(res.Reject.Message, tt.message) {
				t.Errorf("message %q does not contain %q", res.Reject.Message, tt.message)
			}
		})
	}

	// traps keep the instance, so later calls still work
	if got := mustReply(t, mustCall(t, r.Update, id, "inc", nil)); !cmp.Equal(got, le32(1)) {
		t.Errorf("inc after rejects = %v, want %v", got, le32(1))
	}
}

func TestTimeoutRebuildsInstance(t *testing.T) {
	r := newReplica(t, replica.Config{CallTimeout: 100 * time.Millisecond})
	id := installSample(t, r, nil)

	mustReply(t, mustCall(t, r.Update, id, "inc", nil))
	mustReply(t, mustCall(t, r.Update, id, "stash", nil))
	mustReply(t, mustCall(t, r.Update, id, "inc", nil))

	before, _ := r.Generation(id)
	res := mustCall(t, r.Update, id, "spin", nil)
	if res.Code() != replica.CanisterInstructionLimitExceeded {
		t.Fatalf("spin code = %s, want %s", res.Code().Name(), replica.CanisterInstructionLimitExceeded.Name())
	}
	after, _ := r.Generation(id)
	if after != before+1 {
		t.Errorf("generation = %d, want %d", after, before+1)
	}
	if res.Generation != after {
		t.Errorf("result generation = %d, want %d", res.Generation, after)
	}

	if got := mustReply(t, mustCall(t, r.Query, id, "get", nil)); !cmp.Equal(got, le32(2)) {
		t.Errorf("get after rebuild = %v, want %v", got, le32(2))
	}
	if got := mustReply(t, mustCall(t, r.Query, id, "stashed", nil)); !cmp.Equal(got, le32(1)) {
		t.Errorf("stable memory after rebuild = %v, want %v", got, le32(1))
	}
}

func TestSnapshots(t *testing.T) {
	r := newReplica(t, replica.Config{})
	id := installSample(t, r, nil)
	ctx := context.Background()

	mustReply(t, mustCall(t, r.Update, id, "inc", nil))
	snap, err := r.TakeSnapshot(id)
	if err != nil {
		t.Fatalf("TakeSnapshot: %v", err)
	}
	mustReply(t, mustCall(t, r.Update, id, "inc", nil))
	mustReply(t, mustCall(t, r.Update, id, "inc", nil))

	if err := r.LoadSnapshot(ctx, snap); err != nil {
		t.Fatalf("LoadSnapshot: %v", err)
	}
	if got := mustReply(t, mustCall(t, r.Query, id, "get", nil)); !cmp.Equal(got, le32(1)) {
		t.Errorf("get after restore = %v, want %v", got, le32(1))
	}

	gen, _ := r.Generation(id)
	if err := r.LoadSnapshot(ctx, snap); err != nil {
		t.Fatalf("LoadSnapshot again: %v", err)
	}
	if again, _ := r.Generation(id); again != gen {
		t.Errorf("restoring an unchanged actor rebuilt it: generation %d -> %d", gen, again)
	}

	mustReply(t, mustCall(t, r.Update, id, "inc", nil))
	later, _ := r.TakeSnapshot(id)
	if err := r.LoadSnapshot(ctx, snap); err != nil {
		t.Fatalf("LoadSnapshot: %v", err)
	}
	if err := r.LoadSnapshot(ctx, later); !errors.Is(err, &canfuzzerrors.Error{Kind: canfuzzerrors.KindInvalidInput}) {
		t.Errorf("loading a discarded snapshot: err = %v, want invalid input", err)
	}
}

func TestJournalLimit(t *testing.T) {
	r := newReplica(t, replica.Config{JournalLimit: 1, CallTimeout: 100 * time.Millisecond})
	id := installSample(t, r, nil)

	mustReply(t, mustCall(t, r.Update, id, "inc", nil))
	mustReply(t, mustCall(t, r.Update, id, "inc", nil))
	if _, err := r.TakeSnapshot(id); err == nil {
		t.Error("TakeSnapshot succeeded on a truncated journal")
	}

	mustCall(t, r.Update, id, "spin", nil)
	if got := mustReply(t, mustCall(t, r.Query, id, "get", nil)); !cmp.Equal(got, le32(1)) {
		t.Errorf("get after rebuild = %v, want %v", got, le32(1))
	}
}

func TestTimeoutReplaysBoundedJournal(t *testing.T) {
	tests := []struct {
		name  string
		limit int
		incs  int
		want  uint32
	}{
		{"explicit limit", 50, 200, 50},
		{"default limit", 0, replica.DefaultJournalLimit + 100, replica.DefaultJournalLimit},
		{"unlimited", -1, 300, 300},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newReplica(t, replica.Config{JournalLimit: tt.limit, CallTimeout: 100 * time.Millisecond})
			id := installSample(t, r, nil)
			for range tt.incs {
				mustReply(t, mustCall(t, r.Update, id, "inc", nil))
			}

			res := mustCall(t, r.Update, id, "spin", nil)
			if res.Code() != replica.CanisterInstructionLimitExceeded {
				t.Fatalf("spin code = %v, want %v", res.Code(), replica.CanisterInstructionLimitExceeded)
			}
			if got := mustReply(t, mustCall(t, r.Query, id, "get", nil)); !cmp.Equal(got, le32(tt.want)) {
				t.Errorf("get after rebuild = %v, want %v", got, le32(tt.want))
			}
		})
	}
}

func TestClock(t *testing.T) {
	start := time.Date(2024, time.March, 1, 12, 0, 0, 0, time.UTC)
	r := newReplica(t, replica.Config{StartTime: start})
	id := installSample(t, r, nil)

	now := func() time.Time {
		got := mustReply(t, mustCall(t, r.Query, id, "now", nil))
		return time.Unix(0, int64(binary.LittleEndian.Uint64(got))).UTC()
	}
	if got := now(); !got.Equal(start) {
		t.Errorf("time = %v, want %v", got, start)
	}
	r.AdvanceTime(time.Hour)
	r.AdvanceTime(-time.Hour)
	if got, want := now(), start.Add(time.Hour); !got.Equal(want) {
		t.Errorf("time = %v, want %v", got, want)
	}
	if !r.Time().Equal(start.Add(time.Hour)) {
		t.Errorf("Time() = %v", r.Time())
	}
}

func TestMethods(t *testing.T) {
	r := newReplica(t, replica.Config{})
	id := installSample(t, r, nil)

	methods, err := r.Methods(id)
	if err != nil {
		t.Fatalf("Methods: %v", err)
	}
	var queries []string
	for _, m := range methods {
		if m.Query {
			queries = append(queries, m.Name)
		}
	}
	if diff := cmp.Diff([]string{"get", "now", "stashed"}, queries); diff != "" {
		t.Errorf("queries mismatch (-want +got):\n%s", diff)
	}
	if len(methods) != 12 {
		t.Errorf("len(methods) = %d, want 12", len(methods))
	}
}

func TestInstallErrors(t *testing.T) {
	ctx := context.Background()
	r := newReplica(t, replica.Config{})

	trapInit := wasmtest.NewCanister()
	var a wasmtest.Asm
	trapInit.Init(a.Unreachable().End().Bytes())

	if _, err := r.Install(ctx, "ok", wasmtest.FlatCanister(), nil); err != nil {
		t.Fatalf("Install: %v", err)
	}

	tests := []struct {
		name string
		wasm []byte
	}{
		{"garbage", []byte("not a module")},
		{"trapping init", trapInit.Bytes()},
		{"duplicate name", wasmtest.FlatCanister()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			name := tt.name
			if tt.name == "duplicate name" {
				name = "ok"
			}
			_, err := r.Install(ctx, name, tt.wasm, nil)
			if !errors.Is(err, canfuzzerrors.ErrInstall) {
				t.Fatalf("err = %v, want install error", err)
			}
		})
	}

	if _, ok := r.Lookup("trapping init"); ok {
		t.Error("failed install left an actor behind")
	}
}

func TestDispatchErrors(t *testing.T) {
	ctx := context.Background()
	r, err := replica.New(ctx, replica.Config{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	id := installSample(t, r, nil)

	_, err = r.Update(ctx, id+1, "inc", nil)
	if !errors.Is(err, canfuzzerrors.ErrCallDispatch) || !errors.Is(err, replica.ErrUnknownActor) {
		t.Errorf("unknown actor: err = %v", err)
	}

	if err := r.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := r.Close(ctx); err != nil {
		t.Errorf("second Close: %v", err)
	}
	_, err = r.Query(ctx, id, "get", nil)
	if !errors.Is(err, replica.ErrClosed) {
		t.Errorf("call after close: err = %v", err)
	}
	if _, err := r.Install(ctx, "late", wasmtest.FlatCanister(), nil); !errors.Is(err, canfuzzerrors.ErrInstall) {
		t.Errorf("install after close: err = %v", err)
	}
}
