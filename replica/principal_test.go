package replica_test

import (
	"testing"

	"github.com/wippyai/canfuzz/replica"
)

func TestPrincipalText(t *testing.T) {
	tests := []struct {
		name string
		got  string
		want string
	}{
		{"first actor", replica.ActorID(1).String(), "rrkah-fqaaa-aaaaa-aaaaq-cai"},
		{"anonymous", replica.PrincipalText(replica.AnonymousPrincipal), "2vxsx-fae"},
		{"zero", replica.ActorID(0).String(), "actor(0)"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("got %q, want %q", tt.got, tt.want)
			}
		})
	}
}

func TestParseActorID(t *testing.T) {
	tests := []struct {
		in   string
		want replica.ActorID
		ok   bool
	}{
		{"rrkah-fqaaa-aaaaa-aaaaq-cai", 1, true},
		{replica.ActorID(4242).String(), 4242, true},
		{"17", 17, true},
		{"0", 0, false},
		{"2vxsx-fae", 0, false},
		{"rrkah-fqaaa-aaaaa-aaaar-cai", 0, false},
		{"not a principal", 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, ok := replica.ParseActorID(tt.in)
			if got != tt.want || ok != tt.ok {
				t.Errorf("ParseActorID(%q) = %d, %v, want %d, %v", tt.in, got, ok, tt.want, tt.ok)
			}
		})
	}
}
