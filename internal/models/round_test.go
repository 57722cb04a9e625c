package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRoundStatusTransitions(t *testing.T) {
	all := []RoundStatus{RoundStatusPending, RoundStatusActive, RoundStatusCompleted, RoundStatusFinalized, RoundStatusCancelled}
	allowed := map[RoundStatus][]RoundStatus{
		RoundStatusPending:   {RoundStatusActive, RoundStatusCancelled},
		RoundStatusActive:    {RoundStatusCompleted, RoundStatusCancelled},
		RoundStatusCompleted: {RoundStatusFinalized},
	}

	for _, from := range all {
		for _, to := range all {
			want := false
			for _, ok := range allowed[from] {
				if ok == to {
					want = true
				}
			}
			assert.Equalf(t, want, from.CanTransitionTo(to), "%s -> %s", from, to)
		}
	}
	assert.False(t, RoundStatus("bogus").CanTransitionTo(RoundStatusActive))
}

func TestRoundStatusTerminal(t *testing.T) {
	assert.True(t, RoundStatusFinalized.Terminal())
	assert.True(t, RoundStatusCancelled.Terminal())
	assert.False(t, RoundStatusCompleted.Terminal())
}

func TestBiometricPolicyRequires(t *testing.T) {
	assert.True(t, BiometricPolicyFirstLast.Requires(1, 3))
	assert.False(t, BiometricPolicyFirstLast.Requires(2, 3))
	assert.True(t, BiometricPolicyFirstLast.Requires(3, 3))
	assert.True(t, BiometricPolicyAll.Requires(2, 3))
	assert.False(t, BiometricPolicyNone.Requires(1, 1))
}

func TestNormalizeMAC(t *testing.T) {
	cases := map[string]struct {
		want string
		ok   bool
	}{
		"aa:bb:cc:dd:ee:ff":  {"AA:BB:CC:DD:EE:FF", true},
		"AA-BB-CC-00-11-22":  {"AA:BB:CC:00:11:22", true},
		" 01:23:45:67:89:ab": {"01:23:45:67:89:AB", true},
		"AA:BB:CC:DD:EE":     {"", false},
		"AA:BB-CC:DD:EE:FF":  {"", false},
		"GG:BB:CC:DD:EE:FF":  {"", false},
		"":                   {"", false},
	}
	for in, tc := range cases {
		got, ok := NormalizeMAC(in)
		assert.Equalf(t, tc.ok, ok, "input %q", in)
		assert.Equalf(t, tc.want, got, "input %q", in)
	}
}

func TestValidRSSI(t *testing.T) {
	assert.True(t, ValidRSSI(0))
	assert.True(t, ValidRSSI(-100))
	assert.False(t, ValidRSSI(1))
	assert.False(t, ValidRSSI(-101))
}

func TestSessionConfigSnapshotScan(t *testing.T) {
	var cfg SessionConfigSnapshot
	err := cfg.Scan([]byte(`{"rssiThreshold":-70,"anchorTrust":"asymmetric","totalAttendanceRounds":3,"sessionPassFraction":0.75}`))
	assert.NoError(t, err)
	assert.Equal(t, -70, cfg.RSSIThreshold)
	assert.Equal(t, AnchorTrustAsymmetric, cfg.AnchorTrust)
	assert.Equal(t, 3, cfg.TotalAttendanceRounds)

	assert.Error(t, cfg.Scan(42))
}
