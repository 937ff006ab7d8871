package channel

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tributary-ai/agent-gateway/internal/types"
)

func TestNormalizeIdentifierIsIdempotent(t *testing.T) {
	cases := []string{"+1 555-123-4567", "15551234567", "(555) 123 4567 x1"}
	for _, c := range cases {
		once := NormalizeIdentifier(c)
		twice := NormalizeIdentifier(once)
		assert.Equal(t, once, twice)
	}
}

func TestNormalizeIdentifierPrependsPlus(t *testing.T) {
	assert.Equal(t, "+15551234567", NormalizeIdentifier("1 (555) 123-4567"))
}

func TestDMPolicyDisabled(t *testing.T) {
	ac := New(types.ChannelConfig{DMPolicy: "disabled"}, "self")
	d := ac.CheckDirect("+1555")
	assert.False(t, d.Allowed)
	assert.Equal(t, "DM access disabled", d.Reason)
}

func TestDMPolicyAllowlistWildcard(t *testing.T) {
	ac := New(types.ChannelConfig{DMPolicy: "allowlist", Allowlist: []string{"*"}}, "self")
	assert.True(t, ac.CheckDirect("+1555").Allowed)
}

func TestDMPolicyAllowlistRejectsUnknown(t *testing.T) {
	ac := New(types.ChannelConfig{DMPolicy: "allowlist", Allowlist: []string{"+1999"}}, "self")
	assert.False(t, ac.CheckDirect("+1555").Allowed)
}

func TestPairingHandshakeFullFlow(t *testing.T) {
	ac := New(types.ChannelConfig{DMPolicy: "pairing"}, "self")

	d := ac.CheckDirect("+1555")
	require.False(t, d.Allowed)
	require.NotEmpty(t, d.PairingCode)

	err := ac.VerifyPairing("+1555", d.PairingCode)
	require.NoError(t, err)
	assert.True(t, ac.IsPaired("+1555"))

	d2 := ac.CheckDirect("+1555")
	assert.True(t, d2.Allowed)
}

func TestPairingCodeIsSingleUse(t *testing.T) {
	ac := New(types.ChannelConfig{DMPolicy: "pairing"}, "self")
	d := ac.CheckDirect("+1555")

	err := ac.VerifyPairing("+1555", "000000")
	assert.Error(t, err)

	// second attempt even with the right code fails: entry was consumed.
	err2 := ac.VerifyPairing("+1555", d.PairingCode)
	assert.Error(t, err2)
}

func TestPairingExpiresAfterTTL(t *testing.T) {
	cur := time.Now()
	ac := New(types.ChannelConfig{DMPolicy: "pairing"}, "self")
	ac.now = func() time.Time { return cur }

	d := ac.CheckDirect("+1555")
	cur = cur.Add(301 * time.Second)

	err := ac.VerifyPairing("+1555", d.PairingCode)
	assert.Error(t, err)
}

func TestGroupRequiresMention(t *testing.T) {
	ac := New(types.ChannelConfig{GroupPolicy: "open", GroupRequireMention: true}, "self")
	d := ac.CheckGroup("group1", []string{"other"})
	assert.False(t, d.Allowed)

	d2 := ac.CheckGroup("group1", []string{"self"})
	assert.True(t, d2.Allowed)
}

func TestGroupAllowlist(t *testing.T) {
	ac := New(types.ChannelConfig{GroupPolicy: "allowlist", GroupAllowlist: []string{"g1"}}, "self")
	assert.True(t, ac.CheckGroup("g1", nil).Allowed)
	assert.False(t, ac.CheckGroup("g2", nil).Allowed)
}
