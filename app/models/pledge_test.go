package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mayday-pac/pledgeservice/internal/pkg/token"
)

func TestNewPledge(t *testing.T) {
	p, err := NewPledge("donor@example.com", 4200, "", "rocket", false)
	require.NoError(t, err)

	assert.Equal(t, CurrentModelVersion, p.ModelVersion)
	assert.Equal(t, PledgeTypeConditional, p.PledgeType)
	assert.Len(t, p.URLNonce, token.URLNonceLength)
	assert.Len(t, p.UUID, 36)
	assert.False(t, p.IsLegacyForTeamLedger())
	assert.NoError(t, p.Validate())
}

func TestPledgeValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(p *Pledge)
		wantErr bool
	}{
		{"valid", func(p *Pledge) {}, false},
		{"negative amount", func(p *Pledge) { p.AmountCents = -1 }, true},
		{"bad email", func(p *Pledge) { p.Email = "not-an-email" }, true},
		{"unknown type", func(p *Pledge) { p.PledgeType = "GIFT" }, true},
		{"donation type", func(p *Pledge) { p.PledgeType = PledgeTypeDonation }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := NewPledge("donor@example.com", 100, PledgeTypeConditional, "", true)
			require.NoError(t, err)
			tt.mutate(p)
			if tt.wantErr {
				assert.Error(t, p.Validate())
			} else {
				assert.NoError(t, p.Validate())
			}
		})
	}
}

func TestIsLegacyForTeamLedger(t *testing.T) {
	assert.True(t, (&Pledge{ModelVersion: 8}).IsLegacyForTeamLedger())
	assert.True(t, (&Pledge{ModelVersion: 0}).IsLegacyForTeamLedger())
	assert.False(t, (&Pledge{ModelVersion: TeamLedgerModelVersion}).IsLegacyForTeamLedger())
}

func TestShardKey(t *testing.T) {
	assert.Equal(t, "shard-TOTAL-0", ShardKey("TOTAL", 0))
	assert.Equal(t, "shard-TOTAL-49", ShardKey("TOTAL", 49))
}
