package alert

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Idriss091/peproscolaire-sub000/internal/domain/risk"
	"github.com/Idriss091/peproscolaire-sub000/internal/domain/shared"
)

func TestAcknowledge_FirstWins(t *testing.T) {
	a := &Alert{ID: "a1"}

	require.NoError(t, a.Acknowledge("cpe-1", "vu avec la famille"))
	assert.True(t, a.Acknowledged)
	require.NotNil(t, a.AcknowledgedBy)
	assert.Equal(t, "cpe-1", *a.AcknowledgedBy)
	assert.Equal(t, "vu avec la famille", a.AckNotes)

	err := a.Acknowledge("cpe-2", "")
	assert.ErrorIs(t, err, shared.ErrAlreadyAcknowledged)
	assert.Equal(t, "cpe-1", *a.AcknowledgedBy)
}

func TestContact_Address(t *testing.T) {
	c := Contact{UserID: "u1", Email: "parent@example.fr", Phone: "+33600000000"}

	assert.Equal(t, "parent@example.fr", c.Address(ChannelEmail))
	assert.Equal(t, "+33600000000", c.Address(ChannelSMS))
	assert.Equal(t, "u1", c.Address(ChannelInApp))
	assert.Empty(t, Contact{}.Address(ChannelEmail))
}

func TestConfiguration_Validate(t *testing.T) {
	level := risk.LevelHigh
	badLevel := risk.Level("extreme")
	score := 50.0
	badScore := 130.0

	valid := &Configuration{
		Priority:           PriorityHigh,
		RiskLevelThreshold: &level,
		RiskScoreThreshold: &score,
		CooldownDays:       3,
		IndicatorConditions: []IndicatorCondition{
			{Indicator: "absence_rate", Operator: risk.OpGT, Value: 20},
		},
	}
	assert.NoError(t, valid.Validate())

	assert.Error(t, (&Configuration{Priority: "whenever"}).Validate())
	assert.Error(t, (&Configuration{Priority: PriorityLow, CooldownDays: -1}).Validate())
	assert.Error(t, (&Configuration{Priority: PriorityLow, RiskLevelThreshold: &badLevel}).Validate())
	assert.Error(t, (&Configuration{Priority: PriorityLow, RiskScoreThreshold: &badScore}).Validate())
	assert.Error(t, (&Configuration{
		Priority:            PriorityLow,
		IndicatorConditions: []IndicatorCondition{{Operator: "~", Value: 1}},
	}).Validate())
}

func TestConfiguration_Cooldown(t *testing.T) {
	assert.Equal(t, 7*24*time.Hour, (&Configuration{CooldownDays: 7}).Cooldown())
	assert.Zero(t, (&Configuration{}).Cooldown())
}

func TestRecordOutcome(t *testing.T) {
	a := &Alert{}
	a.RecordOutcome(ChannelOutcome{Channel: ChannelEmail, Recipient: "parent@example.fr", Success: true})
	a.RecordOutcome(ChannelOutcome{Channel: ChannelSMS, Recipient: "+33600000000", Success: false, Error: "no gateway"})

	require.Len(t, a.NotificationsSent, 2)
	assert.True(t, a.NotificationsSent[0].Success)
	assert.False(t, a.NotificationsSent[1].Success)
}
