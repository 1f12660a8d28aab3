package postgres

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAlertPairKey_Deterministic(t *testing.T) {
	a := alertPairKey("profile-1", "cfg-1")
	b := alertPairKey("profile-1", "cfg-1")
	assert.Equal(t, a, b)
}

func TestAlertPairKey_BothComponentsMatter(t *testing.T) {
	base := alertPairKey("profile-1", "cfg-1")
	assert.NotEqual(t, base, alertPairKey("profile-2", "cfg-1"))
	assert.NotEqual(t, base, alertPairKey("profile-1", "cfg-2"))

	// Moving a character across the separator must not collide.
	assert.NotEqual(t, alertPairKey("profile-1x", "cfg"), alertPairKey("profile-1", "xcfg"))
}

func TestAlertPairKey_DisjointFromAnalysisLock(t *testing.T) {
	// The cooldown fence and the per-profile analysis lock share the
	// advisory keyspace; their namespaces must not collide for one profile.
	assert.NotEqual(t, advisoryKey("profile-1"), alertPairKey("profile-1", "cfg-1"))
}
