package host_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cory-johannsen/encounter/internal/game/host"
)

func TestPosition_Distance(t *testing.T) {
	a := host.Position{X: 0, Y: 0, Z: 0}
	b := host.Position{X: 3, Y: 4, Z: 0}
	assert.InDelta(t, 5.0, a.Distance(b), 1e-9)
	assert.Equal(t, host.Position{X: 4, Y: 6, Z: 1}, b.Offset(host.Position{X: 1, Y: 2, Z: 1}))
}

func TestParseDespawnPolicy(t *testing.T) {
	p, err := host.ParseDespawnPolicy("")
	require.NoError(t, err)
	assert.Equal(t, host.DespawnTimedOrDead, p)

	p, err = host.ParseDespawnPolicy("manual")
	require.NoError(t, err)
	assert.Equal(t, host.DespawnManual, p)

	_, err = host.ParseDespawnPolicy("forever")
	assert.Error(t, err)
}

func TestTargetFilter_Limit(t *testing.T) {
	assert.Equal(t, 1, host.TargetFilter{}.Limit())
	assert.Equal(t, 3, host.TargetFilter{Count: 3}.Limit())
	assert.True(t, host.TargetLowestHealth.Valid())
	assert.False(t, host.TargetMode("closest").Valid())
}
