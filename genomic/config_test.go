package genomic

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseEncoding(t *testing.T) {
	for _, name := range []string{"", "additive", "add"} {
		enc, err := ParseEncoding(name)
		require.NoError(t, err)
		assert.Equal(t, Additive, enc, name)
	}
	enc, err := ParseEncoding("dominant")
	require.NoError(t, err)
	assert.Equal(t, Dominant, enc)
	assert.Equal(t, "dominant", enc.String())

	_, err = ParseEncoding("recessive")
	assert.Error(t, err)
}

func TestScale_Resolve(t *testing.T) {
	assert.Equal(t, ScaleMarkers, ScaleAuto.Resolve(true))
	assert.Equal(t, ScaleVanRaden, ScaleAuto.Resolve(false))
	assert.Equal(t, ScaleVanRaden, ScaleVanRaden.Resolve(true))
	assert.Equal(t, ScaleMarkers, ScaleMarkers.Resolve(false))
}

func TestDefaultConfigs(t *testing.T) {
	g := DefaultGenotypeConfig()
	assert.Greater(t, g.ChunkSize, 0)
	assert.True(t, g.Standardize)
	assert.Equal(t, ImputeMean, g.Impute)

	r := DefaultREMLConfig()
	assert.Equal(t, "ai", r.Policy)
	assert.True(t, ValidREMLPolicies[r.Policy])

	m := DefaultMCMCConfig()
	assert.True(t, ValidBayesModels[m.Model])
	assert.GreaterOrEqual(t, m.Chains, 1)
	assert.Equal(t, 1, m.Thin)
}
