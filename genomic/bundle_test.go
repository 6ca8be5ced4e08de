package genomic

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func intPtr(v int) *int             { return &v }
func float64Ptr(v float64) *float64 { return &v }

func writeTempFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadModelBundle_ValidYAML(t *testing.T) {
	yaml := `
genotype:
  chunk_size: 256
  encoding: dominant
  standardize: false
reml:
  policy: em
  max_iter: 50
mcmc:
  model: Cpi
  chains: 4
  burnin: 0
  pi: [0.95, 0.05]
`
	bundle, err := LoadModelBundle(writeTempFile(t, "model.yaml", yaml))
	require.NoError(t, err)
	require.NoError(t, bundle.Validate())

	assert.Equal(t, 256, *bundle.Genotype.ChunkSize)
	assert.Equal(t, "dominant", bundle.Genotype.Encoding)
	require.NotNil(t, bundle.Genotype.Standardize)
	assert.False(t, *bundle.Genotype.Standardize)
	assert.Equal(t, "em", bundle.REML.Policy)
	assert.Equal(t, "Cpi", bundle.MCMC.Model)
	// burnin: 0 is explicitly set, not unset
	require.NotNil(t, bundle.MCMC.Burnin)
	assert.Equal(t, 0, *bundle.MCMC.Burnin)
	assert.Nil(t, bundle.MCMC.Iterations)
}

func TestLoadModelBundle_ValidTOML(t *testing.T) {
	doc := `
[reml]
policy = "ai"
tolerance = 1e-8

[mcmc]
model = "R"
iterations = 2000
pi = [0.9, 0.05, 0.03, 0.02]
`
	bundle, err := LoadModelBundle(writeTempFile(t, "model.toml", doc))
	require.NoError(t, err)
	require.NoError(t, bundle.Validate())
	assert.Equal(t, 1e-8, *bundle.REML.Tolerance)
	assert.Equal(t, 2000, *bundle.MCMC.Iterations)
	assert.Len(t, bundle.MCMC.Pi, 4)
}

func TestLoadModelBundle_UnknownKeyRejected(t *testing.T) {
	_, err := LoadModelBundle(writeTempFile(t, "model.yaml", "mcmc:\n  chians: 2\n"))
	assert.Error(t, err)

	_, err = LoadModelBundle(writeTempFile(t, "model.toml", "[mcmc]\nchians = 2\n"))
	assert.Error(t, err)
}

func TestLoadModelBundle_MissingFile(t *testing.T) {
	_, err := LoadModelBundle(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestModelBundle_Validate_Rejects(t *testing.T) {
	tests := []struct {
		name   string
		bundle ModelBundle
	}{
		{"unknown model", ModelBundle{MCMC: MCMCSection{Model: "Z"}}},
		{"unknown policy", ModelBundle{REML: REMLSection{Policy: "newton"}}},
		{"unknown encoding", ModelBundle{Genotype: GenotypeSection{Encoding: "recessive"}}},
		{"unknown scale", ModelBundle{Genotype: GenotypeSection{Scale: "m2"}}},
		{"zero chunk", ModelBundle{Genotype: GenotypeSection{ChunkSize: intPtr(0)}}},
		{"zero chains", ModelBundle{MCMC: MCMCSection{Chains: intPtr(0)}}},
		{"negative burnin", ModelBundle{MCMC: MCMCSection{Burnin: intPtr(-1)}}},
		{"h2 at one", ModelBundle{MCMC: MCMCSection{H2: float64Ptr(1)}}},
		{"negative pi", ModelBundle{MCMC: MCMCSection{Pi: []float64{1.1, -0.1}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Error(t, tt.bundle.Validate())
		})
	}
}

func TestModelBundle_Apply_OnlySetFields(t *testing.T) {
	bundle := ModelBundle{
		Genotype: GenotypeSection{Encoding: "dominant"},
		REML:     REMLSection{MaxIter: intPtr(7)},
		MCMC:     MCMCSection{Model: "Bpi", H2: float64Ptr(0.3)},
	}
	g := DefaultGenotypeConfig()
	bundle.ApplyGenotype(&g)
	assert.Equal(t, Dominant, g.Encoding)
	assert.Equal(t, DefaultGenotypeConfig().ChunkSize, g.ChunkSize)

	r := DefaultREMLConfig()
	bundle.ApplyREML(&r)
	assert.Equal(t, 7, r.MaxIter)
	assert.Equal(t, "ai", r.Policy)

	m := DefaultMCMCConfig()
	bundle.ApplyMCMC(&m)
	assert.Equal(t, "Bpi", m.Model)
	assert.Equal(t, 0.3, m.H2)
	assert.Equal(t, DefaultMCMCConfig().Chains, m.Chains)
}
