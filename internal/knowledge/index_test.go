package knowledge

import (
	"testing"

	"github.com/kubilitics/invcore/internal/adapters"
	"github.com/stretchr/testify/require"
)

const sampleDoc = `# Image Pull Policy

All images must come from the approved internal registry.

# Approved Images

Use registry.acme.internal/* for all production images.

# Crash Loop Investigation

Check recent deploys and resource limits before escalating.
`

func TestLoadExtractsSectionsByHeading(t *testing.T) {
	fs := adapters.NewFakeFilesystem()
	require.NoError(t, fs.WriteAtomic("knowledge/standards.md", []byte(sampleDoc)))

	idx, err := Load(fs, "knowledge")
	require.NoError(t, err)
	require.Len(t, idx.docs, 1)
	require.Len(t, idx.docs[0].Sections, 3)
	require.Equal(t, "Image Pull Policy", idx.docs[0].Sections[0].Title)
}

func TestQueryExactHeadingMatchOutranksTokenOverlap(t *testing.T) {
	fs := adapters.NewFakeFilesystem()
	require.NoError(t, fs.WriteAtomic("knowledge/standards.md", []byte(sampleDoc)))
	idx, err := Load(fs, "knowledge")
	require.NoError(t, err)

	results := idx.Query("Approved Images")
	require.NotEmpty(t, results)
	require.Equal(t, "Approved Images", results[0].Title)
}

func TestQueryReturnsTopThree(t *testing.T) {
	fs := adapters.NewFakeFilesystem()
	require.NoError(t, fs.WriteAtomic("knowledge/a.md", []byte(sampleDoc)))
	require.NoError(t, fs.WriteAtomic("knowledge/b.md", []byte(sampleDoc)))
	idx, err := Load(fs, "knowledge")
	require.NoError(t, err)

	results := idx.Query("image")
	require.LessOrEqual(t, len(results), 3)
}

func TestQueryWithNoCorpusReturnsEmpty(t *testing.T) {
	fs := adapters.NewFakeFilesystem()
	idx, err := Load(fs, "knowledge")
	require.NoError(t, err)
	require.Empty(t, idx.Query("anything"))
}
