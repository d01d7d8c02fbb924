package report

import (
	"testing"
	"time"

	"github.com/kubilitics/invcore/internal/adapters"
	"github.com/kubilitics/invcore/internal/coremodel"
	"github.com/kubilitics/invcore/internal/errs"
	"github.com/stretchr/testify/require"
)

func TestCreateGetSeal(t *testing.T) {
	fs := adapters.NewFakeFilesystem()
	s := New(500, fs, "reports", nil)

	r := coremodel.InvestigationReport{ID: "det_1", Mode: coremodel.ModeDeterministic, StartedAt: time.Now(), Status: coremodel.StatusInProgress}
	require.NoError(t, s.Create(r))

	got, err := s.Get("det_1")
	require.NoError(t, err)
	require.Equal(t, coremodel.StatusInProgress, got.Status)

	require.NoError(t, s.Seal("det_1", coremodel.StatusCompleted, nil, "summary", nil, nil))
	got, err = s.Get("det_1")
	require.NoError(t, err)
	require.Equal(t, coremodel.StatusCompleted, got.Status)

	files, err := fs.List("reports")
	require.NoError(t, err)
	require.Len(t, files, 2) // .json and .txt
}

func TestSealRejectsDoubleSeal(t *testing.T) {
	fs := adapters.NewFakeFilesystem()
	s := New(500, fs, "reports", nil)
	r := coremodel.InvestigationReport{ID: "det_1", StartedAt: time.Now(), Status: coremodel.StatusInProgress}
	require.NoError(t, s.Create(r))
	require.NoError(t, s.Seal("det_1", coremodel.StatusCompleted, nil, "", nil, nil))
	err := s.Seal("det_1", coremodel.StatusFailed, nil, "", nil, nil)
	require.ErrorIs(t, err, errs.ErrSealed)
}

func TestGetUnknownReturnsNotFound(t *testing.T) {
	s := New(500, nil, "", nil)
	_, err := s.Get("nope")
	require.ErrorIs(t, err, errs.ErrNotFound)
}

func TestListNewestFirstAndEviction(t *testing.T) {
	s := New(2, nil, "", nil)
	for i := 0; i < 3; i++ {
		id := "det_" + string(rune('a'+i))
		require.NoError(t, s.Create(coremodel.InvestigationReport{ID: id, StartedAt: time.Now(), Status: coremodel.StatusInProgress}))
		require.NoError(t, s.Seal(id, coremodel.StatusCompleted, nil, "", nil, nil))
	}
	list := s.List(0, Filter{})
	require.Len(t, list, 2, "oldest sealed report should have been evicted")
	require.Equal(t, "det_c", list[0].ID)
}

func TestListFiltersByModeAndStatus(t *testing.T) {
	s := New(500, nil, "", nil)
	require.NoError(t, s.Create(coremodel.InvestigationReport{ID: "det_1", Mode: coremodel.ModeDeterministic, StartedAt: time.Now(), Status: coremodel.StatusInProgress}))
	require.NoError(t, s.Create(coremodel.InvestigationReport{ID: "agt_1", Mode: coremodel.ModeAgentic, StartedAt: time.Now(), Status: coremodel.StatusInProgress}))
	require.NoError(t, s.Seal("det_1", coremodel.StatusCompleted, nil, "", nil, nil))
	require.NoError(t, s.Seal("agt_1", coremodel.StatusFailed, nil, "", nil, nil))

	completed := s.List(0, Filter{Status: coremodel.StatusCompleted})
	require.Len(t, completed, 1)
	require.Equal(t, "det_1", completed[0].ID)

	agentic := s.List(0, Filter{Mode: coremodel.ModeAgentic})
	require.Len(t, agentic, 1)
	require.Equal(t, "agt_1", agentic[0].ID)
}
