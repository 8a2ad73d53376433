package store

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chosenoffset/spcwatch/pkg/spcwatch/rules"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestRecentReportsNewestFirst(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	base := time.Unix(1700000000, 0)

	report, err := rules.Evaluate([]float64{10, 14, 10}, 10, 13, 7)
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		require.NoError(t, s.SaveReport(ctx, ReportRecord{
			Chart:   "furnace",
			At:      base.Add(time.Duration(i) * time.Minute),
			Samples: i,
			Report:  report,
			Limits:  rules.ControlLimits{CenterLine: 10, UCL: 13, LCL: 7},
		}))
	}
	require.NoError(t, s.SaveReport(ctx, ReportRecord{Chart: "furnace-2", At: base, Report: report}))

	recs, err := s.RecentReports(ctx, "furnace", 3)
	require.NoError(t, err)
	require.Len(t, recs, 3)
	assert.Equal(t, []int{4, 3, 2}, []int{recs[0].Samples, recs[1].Samples, recs[2].Samples})
	assert.Equal(t, 1, recs[0].Report.Rule(rules.Rule1).Violations[0].Index)
	assert.Equal(t, 13.0, recs[0].Limits.UCL)

	all, err := s.RecentReports(ctx, "furnace", 0)
	require.NoError(t, err)
	assert.Len(t, all, 5, "prefix must not match furnace-2")

	none, err := s.RecentReports(ctx, "missing", 10)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestSaveReportValidation(t *testing.T) {
	s := openTestStore(t)
	assert.Error(t, s.SaveReport(context.Background(), ReportRecord{}))
	assert.Error(t, s.SaveReport(context.Background(), ReportRecord{Chart: "a/b"}))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, s.SaveReport(ctx, ReportRecord{Chart: "a"}), context.Canceled)
}

type testAlert struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

func TestAlerts(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		id := fmt.Sprintf("a%d", i)
		require.NoError(t, s.SaveAlert(ctx, id, testAlert{ID: id, Status: "active"}))
	}
	require.NoError(t, s.SaveAlert(ctx, "a1", testAlert{ID: "a1", Status: "resolved"}))

	alerts, err := LoadAlerts[testAlert](ctx, s)
	require.NoError(t, err)
	require.Len(t, alerts, 3)

	one, err := LoadAlert[testAlert](s, "a1")
	require.NoError(t, err)
	assert.Equal(t, "resolved", one.Status)

	require.NoError(t, s.DeleteAlert("a1"))
	_, err = LoadAlert[testAlert](s, "a1")
	assert.ErrorIs(t, err, ErrNotFound)

	assert.Error(t, s.SaveAlert(ctx, "", testAlert{}))
}

func TestOpenRequiresPath(t *testing.T) {
	_, err := Open(Config{})
	assert.Error(t, err)
}

func TestOpenOnDisk(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(Config{Path: dir})
	require.NoError(t, err)
	require.NoError(t, s.SaveAlert(context.Background(), "x", testAlert{ID: "x"}))
	require.NoError(t, s.Close())

	s, err = Open(Config{Path: dir})
	require.NoError(t, err)
	defer s.Close()
	got, err := LoadAlert[testAlert](s, "x")
	require.NoError(t, err)
	assert.Equal(t, "x", got.ID)
}
