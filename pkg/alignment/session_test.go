package alignment

import (
	"context"
	"errors"
	"math"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"particlealign/internal/models"
	"particlealign/pkg/render"
	"particlealign/pkg/xcorr"
)

func testParams() Params {
	return Params{
		Oversampling: 10,
		Iterations:   1,
		PixelSize:    100,
		Workers:      2,
		PollInterval: time.Millisecond,
	}
}

func openSession(t *testing.T, ds *models.Dataset, params Params) *Session {
	t.Helper()
	s, err := Open(ds, params, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func groupPoints(locs []models.Localization, group int) (x, y []float32) {
	for _, l := range locs {
		if l.Group == group {
			x = append(x, l.X)
			y = append(y, l.Y)
		}
	}
	return x, y
}

func assertCentered(t *testing.T, locs []models.Localization, hasZ bool) {
	t.Helper()
	var sx, sy, sz float64
	for _, l := range locs {
		sx += float64(l.X)
		sy += float64(l.Y)
		sz += float64(l.Z)
	}
	n := float64(len(locs))
	assert.InDelta(t, 0, sx/n, 1e-4)
	assert.InDelta(t, 0, sy/n, 1e-4)
	if hasZ {
		assert.InDelta(t, 0, sz/n, 1e-2)
	}
}

func TestOpenRejectsBadDatasets(t *testing.T) {
	_, err := Open(&models.Dataset{}, testParams(), nil)
	assert.ErrorIs(t, err, ErrNoPoints)

	// single-point groups collapse onto their centroid, leaving no window
	ds := &models.Dataset{Locs: []models.Localization{{X: 1, Y: 1, Group: 0}, {X: 5, Y: 2, Group: 1}}}
	_, err = Open(ds, testParams(), nil)
	assert.ErrorIs(t, err, ErrEmptyWindow)

	px, py := markedSquare()
	params := testParams()
	params.Oversampling = 0
	_, err = Open(groupDataset([2][]float32{px, py}), params, nil)
	assert.Error(t, err)
}

func TestOpenCentersGroupsAndSelectsMode(t *testing.T) {
	px, py := markedSquare()
	qx, qy := moved(px, py, 0, 3, -4)
	ds := groupDataset([2][]float32{px, py}, [2][]float32{qx, qy})
	s := openSession(t, ds, testParams())

	assert.Equal(t, Mode2D, s.Mode())
	assert.Equal(t, 2, s.Groups())
	assert.Equal(t, StateIdle, s.State())

	// both groups now sit on top of each other
	locs := s.Points()
	ax, ay := groupPoints(locs, 0)
	bx, by := groupPoints(locs, 1)
	for i := range ax {
		assert.InDelta(t, ax[i], bx[i], 1e-5)
		assert.InDelta(t, ay[i], by[i], 1e-5)
	}

	// the input dataset is left alone
	assert.Equal(t, qx[0], ds.Locs[len(px)].X)
}

func TestRunAlignsRotatedMinorityGroup(t *testing.T) {
	px, py := markedSquare()
	qx, qy := moved(px, py, 0.5, 0.3, -0.2)
	sq := [2][]float32{px, py}
	ds := groupDataset(sq, sq, sq, [2][]float32{qx, qy})
	s := openSession(t, ds, testParams())

	var reports []Progress
	require.NoError(t, s.Run(context.Background(), func(p Progress) { reports = append(reports, p) }))
	assert.Equal(t, StateDone, s.State())

	locs := s.Points()
	ax, ay := groupPoints(locs, 0)
	bx, by := groupPoints(locs, 3)
	for i := range ax {
		assert.Less(t, math.Hypot(float64(ax[i]-bx[i]), float64(ay[i]-by[i])), 0.1, "point %d", i)
	}
	assertCentered(t, locs, false)

	require.NotEmpty(t, reports)
	final := reports[len(reports)-1]
	assert.True(t, final.RoundComplete)
	assert.Equal(t, 1, final.Round)
	assert.Equal(t, 1, final.Rounds)
	assert.Equal(t, 4, final.Done)
	assert.Equal(t, 4, final.Groups)
	assert.Len(t, final.Points, len(ds.Locs))
}

func TestRunTwoGroupsMatchReferenceAtZeroLag(t *testing.T) {
	px, py := markedSquare()
	qx, qy := moved(px, py, 0.5, 0.3, -0.2)
	ds := groupDataset([2][]float32{px, py}, [2][]float32{qx, qy})
	s := openSession(t, ds, testParams())

	require.NoError(t, s.Run(context.Background(), nil))
	locs := s.Points()
	assertCentered(t, locs, false)

	geo := s.Geometry()
	ref, err := BuildLateral(s.store, geo)
	require.NoError(t, err)
	for g := 0; g < 2; g++ {
		x, y := groupPoints(locs, g)
		_, image := render.Hist(x, y, geo.Oversampling, geo.Lateral)
		surface, err := ref.Template.NewCorrelator().Correlate(image)
		require.NoError(t, err)
		peak := xcorr.ArgMax(surface)
		assert.InDelta(t, ref.Half, float64(peak.Row), 1, "group %d", g)
		assert.InDelta(t, ref.Half, float64(peak.Col), 1, "group %d", g)
	}
}

func TestRunRecentersEveryRound(t *testing.T) {
	px, py := markedSquare()
	ds := groupDataset(
		[2][]float32{px, py},
		func() [2][]float32 { x, y := moved(px, py, 1.1, 0.2, 0.1); return [2][]float32{x, y} }(),
		func() [2][]float32 { x, y := moved(px, py, 4.0, -0.3, 0); return [2][]float32{x, y} }(),
	)
	params := testParams()
	params.Iterations = 3
	s := openSession(t, ds, params)

	rounds := 0
	require.NoError(t, s.Run(context.Background(), func(p Progress) {
		if p.RoundComplete {
			rounds++
			assert.Equal(t, rounds, p.Round)
			assertCentered(t, p.Points, false)
		}
	}))
	assert.Equal(t, 3, rounds)
}

func threeDimensional(t *testing.T) *models.Dataset {
	t.Helper()
	px, py := markedSquare()
	var ds models.Dataset
	ds.HasZ = true
	for g, shift := range []float32{0, 40, -30} {
		for i := range px {
			z := float32(60*math.Sin(float64(i))) + shift
			ds.Locs = append(ds.Locs, models.Localization{X: px[i], Y: py[i], Z: z, Group: g})
		}
	}
	return &ds
}

func TestRun3DRunsLateralThenAxial(t *testing.T) {
	s := openSession(t, threeDimensional(t), testParams())
	require.Equal(t, Mode3D, s.Mode())
	assert.Greater(t, s.Geometry().Axial.Max, 0.0)

	var reports []Progress
	require.NoError(t, s.Run(context.Background(), func(p Progress) { reports = append(reports, p) }))

	// the final report closes the axial pass; the last lateral report
	// before it closes the lateral pass
	require.NotEmpty(t, reports)
	ax := reports[len(reports)-1]
	assert.Equal(t, PhaseAxial, ax.Phase)
	assert.True(t, ax.RoundComplete)
	assert.Equal(t, ax.Groups, ax.Done)
	assert.NoError(t, ax.Err)

	var lat *Progress
	for i := range reports {
		if reports[i].Phase == PhaseLateral {
			lat = &reports[i]
		}
	}
	require.NotNil(t, lat)
	assert.False(t, lat.RoundComplete)
	assert.Equal(t, lat.Groups, lat.Done)

	assertCentered(t, s.Points(), true)
	assert.True(t, s.Dataset().HasZ)
}

// axialLine is a diagonal line in the (x, z) projection. Group 2 carries
// two extra points far outside the lateral window that pull its centroid
// 60 nm up the z axis, so after per-group centering its line sits 60 nm
// below the other two.
func axialLine() *models.Dataset {
	ds := &models.Dataset{HasZ: true}
	for g := 0; g < 3; g++ {
		for i := 0; i < 16; i++ {
			ds.Locs = append(ds.Locs, models.Localization{
				X:     float32(-0.75 + 0.1*float64(i)),
				Z:     float32(20*i - 145),
				Group: g,
			})
		}
	}
	ds.Locs = append(ds.Locs,
		models.Localization{X: 3, Z: 545, Group: 2},
		models.Localization{X: -3, Z: 545, Group: 2},
	)
	return ds
}

func groupZ(locs []models.Localization, group int) []float32 {
	var z []float32
	for _, l := range locs {
		if l.Group == group && math.Abs(float64(l.X)) < 1 {
			z = append(z, l.Z)
		}
	}
	return z
}

func TestRunAxialPassRegistersOffsetGroup(t *testing.T) {
	s := openSession(t, axialLine(), testParams())
	require.Equal(t, Mode3D, s.Mode())

	before := s.Points()
	z0, z2 := groupZ(before, 0), groupZ(before, 2)
	require.Len(t, z2, len(z0))
	for i := range z0 {
		require.InDelta(t, -60, z2[i]-z0[i], 1e-3)
	}

	// run the axial pass alone and keep each group's transform
	found := make([]Transform, s.Groups())
	s.phases = []phase{{
		kind:  PhaseAxial,
		build: BuildAxial,
		align: func(a *aligner, g int, ref *Reference) (Transform, error) {
			tr, err := a.alignAxial(g, ref)
			found[g] = tr
			return tr, err
		},
	}}
	require.NoError(t, s.Run(context.Background(), nil))

	assert.InDelta(t, 0, found[0].DZ, 1e-9)
	assert.InDelta(t, 0, found[1].DZ, 1e-9)
	assert.InDelta(t, -0.6, found[2].DZ, 1e-9)
	assert.True(t, found[2].Found)

	after := s.Points()
	z0, z1, z2 := groupZ(after, 0), groupZ(after, 1), groupZ(after, 2)
	for i := range z0 {
		assert.InDelta(t, 0, z1[i]-z0[i], 1e-3)
		assert.InDelta(t, 0, z2[i]-z0[i], 1e-3, "point %d", i)
	}
	assertCentered(t, after, true)
}

func TestRunZeroIterations(t *testing.T) {
	px, py := markedSquare()
	params := testParams()
	params.Iterations = 0
	s := openSession(t, groupDataset([2][]float32{px, py}), params)

	before := s.Points()
	called := false
	require.NoError(t, s.Run(context.Background(), func(Progress) { called = true }))
	assert.False(t, called)
	assert.Equal(t, before, s.Points())
}

func TestRunCancelled(t *testing.T) {
	px, py := markedSquare()
	s := openSession(t, groupDataset([2][]float32{px, py}), testParams())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := s.Run(ctx, nil)
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, IsFatal(err))
}

func TestRunWorkerFailureAbortsRun(t *testing.T) {
	px, py := markedSquare()
	sq := [2][]float32{px, py}
	params := testParams()
	params.Iterations = 5
	s := openSession(t, groupDataset(sq, sq, sq), params)

	boom := errors.New("boom")
	var calls atomic.Int32
	s.phases = []phase{{
		kind:  PhaseLateral,
		build: BuildLateral,
		align: func(a *aligner, g int, ref *Reference) (Transform, error) {
			calls.Add(1)
			if g == 1 {
				return Transform{}, boom
			}
			return Transform{}, nil
		},
	}}

	completed := 0
	var last Progress
	err := s.Run(context.Background(), func(p Progress) {
		if p.RoundComplete {
			completed++
		}
		last = p
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.True(t, IsFatal(err))

	// the observer hears about the failure before Run returns
	require.Error(t, last.Err)
	assert.ErrorIs(t, last.Err, boom)
	assert.False(t, last.RoundComplete)
	assert.Len(t, last.Points, 3*len(px))

	var we *WorkerError
	require.ErrorAs(t, err, &we)
	assert.Equal(t, 1, we.Group)
	assert.Zero(t, completed)
	assert.LessOrEqual(t, calls.Load(), int32(3))
}

func TestRunWorkerPanicIsReported(t *testing.T) {
	px, py := markedSquare()
	s := openSession(t, groupDataset([2][]float32{px, py}), testParams())
	s.phases = []phase{{
		kind:  PhaseAxial,
		build: BuildLateral,
		align: func(*aligner, int, *Reference) (Transform, error) { panic("index out of range") },
	}}

	err := s.Run(context.Background(), nil)
	var we *WorkerError
	require.ErrorAs(t, err, &we)
	assert.Equal(t, PhaseAxial, we.Phase)
	assert.NotEmpty(t, we.Stack)
	assert.Contains(t, err.Error(), "index out of range")
}

func TestSessionLifecycle(t *testing.T) {
	px, py := markedSquare()
	s, err := Open(groupDataset([2][]float32{px, py}), testParams(), nil)
	require.NoError(t, err)

	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
	assert.ErrorIs(t, s.Run(context.Background(), nil), ErrSessionClosed)
}

func TestDatasetKeepsInfo(t *testing.T) {
	px, py := markedSquare()
	s := openSession(t, groupDataset([2][]float32{px, py}), testParams())

	ds := s.Dataset()
	require.Len(t, ds.Info, 1)
	assert.Equal(t, 32, ds.Info[0]["Width"])
	assert.False(t, ds.HasZ)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "polling", StatePolling.String())
	assert.Equal(t, "State(42)", State(42).String())
	assert.Equal(t, "axial", PhaseAxial.String())
	assert.Equal(t, "3D", Mode3D.String())
}
