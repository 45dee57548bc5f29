// Package alignment registers groups of localizations onto their ensemble
// average by FFT cross-correlation, refining the average over a fixed
// number of rounds.
//
// A Session owns the coordinate store and a persistent worker pool for one
// loaded dataset. Each round renders the average of all points, derives a
// matched-filter template from it and aligns every group against that
// template in parallel. 3D datasets run a lateral pass (rotation and x, y
// shift) followed by an axial pass (z shift) in every round.
package alignment

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"particlealign/internal/models"
	"particlealign/pkg/logging"
	"particlealign/pkg/particles"
	"particlealign/pkg/render"
)

// Params controls an alignment session.
type Params struct {
	// Oversampling is the number of rendered pixels per camera pixel
	Oversampling float64

	// Iterations is the number of rounds Run performs
	Iterations int

	// PixelSize scales the axial axis (nm per camera pixel), 3D only
	PixelSize float64

	// Workers sizes the pool; zero selects DefaultWorkers
	Workers int

	// PollInterval is the progress reporting period while a batch runs
	PollInterval time.Duration

	// Metrics receives per-group and per-round counts when set
	Metrics *Metrics
}

// Mode is the alignment variant chosen when a dataset is opened.
type Mode int

const (
	Mode2D Mode = iota
	Mode3D
)

func (m Mode) String() string {
	if m == Mode3D {
		return "3D"
	}
	return "2D"
}

// State is the position of a session in its run cycle.
type State int

const (
	StateIdle State = iota
	StateRoundStart
	StateDispatch
	StatePolling
	StateRoundEnd
	StateDone
)

var stateNames = [...]string{"idle", "round-start", "dispatch", "polling", "round-end", "done"}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Progress is reported to the Observer while a run is in flight.
type Progress struct {
	Round, Rounds int
	Phase         Phase
	Done, Groups  int

	// Points is the point set as of the last completed phase
	Points []models.Localization

	// RoundComplete is set once per round, after the last phase has been
	// re-centered
	RoundComplete bool

	// Err is set on the last report of a run aborted by a failed group
	Err error
}

// Observer receives progress reports. It is called from the goroutine
// running Session.Run.
type Observer func(Progress)

// Session owns the group index, the coordinate store and the worker pool of
// one opened dataset.
type Session struct {
	params Params
	mode   Mode
	geo    Geometry
	log    *logging.Logger

	index   *particles.Index
	store   *particles.Store
	groupOf []int
	info    []models.Info

	align  *aligner
	phases []phase
	pool   *pool

	mu      sync.Mutex
	state   State
	running bool
	closed  bool
}

// phase couples a reference builder with the aligner that consumes it.
type phase struct {
	kind  Phase
	build func(*particles.Store, Geometry) (*Reference, error)
	align func(a *aligner, g int, ref *Reference) (Transform, error)
}

var (
	lateralPhase = phase{kind: PhaseLateral, build: BuildLateral, align: (*aligner).alignLateral}
	axialPhase   = phase{kind: PhaseAxial, build: BuildAxial, align: (*aligner).alignAxial}
)

// Open validates a dataset, centers every group on its own centroid,
// estimates the alignment window and starts the worker pool. The dataset
// itself is not modified.
func Open(ds *models.Dataset, params Params, log *logging.Logger) (*Session, error) {
	if log == nil {
		log = logging.Nop()
	}
	if len(ds.Locs) == 0 {
		return nil, ErrNoPoints
	}
	if params.Oversampling <= 0 {
		return nil, fmt.Errorf("oversampling must be positive, got %g", params.Oversampling)
	}
	if params.Iterations < 0 {
		return nil, fmt.Errorf("iterations must be non-negative, got %d", params.Iterations)
	}
	if params.PollInterval <= 0 {
		params.PollInterval = 500 * time.Millisecond
	}
	if params.Workers <= 0 {
		params.Workers = DefaultWorkers()
	}

	n := len(ds.Locs)
	x := make([]float32, n)
	y := make([]float32, n)
	var z []float32
	if ds.HasZ {
		z = make([]float32, n)
	}
	groupOf := make([]int, n)
	for i, l := range ds.Locs {
		x[i], y[i] = l.X, l.Y
		if ds.HasZ {
			z[i] = l.Z
		}
		groupOf[i] = l.Group
	}

	index := particles.NewIndex(groupOf)
	if index.Len() == 0 {
		return nil, ErrNoGroups
	}
	store, err := particles.NewStore(x, y, z)
	if err != nil {
		return nil, fmt.Errorf("building coordinate store: %w", err)
	}
	store.CenterGroups(index)

	geo := Geometry{
		Oversampling: params.Oversampling,
		Lateral:      render.Symmetric(store.LateralRadius()),
		Axial:        render.Symmetric(store.AxialRadius()),
		PixelSize:    params.PixelSize,
	}
	if err := geo.Lateral.Validate(geo.Oversampling, 1); err != nil {
		return nil, fmt.Errorf("%w: lateral %v", ErrEmptyWindow, err)
	}

	mode := Mode2D
	phases := []phase{lateralPhase}
	if ds.HasZ {
		if err := geo.Axial.Validate(geo.Oversampling, geo.PixelSize); err != nil {
			return nil, fmt.Errorf("%w: axial %v", ErrEmptyWindow, err)
		}
		mode = Mode3D
		phases = []phase{lateralPhase, axialPhase}
	}

	s := &Session{
		params:  params,
		mode:    mode,
		geo:     geo,
		log:     log,
		index:   index,
		store:   store,
		groupOf: groupOf,
		info:    append([]models.Info(nil), ds.Info...),
		phases:  phases,
		align: &aligner{
			index:  index,
			store:  store,
			geo:    geo,
			angles: CandidateAngles(geo.Lateral.Max, geo.Oversampling),
		},
		pool: newPool(params.Workers),
	}

	log.Info("session", "dataset opened", map[string]interface{}{
		"mode":    mode.String(),
		"points":  n,
		"groups":  index.Len(),
		"radius":  geo.Lateral.Max,
		"radiusZ": geo.Axial.Max,
		"angles":  len(s.align.angles),
		"workers": params.Workers,
	})
	return s, nil
}

// Close stops the worker pool. A running session cannot be closed.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	if s.running {
		return ErrRunning
	}
	s.closed = true
	s.pool.close()
	s.log.Info("session", "session closed", nil)
	return nil
}

// Mode returns the alignment variant selected at Open.
func (s *Session) Mode() Mode {
	return s.mode
}

// Geometry returns the rendering geometry selected at Open.
func (s *Session) Geometry() Geometry {
	return s.geo
}

// Groups returns the number of groups being aligned.
func (s *Session) Groups() int {
	return s.index.Len()
}

// State returns the current run state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Points returns a copy of the current localizations. It must not be
// called concurrently with Run; use the Points of a Progress instead.
func (s *Session) Points() []models.Localization {
	x, y, z := s.store.Snapshot()
	return s.localizations(x, y, z)
}

// Dataset returns the current localizations with the metadata of the
// opened dataset.
func (s *Session) Dataset() *models.Dataset {
	return &models.Dataset{
		Locs: s.Points(),
		HasZ: s.mode == Mode3D,
		Info: append([]models.Info(nil), s.info...),
	}
}

func (s *Session) localizations(x, y, z []float32) []models.Localization {
	locs := make([]models.Localization, len(x))
	for i := range x {
		locs[i] = models.Localization{X: x[i], Y: y[i], Group: s.groupOf[i]}
		if z != nil {
			locs[i].Z = z[i]
		}
	}
	return locs
}

func (s *Session) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

// Run performs the configured number of rounds. Cancelling ctx skips the
// groups that have not started yet and returns ctx.Err(); a failing group
// aborts the run after the in-flight groups finish. The store keeps every
// update made before the failure.
func (s *Session) Run(ctx context.Context, observer Observer) error {
	s.mu.Lock()
	switch {
	case s.closed:
		s.mu.Unlock()
		return ErrSessionClosed
	case s.running:
		s.mu.Unlock()
		return ErrRunning
	}
	s.running = true
	s.state = StateIdle
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	if observer == nil {
		observer = func(Progress) {}
	}

	rounds := s.params.Iterations
	for round := 1; round <= rounds; round++ {
		start := time.Now()
		for k, ph := range s.phases {
			last := k == len(s.phases)-1
			if err := s.runPhase(ctx, round, ph, last, observer); err != nil {
				s.log.Error("session", err, map[string]interface{}{"round": round, "phase": ph.kind.String()})
				return err
			}
		}
		s.params.Metrics.roundDone(time.Since(start))
		s.log.Info("session", "round finished", map[string]interface{}{
			"round":   round,
			"rounds":  rounds,
			"elapsed": time.Since(start).String(),
		})
	}
	s.setState(StateDone)
	return nil
}

func (s *Session) runPhase(ctx context.Context, round int, ph phase, last bool, observer Observer) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.setState(StateRoundStart)
	ref, err := ph.build(s.store, s.geo)
	if err != nil {
		return fmt.Errorf("round %d: %w", round, err)
	}
	pre := s.localizations(s.store.Snapshot())

	s.setState(StateDispatch)
	groups := s.index.Len()
	b := s.pool.dispatch(ctx, groups, ph.kind, func(g int) error {
		if _, err := ph.align(s.align, g, ref); err != nil {
			return err
		}
		s.params.Metrics.groupAligned(ph.kind)
		return nil
	})

	s.setState(StatePolling)
	ticker := time.NewTicker(s.params.PollInterval)
	defer ticker.Stop()
	report := func(done int, complete bool, points []models.Localization, err error) {
		observer(Progress{
			Round:         round,
			Rounds:        s.params.Iterations,
			Phase:         ph.kind,
			Done:          done,
			Groups:        groups,
			Points:        points,
			RoundComplete: complete,
			Err:           err,
		})
	}
wait:
	for {
		select {
		case <-b.done:
			break wait
		case <-ticker.C:
			report(b.counter.value(), false, pre, nil)
		}
	}

	if err := b.failed(); err != nil {
		s.params.Metrics.groupFailed(ph.kind)
		err = fmt.Errorf("round %d: %w", round, err)
		report(b.counter.value(), false, s.Points(), err)
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.setState(StateRoundEnd)
	s.store.Recenter()
	report(b.counter.value(), last, s.Points(), nil)
	return nil
}

// IsFatal reports whether err came from a failed group alignment rather
// than from cancellation.
func IsFatal(err error) bool {
	var we *WorkerError
	return errors.As(err, &we)
}
