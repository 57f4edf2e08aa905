package download

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/trickstertwo/xlog"
	"github.com/trickstertwo/xpool"
)

// ErrManagerClosed is returned by operations on a closed Manager.
var ErrManagerClosed = errors.New("download: manager closed")

// report is what an agent sends back to the owner goroutine.
type report struct {
	serial  int64
	attempt int
	delta   int64
	done    bool
	err     error
}

type agent struct {
	task    *Task
	attempt int
	cancel  context.CancelFunc
}

// Manager runs downloads on top of a TaskQueue.
//
// Update drives everything from the owner goroutine: it drains agent reports,
// applies timeouts and starts queued downloads while capacity allows. Events
// are fired synchronously on the bus from within Update. AddDownload, Pause,
// Resume and the counters are safe from any goroutine; the remaining methods
// belong to the owner goroutine.
type Manager struct {
	cfg       Config
	registry  *xpool.Registry
	bus       *xpool.Bus
	ownsBus   bool
	transport Transport
	queue     *xpool.TaskQueue[*Task]
	counter   *xpool.ProgressCounter
	logger    *xlog.Logger

	ctx     context.Context
	cancel  context.CancelFunc
	reports chan report
	wg      sync.WaitGroup

	agents map[int64]*agent // owner goroutine only

	paused    atomic.Bool
	closed    atomic.Bool
	closeOnce sync.Once
}

// AddOption customizes a single download.
type AddOption func(*Task)

// WithFlushThreshold overrides Config.FlushSize for one download.
func WithFlushThreshold(n int64) AddOption {
	return func(t *Task) {
		if n > 0 {
			t.FlushThreshold = n
		}
	}
}

// WithTimeout overrides Config.Timeout for one download.
func WithTimeout(d time.Duration) AddOption {
	return func(t *Task) {
		if d > 0 {
			t.SetTimeout(d)
		}
	}
}

// AddDownload queues sourceURI to be fetched into dest and returns its serial id.
func (m *Manager) AddDownload(dest, sourceURI, tag string, priority int, userData any, opts ...AddOption) (int64, error) {
	if m.closed.Load() {
		return 0, ErrManagerClosed
	}
	if dest == "" || sourceURI == "" {
		return 0, &xpool.ConfigurationError{Type: "download.Task", Reason: "destination and source uri are required"}
	}

	t, err := xpool.Acquire[Task](m.registry)
	if err != nil {
		return 0, err
	}
	t.DestinationPath = dest
	t.SourceURI = sourceURI
	t.FlushThreshold = m.cfg.FlushSize
	for _, o := range opts {
		if o != nil {
			o(t)
		}
	}

	serial, err := m.queue.Enqueue(t, tag, priority, userData)
	if err != nil {
		m.recycle(t)
		return 0, err
	}
	m.logger.Debug().Str("serial", strconv.FormatInt(serial, 10)).Str("source", sourceURI).Msg("download: queued")
	return serial, nil
}

// Update advances the manager by elapsed. Handler failures of fired events are
// returned joined; download failures are reported as FailureEvent only.
func (m *Manager) Update(elapsed time.Duration) error {
	if m.closed.Load() {
		return ErrManagerClosed
	}

	var errs []error
	collect := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	for n := len(m.reports); n > 0; n-- {
		collect(m.handle(<-m.reports))
	}

	m.counter.Update(elapsed)

	for _, t := range m.queue.Tick(elapsed) {
		collect(m.timedOut(t))
	}

	if !m.paused.Load() {
		for {
			t, ok := m.queue.DequeueNext(m.cfg.MaxConcurrent)
			if !ok {
				break
			}
			collect(m.start(t))
		}
	}
	return errors.Join(errs...)
}

func (m *Manager) handle(r report) error {
	a, ok := m.agents[r.serial]
	if !ok || a.attempt != r.attempt {
		// Removed, timed out or superseded by a retry.
		return nil
	}
	t := a.task

	if !r.done {
		t.Downloaded += r.delta
		m.counter.AddDelta(r.delta)
		return fire(m, func(e *UpdateEvent) {
			e.Serial = t.SerialID
			e.Tag = t.Tag
			e.UserData = t.UserData
			e.Delta = r.delta
			e.Downloaded = t.Downloaded
		})
	}
	return m.finish(t, r.err)
}

func (m *Manager) finish(t *Task, err error) error {
	m.dropAgent(t.SerialID)
	elapsed := t.Elapsed()

	outcome := xpool.Succeeded()
	switch {
	case err == nil:
	case IsTransient(err):
		outcome = xpool.Retry(err)
	default:
		outcome = xpool.Failed(err)
	}

	res, merr := m.queue.MarkDone(t, outcome)
	if merr != nil {
		return merr
	}

	if res.Requeued {
		m.logger.Info().
			Str("serial", strconv.FormatInt(t.SerialID, 10)).
			Str("source", t.SourceURI).
			Str("failures", strconv.Itoa(res.Failures)).
			Err(err).
			Msg("download: retrying")
		t.Downloaded = 0
		return nil
	}

	var ferr error
	if res.Succeeded {
		m.logger.Debug().Str("serial", strconv.FormatInt(t.SerialID, 10)).Dur("elapsed", elapsed).Msg("download: done")
		ferr = fire(m, func(e *SuccessEvent) {
			e.Serial = t.SerialID
			e.Tag = t.Tag
			e.UserData = t.UserData
			e.SourceURI = t.SourceURI
			e.DestinationPath = t.DestinationPath
			e.Downloaded = t.Downloaded
			e.Elapsed = elapsed
		})
	} else {
		t.Err = err
		m.logger.Warn().Str("serial", strconv.FormatInt(t.SerialID, 10)).Str("source", t.SourceURI).Err(err).Msg("download: failed")
		ferr = m.fireFailure(t, res.Failures, false)
	}
	m.recycle(t)
	return ferr
}

func (m *Manager) timedOut(t *Task) error {
	m.dropAgent(t.SerialID)
	t.Err = xpool.ErrTimeout
	ferr := m.fireFailure(t, m.queue.Failures(t.SourceKey()), true)
	m.recycle(t)
	return ferr
}

func (m *Manager) fireFailure(t *Task, failures int, timedOut bool) error {
	return fire(m, func(e *FailureEvent) {
		e.Serial = t.SerialID
		e.Tag = t.Tag
		e.UserData = t.UserData
		e.SourceURI = t.SourceURI
		e.DestinationPath = t.DestinationPath
		e.Downloaded = t.Downloaded
		e.Failures = failures
		e.TimedOut = timedOut
		e.Err = t.Err
	})
}

func (m *Manager) start(t *Task) error {
	ctx, cancel := context.WithCancel(m.ctx)
	a := &agent{task: t, attempt: t.Attempt(), cancel: cancel}
	m.agents[t.SerialID] = a

	err := fire(m, func(e *StartEvent) {
		e.Serial = t.SerialID
		e.Tag = t.Tag
		e.UserData = t.UserData
		e.SourceURI = t.SourceURI
		e.DestinationPath = t.DestinationPath
		e.Attempt = a.attempt
	})

	m.wg.Add(1)
	go m.run(ctx, t.request(), a.attempt)
	return err
}

// run is the agent goroutine. It only sees the Request copy, never the pooled Task.
func (m *Manager) run(ctx context.Context, req Request, attempt int) {
	defer m.wg.Done()

	lg := m.logger.With(xlog.Str("source", req.SourceURI))
	actx := xpool.WithRegistryContext(xpool.WithLoggerContext(ctx, lg), m.registry)

	err := m.download(actx, req, func(delta int64) {
		if delta > 0 {
			m.send(ctx, report{serial: req.Serial, attempt: attempt, delta: delta})
		}
	})
	m.send(ctx, report{serial: req.Serial, attempt: attempt, done: true, err: err})
}

func (m *Manager) download(ctx context.Context, req Request, progress Progress) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("download: transport panic: %v", r)
		}
	}()
	return m.transport.Download(ctx, req, progress)
}

func (m *Manager) send(ctx context.Context, r report) {
	select {
	case m.reports <- r:
	case <-ctx.Done():
	}
}

func (m *Manager) dropAgent(serial int64) {
	if a, ok := m.agents[serial]; ok {
		a.cancel()
		delete(m.agents, serial)
	}
}

func (m *Manager) recycle(t *Task) {
	if err := xpool.Release[Task](m.registry, t); err != nil {
		m.logger.Error().Err(err).Msg("download: task release failed")
	}
}

// fire acquires a pooled payload, fills it, dispatches it synchronously and
// hands it back to the registry.
func fire[E any, P interface {
	*E
	xpool.EventArgs
}](m *Manager, fill func(P)) error {
	ev, err := xpool.Acquire[E, P](m.registry)
	if err != nil {
		return err
	}
	fill(ev)
	ferr := m.bus.FireNow(m, ev)
	if rerr := xpool.Release[E, P](m.registry, ev); rerr != nil {
		m.logger.Error().Err(rerr).Msg("download: event release failed")
	}
	return ferr
}

// RemoveDownload cancels a queued or running download. No event is fired.
func (m *Manager) RemoveDownload(serial int64) bool {
	t, ok := m.queue.RemoveBySerial(serial)
	if !ok {
		return false
	}
	m.dropAgent(serial)
	m.recycle(t)
	return true
}

// RemoveByTag cancels every download carrying tag and returns how many were removed.
func (m *Manager) RemoveByTag(tag string) int {
	tasks := m.queue.RemoveByTag(tag)
	for _, t := range tasks {
		m.dropAgent(t.SerialID)
		m.recycle(t)
	}
	return len(tasks)
}

// Info returns a snapshot of a queued or running download.
func (m *Manager) Info(serial int64) (Info, bool) {
	t, ok := m.queue.Find(serial)
	if !ok {
		return Info{}, false
	}
	return t.info(), true
}

// Pause stops Update from starting new downloads; running ones continue.
func (m *Manager) Pause() { m.paused.Store(true) }

// Resume undoes Pause.
func (m *Manager) Resume() { m.paused.Store(false) }

// Paused reports whether new downloads are held back.
func (m *Manager) Paused() bool { return m.paused.Load() }

// Speed returns bytes per second over the progress window.
func (m *Manager) Speed() float64 { return m.counter.Speed() }

// TotalBytes returns every byte received since the manager was built.
func (m *Manager) TotalBytes() int64 { return m.counter.TotalBytes() }

// Pending returns the number of queued downloads.
func (m *Manager) Pending() int { return m.queue.Pending() }

// Active returns the number of running downloads.
func (m *Manager) Active() int { return m.queue.Active() }

// Bus returns the bus events are fired on.
func (m *Manager) Bus() *xpool.Bus { return m.bus }

// Close cancels running downloads, waits for their agents until ctx is done
// and recycles every task. Idempotent.
func (m *Manager) Close(ctx context.Context) error {
	var closeErr error
	m.closeOnce.Do(func() {
		m.closed.Store(true)
		m.cancel()

		done := make(chan struct{})
		go func() {
			m.wg.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-ctx.Done():
			closeErr = fmt.Errorf("download: waiting for agents: %w", ctx.Err())
		}

		for _, t := range m.queue.Close() {
			m.recycle(t)
		}
		clear(m.agents)

		if m.ownsBus {
			if err := m.bus.Close(ctx); err != nil {
				closeErr = errors.Join(closeErr, err)
			}
		}
	})
	return closeErr
}
