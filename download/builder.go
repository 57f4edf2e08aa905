package download

import (
	"context"
	"fmt"

	"github.com/trickstertwo/xlog"
	"github.com/trickstertwo/xpool"
)

// ManagerBuilder constructs Manager instances (Builder pattern).
type ManagerBuilder struct {
	cfg           Config
	registry      *xpool.Registry
	bus           *xpool.Bus
	transport     Transport
	transportName string
	transportCfg  map[string]any
	logger        *xlog.Logger
	clock         xpool.Clock
	observers     []xpool.Observer
}

// NewManagerBuilder returns a builder with Defaults().
func NewManagerBuilder() *ManagerBuilder {
	return &ManagerBuilder{cfg: Defaults()}
}

func (mb *ManagerBuilder) WithConfig(cfg Config) *ManagerBuilder {
	mb.cfg = cfg
	return mb
}

// WithRegistry selects the registry tasks and events are pooled in (default: xpool.Default()).
func (mb *ManagerBuilder) WithRegistry(r *xpool.Registry) *ManagerBuilder {
	mb.registry = r
	return mb
}

// WithBus fires events on an existing bus. Without it the manager builds and owns one.
func (mb *ManagerBuilder) WithBus(b *xpool.Bus) *ManagerBuilder {
	mb.bus = b
	return mb
}

// WithTransport sets the transport instance directly.
func (mb *ManagerBuilder) WithTransport(t Transport) *ManagerBuilder {
	mb.transport = t
	return mb
}

// WithTransportName selects a registered transport by name.
func (mb *ManagerBuilder) WithTransportName(name string, cfg map[string]any) *ManagerBuilder {
	mb.transportName = name
	mb.transportCfg = cfg
	return mb
}

func (mb *ManagerBuilder) WithLogger(l *xlog.Logger) *ManagerBuilder {
	mb.logger = l
	return mb
}

func (mb *ManagerBuilder) WithClock(c xpool.Clock) *ManagerBuilder {
	mb.clock = c
	return mb
}

// WithObserver attaches observers for task lifecycle events.
func (mb *ManagerBuilder) WithObserver(obs ...xpool.Observer) *ManagerBuilder {
	for _, o := range obs {
		if o != nil {
			mb.observers = append(mb.observers, o)
		}
	}
	return mb
}

func (mb *ManagerBuilder) Build() (*Manager, error) {
	if err := mb.cfg.Validate(); err != nil {
		return nil, err
	}

	tr := mb.transport
	if tr == nil {
		if mb.transportName == "" {
			return nil, &xpool.ConfigurationError{Type: "download.Manager", Reason: "no transport configured"}
		}
		var err error
		tr, err = NewTransport(mb.transportName, mb.transportCfg)
		if err != nil {
			return nil, err
		}
	}

	reg := mb.registry
	if reg == nil {
		reg = xpool.Default()
	}
	lg := mb.logger
	if lg == nil {
		lg = reg.Logger()
	}
	clk := mb.clock
	if clk == nil {
		clk = reg.Clock()
	}

	if err := ensurePools(reg); err != nil {
		return nil, err
	}

	bus, ownsBus := mb.bus, false
	if bus == nil {
		var err error
		bus, err = xpool.NewBusBuilder().
			WithRegistry(reg).
			WithLogger(lg).
			WithClock(clk).
			Build()
		if err != nil {
			return nil, fmt.Errorf("download: build bus: %w", err)
		}
		ownsBus = true
	}

	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		cfg:       mb.cfg,
		registry:  reg,
		bus:       bus,
		ownsBus:   ownsBus,
		transport: tr,
		queue: xpool.NewTaskQueue[*Task](xpool.QueueConfig{
			MaxRetries:     mb.cfg.MaxRetries,
			DefaultTimeout: mb.cfg.Timeout,
		}, lg, clk, mb.observers...),
		counter: xpool.NewProgressCounter(mb.cfg.ProgressWindow),
		logger:  lg,
		ctx:     ctx,
		cancel:  cancel,
		reports: make(chan report, mb.cfg.ReportBuffer),
		agents:  make(map[int64]*agent),
	}
	return m, nil
}

// ensurePools installs the manager's pooled types so it works with AutoCreate off.
func ensurePools(reg *xpool.Registry) error {
	if _, err := xpool.Ensure[Task](reg, "download.Task", newTask); err != nil {
		return err
	}
	if _, err := xpool.Ensure[StartEvent](reg, "download.StartEvent", func() *StartEvent { return new(StartEvent) }); err != nil {
		return err
	}
	if _, err := xpool.Ensure[UpdateEvent](reg, "download.UpdateEvent", func() *UpdateEvent { return new(UpdateEvent) }); err != nil {
		return err
	}
	if _, err := xpool.Ensure[SuccessEvent](reg, "download.SuccessEvent", func() *SuccessEvent { return new(SuccessEvent) }); err != nil {
		return err
	}
	if _, err := xpool.Ensure[FailureEvent](reg, "download.FailureEvent", func() *FailureEvent { return new(FailureEvent) }); err != nil {
		return err
	}
	return nil
}

// NewManager builds a Manager using transport and the defaults.
func NewManager(transport Transport, init func(mb *ManagerBuilder)) (*Manager, error) {
	mb := NewManagerBuilder().WithTransport(transport)
	if init != nil {
		init(mb)
	}
	return mb.Build()
}
