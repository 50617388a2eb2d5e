// Package runtime wires configuration, plugins, the rule engine, and the router into a running process.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"
	"github.com/saylorsolutions/routelog/pkg/compile"
	"github.com/saylorsolutions/routelog/pkg/config"
	"github.com/saylorsolutions/routelog/pkg/engine"
	"github.com/saylorsolutions/routelog/pkg/entries"
	"github.com/saylorsolutions/routelog/pkg/iterator"
	"github.com/saylorsolutions/routelog/pkg/router"
	"github.com/saylorsolutions/routelog/plugin"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"
)

var (
	ErrInvalidState = errors.New("invalid state")
	ErrNoRules      = errors.New("no rules file configured")
)

type runtimeState int

const (
	created runtimeState = iota
	started
	running
	stopping
	done
)

var (
	stateStrings = map[runtimeState]string{
		created:  "Created",
		started:  "Started",
		running:  "Running",
		stopping: "Stopping",
		done:     "Done",
	}
)

func (s runtimeState) String() string {
	return stateStrings[s]
}

type Runtime struct {
	id        string
	log       hclog.Logger
	cfg       *config.Config
	registry  *plugin.Registration
	plugins   []plugin.Plugin
	extractor entries.Extractor
	engine    *engine.Engine
	router    *router.Router
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	watcher   io.Closer

	mux   sync.Mutex
	state runtimeState

	reloadMux sync.Mutex
}

// New creates a Runtime for cfg. Plugins are registered when the Runtime is started.
func New(log hclog.Logger, cfg *config.Config, plugins ...plugin.Plugin) *Runtime {
	if log == nil {
		log = hclog.NewNullLogger()
	}
	if cfg == nil {
		cfg = config.Default()
	}
	id := uuid.NewString()
	return &Runtime{
		id:       id,
		log:      log.Named("runtime").With("run-id", id),
		cfg:      cfg,
		registry: plugin.NewRegistration(),
		plugins:  plugins,
	}
}

// ID uniquely identifies this Runtime in logs and stats.
func (r *Runtime) ID() string {
	return r.id
}

// Registry returns the plugin registry. It's populated by Start.
func (r *Runtime) Registry() *plugin.Registration {
	return r.registry
}

// Engine returns the rule engine. It's nil until the Runtime is started.
func (r *Runtime) Engine() *engine.Engine {
	return r.engine
}

// Router returns the destination router. It's nil until the Runtime is started.
func (r *Runtime) Router() *router.Router {
	return r.router
}

func (r *Runtime) transition(op string, to runtimeState, from ...runtimeState) error {
	r.mux.Lock()
	defer r.mux.Unlock()
	for _, f := range from {
		if r.state == f {
			r.state = to
			return nil
		}
	}
	err := fmt.Errorf("%w: invalid state for %s operation: %s", ErrInvalidState, op, r.state)
	r.log.Error("Invalid state", "operation", op, "error", err)
	return err
}

func (r *Runtime) inState(states ...runtimeState) bool {
	r.mux.Lock()
	defer r.mux.Unlock()
	for _, s := range states {
		if r.state == s {
			return true
		}
	}
	return false
}

// RegisterPlugins lets each plugin register its sources and destinations.
func (r *Runtime) RegisterPlugins() {
	for _, p := range r.plugins {
		start := time.Now()
		log := r.log.With("plugin-id", p.ID())
		log.Debug("Registering plugin")
		p.Register(r.registry)
		log.Debug("Done registering plugin", "duration", time.Since(start).String())
	}
}

// Start registers plugins, opens destinations, and compiles the rules file.
// Any failure here is fatal, and the Runtime is left unusable.
func (r *Runtime) Start(ctx context.Context) (rerr error) {
	start := time.Now()
	log := r.log
	log.Debug("Starting runtime")
	if err := r.transition("start", started, created); err != nil {
		return err
	}
	defer func() {
		if rerr != nil {
			r.cancel()
			if r.router != nil {
				_ = r.router.Close()
			}
			_ = r.stopPlugins()
			r.mux.Lock()
			r.state = done
			r.mux.Unlock()
		}
	}()
	r.ctx, r.cancel = context.WithCancel(ctx)
	r.RegisterPlugins()

	extractor, err := r.cfg.Extractor.Build()
	if err != nil {
		return err
	}
	r.extractor = extractor

	dests, err := r.openDestinations()
	if err != nil {
		return err
	}
	opts := r.cfg.Router.Options()
	r.router = router.New(log, dests, opts)

	rs, err := r.compile()
	if err != nil {
		log.Error("Failed to compile rules", "file", r.cfg.Rules, "error", err)
		return err
	}
	r.engine = engine.New(log, extractor, rs)

	r.handleSignals()
	if r.cfg.Reload.Watch {
		w, err := watchFile(log, r.cfg.Rules, r.cfg.Reload.Debounce(), func() {
			_ = r.Reload()
		})
		if err != nil {
			log.Error("Failed to watch rules file", "file", r.cfg.Rules, "error", err)
			return err
		}
		r.watcher = w
	}
	log.Info("Runtime started", "rules", rs.Len(), "destinations", len(dests), "start-duration", time.Since(start).String())
	return nil
}

func (r *Runtime) openDestinations() (map[string]router.Destination, error) {
	dests := map[string]router.Destination{}
	for _, name := range r.cfg.DestinationNames() {
		dc := r.cfg.Destinations[name]
		log := r.log.Named("destination").With("destination", name)
		d, err := r.registry.OpenDestination(r.ctx, log, dc.Kind, plugin.Args(dc.Args))
		if err != nil {
			log.Error("Failed to open destination", "kind", dc.Kind, "error", err)
			for _, opened := range dests {
				_ = opened.Close()
			}
			return nil, fmt.Errorf("destination '%s': %w", name, err)
		}
		dests[name] = d
	}
	return dests, nil
}

// CompileRules compiles the rules file named in cfg, checking routes against the configured destination names.
// No destinations are opened.
func CompileRules(cfg *config.Config) (*compile.Ruleset, error) {
	ex, err := cfg.Extractor.Build()
	if err != nil {
		return nil, err
	}
	return compileWith(nil, cfg.Rules, compile.Names(cfg.DestinationNames()), ex)
}

func compileWith(log hclog.Logger, rules string, table compile.Table, ex entries.Extractor) (*compile.Ruleset, error) {
	if rules == "" {
		return nil, ErrNoRules
	}
	return compile.CompileFile(rules, compile.Options{
		Destinations: table,
		Fields:       entries.WellKnown(ex),
		Log:          log,
	})
}

func (r *Runtime) compile() (*compile.Ruleset, error) {
	return compileWith(r.log.Named("compile"), r.cfg.Rules, r.router, r.extractor)
}

// Reload recompiles the rules file and swaps it in atomically.
// If the file fails to compile, the active ruleset stays in place and the error is returned.
func (r *Runtime) Reload() error {
	if !r.inState(started, running) {
		return fmt.Errorf("%w: can't reload while %s", ErrInvalidState, r.currentState())
	}
	r.reloadMux.Lock()
	defer r.reloadMux.Unlock()
	r.log.Info("Reloading rules", "file", r.cfg.Rules)
	return r.engine.Reload(r.compile)
}

type Stats struct {
	RunID        string                  `json:"runId"`
	State        string                  `json:"state"`
	Engine       engine.Stats            `json:"engine"`
	Destinations map[string]router.Stats `json:"destinations"`
}

// Stats reports the engine counters and per-destination delivery counters.
func (r *Runtime) Stats() Stats {
	stats := Stats{
		RunID:        r.id,
		State:        r.currentState().String(),
		Destinations: map[string]router.Stats{},
	}
	if r.engine != nil {
		stats.Engine = r.engine.Stats()
	}
	if r.router != nil {
		stats.Destinations = r.router.Stats()
	}
	return stats
}

func (r *Runtime) currentState() runtimeState {
	r.mux.Lock()
	defer r.mux.Unlock()
	return r.state
}

func (r *Runtime) handleSignals() {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGHUP)
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer signal.Stop(ch)
		for {
			select {
			case <-r.ctx.Done():
				return
			case <-ch:
				r.log.Info("Received SIGHUP")
				_ = r.Reload()
			}
		}
	}()
}

// OpenSources opens every configured source, applying names and join patterns, and merges them into one stream.
func (r *Runtime) OpenSources(ctx context.Context) (iterator.Iterator, error) {
	iters := make([]iterator.Iterator, 0, len(r.cfg.Sources))
	for i, sc := range r.cfg.Sources {
		log := r.log.With("source", i, "kind", sc.Kind)
		iter, err := r.registry.OpenSource(ctx, sc.Kind, plugin.Args(sc.Args))
		if err != nil {
			log.Error("Failed to open source", "error", err)
			return nil, err
		}
		if sc.Name != "" {
			iter = iterator.Tag(iter, sc.Name)
		}
		excluded, err := sc.Excluded()
		if err != nil {
			return nil, fmt.Errorf("%w: sources[%d].exclude: %v", config.ErrInvalid, i, err)
		}
		if excluded != nil {
			iter = iterator.Filter(iter, func(line iterator.Line) bool {
				return !excluded(line.Text)
			})
		}
		if len(sc.Join) > 0 {
			iter, err = iterator.Joiner(iter, sc.Join...)
			if err != nil {
				log.Error("Invalid join pattern", "error", err)
				return nil, fmt.Errorf("%w: sources[%d].join: %v", config.ErrInvalid, i, err)
			}
		}
		log.Debug("Opened source")
		iters = append(iters, iter)
	}
	return iterator.Merge(iters...), nil
}

// Run reads every source through the engine until the sources end or ctx is cancelled.
// All queued events are written before Run returns.
func (r *Runtime) Run(ctx context.Context) error {
	if err := r.transition("run", running, started); err != nil {
		return err
	}
	r.wg.Add(1)
	defer r.wg.Done()
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-r.ctx.Done():
			cancel()
		case <-runCtx.Done():
		}
	}()

	src, err := r.OpenSources(runCtx)
	if err != nil {
		return err
	}
	err = r.engine.Run(runCtx, src, r.router)
	start := time.Now()
	r.router.Flush()
	r.log.Debug("Flushed destinations", "duration", time.Since(start).String())
	return err
}

// Stop cancels a running Run and waits for it to return, then closes destinations and stops plugins.
// Events already queued are written before destinations are closed.
func (r *Runtime) Stop() (rerr error) {
	start := time.Now()
	log := r.log
	log.Debug("Stopping runtime")
	if err := r.transition("stop", stopping, started, running); err != nil {
		return err
	}
	r.cancel()
	if r.watcher != nil {
		if err := r.watcher.Close(); err != nil {
			log.Warn("Failed to close rules watcher", "error", err)
		}
	}
	log.Debug("Waiting for operations to cease")
	r.wg.Wait()
	if err := r.router.Close(); err != nil {
		log.Error("Error closing destinations", "error", err)
		rerr = err
	}
	if err := r.stopPlugins(); err != nil && rerr == nil {
		rerr = err
	}
	r.mux.Lock()
	r.state = done
	r.mux.Unlock()
	log.Info("Runtime stopped", "stop-duration", time.Since(start).String())
	return rerr
}

func (r *Runtime) stopPlugins() (rerr error) {
	for _, p := range r.plugins {
		log := r.log.With("plugin-id", p.ID())
		log.Debug("Stopping plugin")
		if err := p.Stopping(); err != nil {
			log.Error("Error stopping plugin", "error", err)
			if rerr == nil {
				rerr = err
			}
		}
	}
	return rerr
}
