package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/gocoredump/procdump/internal/procopts"
)

// SamplerFunc is the shape of a trigger-sampler goroutine: given the Core
// contract and the context passed to Controller.Run, it samples until
// ContinueMonitoring/WaitForQuit tells it to stop. The three concrete
// triggers (CPU, commit, timer) are external collaborators per spec §1;
// the controller only spawns and joins them and never cancels their
// context itself.
type SamplerFunc func(ctx context.Context, core Core)

// Controller drives the startup sequence in spec §4.F: parse/print,
// resolve the target, install signal handling, spawn samplers, signal
// start, join, teardown.
type Controller struct {
	mon        *Monitor
	coord      *SignalCoordinator
	samplers   map[string]SamplerFunc
	bannerFunc func(cfg *procopts.Config)
	configFunc func(cfg *procopts.Config)
}

// NewController constructs a Controller around an initialized Monitor.
// bannerFunc and configFunc render the one-time banner/config echo (spec
// §1 treats banner/help text rendering as out of scope; SPEC_FULL supplies
// callers with sensible stderr-based defaults via cmd/procdump).
func NewController(mon *Monitor, bannerFunc, configFunc func(cfg *procopts.Config)) *Controller {
	return &Controller{
		mon:        mon,
		samplers:   make(map[string]SamplerFunc),
		bannerFunc: bannerFunc,
		configFunc: configFunc,
	}
}

// RegisterSampler adds a named trigger sampler. Samplers are keyed by name,
// so registering the same name again replaces the earlier one; Run spawns
// every registered sampler and places no cap on their number.
func (c *Controller) RegisterSampler(name string, fn SamplerFunc) {
	c.samplers[name] = fn
}

// Run executes the full startup → monitor → teardown sequence and returns
// once every sampler and the signal coordinator have exited.
func (c *Controller) Run(ctx context.Context) error {
	c.mon.Init()

	if c.bannerFunc != nil {
		c.mon.PrintBanner(func() { c.bannerFunc(c.mon.Config()) })
	}
	if c.configFunc != nil {
		c.mon.PrintConfig(func() { c.configFunc(c.mon.Config()) })
	}

	if err := c.mon.ResolveTarget(ctx); err != nil {
		return fmt.Errorf("monitor: %w", err)
	}

	coordCtx, coordCancel := context.WithCancel(ctx)
	defer coordCancel()

	c.coord = NewSignalCoordinator(c.mon)
	var coordWG sync.WaitGroup
	coordWG.Add(1)
	go func() {
		defer coordWG.Done()
		c.coord.Run(coordCtx)
	}()

	var samplerWG sync.WaitGroup
	for name, fn := range c.samplers {
		samplerWG.Add(1)
		go func(name string, fn SamplerFunc) {
			defer samplerWG.Done()
			c.mon.Logger().Debug("sampler starting", slog.String("sampler", name))
			fn(ctx, c.mon)
			c.mon.Logger().Debug("sampler exited", slog.String("sampler", name))
		}(name, fn)
	}

	c.mon.StartMonitoring()

	samplerWG.Wait()
	coordCancel()
	coordWG.Wait()

	c.mon.Teardown()
	return nil
}
