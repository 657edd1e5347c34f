package synthetic

import (
	"context"
	"hash/fnv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"stradfeed/internal/application/port"
	"stradfeed/internal/application/subscription"
)

// Config 流水线参数
type Config struct {
	Workers         int           // worker 协程数
	InputCap        int           // 输入队列容量
	OutputCap       int           // 输出队列容量
	Batch           int           // 单次批量处理上限
	ShutdownTimeout time.Duration // 停机排空超时
}

func (c *Config) applyDefaults() {
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.InputCap <= 0 {
		c.InputCap = 4096
	}
	if c.OutputCap <= 0 {
		c.OutputCap = 1024
	}
	if c.Batch <= 0 {
		c.Batch = 32
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = 5 * time.Second
	}
}

// request 一条腿 tick 对一个合成标的的处理请求
// 携带路由时的 Table 代次，保证重载前后不会混腿
type request struct {
	tbl   *Table
	synth string
	tick  port.Tick
}

// Stats is a point-in-time metrics snapshot.
type Stats struct {
	TicksReceived    int64
	TicksProcessed   int64
	ResultsPublished int64
	DroppedInput     int64
	DroppedOutput    int64
	Errors           int64
	Uptime           time.Duration
	TicksPerSecond   float64
}

// Pipeline: bounded ingest queue -> dispatcher -> sharded workers -> bounded
// output queue -> single publisher fanning into the subscription registry.
//
// Routing is hash(synthetic symbol) % workers, so exactly one worker ever
// writes a given straddleState and per-leg tick order is preserved, while
// different synthetics still process in parallel.
type Pipeline struct {
	cfg      Config
	store    *Store
	registry *subscription.Registry

	// onCombined, if set, runs on the publisher goroutine after fan-out
	// (persistence / board render hook).
	onCombined func(Result)

	input    chan port.Tick
	workerCh []chan request
	output   chan Result
	quit     chan struct{}

	dispatchWg sync.WaitGroup
	workerWg   sync.WaitGroup
	pubWg      sync.WaitGroup

	closed  atomic.Bool
	started time.Time

	received      atomic.Int64
	processed     atomic.Int64
	published     atomic.Int64
	droppedInput  atomic.Int64
	droppedOutput atomic.Int64
	errors        atomic.Int64
}

func NewPipeline(cfg Config, store *Store, registry *subscription.Registry, onCombined func(Result)) *Pipeline {
	cfg.applyDefaults()

	p := &Pipeline{
		cfg:        cfg,
		store:      store,
		registry:   registry,
		onCombined: onCombined,
		input:      make(chan port.Tick, cfg.InputCap),
		workerCh:   make([]chan request, cfg.Workers),
		output:     make(chan Result, cfg.OutputCap),
		quit:       make(chan struct{}),
	}
	for i := range p.workerCh {
		// 每个 worker 独立分片队列
		p.workerCh[i] = make(chan request, cfg.InputCap/cfg.Workers+1)
	}
	return p
}

// Start launches the dispatcher, workers and publisher. The pipeline stops
// when ctx is cancelled or Stop is called.
func (p *Pipeline) Start(ctx context.Context) {
	p.started = time.Now()

	p.dispatchWg.Add(1)
	go p.dispatch()

	for i := 0; i < p.cfg.Workers; i++ {
		p.workerWg.Add(1)
		go p.worker(i)
	}

	p.pubWg.Add(1)
	go p.publish()

	go func() {
		select {
		case <-ctx.Done():
			p.Stop()
		case <-p.quit:
		}
	}()

	log.Info().
		Int("workers", p.cfg.Workers).
		Int("input_cap", p.cfg.InputCap).
		Int("output_cap", p.cfg.OutputCap).
		Int("batch", p.cfg.Batch).
		Msg("✓ combination pipeline started")
}

// IsLeg 快速判定 symbol 是否属于某个合成标的
func (p *Pipeline) IsLeg(symbol string) bool {
	return p.store.Current().IsLeg(symbol)
}

// Reload swaps the straddle table wholesale.
func (p *Pipeline) Reload(defs []Definition) error {
	if err := p.store.Reload(defs); err != nil {
		return err
	}
	log.Info().Int("straddles", len(defs)).Msg("straddle table reloaded")
	return nil
}

// TryEnqueue offers a tick to the pipeline without blocking. A full queue (or
// a stopped pipeline) drops the tick and bumps the drop counter; ingestion
// must never block on a slow downstream.
func (p *Pipeline) TryEnqueue(tk port.Tick) bool {
	if p.closed.Load() {
		p.droppedInput.Add(1)
		return false
	}
	select {
	case p.input <- tk:
		p.received.Add(1)
		return true
	default:
		p.droppedInput.Add(1)
		return false
	}
}

func shard(synthetic string, n int) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(synthetic))
	return int(h.Sum32() % uint32(n))
}

// dispatch routes each (tick, synthetic) pair to the owning worker shard,
// pinning the table generation the routing was computed from.
func (p *Pipeline) dispatch() {
	defer p.dispatchWg.Done()
	defer func() {
		for _, ch := range p.workerCh {
			close(ch)
		}
	}()

	route := func(tk port.Tick) {
		tbl := p.store.Current()
		for _, synth := range tbl.SyntheticsFor(tk.Symbol) {
			req := request{tbl: tbl, synth: synth, tick: tk}
			select {
			case p.workerCh[shard(synth, p.cfg.Workers)] <- req:
			default:
				p.droppedInput.Add(1)
			}
		}
	}

	for {
		select {
		case <-p.quit:
			// closed for further input; drain what is already queued
			for {
				select {
				case tk := <-p.input:
					route(tk)
				default:
					return
				}
			}
		case tk := <-p.input:
			route(tk)
		}
	}
}

func (p *Pipeline) worker(i int) {
	defer p.workerWg.Done()

	batch := make([]request, 0, p.cfg.Batch)
	for req := range p.workerCh[i] {
		batch = append(batch[:0], req)
		// drain whatever is immediately available, up to the batch cap
	fill:
		for len(batch) < p.cfg.Batch {
			select {
			case more, ok := <-p.workerCh[i]:
				if !ok {
					break fill
				}
				batch = append(batch, more)
			default:
				break fill
			}
		}

		for _, r := range batch {
			p.process(r)
		}
	}
}

// process handles one request; a bad tick must never stop the worker.
func (p *Pipeline) process(req request) {
	defer func() {
		if rec := recover(); rec != nil {
			p.errors.Add(1)
			log.Error().Interface("panic", rec).Str("synthetic", req.synth).Msg("tick processing panicked")
		}
	}()

	updated, ready, res := req.tbl.UpdateLegAndCheckReady(req.synth, req.tick.Symbol, req.tick)
	p.processed.Add(1)
	if !updated || !ready {
		return
	}

	select {
	case p.output <- res:
	default:
		p.droppedOutput.Add(1)
	}
}

// publish is the single routine allowed to touch the registry fan-out path.
func (p *Pipeline) publish() {
	defer p.pubWg.Done()

	for res := range p.output {
		p.registry.Publish(res.Synthetic, port.KindLast, res.Price, res.Volume, res.Ts, 0)
		p.published.Add(1)
		if p.onCombined != nil {
			p.runHook(res)
		}
	}
}

func (p *Pipeline) runHook(res Result) {
	defer func() {
		if rec := recover(); rec != nil {
			p.errors.Add(1)
			log.Error().Interface("panic", rec).Str("synthetic", res.Synthetic).Msg("combined hook panicked")
		}
	}()
	p.onCombined(res)
}

// Stop marks the queues closed for further input, drains them, and waits up to
// the shutdown timeout for in-flight batches to finish.
func (p *Pipeline) Stop() {
	if !p.closed.CompareAndSwap(false, true) {
		return
	}
	close(p.quit)

	p.dispatchWg.Wait()
	if !waitTimeout(&p.workerWg, p.cfg.ShutdownTimeout) {
		log.Warn().Msg("pipeline workers did not drain before shutdown timeout")
	}

	close(p.output)
	if !waitTimeout(&p.pubWg, p.cfg.ShutdownTimeout) {
		log.Warn().Msg("pipeline publisher did not drain before shutdown timeout")
	}

	st := p.Stats()
	log.Info().
		Int64("received", st.TicksReceived).
		Int64("processed", st.TicksProcessed).
		Int64("published", st.ResultsPublished).
		Int64("dropped_input", st.DroppedInput).
		Int64("dropped_output", st.DroppedOutput).
		Int64("errors", st.Errors).
		Msg("combination pipeline stopped")
}

func waitTimeout(wg *sync.WaitGroup, d time.Duration) bool {
	done := make(chan struct{})
	go func() {
		defer close(done)
		wg.Wait()
	}()
	select {
	case <-done:
		return true
	case <-time.After(d):
		return false
	}
}

// Stats returns the operational counters.
func (p *Pipeline) Stats() Stats {
	uptime := time.Since(p.started)
	st := Stats{
		TicksReceived:    p.received.Load(),
		TicksProcessed:   p.processed.Load(),
		ResultsPublished: p.published.Load(),
		DroppedInput:     p.droppedInput.Load(),
		DroppedOutput:    p.droppedOutput.Load(),
		Errors:           p.errors.Load(),
		Uptime:           uptime,
	}
	if secs := uptime.Seconds(); secs > 0 {
		st.TicksPerSecond = float64(st.TicksProcessed) / secs
	}
	return st
}
