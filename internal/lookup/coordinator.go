package lookup

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/clearmeat/go-scan-core/internal/cache"
	"github.com/clearmeat/go-scan-core/internal/domain"
	"github.com/clearmeat/go-scan-core/internal/repo"
)

var (
	lookupsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lookups_total",
			Help: "Settled lookups by outcome kind.",
		},
		[]string{"outcome"},
	)
	remoteCalls = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "remote_calls_total",
		Help: "Remote assessment calls actually issued.",
	})
	waitersAttached = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "lookup_waiters_attached_total",
		Help: "Lookups that attached to an in-flight remote call instead of starting one.",
	})
)

func init() {
	prometheus.MustRegister(lookupsTotal, remoteCalls, waitersAttached)
}

var tracer = otel.Tracer("github.com/clearmeat/go-scan-core/internal/lookup")

// flight tracks one outstanding remote call. The done channel is the
// broadcast point: it closes exactly once, after outcome is set, and every
// waiter reads the identical outcome. At most one flight exists per code.
type flight struct {
	done    chan struct{}
	outcome Outcome
}

// Coordinator deduplicates lookups per code and mediates between the durable
// cache and the remote client. Safe for concurrent use.
//
// The remote call runs detached from any caller's context so a torn-down
// session abandons only its waiters; a call already populating the cache is
// allowed to finish for the benefit of future sessions.
type Coordinator struct {
	store    *repo.AssessmentCache
	analyses *cache.AnalysisCache
	client   Client
	limiter  *rate.Limiter
	timeout  time.Duration
	log      zerolog.Logger

	mu       sync.Mutex
	inflight map[string]*flight
}

// NewCoordinator wires the coordinator. rps <= 0 disables remote-call
// shaping. timeout bounds each remote call regardless of caller contexts.
func NewCoordinator(store *repo.AssessmentCache, analyses *cache.AnalysisCache, client Client, rps float64, burst int, timeout time.Duration, log zerolog.Logger) *Coordinator {
	limit := rate.Inf
	if rps > 0 {
		limit = rate.Limit(rps)
	}
	if burst < 1 {
		burst = 1
	}
	return &Coordinator{
		store:    store,
		analyses: analyses,
		client:   client,
		limiter:  rate.NewLimiter(limit, burst),
		timeout:  timeout,
		log:      log.With().Str("component", "lookup").Logger(),
		inflight: make(map[string]*flight),
	}
}

// Lookup resolves code to an Outcome. It never returns an error: failures
// are classified into the outcome kinds. Guarantees:
//
//   - a valid cache entry short-circuits with zero remote calls;
//   - K concurrent lookups for one code issue exactly one remote call and
//     deliver K identical outcomes;
//   - lookups for distinct codes proceed independently;
//   - cancelling ctx detaches this caller only, the remote call (and its
//     cache write-back) continues for the remaining waiters.
func (c *Coordinator) Lookup(ctx context.Context, code string) Outcome {
	code = domain.NormalizeCode(code)
	if code == "" {
		return settle(Outcome{Kind: OutcomeNotFound})
	}

	// 1. Durable cache.
	if a, err := c.store.Get(ctx, code); err == nil {
		return settle(Outcome{Kind: OutcomeSuccess, Assessment: a, FromCache: true})
	} else if !errors.Is(err, repo.ErrNotFound) {
		// Store-level failures degrade to a remote call, same as a miss.
		c.log.Warn().Err(err).Str("code", code).Msg("cache read failed")
	}

	// 2. Attach to an existing flight, or 3. start one.
	c.mu.Lock()
	f, ok := c.inflight[code]
	if ok {
		waitersAttached.Inc()
	} else {
		f = &flight{done: make(chan struct{})}
		c.inflight[code] = f
		go c.run(code, f)
	}
	c.mu.Unlock()

	select {
	case <-f.done:
		return settle(f.outcome)
	case <-ctx.Done():
		// Waiter detaches; the flight keeps running for everyone else.
		return settle(Outcome{Kind: OutcomeTransient, Err: ctx.Err()})
	}
}

// run executes the remote call for one flight and broadcasts its outcome.
// It runs on a detached context bounded only by the configured timeout.
func (c *Coordinator) run(code string, f *flight) {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	ctx, span := tracer.Start(ctx, "lookup.remote",
		trace.WithAttributes(attribute.String("product.code", code)))
	defer span.End()

	// Shape the outbound call rate; a full bucket waits, never rejects.
	if err := c.limiter.Wait(ctx); err != nil {
		f.outcome = Outcome{Kind: OutcomeTransient, Err: err}
		c.finish(code, f)
		return
	}

	remoteCalls.Inc()
	a, err := c.client.GetAssessment(ctx, code)
	switch {
	case err == nil:
		// Write-back uses its own context: the call deadline may have been
		// mostly consumed by the network, and the row is worth keeping.
		wctx, wcancel := context.WithTimeout(context.Background(), 5*time.Second)
		if perr := c.store.Put(wctx, code, a); perr != nil {
			c.log.Warn().Err(perr).Str("code", code).Msg("cache write-back failed")
		}
		wcancel()
		f.outcome = Outcome{Kind: OutcomeSuccess, Assessment: a}
	case errors.Is(err, ErrNotFound):
		f.outcome = Outcome{Kind: OutcomeNotFound}
	case errors.Is(err, ErrRateLimited):
		f.outcome = Outcome{Kind: OutcomeRateLimited}
	default:
		f.outcome = Outcome{Kind: OutcomeTransient, Err: err}
	}
	c.finish(code, f)
}

// finish removes the flight and wakes every waiter with the settled outcome.
func (c *Coordinator) finish(code string, f *flight) {
	c.mu.Lock()
	delete(c.inflight, code)
	c.mu.Unlock()
	close(f.done)

	ev := c.log.Debug()
	if f.outcome.Kind == OutcomeTransient {
		ev = c.log.Warn().Err(f.outcome.Err)
	}
	ev.Str("code", code).Str("outcome", f.outcome.Kind.String()).Msg("lookup settled")
}

// IngredientDetail resolves one ingredient analysis through the volatile
// cache, falling back to the remote API on a miss. Failures are not cached.
func (c *Coordinator) IngredientDetail(ctx context.Context, id string) (*domain.IngredientAnalysis, error) {
	if ia, ok := c.analyses.Get(id); ok {
		return ia, nil
	}

	cctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	ia, err := c.client.GetIngredient(cctx, id)
	if err != nil {
		return nil, err
	}
	c.analyses.Set(id, ia)
	return ia, nil
}

// InFlight reports the number of outstanding remote calls. Exposed for the
// admin surface and tests.
func (c *Coordinator) InFlight() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.inflight)
}

// settle records the outcome metric and passes the outcome through.
func settle(o Outcome) Outcome {
	lookupsTotal.WithLabelValues(o.Kind.String()).Inc()
	return o
}
