package tasks

import (
	"context"
	"fmt"
	"sync"

	"github.com/desertthunder/evpn/internal/models"
	"github.com/desertthunder/evpn/internal/proxy"
	"github.com/desertthunder/evpn/internal/shared"
	"golang.org/x/time/rate"
)

// SweepOpts contains configuration for a location sweep.
type SweepOpts struct {
	NumWorkers  int                   // Concurrent probes (default: 4, max 10)
	RateLimit   float64               // Address requests per second (default: 2)
	Scheme      string                // Proxy scheme (default: https)
	Port        int                   // Proxy port (default: 443)
	BypassList  []string              // Hosts that skip the proxy
	Credentials proxy.CredentialTable // Zero value uses proxy.DefaultTable
}

type sweepJob struct {
	index    int
	location models.Location
	host     string
}

// Sweep requests an address for every location of dir and probes each through the proxy.
//
// A location failing either step is reported in its [LocationCheck]; only a missing
// dependency or an empty directory fails the sweep. Results keep directory order.
func (e *SweepEngine) Sweep(ctx context.Context, prog chan<- ProgressUpdate, dir models.Directory, opts SweepOpts) (*SweepResult, error) {
	if e.addresses == nil || e.checker == nil {
		return nil, fmt.Errorf("%w: sweep needs a backend and a prober", shared.ErrServiceUnavailable)
	}

	locations := dir.Entries()
	if len(locations) == 0 {
		return nil, shared.ErrNoEndpoints
	}

	if opts.NumWorkers <= 0 {
		opts.NumWorkers = 4
	}
	if opts.NumWorkers > 10 {
		opts.NumWorkers = 10
	}
	if opts.RateLimit <= 0 {
		opts.RateLimit = 2
	}
	if opts.Scheme == "" {
		opts.Scheme = "https"
	}
	if opts.Port <= 0 {
		opts.Port = 443
	}
	if opts.Credentials.Default.IsZero() {
		opts.Credentials = proxy.DefaultTable
	}

	start := e.now()
	limiter := rate.NewLimiter(rate.Limit(opts.RateLimit), 1)
	jobs := make(chan sweepJob, len(locations))
	results := make(chan sweepJob, len(locations))
	checks := make([]LocationCheck, len(locations))
	for i, loc := range locations {
		checks[i] = LocationCheck{Location: loc}
	}

	var wg sync.WaitGroup
	for i := 0; i < opts.NumWorkers; i++ {
		wg.Add(1)
		go e.probeWorker(ctx, &wg, jobs, checks, results, opts)
	}

	go func() {
		defer close(jobs)
		for i, loc := range locations {
			if err := limiter.Wait(ctx); err != nil {
				checks[i].Err = err
				results <- sweepJob{index: i, location: loc}
				continue
			}

			e.sendProgress(prog, requestingAddressUpdate(i+1, len(locations), loc))
			host, err := e.addresses.RequestIP(ctx, loc.ID)
			if err != nil {
				checks[i].Err = fmt.Errorf("address request failed: %w", err)
				results <- sweepJob{index: i, location: loc}
				continue
			}
			jobs <- sweepJob{index: i, location: loc, host: host}
		}
	}()

	result := &SweepResult{Total: len(locations)}
	for completed := 1; completed <= len(locations); completed++ {
		job := <-results
		check := checks[job.index]
		if check.OK() {
			result.Reachable++
		} else {
			result.Failed++
			checks[job.index].Error = check.Err.Error()
		}
		e.sendProgress(prog, probeCompletedUpdate(completed, len(locations), check))
	}
	wg.Wait()

	result.Checks = checks
	result.Duration = e.now().Sub(start)
	e.sendProgress(prog, sweepCompleteUpdate(result))
	return result, nil
}

// probeWorker probes addresses from the jobs channel. Each job owns checks[job.index].
func (e *SweepEngine) probeWorker(
	ctx context.Context,
	wg *sync.WaitGroup,
	jobs <-chan sweepJob,
	checks []LocationCheck,
	results chan<- sweepJob,
	opts SweepOpts,
) {
	defer wg.Done()

	for job := range jobs {
		check := &checks[job.index]
		check.Host = job.host

		if err := ctx.Err(); err != nil {
			check.Err = err
			results <- job
			continue
		}

		cfg := models.FixedProxy(opts.Scheme, job.host, opts.Port, opts.BypassList, opts.Credentials.Derive(job.host))
		began := e.now()
		res, err := e.checker.Check(ctx, cfg)
		check.Latency = e.now().Sub(began)
		if err != nil {
			check.Err = err
		} else {
			check.ExitIP = res.IP
		}
		results <- job
	}
}
