package provider

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"range-instance-backend/config"
)

// maxTransientErrors is the number of consecutive poll failures a waiter
// tolerates before abandoning an operation that may still be running
// provider-side.
const maxTransientErrors = 3

// CloudGateway implements Gateway over a computeAPI, adding waiters,
// per-call retry with backoff, and per-operation timeouts.
type CloudGateway struct {
	api  computeAPI
	opts Options
}

// NewHCloudGateway builds a gateway backed by the Hetzner Cloud API.
func NewHCloudGateway(cfg config.ProviderConfig) *CloudGateway {
	return newGateway(newHCloudCompute(cfg), Options{
		PollInterval:     cfg.PollInterval,
		MaxPolls:         cfg.MaxPolls,
		RetryBudget:      cfg.RetryBudget,
		BaseBackoff:      cfg.BaseBackoff,
		MaxBackoff:       cfg.MaxBackoff,
		AttemptTimeout:   cfg.AttemptTimeout,
		OperationTimeout: cfg.OperationTimeout,
	})
}

func newGateway(api computeAPI, opts Options) *CloudGateway {
	return &CloudGateway{api: api, opts: opts}
}

// Launch creates a resource from imageID and resolves once the provider
// confirms it exists and is running.
func (g *CloudGateway) Launch(ctx context.Context, imageID string) (*LaunchResult, error) {
	ctx, cancel := context.WithTimeout(ctx, g.opts.OperationTimeout)
	defer cancel()

	name := "inst-" + uuid.NewString()[:8]

	var created *resourceInfo
	err := g.call(ctx, func(ctx context.Context) error {
		info, err := g.api.CreateServer(ctx, name, imageID)
		if err != nil {
			return err
		}
		created = info
		return nil
	})
	if err != nil {
		return nil, &Error{Action: "launch", Err: err}
	}

	if _, err := g.waitExists(ctx, created.ID); err != nil {
		return nil, &Error{Action: "launch", Err: err}
	}
	running, err := g.waitForStatus(ctx, created.ID, statusRunning)
	if err != nil {
		return nil, &Error{Action: "launch", Err: err}
	}

	address := running.Address
	if address == "" {
		address = created.Address
	}
	return &LaunchResult{ResourceID: created.ID, Address: address}, nil
}

// Start powers the resource on, waits for the running state, and
// re-describes it to pick up the address, which is not guaranteed stable
// across stop/start cycles.
func (g *CloudGateway) Start(ctx context.Context, resourceID string) (*StartResult, error) {
	ctx, cancel := context.WithTimeout(ctx, g.opts.OperationTimeout)
	defer cancel()

	err := g.call(ctx, func(ctx context.Context) error {
		return g.api.PowerOn(ctx, resourceID)
	})
	if err != nil {
		return nil, &Error{Action: "start", Err: err}
	}

	if _, err := g.waitForStatus(ctx, resourceID, statusRunning); err != nil {
		return nil, &Error{Action: "start", Err: err}
	}

	var refreshed *resourceInfo
	err = g.call(ctx, func(ctx context.Context) error {
		info, err := g.api.GetServer(ctx, resourceID)
		if err != nil {
			return err
		}
		refreshed = info
		return nil
	})
	if err != nil {
		return nil, &Error{Action: "start", Err: err}
	}
	if refreshed == nil || refreshed.Address == "" {
		return nil, &Error{Action: "start", Err: fmt.Errorf("no address discoverable for resource %s after start", resourceID)}
	}
	return &StartResult{Address: refreshed.Address}, nil
}

// Stop powers the resource off and resolves only once the provider reports
// it actually stopped.
func (g *CloudGateway) Stop(ctx context.Context, resourceID string) error {
	ctx, cancel := context.WithTimeout(ctx, g.opts.OperationTimeout)
	defer cancel()

	err := g.call(ctx, func(ctx context.Context) error {
		return g.api.PowerOff(ctx, resourceID)
	})
	if err != nil {
		return &Error{Action: "stop", Err: err}
	}

	if _, err := g.waitForStatus(ctx, resourceID, statusOff); err != nil {
		return &Error{Action: "stop", Err: err}
	}
	return nil
}

// Terminate deletes the resource and waits until the provider no longer
// reports it.
func (g *CloudGateway) Terminate(ctx context.Context, resourceID string) error {
	ctx, cancel := context.WithTimeout(ctx, g.opts.OperationTimeout)
	defer cancel()

	err := g.call(ctx, func(ctx context.Context) error {
		return g.api.DeleteServer(ctx, resourceID)
	})
	if err != nil {
		return &Error{Action: "terminate", Err: err}
	}

	if err := g.waitGone(ctx, resourceID); err != nil {
		return &Error{Action: "terminate", Err: err}
	}
	return nil
}

// call wraps one provider call in the retry/backoff policy.
func (g *CloudGateway) call(ctx context.Context, fn func(ctx context.Context) error) error {
	return withRetry(ctx, g.opts.RetryBudget, g.opts.AttemptTimeout, g.opts.BaseBackoff, g.opts.MaxBackoff, fn)
}

// waitExists polls until the resource is reported by the provider.
func (g *CloudGateway) waitExists(ctx context.Context, id string) (*resourceInfo, error) {
	return g.poll(ctx, id, func(info *resourceInfo) bool {
		return info != nil
	}, "exist")
}

// waitForStatus polls until the resource reaches the target status.
func (g *CloudGateway) waitForStatus(ctx context.Context, id, target string) (*resourceInfo, error) {
	return g.poll(ctx, id, func(info *resourceInfo) bool {
		return info != nil && info.Status == target
	}, fmt.Sprintf("reach %q", target))
}

// waitGone polls until the provider stops reporting the resource.
func (g *CloudGateway) waitGone(ctx context.Context, id string) error {
	_, err := g.poll(ctx, id, func(info *resourceInfo) bool {
		return info == nil
	}, "disappear")
	return err
}

func (g *CloudGateway) poll(ctx context.Context, id string, done func(*resourceInfo) bool, what string) (*resourceInfo, error) {
	var consecutiveErrors int

	for i := 0; i < g.opts.MaxPolls; i++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(g.opts.PollInterval):
		}

		info, err := g.api.GetServer(ctx, id)
		if err != nil {
			consecutiveErrors++
			if consecutiveErrors >= maxTransientErrors {
				return nil, fmt.Errorf("error polling resource %s (after %d consecutive failures): %w", id, consecutiveErrors, err)
			}
			log.Printf("transient error polling resource %s, retrying (%d/%d): %v", id, consecutiveErrors, maxTransientErrors, err)
			continue
		}
		consecutiveErrors = 0

		if done(info) {
			return info, nil
		}
	}

	return nil, fmt.Errorf("timed out waiting for resource %s to %s (%d polls)", id, what, g.opts.MaxPolls)
}
