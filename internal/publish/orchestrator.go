package publish

import (
	"context"
	"sync"
	"time"

	"github.com/samber/lo"
	"golang.org/x/sync/semaphore"

	"crosspost/internal/credentials"
	"crosspost/internal/logging"
	"crosspost/internal/model"
	"crosspost/internal/platform"
)

// Orchestrator fans one post out to a set of platform adapters and gathers
// per-platform results. Every requested platform yields exactly one
// PublishResult, in request order; one platform's failure never blocks
// another's attempt and there is no early return in either direction.
type Orchestrator struct {
	adapters  map[model.Platform]platform.Adapter
	registry  *platform.Registry
	resolver  *credentials.Resolver
	sem       *semaphore.Weighted
	scheduler *Scheduler
	log       *logging.Logger
}

type Option func(*Orchestrator)

// WithMaxConcurrent caps the number of simultaneous per-platform attempts.
// Unset means one goroutine per requested platform.
func WithMaxConcurrent(n int64) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.sem = semaphore.NewWeighted(n)
		}
	}
}

func WithLogger(log *logging.Logger) Option {
	return func(o *Orchestrator) { o.log = log }
}

func New(adapters []platform.Adapter, reg *platform.Registry, resolver *credentials.Resolver, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		adapters: lo.SliceToMap(adapters, func(a platform.Adapter) (model.Platform, platform.Adapter) {
			return a.ID(), a
		}),
		registry: reg,
		resolver: resolver,
		log:      logging.Discard(),
	}
	for _, opt := range opts {
		opt(o)
	}
	o.scheduler = newScheduler(o, o.log)
	return o
}

// Scheduler returns the client-side delayed-publish scheduler used as the
// fallback for platforms without native scheduling.
func (o *Orchestrator) Scheduler() *Scheduler { return o.scheduler }

// Publish publishes the post to every requested platform concurrently and
// waits for all attempts to finish.
func (o *Orchestrator) Publish(ctx context.Context, post *model.Post, platforms []model.Platform, userID string) []model.PublishResult {
	return o.fanOut(ctx, platforms, func(ctx context.Context, p model.Platform) model.PublishResult {
		return o.publishOne(ctx, post, p, userID)
	})
}

// Schedule publishes the post at whenUTC. Platforms with native scheduling
// get a platform-side scheduled post; the rest are queued for client-side
// delayed publish. A schedule time that is not strictly in the future fails
// every platform without any network call.
func (o *Orchestrator) Schedule(ctx context.Context, post *model.Post, platforms []model.Platform, whenUTC time.Time, userID string) []model.PublishResult {
	if !whenUTC.After(time.Now().UTC()) {
		return lo.Map(platforms, func(p model.Platform, _ int) model.PublishResult {
			return failure(p, platform.Errf(platform.KindInvalidScheduleTime,
				"schedule time %s is not in the future", whenUTC.Format(time.RFC3339)))
		})
	}
	return o.fanOut(ctx, platforms, func(ctx context.Context, p model.Platform) model.PublishResult {
		return o.scheduleOne(ctx, post, p, whenUTC, userID)
	})
}

// FetchAnalytics returns per-post metrics for one published post.
func (o *Orchestrator) FetchAnalytics(ctx context.Context, userID string, p model.Platform, externalID string) (*model.Metrics, error) {
	adapter, ok := o.adapters[p]
	if !ok {
		return nil, platform.Errf(platform.KindValidationFailed, "no adapter registered for %q", p)
	}
	cred, err := o.resolver.Resolve(ctx, userID, p)
	if err != nil {
		return nil, err
	}
	metrics, err := adapter.FetchPostMetrics(ctx, cred, externalID)
	if platform.KindOf(err) == platform.KindInvalidToken {
		if cred, err = o.resolver.ForceRefresh(ctx, userID, p); err != nil {
			return nil, err
		}
		return adapter.FetchPostMetrics(ctx, cred, externalID)
	}
	return metrics, err
}

// FetchProfile returns the connected account's profile for one platform.
func (o *Orchestrator) FetchProfile(ctx context.Context, userID string, p model.Platform) (*model.ProfileInfo, error) {
	adapter, ok := o.adapters[p]
	if !ok {
		return nil, platform.Errf(platform.KindValidationFailed, "no adapter registered for %q", p)
	}
	cred, err := o.resolver.Resolve(ctx, userID, p)
	if err != nil {
		return nil, err
	}
	profile, err := adapter.FetchProfile(ctx, cred)
	if platform.KindOf(err) == platform.KindInvalidToken {
		if cred, err = o.resolver.ForceRefresh(ctx, userID, p); err != nil {
			return nil, err
		}
		return adapter.FetchProfile(ctx, cred)
	}
	return profile, err
}

// fanOut runs attempt once per platform concurrently, preserving request
// order in the result slice. Results land at their request index, so
// completion order never reorders the response.
func (o *Orchestrator) fanOut(ctx context.Context, platforms []model.Platform, attempt func(context.Context, model.Platform) model.PublishResult) []model.PublishResult {
	results := make([]model.PublishResult, len(platforms))
	var wg sync.WaitGroup
	for i, p := range platforms {
		wg.Add(1)
		go func(i int, p model.Platform) {
			defer wg.Done()
			if o.sem != nil {
				if err := o.sem.Acquire(ctx, 1); err != nil {
					results[i] = failure(p, platform.Wrap(platform.KindCancelled, err, "publish cancelled"))
					return
				}
				defer o.sem.Release(1)
			}
			results[i] = attempt(ctx, p)
		}(i, p)
	}
	wg.Wait()
	return results
}

func (o *Orchestrator) publishOne(ctx context.Context, post *model.Post, p model.Platform, userID string) model.PublishResult {
	adapter, cred, result := o.prepare(ctx, post, p, userID)
	if result != nil {
		return *result
	}

	externalID, err := adapter.Publish(ctx, cred, post)
	externalID, err = o.retryOnce(ctx, p, userID, err, externalID, func(cred *model.Credential) (string, error) {
		return adapter.Publish(ctx, cred, post)
	})
	if err != nil {
		o.log.Errorf("publish: %s failed for post %s: %v", p, post.ID, err)
		return failure(p, err)
	}
	o.log.Infof("publish: %s succeeded for post %s, external id %s", p, post.ID, externalID)
	return success(p, externalID)
}

func (o *Orchestrator) scheduleOne(ctx context.Context, post *model.Post, p model.Platform, whenUTC time.Time, userID string) model.PublishResult {
	adapter, cred, result := o.prepare(ctx, post, p, userID)
	if result != nil {
		return *result
	}

	externalID, err := adapter.Schedule(ctx, cred, post, whenUTC)
	if platform.KindOf(err) == platform.KindNotSupported {
		entryID := o.scheduler.Add(post, p, userID, whenUTC)
		o.log.Infof("publish: %s lacks native scheduling, queued %s for %s",
			p, entryID, whenUTC.Format(time.RFC3339))
		return success(p, entryID)
	}
	externalID, err = o.retryOnce(ctx, p, userID, err, externalID, func(cred *model.Credential) (string, error) {
		return adapter.Schedule(ctx, cred, post, whenUTC)
	})
	if err != nil {
		return failure(p, err)
	}
	return success(p, externalID)
}

// prepare resolves the credential and validates the post against the
// platform's constraints. A non-nil result short-circuits the attempt.
func (o *Orchestrator) prepare(ctx context.Context, post *model.Post, p model.Platform, userID string) (platform.Adapter, *model.Credential, *model.PublishResult) {
	adapter, ok := o.adapters[p]
	if !ok {
		r := failure(p, platform.Errf(platform.KindValidationFailed, "no adapter registered for %q", p))
		return nil, nil, &r
	}
	cred, err := o.resolver.Resolve(ctx, userID, p)
	if err != nil {
		r := failure(p, err)
		return nil, nil, &r
	}
	if err := o.registry.ValidatePost(p, post); err != nil {
		r := failure(p, err)
		return nil, nil, &r
	}
	return adapter, cred, nil
}

// retryOnce applies the orchestrator retry policy: an InvalidToken failure
// triggers exactly one credential refresh and one retry, a network failure
// one retry, and everything else is terminal.
func (o *Orchestrator) retryOnce(ctx context.Context, p model.Platform, userID string, err error, externalID string, attempt func(*model.Credential) (string, error)) (string, error) {
	switch platform.KindOf(err) {
	case platform.KindInvalidToken:
		cred, refreshErr := o.resolver.ForceRefresh(ctx, userID, p)
		if refreshErr != nil {
			return "", refreshErr
		}
		o.log.Infof("publish: retrying %s after token refresh", p)
		return attempt(cred)
	case platform.KindNetwork:
		o.log.Infof("publish: retrying %s after network error: %v", p, err)
		cred, resolveErr := o.resolver.Resolve(ctx, userID, p)
		if resolveErr != nil {
			return "", resolveErr
		}
		return attempt(cred)
	}
	return externalID, err
}

func success(p model.Platform, externalID string) model.PublishResult {
	return model.PublishResult{
		Platform:   p,
		Success:    true,
		ExternalID: externalID,
		Timestamp:  time.Now().UTC(),
	}
}

func failure(p model.Platform, err error) model.PublishResult {
	code := string(platform.KindOf(err))
	if code == "" {
		code = string(platform.KindPublishFailed)
	}
	return model.PublishResult{
		Platform:     p,
		Success:      false,
		ErrorCode:    code,
		ErrorMessage: err.Error(),
		Timestamp:    time.Now().UTC(),
	}
}
