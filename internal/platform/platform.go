package platform

import (
	"context"
	"net/http"
	"os"
	"time"

	"crosspost/internal/model"
)

// DefaultTimeout applies to every adapter HTTP client unless the registry
// overrides it per platform. Long-upload platforms need the full two minutes.
const DefaultTimeout = 120 * time.Second

// Adapter translates the uniform publish/query contract into one platform's
// HTTP calls. One implementation per platform; all are safe for concurrent
// use.
type Adapter interface {
	ID() model.Platform

	// Publish uploads the post's media and publishes it, returning the
	// platform-assigned external id.
	Publish(ctx context.Context, cred *model.Credential, post *model.Post) (string, error)

	// Schedule publishes the post with a platform-native scheduled time.
	// Platforms without native scheduling return KindNotSupported; the
	// orchestrator falls back to client-side delayed publish.
	Schedule(ctx context.Context, cred *model.Credential, post *model.Post, whenUTC time.Time) (string, error)

	// FetchProfile retrieves the connected account's display info and counters.
	FetchProfile(ctx context.Context, cred *model.Credential) (*model.ProfileInfo, error)

	// FetchPostMetrics retrieves per-post counters for a published post.
	FetchPostMetrics(ctx context.Context, cred *model.Credential, externalID string) (*model.Metrics, error)
}

// checkToken is the shared pre-flight credential check. Runs before any
// network call so an empty token never costs a request.
func checkToken(cred *model.Credential) error {
	if cred == nil || cred.AccessToken == "" {
		return Errf(KindInvalidToken, "access token is empty")
	}
	return nil
}

// checkMediaFile verifies a local media file exists and is non-empty,
// returning its size.
func checkMediaFile(path string) (int64, error) {
	if path == "" {
		return 0, Errf(KindFileNotFound, "media file path is empty")
	}
	info, err := os.Stat(path)
	if err != nil {
		return 0, Wrap(KindFileNotFound, err, "media file %s not found", path)
	}
	if info.Size() == 0 {
		return 0, Errf(KindFileNotFound, "media file %s is empty", path)
	}
	return info.Size(), nil
}

// checkScheduleTime rejects schedule times that are not strictly in the
// future, before any network call is made.
func checkScheduleTime(whenUTC time.Time) error {
	if !whenUTC.After(time.Now().UTC()) {
		return Errf(KindInvalidScheduleTime, "schedule time %s is not in the future", whenUTC.Format(time.RFC3339))
	}
	return nil
}

// httpClient returns client if non-nil, otherwise a client with the
// platform's configured timeout. Tests inject a mock transport here.
func httpClient(client *http.Client, timeout time.Duration) *http.Client {
	if client != nil {
		return client
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &http.Client{Timeout: timeout}
}
