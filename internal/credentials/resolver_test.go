package credentials

import (
	"context"
	"io"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"crosspost/internal/model"
	"crosspost/internal/platform"
)

// tokenTransport serves a token-endpoint response and counts calls. A
// non-zero delay keeps concurrent refreshes overlapping.
type tokenTransport struct {
	body   string
	status int
	delay  time.Duration
	calls  atomic.Int64
}

func (t *tokenTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	t.calls.Add(1)
	if t.delay > 0 {
		time.Sleep(t.delay)
	}
	status := t.status
	if status == 0 {
		status = http.StatusOK
	}
	return &http.Response{
		StatusCode: status,
		Body:       io.NopCloser(strings.NewReader(t.body)),
		Header:     http.Header{"Content-Type": []string{"application/json"}},
	}, nil
}

func testApps() map[model.Platform]OAuthApp {
	return map[model.Platform]OAuthApp{
		model.PlatformTikTok:  {ClientID: "ck", ClientSecret: "cs"},
		model.PlatformYouTube: {ClientID: "gid", ClientSecret: "gsecret"},
	}
}

func expiredTikTokCred() *model.Credential {
	return &model.Credential{
		UserID:       "u1",
		Platform:     model.PlatformTikTok,
		AccessToken:  "old",
		RefreshToken: "refresh-1",
		Expiry:       time.Now().Add(-time.Hour),
	}
}

func TestResolveFreshCredential(t *testing.T) {
	store := NewMemoryStore()
	cred := expiredTikTokCred()
	cred.Expiry = time.Now().Add(200 * time.Hour)
	store.Put(context.Background(), cred)

	transport := &tokenTransport{body: `{}`}
	r := NewResolver(store, platform.NewRegistry(), testApps(),
		WithHTTPClient(&http.Client{Transport: transport}))

	got, err := r.Resolve(context.Background(), "u1", model.PlatformTikTok)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if got.AccessToken != "old" {
		t.Errorf("access token = %q, want the stored one", got.AccessToken)
	}
	if transport.calls.Load() != 0 {
		t.Errorf("token endpoint called for a fresh credential")
	}
}

func TestResolveRefreshesTikTok(t *testing.T) {
	store := NewMemoryStore()
	store.Put(context.Background(), expiredTikTokCred())

	transport := &tokenTransport{body: `{
		"data":{"access_token":"new-tok","refresh_token":"refresh-2","expires_in":86400,"open_id":"o1"}
	}`}
	r := NewResolver(store, platform.NewRegistry(), testApps(),
		WithHTTPClient(&http.Client{Transport: transport}))

	got, err := r.Resolve(context.Background(), "u1", model.PlatformTikTok)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if got.AccessToken != "new-tok" || got.RefreshToken != "refresh-2" {
		t.Errorf("refreshed credential = %+v", got)
	}
	if got.Extra["open_id"] != "o1" {
		t.Errorf("open_id not captured: %v", got.Extra)
	}
	if got.Expiry.Before(time.Now().Add(23 * time.Hour)) {
		t.Errorf("expiry %s not pushed out", got.Expiry)
	}

	// The refreshed credential must be persisted, not just returned.
	stored, err := store.Get(context.Background(), "u1", model.PlatformTikTok)
	if err != nil {
		t.Fatalf("get stored: %v", err)
	}
	if stored.AccessToken != "new-tok" {
		t.Errorf("stored access token = %q, want new-tok", stored.AccessToken)
	}
}

func TestResolveTikTokTopLevelResponse(t *testing.T) {
	store := NewMemoryStore()
	store.Put(context.Background(), expiredTikTokCred())

	// v2 endpoint answers without the data wrapper and without a new
	// refresh token; the old one must survive.
	transport := &tokenTransport{body: `{"access_token":"new-tok","expires_in":86400}`}
	r := NewResolver(store, platform.NewRegistry(), testApps(),
		WithHTTPClient(&http.Client{Transport: transport}))

	got, err := r.Resolve(context.Background(), "u1", model.PlatformTikTok)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if got.AccessToken != "new-tok" || got.RefreshToken != "refresh-1" {
		t.Errorf("refreshed credential = %+v", got)
	}
}

func TestRefreshDoesNotMutateEarlierCopies(t *testing.T) {
	store := NewMemoryStore()
	cred := expiredTikTokCred()
	cred.Extra = map[string]string{"scope": "video.upload"}
	store.Put(context.Background(), cred)

	before, err := store.Get(context.Background(), "u1", model.PlatformTikTok)
	if err != nil {
		t.Fatalf("get: %v", err)
	}

	transport := &tokenTransport{body: `{
		"data":{"access_token":"new-tok","expires_in":86400,"open_id":"o1"}
	}`}
	r := NewResolver(store, platform.NewRegistry(), testApps(),
		WithHTTPClient(&http.Client{Transport: transport}))

	if _, err := r.Resolve(context.Background(), "u1", model.PlatformTikTok); err != nil {
		t.Fatalf("resolve: %v", err)
	}

	// The copy fetched before the refresh must not see the refresh's writes.
	if _, ok := before.Extra["open_id"]; ok {
		t.Errorf("refresh leaked open_id into a previously fetched copy: %v", before.Extra)
	}
	if before.AccessToken != "old" {
		t.Errorf("refresh mutated a previously fetched copy: %q", before.AccessToken)
	}
}

func TestResolveMissingCredential(t *testing.T) {
	r := NewResolver(NewMemoryStore(), platform.NewRegistry(), testApps())

	_, err := r.Resolve(context.Background(), "nobody", model.PlatformTikTok)
	if platform.KindOf(err) != platform.KindInvalidToken {
		t.Fatalf("error kind = %q, want %q", platform.KindOf(err), platform.KindInvalidToken)
	}
}

func TestResolveWithoutRefreshToken(t *testing.T) {
	store := NewMemoryStore()
	cred := expiredTikTokCred()
	cred.RefreshToken = ""
	store.Put(context.Background(), cred)

	r := NewResolver(store, platform.NewRegistry(), testApps())

	_, err := r.Resolve(context.Background(), "u1", model.PlatformTikTok)
	if platform.KindOf(err) != platform.KindReauthRequired {
		t.Fatalf("error kind = %q, want %q", platform.KindOf(err), platform.KindReauthRequired)
	}
}

func TestResolveRefreshFailure(t *testing.T) {
	store := NewMemoryStore()
	store.Put(context.Background(), expiredTikTokCred())

	transport := &tokenTransport{status: http.StatusBadRequest, body: `{"error":"invalid_grant"}`}
	r := NewResolver(store, platform.NewRegistry(), testApps(),
		WithHTTPClient(&http.Client{Transport: transport}))

	_, err := r.Resolve(context.Background(), "u1", model.PlatformTikTok)
	if platform.KindOf(err) != platform.KindReauthRequired {
		t.Fatalf("error kind = %q, want %q", platform.KindOf(err), platform.KindReauthRequired)
	}
}

func TestResolveCollapsesConcurrentRefreshes(t *testing.T) {
	store := NewMemoryStore()
	store.Put(context.Background(), expiredTikTokCred())

	transport := &tokenTransport{
		body:  `{"data":{"access_token":"new-tok","refresh_token":"refresh-2","expires_in":86400}}`,
		delay: 100 * time.Millisecond,
	}
	r := NewResolver(store, platform.NewRegistry(), testApps(),
		WithHTTPClient(&http.Client{Transport: transport}))

	const workers = 10
	var wg sync.WaitGroup
	errs := make([]error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = r.Resolve(context.Background(), "u1", model.PlatformTikTok)
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("worker %d: %v", i, err)
		}
	}
	if got := transport.calls.Load(); got != 1 {
		t.Errorf("token endpoint called %d times for %d concurrent resolves, want 1", got, workers)
	}
}

func TestRefreshWindowTriggersEarlyRefresh(t *testing.T) {
	store := NewMemoryStore()
	cred := expiredTikTokCred()
	// Not expired, but inside the 72h window.
	cred.Expiry = time.Now().Add(time.Hour)
	store.Put(context.Background(), cred)

	transport := &tokenTransport{body: `{"data":{"access_token":"new-tok","expires_in":86400}}`}
	r := NewResolver(store, platform.NewRegistry(), testApps(),
		WithHTTPClient(&http.Client{Transport: transport}))

	got, err := r.Resolve(context.Background(), "u1", model.PlatformTikTok)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if got.AccessToken != "new-tok" {
		t.Errorf("access token = %q, want refreshed", got.AccessToken)
	}
	if transport.calls.Load() != 1 {
		t.Errorf("token endpoint calls = %d, want 1", transport.calls.Load())
	}
}
