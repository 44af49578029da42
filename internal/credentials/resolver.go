package credentials

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"

	"crosspost/internal/logging"
	"crosspost/internal/model"
	"crosspost/internal/platform"
)

// DefaultRefreshWindow is how far ahead of expiry a token is refreshed.
const DefaultRefreshWindow = 72 * time.Hour

// OAuthApp holds one platform's client registration used for token refresh.
type OAuthApp struct {
	ClientID     string
	ClientSecret string
}

// Resolver maps a (user, platform) pair to a valid access token, refreshing
// through the platform's token endpoint when expiry is imminent. Concurrent
// refreshes for the same pair collapse into a single HTTP call.
type Resolver struct {
	store    Store
	registry *platform.Registry
	apps     map[model.Platform]OAuthApp
	window   time.Duration
	client   *http.Client
	group    singleflight.Group
	log      *logging.Logger
}

type ResolverOption func(*Resolver)

// WithRefreshWindow overrides the refresh-ahead window.
func WithRefreshWindow(w time.Duration) ResolverOption {
	return func(r *Resolver) { r.window = w }
}

// WithHTTPClient injects the client used for token-endpoint calls.
func WithHTTPClient(c *http.Client) ResolverOption {
	return func(r *Resolver) { r.client = c }
}

func WithLogger(log *logging.Logger) ResolverOption {
	return func(r *Resolver) { r.log = log }
}

func NewResolver(store Store, reg *platform.Registry, apps map[model.Platform]OAuthApp, opts ...ResolverOption) *Resolver {
	r := &Resolver{
		store:    store,
		registry: reg,
		apps:     apps,
		window:   DefaultRefreshWindow,
		client:   &http.Client{Timeout: 30 * time.Second},
		log:      logging.Discard(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve returns a valid credential for (userID, p), refreshing first if
// the stored one is expired or inside the refresh window.
func (r *Resolver) Resolve(ctx context.Context, userID string, p model.Platform) (*model.Credential, error) {
	cred, err := r.store.Get(ctx, userID, p)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, platform.Errf(platform.KindInvalidToken, "no %s credential for user %s", p, userID)
		}
		return nil, err
	}
	if !cred.NeedsRefresh(time.Now(), r.window) {
		return cred, nil
	}
	return r.refreshShared(ctx, userID, p)
}

// ForceRefresh refreshes regardless of expiry. The orchestrator calls this
// once after an adapter reports KindInvalidToken.
func (r *Resolver) ForceRefresh(ctx context.Context, userID string, p model.Platform) (*model.Credential, error) {
	return r.refreshShared(ctx, userID, p)
}

func (r *Resolver) refreshShared(ctx context.Context, userID string, p model.Platform) (*model.Credential, error) {
	key := userID + "/" + string(p)
	v, err, _ := r.group.Do(key, func() (any, error) {
		return r.refresh(ctx, userID, p)
	})
	if err != nil {
		return nil, err
	}
	return v.(*model.Credential), nil
}

func (r *Resolver) refresh(ctx context.Context, userID string, p model.Platform) (*model.Credential, error) {
	cred, err := r.store.Get(ctx, userID, p)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, platform.Errf(platform.KindInvalidToken, "no %s credential for user %s", p, userID)
		}
		return nil, err
	}
	if cred.RefreshToken == "" {
		return nil, platform.Errf(platform.KindReauthRequired, "%s credential for user %s has no refresh token", p, userID)
	}

	app, ok := r.apps[p]
	if !ok {
		return nil, platform.Errf(platform.KindReauthRequired, "no oauth app registered for %s", p)
	}
	limits, ok := r.registry.Limits(p)
	if !ok || limits.OAuth.TokenURL == "" {
		return nil, platform.Errf(platform.KindReauthRequired, "%s has no token endpoint", p)
	}

	var refreshed *model.Credential
	if p == model.PlatformTikTok {
		refreshed, err = r.refreshTikTok(ctx, cred, app, limits.OAuth.TokenURL)
	} else {
		refreshed, err = r.refreshOAuth2(ctx, cred, app, limits.OAuth)
	}
	if err != nil {
		return nil, err
	}

	if err := r.store.Put(ctx, refreshed); err != nil {
		return nil, err
	}
	r.log.Infof("credentials: refreshed %s token for user %s, new expiry %s",
		p, userID, refreshed.Expiry.Format(time.RFC3339))
	return refreshed, nil
}

// refreshTikTok uses TikTok's form-encoded client_key grant, which the
// generic oauth2 flow cannot express.
func (r *Resolver) refreshTikTok(ctx context.Context, cred *model.Credential, app OAuthApp, tokenURL string) (*model.Credential, error) {
	form := url.Values{}
	form.Set("client_key", app.ClientID)
	form.Set("client_secret", app.ClientSecret)
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", cred.RefreshToken)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, platform.Wrap(platform.KindReauthRequired, err, "build refresh request")
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, platform.Wrap(platform.KindReauthRequired, err, "tiktok token refresh")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, platform.Wrap(platform.KindReauthRequired, err, "read refresh response")
	}
	if resp.StatusCode != http.StatusOK {
		return nil, platform.Errf(platform.KindReauthRequired, "tiktok token refresh failed with HTTP %d", resp.StatusCode)
	}

	// Token fields arrive either at the top level (v2) or wrapped in data (v1).
	doc := string(body)
	root := "data."
	if !gjson.Get(doc, "data.access_token").Exists() {
		root = ""
	}
	accessToken := gjson.Get(doc, root+"access_token").String()
	if accessToken == "" {
		return nil, platform.Errf(platform.KindReauthRequired, "tiktok token refresh response has no access_token")
	}
	expiresIn := gjson.Get(doc, root+"expires_in").Int()
	if expiresIn == 0 {
		expiresIn = 7200
	}
	refreshToken := gjson.Get(doc, root+"refresh_token").String()
	if refreshToken == "" {
		refreshToken = cred.RefreshToken
	}

	next := cred.Clone()
	next.AccessToken = accessToken
	next.RefreshToken = refreshToken
	next.Expiry = time.Now().Add(time.Duration(expiresIn) * time.Second)
	if openID := gjson.Get(doc, root+"open_id").String(); openID != "" {
		if next.Extra == nil {
			next.Extra = map[string]string{}
		}
		next.Extra["open_id"] = openID
	}
	return next, nil
}

// refreshOAuth2 runs the standard refresh-token grant via golang.org/x/oauth2.
func (r *Resolver) refreshOAuth2(ctx context.Context, cred *model.Credential, app OAuthApp, endpoint oauth2.Endpoint) (*model.Credential, error) {
	cfg := &oauth2.Config{
		ClientID:     app.ClientID,
		ClientSecret: app.ClientSecret,
		Endpoint:     endpoint,
	}
	ctx = context.WithValue(ctx, oauth2.HTTPClient, r.client)
	token, err := cfg.TokenSource(ctx, &oauth2.Token{RefreshToken: cred.RefreshToken}).Token()
	if err != nil {
		return nil, platform.Wrap(platform.KindReauthRequired, err, "%s token refresh", cred.Platform)
	}

	next := cred.Clone()
	next.AccessToken = token.AccessToken
	if token.RefreshToken != "" {
		next.RefreshToken = token.RefreshToken
	}
	next.Expiry = token.Expiry
	return next, nil
}
