package platform

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"crosspost/internal/logging"
	"crosspost/internal/model"
)

// Instagram publishes through the Graph API's two-step container flow: a
// media container is created from a public media URL, then published against
// the connected business account. The account id lives in the credential's
// Extra map under "account_id".
type Instagram struct {
	limits Limits
	client *http.Client
	log    *logging.Logger
}

func NewInstagram(reg *Registry, client *http.Client, log *logging.Logger) *Instagram {
	limits, _ := reg.Limits(model.PlatformInstagram)
	if log == nil {
		log = logging.Discard()
	}
	return &Instagram{
		limits: limits,
		client: httpClient(client, limits.Timeout),
		log:    log,
	}
}

func (ig *Instagram) ID() model.Platform { return model.PlatformInstagram }

func (ig *Instagram) accountID(cred *model.Credential) (string, error) {
	if cred.Extra != nil {
		if id := cred.Extra["account_id"]; id != "" {
			return id, nil
		}
	}
	return "", Errf(KindInvalidInput, "instagram account id missing from credential")
}

func (ig *Instagram) Publish(ctx context.Context, cred *model.Credential, post *model.Post) (string, error) {
	if err := checkToken(cred); err != nil {
		return "", err
	}
	accountID, err := ig.accountID(cred)
	if err != nil {
		return "", err
	}
	if len(post.Media) == 0 {
		return "", Errf(KindInvalidInput, "instagram publish requires media")
	}
	media := post.Media[0]
	if media.URL == "" {
		return "", Errf(KindInvalidInput, "instagram media must be a public URL")
	}

	containerID, err := ig.createContainer(ctx, cred.AccessToken, accountID, media, post.Caption)
	if err != nil {
		return "", err
	}
	mediaID, err := ig.publishContainer(ctx, cred.AccessToken, accountID, containerID)
	if err != nil {
		return "", err
	}
	ig.log.Infof("instagram: published media %s via container %s", mediaID, containerID)
	return mediaID, nil
}

func (ig *Instagram) createContainer(ctx context.Context, token, accountID string, media model.MediaRef, caption string) (string, error) {
	form := url.Values{}
	form.Set("caption", caption)
	form.Set("access_token", token)
	if media.Kind == model.MediaVideo {
		form.Set("media_type", "REELS")
		form.Set("video_url", media.URL)
	} else {
		form.Set("image_url", media.URL)
	}

	u := fmt.Sprintf("%s/%s/media", ig.limits.APIBaseURL, url.PathEscape(accountID))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, strings.NewReader(form.Encode()))
	if err != nil {
		return "", Wrap(KindInvalidInput, err, "build container request")
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	body, err := send(ctx, ig.client, req, "instagram container create", KindPublishFailed)
	if err != nil {
		return "", err
	}
	return requireField(body, "id", "instagram container create")
}

func (ig *Instagram) publishContainer(ctx context.Context, token, accountID, containerID string) (string, error) {
	form := url.Values{}
	form.Set("creation_id", containerID)
	form.Set("access_token", token)

	u := fmt.Sprintf("%s/%s/media_publish", ig.limits.APIBaseURL, url.PathEscape(accountID))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, strings.NewReader(form.Encode()))
	if err != nil {
		return "", Wrap(KindInvalidInput, err, "build publish request")
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	body, err := send(ctx, ig.client, req, "instagram media publish", KindPublishFailed)
	if err != nil {
		return "", err
	}
	return requireField(body, "id", "instagram media publish")
}

// Schedule is not supported by the Graph publishing API.
func (ig *Instagram) Schedule(ctx context.Context, cred *model.Credential, post *model.Post, whenUTC time.Time) (string, error) {
	if err := checkScheduleTime(whenUTC); err != nil {
		return "", err
	}
	return "", Errf(KindNotSupported, "instagram does not support native scheduling")
}

func (ig *Instagram) FetchProfile(ctx context.Context, cred *model.Credential) (*model.ProfileInfo, error) {
	if err := checkToken(cred); err != nil {
		return nil, err
	}
	accountID, err := ig.accountID(cred)
	if err != nil {
		return nil, err
	}

	fields := "id,username,name,profile_picture_url,followers_count,follows_count,media_count"
	u := fmt.Sprintf("%s/%s?fields=%s&access_token=%s",
		ig.limits.APIBaseURL, url.PathEscape(accountID), fields, url.QueryEscape(cred.AccessToken))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, Wrap(KindInvalidInput, err, "build profile request")
	}

	body, err := send(ctx, ig.client, req, "instagram profile fetch", KindFetchFailed)
	if err != nil {
		return nil, err
	}
	if !gjson.Get(body, "id").Exists() {
		return nil, Errf(KindMalformedResponse, "instagram profile response missing id")
	}
	return &model.ProfileInfo{
		ID:          gjson.Get(body, "id").String(),
		DisplayName: gjson.Get(body, "username").String(),
		AvatarURL:   gjson.Get(body, "profile_picture_url").String(),
		Followers:   gjson.Get(body, "followers_count").Int(),
		Following:   gjson.Get(body, "follows_count").Int(),
		Posts:       gjson.Get(body, "media_count").Int(),
	}, nil
}

func (ig *Instagram) FetchPostMetrics(ctx context.Context, cred *model.Credential, externalID string) (*model.Metrics, error) {
	if err := checkToken(cred); err != nil {
		return nil, err
	}
	if externalID == "" {
		return nil, Errf(KindInvalidInput, "media id is empty")
	}

	metrics := "impressions,likes,comments,shares"
	u := fmt.Sprintf("%s/%s/insights?metric=%s&access_token=%s",
		ig.limits.APIBaseURL, url.PathEscape(externalID), metrics, url.QueryEscape(cred.AccessToken))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, Wrap(KindInvalidInput, err, "build insights request")
	}

	body, err := send(ctx, ig.client, req, "instagram insights fetch", KindFetchFailed)
	if err != nil {
		return nil, err
	}

	data := gjson.Get(body, "data")
	if !data.Exists() || !data.IsArray() {
		return nil, Errf(KindMalformedResponse, "instagram insights response missing data")
	}
	out := &model.Metrics{}
	data.ForEach(func(_, item gjson.Result) bool {
		value := item.Get("values.0.value").Int()
		switch item.Get("name").String() {
		case "impressions":
			out.Views = value
		case "likes":
			out.Likes = value
		case "comments":
			out.Comments = value
		case "shares":
			out.Shares = value
		}
		return true
	})
	return out, nil
}
