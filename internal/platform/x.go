package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/url"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/dghubble/oauth1"
	"github.com/tidwall/gjson"

	"crosspost/internal/logging"
	"crosspost/internal/model"
)

// X publishes through the v2 API with OAuth1 request signing. Video goes
// through the chunked initialize/append/finalize flow, then a tweet is
// created referencing the media id. The credential carries the user's oauth1
// pair: AccessToken plus Extra["token_secret"].
type X struct {
	limits         Limits
	consumerKey    string
	consumerSecret string
	base           *http.Client
	log            *logging.Logger
}

func NewX(reg *Registry, consumerKey, consumerSecret string, client *http.Client, log *logging.Logger) *X {
	limits, _ := reg.Limits(model.PlatformX)
	if log == nil {
		log = logging.Discard()
	}
	return &X{
		limits:         limits,
		consumerKey:    consumerKey,
		consumerSecret: consumerSecret,
		base:           httpClient(client, limits.Timeout),
		log:            log,
	}
}

func (x *X) ID() model.Platform { return model.PlatformX }

// signedClient builds an http.Client that oauth1-signs every request using
// the injected base transport, so tests observe signed calls too.
func (x *X) signedClient(ctx context.Context, cred *model.Credential) (*http.Client, error) {
	secret := ""
	if cred.Extra != nil {
		secret = cred.Extra["token_secret"]
	}
	if secret == "" {
		return nil, Errf(KindInvalidToken, "x credential missing token secret")
	}
	cfg := oauth1.NewConfig(x.consumerKey, x.consumerSecret)
	token := oauth1.NewToken(cred.AccessToken, secret)
	client := cfg.Client(context.WithValue(ctx, oauth1.HTTPClient, x.base), token)
	client.Timeout = x.limits.Timeout
	return client, nil
}

func (x *X) Publish(ctx context.Context, cred *model.Credential, post *model.Post) (string, error) {
	if err := checkToken(cred); err != nil {
		return "", err
	}
	client, err := x.signedClient(ctx, cred)
	if err != nil {
		return "", err
	}

	media := post.Video()
	if media == nil {
		media = post.Image()
	}
	var mediaID string
	if media != nil {
		mediaType, category := xMediaParams(media)
		proto := &xProtocol{base: x.limits.APIBaseURL, client: client, mediaType: mediaType, category: category}
		mediaID, _, err = RunChunkedUpload(ctx, proto, media.Path, x.limits.ChunkSize)
		if err != nil {
			return "", err
		}
	}

	tweet := map[string]any{"text": post.Caption}
	if mediaID != "" {
		tweet["media"] = map[string]any{"media_ids": []string{mediaID}}
	}
	payload, _ := json.Marshal(tweet)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, x.limits.APIBaseURL+"/tweets", bytes.NewReader(payload))
	if err != nil {
		return "", Wrap(KindInvalidInput, err, "build tweet request")
	}
	req.Header.Set("Content-Type", "application/json")

	body, err := send(ctx, client, req, "x tweet create", KindPublishFailed)
	if err != nil {
		return "", err
	}
	tweetID, err := requireField(body, "data.id", "x tweet create")
	if err != nil {
		return "", err
	}
	x.log.Infof("x: published tweet %s", tweetID)
	return tweetID, nil
}

// Schedule is not supported by the public v2 API.
func (x *X) Schedule(ctx context.Context, cred *model.Credential, post *model.Post, whenUTC time.Time) (string, error) {
	if err := checkScheduleTime(whenUTC); err != nil {
		return "", err
	}
	return "", Errf(KindNotSupported, "x does not support native scheduling")
}

func (x *X) FetchProfile(ctx context.Context, cred *model.Credential) (*model.ProfileInfo, error) {
	if err := checkToken(cred); err != nil {
		return nil, err
	}
	client, err := x.signedClient(ctx, cred)
	if err != nil {
		return nil, err
	}

	u := x.limits.APIBaseURL + "/users/me?user.fields=public_metrics,profile_image_url"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, Wrap(KindInvalidInput, err, "build profile request")
	}

	body, err := send(ctx, client, req, "x profile fetch", KindFetchFailed)
	if err != nil {
		return nil, err
	}
	user := gjson.Get(body, "data")
	if !user.Exists() {
		return nil, Errf(KindMalformedResponse, "x profile response missing data")
	}
	return &model.ProfileInfo{
		ID:          user.Get("id").String(),
		DisplayName: user.Get("name").String(),
		AvatarURL:   user.Get("profile_image_url").String(),
		Followers:   user.Get("public_metrics.followers_count").Int(),
		Following:   user.Get("public_metrics.following_count").Int(),
		Posts:       user.Get("public_metrics.tweet_count").Int(),
	}, nil
}

func (x *X) FetchPostMetrics(ctx context.Context, cred *model.Credential, externalID string) (*model.Metrics, error) {
	if err := checkToken(cred); err != nil {
		return nil, err
	}
	if externalID == "" {
		return nil, Errf(KindInvalidInput, "tweet id is empty")
	}
	client, err := x.signedClient(ctx, cred)
	if err != nil {
		return nil, err
	}

	u := fmt.Sprintf("%s/tweets?ids=%s&tweet.fields=public_metrics", x.limits.APIBaseURL, url.QueryEscape(externalID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, Wrap(KindInvalidInput, err, "build metrics request")
	}

	body, err := send(ctx, client, req, "x metrics fetch", KindFetchFailed)
	if err != nil {
		return nil, err
	}
	metrics := gjson.Get(body, "data.0.public_metrics")
	if !metrics.Exists() {
		return nil, Errf(KindMalformedResponse, "x metrics response missing public_metrics")
	}
	// Replies stand in for comments, retweets for shares.
	return &model.Metrics{
		Views:    metrics.Get("impression_count").Int(),
		Likes:    metrics.Get("like_count").Int(),
		Comments: metrics.Get("reply_count").Int(),
		Shares:   metrics.Get("retweet_count").Int(),
	}, nil
}

// xMediaParams maps an attachment onto the upload endpoint's media_type and
// media_category pair.
func xMediaParams(m *model.MediaRef) (mediaType, category string) {
	if m.Kind != model.MediaImage {
		return "video/mp4", "tweet_video"
	}
	switch strings.ToLower(filepath.Ext(m.Path)) {
	case ".png":
		return "image/png", "tweet_image"
	case ".gif":
		return "image/gif", "tweet_gif"
	case ".webp":
		return "image/webp", "tweet_image"
	}
	return "image/jpeg", "tweet_image"
}

// xProtocol implements ChunkProtocol against the v2 media upload endpoints.
// X numbers segments from zero, so the pipeline's 1-based chunk index is
// mapped down.
type xProtocol struct {
	base      string
	client    *http.Client
	mediaType string
	category  string
}

func (p *xProtocol) Init(ctx context.Context, fileName string, fileSize, chunkSize int64, totalChunks int) (string, error) {
	payload, _ := json.Marshal(map[string]any{
		"media_type":     p.mediaType,
		"total_bytes":    fileSize,
		"media_category": p.category,
	})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.base+"/media/upload/initialize", bytes.NewReader(payload))
	if err != nil {
		return "", Wrap(KindInvalidInput, err, "build init request")
	}
	req.Header.Set("Content-Type", "application/json")

	body, err := send(ctx, p.client, req, "x media init", KindUploadInitFailed)
	if err != nil {
		return "", err
	}
	return requireField(body, "data.id", "x media init")
}

func (p *xProtocol) UploadChunk(ctx context.Context, uploadID string, chunkNum, totalChunks int, data []byte) error {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	if err := writer.WriteField("segment_index", strconv.Itoa(chunkNum-1)); err != nil {
		return Wrap(KindChunkUploadFailed, err, "write segment index")
	}
	part, err := writer.CreateFormFile("media", "media")
	if err != nil {
		return Wrap(KindChunkUploadFailed, err, "build chunk form")
	}
	if _, err := part.Write(data); err != nil {
		return Wrap(KindChunkUploadFailed, err, "write chunk form")
	}
	if err := writer.Close(); err != nil {
		return Wrap(KindChunkUploadFailed, err, "close chunk form")
	}

	u := fmt.Sprintf("%s/media/upload/%s/append", p.base, url.PathEscape(uploadID))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, &buf)
	if err != nil {
		return Wrap(KindChunkUploadFailed, err, "build chunk request")
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	_, err = send(ctx, p.client, req, fmt.Sprintf("x media append %d/%d", chunkNum, totalChunks), KindChunkUploadFailed)
	return err
}

func (p *xProtocol) Finalize(ctx context.Context, uploadID string) (string, error) {
	u := fmt.Sprintf("%s/media/upload/%s/finalize", p.base, url.PathEscape(uploadID))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, nil)
	if err != nil {
		return "", Wrap(KindInvalidInput, err, "build finalize request")
	}

	body, err := send(ctx, p.client, req, "x media finalize", KindPublishFailed)
	if err != nil {
		return "", err
	}
	return requireField(body, "data.id", "x media finalize")
}
