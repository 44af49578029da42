package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/tidwall/gjson"
	"google.golang.org/api/youtube/v3"

	"crosspost/internal/logging"
	"crosspost/internal/model"
)

// YouTube publishes videos through the Data API v3. Upload is a single
// multipart request carrying the file and a JSON metadata part; there is no
// chunking. Statistics counters come back as string-encoded integers and are
// parsed with a fallback of zero.
type YouTube struct {
	limits Limits
	client *http.Client
	log    *logging.Logger
}

func NewYouTube(reg *Registry, client *http.Client, log *logging.Logger) *YouTube {
	limits, _ := reg.Limits(model.PlatformYouTube)
	if log == nil {
		log = logging.Discard()
	}
	return &YouTube{
		limits: limits,
		client: httpClient(client, limits.Timeout),
		log:    log,
	}
}

func (y *YouTube) ID() model.Platform { return model.PlatformYouTube }

func (y *YouTube) Publish(ctx context.Context, cred *model.Credential, post *model.Post) (string, error) {
	if err := checkToken(cred); err != nil {
		return "", err
	}
	video := post.Video()
	if video == nil {
		return "", Errf(KindInvalidInput, "youtube publish requires a video file")
	}
	if post.Caption == "" {
		return "", Errf(KindInvalidInput, "youtube video title is empty")
	}
	if _, err := checkMediaFile(video.Path); err != nil {
		return "", err
	}

	metadata := &youtube.Video{
		Snippet: &youtube.VideoSnippet{
			Title:       post.Caption,
			Description: post.Caption,
			CategoryId:  "22", // People & Blogs
		},
		Status: &youtube.VideoStatus{PrivacyStatus: "unlisted"},
	}
	metaJSON, err := json.Marshal(metadata)
	if err != nil {
		return "", Wrap(KindInvalidInput, err, "encode video metadata")
	}

	f, err := os.Open(video.Path)
	if err != nil {
		return "", Wrap(KindFileNotFound, err, "open %s", video.Path)
	}
	defer f.Close()

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	if err := writer.WriteField("metadata", string(metaJSON)); err != nil {
		return "", Wrap(KindInvalidInput, err, "write metadata part")
	}
	part, err := writer.CreateFormFile("video", filepath.Base(video.Path))
	if err != nil {
		return "", Wrap(KindInvalidInput, err, "create video part")
	}
	if _, err := io.Copy(part, f); err != nil {
		return "", Wrap(KindInvalidInput, err, "copy video into form")
	}
	if err := writer.Close(); err != nil {
		return "", Wrap(KindInvalidInput, err, "close upload form")
	}

	u := fmt.Sprintf("%s/videos?part=snippet,status&access_token=%s",
		y.limits.APIBaseURL, url.QueryEscape(cred.AccessToken))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, &buf)
	if err != nil {
		return "", Wrap(KindInvalidInput, err, "build upload request")
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	body, err := send(ctx, y.client, req, "youtube upload", KindPublishFailed)
	if err != nil {
		return "", err
	}
	videoID, err := requireField(body, "id", "youtube upload")
	if err != nil {
		return "", err
	}
	y.log.Infof("youtube: published video %s", videoID)
	return videoID, nil
}

// Schedule is not supported natively; the orchestrator does client-side
// delayed publish instead.
func (y *YouTube) Schedule(ctx context.Context, cred *model.Credential, post *model.Post, whenUTC time.Time) (string, error) {
	if err := checkScheduleTime(whenUTC); err != nil {
		return "", err
	}
	return "", Errf(KindNotSupported, "youtube does not support native scheduling")
}

func (y *YouTube) FetchProfile(ctx context.Context, cred *model.Credential) (*model.ProfileInfo, error) {
	if err := checkToken(cred); err != nil {
		return nil, err
	}

	u := fmt.Sprintf("%s/channels?part=snippet,statistics&mine=true&access_token=%s",
		y.limits.APIBaseURL, url.QueryEscape(cred.AccessToken))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, Wrap(KindInvalidInput, err, "build channel request")
	}

	body, err := send(ctx, y.client, req, "youtube channel fetch", KindFetchFailed)
	if err != nil {
		return nil, err
	}

	channel := gjson.Get(body, "items.0")
	if !channel.Exists() {
		return nil, Errf(KindMalformedResponse, "youtube channel response has no items")
	}
	// Counters are strings ("subscriberCount": "1000"); Int() falls back to 0
	// on anything unparseable.
	stats := channel.Get("statistics")
	return &model.ProfileInfo{
		ID:          channel.Get("id").String(),
		DisplayName: channel.Get("snippet.title").String(),
		AvatarURL:   channel.Get("snippet.thumbnails.default.url").String(),
		Followers:   stats.Get("subscriberCount").Int(),
		Posts:       stats.Get("videoCount").Int(),
	}, nil
}

func (y *YouTube) FetchPostMetrics(ctx context.Context, cred *model.Credential, externalID string) (*model.Metrics, error) {
	if err := checkToken(cred); err != nil {
		return nil, err
	}
	if externalID == "" {
		return nil, Errf(KindInvalidInput, "video id is empty")
	}

	u := fmt.Sprintf("%s/videos?part=statistics&id=%s&access_token=%s",
		y.limits.APIBaseURL, url.QueryEscape(externalID), url.QueryEscape(cred.AccessToken))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, Wrap(KindInvalidInput, err, "build metrics request")
	}

	body, err := send(ctx, y.client, req, "youtube metrics fetch", KindFetchFailed)
	if err != nil {
		return nil, err
	}

	stats := gjson.Get(body, "items.0.statistics")
	if !stats.Exists() {
		return nil, Errf(KindMalformedResponse, "youtube metrics response has no items")
	}
	// Shares are not exposed by the Data API.
	return &model.Metrics{
		Views:    stats.Get("viewCount").Int(),
		Likes:    stats.Get("likeCount").Int(),
		Comments: stats.Get("commentCount").Int(),
	}, nil
}
