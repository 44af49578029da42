package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/url"
	"time"

	"github.com/tidwall/gjson"

	"crosspost/internal/logging"
	"crosspost/internal/model"
)

// TikTok publishes videos through the TikTok open API. Uploads are chunked:
// video/upload/init/ yields an upload_id, video/upload/ receives sequential
// 5 MiB chunks, video/publish/ finalizes. The access token travels as a
// query parameter on every call.
type TikTok struct {
	limits Limits
	client *http.Client
	log    *logging.Logger
}

func NewTikTok(reg *Registry, client *http.Client, log *logging.Logger) *TikTok {
	limits, _ := reg.Limits(model.PlatformTikTok)
	if log == nil {
		log = logging.Discard()
	}
	return &TikTok{
		limits: limits,
		client: httpClient(client, limits.Timeout),
		log:    log,
	}
}

func (t *TikTok) ID() model.Platform { return model.PlatformTikTok }

func (t *TikTok) Publish(ctx context.Context, cred *model.Credential, post *model.Post) (string, error) {
	return t.upload(ctx, cred, post, nil)
}

func (t *TikTok) Schedule(ctx context.Context, cred *model.Credential, post *model.Post, whenUTC time.Time) (string, error) {
	if err := checkScheduleTime(whenUTC); err != nil {
		return "", err
	}
	return t.upload(ctx, cred, post, &whenUTC)
}

func (t *TikTok) upload(ctx context.Context, cred *model.Credential, post *model.Post, publishAt *time.Time) (string, error) {
	if err := checkToken(cred); err != nil {
		return "", err
	}
	video := post.Video()
	if video == nil {
		return "", Errf(KindInvalidInput, "tiktok publish requires a video file")
	}

	proto := &tiktokProtocol{
		base:      t.limits.APIBaseURL,
		token:     cred.AccessToken,
		caption:   post.Caption,
		publishAt: publishAt,
		client:    t.client,
	}
	videoID, sess, err := RunChunkedUpload(ctx, proto, video.Path, t.limits.ChunkSize)
	if err != nil {
		t.log.Errorf("tiktok: upload ended in state %s (chunks %d/%d): %v",
			sess.State, sess.ChunksSent, sess.TotalChunks, err)
		return "", err
	}
	t.log.Infof("tiktok: published video %s (%d chunks)", videoID, sess.TotalChunks)
	return videoID, nil
}

func (t *TikTok) FetchProfile(ctx context.Context, cred *model.Credential) (*model.ProfileInfo, error) {
	if err := checkToken(cred); err != nil {
		return nil, err
	}

	fields := "open_id,union_id,user_id,display_name,avatar_large_url,follower_count,following_count,video_count,like_count"
	u := fmt.Sprintf("%s/user/info/?access_token=%s&fields=%s",
		t.limits.APIBaseURL, url.QueryEscape(cred.AccessToken), fields)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, Wrap(KindInvalidInput, err, "build profile request")
	}

	body, err := send(ctx, t.client, req, "tiktok profile fetch", KindFetchFailed)
	if err != nil {
		return nil, err
	}

	user := gjson.Get(body, "data.user")
	if !user.Exists() {
		return nil, Errf(KindMalformedResponse, "tiktok profile response missing data.user")
	}
	return &model.ProfileInfo{
		ID:          user.Get("open_id").String(),
		DisplayName: user.Get("display_name").String(),
		AvatarURL:   user.Get("avatar_large_url").String(),
		Followers:   user.Get("follower_count").Int(),
		Following:   user.Get("following_count").Int(),
		Posts:       user.Get("video_count").Int(),
	}, nil
}

func (t *TikTok) FetchPostMetrics(ctx context.Context, cred *model.Credential, externalID string) (*model.Metrics, error) {
	if err := checkToken(cred); err != nil {
		return nil, err
	}
	if externalID == "" {
		return nil, Errf(KindInvalidInput, "video id is empty")
	}

	fields := "id,create_time,like_count,comment_count,share_count,play_count"
	u := fmt.Sprintf("%s/video/query/?access_token=%s&fields=%s",
		t.limits.APIBaseURL, url.QueryEscape(cred.AccessToken), fields)

	payload, _ := json.Marshal(map[string]any{
		"filters": map[string]any{"video_ids": []string{externalID}},
	})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(payload))
	if err != nil {
		return nil, Wrap(KindInvalidInput, err, "build metrics request")
	}
	req.Header.Set("Content-Type", "application/json")

	body, err := send(ctx, t.client, req, "tiktok metrics fetch", KindFetchFailed)
	if err != nil {
		return nil, err
	}

	video := gjson.Get(body, "data.videos.0")
	if !video.Exists() {
		return nil, Errf(KindMalformedResponse, "tiktok metrics response missing data.videos")
	}
	// play_count doubles as the uniform view counter.
	return &model.Metrics{
		Views:    video.Get("play_count").Int(),
		Likes:    video.Get("like_count").Int(),
		Comments: video.Get("comment_count").Int(),
		Shares:   video.Get("share_count").Int(),
	}, nil
}

// tiktokProtocol implements ChunkProtocol against the TikTok upload
// endpoints. A non-nil publishAt switches the finalize call to
// SCHEDULED_PUBLISH with a unix publish_time.
type tiktokProtocol struct {
	base      string
	token     string
	caption   string
	publishAt *time.Time
	client    *http.Client
}

func (p *tiktokProtocol) Init(ctx context.Context, fileName string, fileSize, chunkSize int64, totalChunks int) (string, error) {
	payload, _ := json.Marshal(map[string]any{
		"source_info": map[string]any{
			"source":     "FILE_UPLOAD",
			"file_name":  fileName,
			"file_size":  fileSize,
			"chunk_size": chunkSize,
		},
	})
	u := fmt.Sprintf("%s/video/upload/init/?access_token=%s", p.base, url.QueryEscape(p.token))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(payload))
	if err != nil {
		return "", Wrap(KindInvalidInput, err, "build init request")
	}
	req.Header.Set("Content-Type", "application/json")

	body, err := send(ctx, p.client, req, "tiktok upload init", KindUploadInitFailed)
	if err != nil {
		return "", err
	}
	return requireField(body, "data.upload_id", "tiktok upload init")
}

func (p *tiktokProtocol) UploadChunk(ctx context.Context, uploadID string, chunkNum, totalChunks int, data []byte) error {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	part, err := writer.CreateFormFile("video", "video.mp4")
	if err != nil {
		return Wrap(KindChunkUploadFailed, err, "build chunk form")
	}
	if _, err := part.Write(data); err != nil {
		return Wrap(KindChunkUploadFailed, err, "write chunk form")
	}
	if err := writer.Close(); err != nil {
		return Wrap(KindChunkUploadFailed, err, "close chunk form")
	}

	u := fmt.Sprintf("%s/video/upload/?access_token=%s&upload_id=%s&chunk_num=%d&total_chunk_num=%d",
		p.base, url.QueryEscape(p.token), url.QueryEscape(uploadID), chunkNum, totalChunks)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, &buf)
	if err != nil {
		return Wrap(KindChunkUploadFailed, err, "build chunk request")
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	_, err = send(ctx, p.client, req, fmt.Sprintf("tiktok chunk %d/%d", chunkNum, totalChunks), KindChunkUploadFailed)
	return err
}

func (p *tiktokProtocol) Finalize(ctx context.Context, uploadID string) (string, error) {
	body := map[string]any{
		"upload_id":   uploadID,
		"video_title": p.caption,
	}
	if p.publishAt != nil {
		body["publish_type"] = "SCHEDULED_PUBLISH"
		body["publish_time"] = p.publishAt.UTC().Unix()
	} else {
		body["disable_comment"] = false
		body["disable_duet"] = false
		body["disable_stitch"] = false
	}
	payload, _ := json.Marshal(body)

	u := fmt.Sprintf("%s/video/publish/?access_token=%s", p.base, url.QueryEscape(p.token))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(payload))
	if err != nil {
		return "", Wrap(KindInvalidInput, err, "build publish request")
	}
	req.Header.Set("Content-Type", "application/json")

	respBody, err := send(ctx, p.client, req, "tiktok publish", KindPublishFailed)
	if err != nil {
		return "", err
	}
	return requireField(respBody, "data.video_id", "tiktok publish")
}
