package platform

import (
	"context"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"crosspost/internal/model"
)

// mockTransport answers requests by URL substring match and records every
// request and its body, in order.
type mockTransport struct {
	responses []mockResponse
	requests  []*http.Request
	bodies    []string
}

type mockResponse struct {
	urlContains string
	status      int
	body        string
}

func (m *mockTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	var body []byte
	if req.Body != nil {
		body, _ = io.ReadAll(req.Body)
		req.Body.Close()
	}
	m.requests = append(m.requests, req)
	m.bodies = append(m.bodies, string(body))
	for _, r := range m.responses {
		if strings.Contains(req.URL.String(), r.urlContains) {
			return &http.Response{
				StatusCode: r.status,
				Body:       io.NopCloser(strings.NewReader(r.body)),
				Header:     make(http.Header),
			}, nil
		}
	}
	return &http.Response{
		StatusCode: http.StatusNotFound,
		Body:       io.NopCloser(strings.NewReader(`{"error":"no mock for url"}`)),
		Header:     make(http.Header),
	}, nil
}

func mockClient(responses ...mockResponse) (*http.Client, *mockTransport) {
	mt := &mockTransport{responses: responses}
	return &http.Client{Transport: mt}, mt
}

func tiktokCred() *model.Credential {
	return &model.Credential{
		UserID:      "u1",
		Platform:    model.PlatformTikTok,
		AccessToken: "tok",
	}
}

func videoPost(t *testing.T, size int) *model.Post {
	t.Helper()
	return &model.Post{
		ID:      "p1",
		Caption: "hello",
		Media:   []model.MediaRef{{Path: writeTempFile(t, size), Kind: model.MediaVideo}},
	}
}

func TestTikTokPublish(t *testing.T) {
	client, mt := mockClient(
		mockResponse{urlContains: "/video/upload/init/", status: 200, body: `{"data":{"upload_id":"u-42"}}`},
		mockResponse{urlContains: "/video/upload/?", status: 200, body: `{"data":{}}`},
		mockResponse{urlContains: "/video/publish/", status: 200, body: `{"data":{"video_id":"v-99"}}`},
	)
	tk := NewTikTok(NewRegistry(), client, nil)

	// Just over one chunk, so two chunk requests.
	post := videoPost(t, int(tiktokChunkSize)+10)
	id, err := tk.Publish(context.Background(), tiktokCred(), post)
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	if id != "v-99" {
		t.Errorf("video id = %q, want v-99", id)
	}

	var chunks []string
	for _, req := range mt.requests {
		if strings.Contains(req.URL.Path, "/video/upload/") && !strings.Contains(req.URL.Path, "init") {
			chunks = append(chunks, req.URL.Query().Get("chunk_num"))
			if got := req.URL.Query().Get("upload_id"); got != "u-42" {
				t.Errorf("chunk upload_id = %q, want u-42", got)
			}
			if got := req.URL.Query().Get("total_chunk_num"); got != "2" {
				t.Errorf("total_chunk_num = %q, want 2", got)
			}
		}
	}
	if len(chunks) != 2 || chunks[0] != "1" || chunks[1] != "2" {
		t.Errorf("chunk numbers = %v, want [1 2]", chunks)
	}
	for _, req := range mt.requests {
		if req.URL.Query().Get("access_token") != "tok" {
			t.Errorf("request %s missing access_token", req.URL.Path)
		}
	}
}

func TestTikTokPublishEmptyToken(t *testing.T) {
	client, mt := mockClient()
	tk := NewTikTok(NewRegistry(), client, nil)

	_, err := tk.Publish(context.Background(), &model.Credential{}, videoPost(t, 10))
	if KindOf(err) != KindInvalidToken {
		t.Fatalf("error kind = %q, want %q", KindOf(err), KindInvalidToken)
	}
	if len(mt.requests) != 0 {
		t.Errorf("network requests made with an empty token: %d", len(mt.requests))
	}
}

func TestTikTokPublishChunkFailure(t *testing.T) {
	client, _ := mockClient(
		mockResponse{urlContains: "/video/upload/init/", status: 200, body: `{"data":{"upload_id":"u-42"}}`},
		mockResponse{urlContains: "/video/upload/?", status: 500, body: `{"error":"storage busy"}`},
	)
	tk := NewTikTok(NewRegistry(), client, nil)

	_, err := tk.Publish(context.Background(), tiktokCred(), videoPost(t, 10))
	if KindOf(err) != KindChunkUploadFailed {
		t.Fatalf("error kind = %q, want %q", KindOf(err), KindChunkUploadFailed)
	}
}

func TestTikTokScheduleInPast(t *testing.T) {
	client, mt := mockClient()
	tk := NewTikTok(NewRegistry(), client, nil)

	past := time.Now().UTC().Add(-time.Hour)
	_, err := tk.Schedule(context.Background(), tiktokCred(), videoPost(t, 10), past)
	if KindOf(err) != KindInvalidScheduleTime {
		t.Fatalf("error kind = %q, want %q", KindOf(err), KindInvalidScheduleTime)
	}
	if len(mt.requests) != 0 {
		t.Errorf("network requests made for a past schedule time: %d", len(mt.requests))
	}
}

func TestTikTokFetchPostMetricsUnauthorized(t *testing.T) {
	client, _ := mockClient(
		mockResponse{urlContains: "/video/query/", status: 401, body: `{"error":"token expired"}`},
	)
	tk := NewTikTok(NewRegistry(), client, nil)

	_, err := tk.FetchPostMetrics(context.Background(), tiktokCred(), "v-99")
	if KindOf(err) != KindInvalidToken {
		t.Fatalf("error kind = %q, want %q", KindOf(err), KindInvalidToken)
	}
}

func TestTikTokFetchProfile(t *testing.T) {
	client, _ := mockClient(
		mockResponse{urlContains: "/user/info/", status: 200, body: `{
			"data":{"user":{"open_id":"o1","display_name":"Tester","follower_count":12,"following_count":3,"video_count":7}}
		}`},
	)
	tk := NewTikTok(NewRegistry(), client, nil)

	profile, err := tk.FetchProfile(context.Background(), tiktokCred())
	if err != nil {
		t.Fatalf("profile: %v", err)
	}
	if profile.ID != "o1" || profile.DisplayName != "Tester" || profile.Followers != 12 || profile.Posts != 7 {
		t.Errorf("profile = %+v", profile)
	}
}
