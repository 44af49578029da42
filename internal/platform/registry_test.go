package platform

import (
	"strings"
	"testing"

	"crosspost/internal/model"
)

func TestValidatePost(t *testing.T) {
	reg := NewRegistry()
	video := model.MediaRef{Path: "clip.mp4", Kind: model.MediaVideo}
	image := model.MediaRef{Path: "pic.jpg", Kind: model.MediaImage}

	tests := []struct {
		name     string
		platform model.Platform
		post     *model.Post
		wantKind Kind
	}{
		{
			name:     "valid tiktok video",
			platform: model.PlatformTikTok,
			post:     &model.Post{Caption: "ok", Media: []model.MediaRef{video}},
		},
		{
			name:     "caption over x limit",
			platform: model.PlatformX,
			post:     &model.Post{Caption: strings.Repeat("a", 281)},
			wantKind: KindValidationFailed,
		},
		{
			name:     "caption at x limit",
			platform: model.PlatformX,
			post:     &model.Post{Caption: strings.Repeat("a", 280)},
		},
		{
			name:     "youtube without media",
			platform: model.PlatformYouTube,
			post:     &model.Post{Caption: "title"},
			wantKind: KindValidationFailed,
		},
		{
			name:     "image on tiktok",
			platform: model.PlatformTikTok,
			post:     &model.Post{Caption: "ok", Media: []model.MediaRef{image}},
			wantKind: KindValidationFailed,
		},
		{
			name:     "unknown platform",
			platform: model.Platform("myspace"),
			post:     &model.Post{Caption: "ok"},
			wantKind: KindValidationFailed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := reg.ValidatePost(tt.platform, tt.post)
			if got := KindOf(err); got != tt.wantKind {
				t.Errorf("ValidatePost kind = %q, want %q (err: %v)", got, tt.wantKind, err)
			}
		})
	}
}

func TestRegistryLimits(t *testing.T) {
	reg := NewRegistry()
	for _, p := range model.AllPlatforms() {
		l, ok := reg.Limits(p)
		if !ok {
			t.Errorf("no limits for %s", p)
			continue
		}
		if l.MaxCaptionLen <= 0 || l.Timeout <= 0 {
			t.Errorf("%s limits incomplete: %+v", p, l)
		}
	}
	if _, ok := reg.Limits(model.Platform("myspace")); ok {
		t.Errorf("limits returned for unknown platform")
	}
}
