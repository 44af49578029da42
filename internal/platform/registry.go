package platform

import (
	"os"
	"time"

	"github.com/samber/lo"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"crosspost/internal/model"
)

// Limits is the static per-platform configuration: content constraints, API
// locations and upload parameters. Adapters and the orchestrator read from
// this instead of hardcoding platform rules.
type Limits struct {
	Name               string
	MaxCaptionLen      int
	MaxMediaBytes      int64
	SupportedMedia     []model.MediaKind
	RequiresMedia      bool
	SupportsScheduling bool
	ChunkSize          int64
	Timeout            time.Duration

	APIBaseURL string
	OAuth      oauth2.Endpoint
}

// Registry is the immutable platform configuration table, built once at
// startup and passed into the orchestrator and adapters.
type Registry struct {
	limits map[model.Platform]Limits
}

const tiktokChunkSize = 5 * 1024 * 1024 // 5242880, TikTok's documented chunk size

// NewRegistry builds the default platform table.
func NewRegistry() *Registry {
	return &Registry{limits: map[model.Platform]Limits{
		model.PlatformYouTube: {
			Name:           "YouTube",
			MaxCaptionLen:  5000,
			MaxMediaBytes:  5_000_000_000,
			SupportedMedia: []model.MediaKind{model.MediaVideo},
			RequiresMedia:  true,
			Timeout:        DefaultTimeout,
			APIBaseURL:     "https://www.googleapis.com/youtube/v3",
			OAuth:          google.Endpoint,
		},
		model.PlatformTikTok: {
			Name:               "TikTok",
			MaxCaptionLen:      2200,
			MaxMediaBytes:      287_000_000,
			SupportedMedia:     []model.MediaKind{model.MediaVideo},
			RequiresMedia:      true,
			SupportsScheduling: true,
			ChunkSize:          tiktokChunkSize,
			Timeout:            DefaultTimeout,
			APIBaseURL:         "https://open.tiktok.com/v1",
			OAuth: oauth2.Endpoint{
				AuthURL:  "https://www.tiktok.com/v2/auth/authorize/",
				TokenURL: "https://open.tiktokapis.com/v2/oauth/token/",
			},
		},
		model.PlatformInstagram: {
			Name:           "Instagram",
			MaxCaptionLen:  2200,
			MaxMediaBytes:  100_000_000,
			SupportedMedia: []model.MediaKind{model.MediaImage, model.MediaVideo},
			RequiresMedia:  true,
			Timeout:        DefaultTimeout,
			APIBaseURL:     "https://graph.facebook.com/v18.0",
			OAuth: oauth2.Endpoint{
				AuthURL:  "https://api.instagram.com/oauth/authorize",
				TokenURL: "https://api.instagram.com/oauth/access_token",
			},
		},
		model.PlatformX: {
			Name:           "X",
			MaxCaptionLen:  280,
			MaxMediaBytes:  512_000_000,
			SupportedMedia: []model.MediaKind{model.MediaImage, model.MediaVideo},
			ChunkSize:      tiktokChunkSize,
			Timeout:        DefaultTimeout,
			APIBaseURL:     "https://api.x.com/2",
		},
		model.PlatformTelegram: {
			Name:           "Telegram",
			MaxCaptionLen:  1024,
			MaxMediaBytes:  50_000_000,
			SupportedMedia: []model.MediaKind{model.MediaImage, model.MediaVideo},
			Timeout:        DefaultTimeout,
			APIBaseURL:     "https://api.telegram.org",
		},
	}}
}

// Limits returns the configuration for platform p.
func (r *Registry) Limits(p model.Platform) (Limits, bool) {
	l, ok := r.limits[p]
	return l, ok
}

// ValidatePost checks a post against platform p's constraints. Violations
// return KindValidationFailed; no network is involved.
func (r *Registry) ValidatePost(p model.Platform, post *model.Post) error {
	l, ok := r.limits[p]
	if !ok {
		return Errf(KindValidationFailed, "unknown platform %q", p)
	}
	if len([]rune(post.Caption)) > l.MaxCaptionLen {
		return Errf(KindValidationFailed, "caption exceeds %s limit of %d characters", l.Name, l.MaxCaptionLen)
	}
	if l.RequiresMedia && len(post.Media) == 0 {
		return Errf(KindValidationFailed, "%s requires media", l.Name)
	}
	for _, m := range post.Media {
		if !lo.Contains(l.SupportedMedia, m.Kind) {
			return Errf(KindValidationFailed, "%s does not accept %s media", l.Name, m.Kind)
		}
		if m.Path != "" && l.MaxMediaBytes > 0 {
			if info, err := os.Stat(m.Path); err == nil && info.Size() > l.MaxMediaBytes {
				return Errf(KindValidationFailed, "%s media limit is %d bytes, file is %d", l.Name, l.MaxMediaBytes, info.Size())
			}
		}
	}
	return nil
}
