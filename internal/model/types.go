package model

import (
	"maps"
	"path/filepath"
	"strings"
	"time"
)

// Platform identifies one of the supported social networks. The set is
// closed: adapters are registered per Platform at startup, there is no
// runtime string-based service lookup beyond this type.
type Platform string

const (
	PlatformYouTube   Platform = "youtube"
	PlatformTikTok    Platform = "tiktok"
	PlatformInstagram Platform = "instagram"
	PlatformX         Platform = "x"
	PlatformTelegram  Platform = "telegram"
)

// AllPlatforms returns every supported platform id.
func AllPlatforms() []Platform {
	return []Platform{
		PlatformYouTube,
		PlatformTikTok,
		PlatformInstagram,
		PlatformX,
		PlatformTelegram,
	}
}

// Known reports whether p is one of the supported platforms.
func (p Platform) Known() bool {
	switch p {
	case PlatformYouTube, PlatformTikTok, PlatformInstagram, PlatformX, PlatformTelegram:
		return true
	}
	return false
}

type MediaKind string

const (
	MediaImage MediaKind = "image"
	MediaVideo MediaKind = "video"
)

// MediaKindFromPath guesses the media kind from the file extension.
// Anything that is not a known image extension counts as video.
func MediaKindFromPath(path string) MediaKind {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".jpg", ".jpeg", ".png", ".gif", ".webp":
		return MediaImage
	}
	return MediaVideo
}

// MediaRef points at one piece of media attached to a post. Path is a local
// file (chunked or multipart upload flows), URL is a publicly reachable
// location (Instagram's container flow only accepts URLs).
type MediaRef struct {
	Path string    `json:"path,omitempty"`
	URL  string    `json:"url,omitempty"`
	Kind MediaKind `json:"kind"`
}

// Post is the content unit handed to the orchestrator. It is immutable for
// the duration of one publish attempt: the orchestrator returns per-platform
// external ids in PublishResult entries and never writes back into the
// caller's Post.
type Post struct {
	ID          string     `json:"id"`
	Caption     string     `json:"caption"`
	Media       []MediaRef `json:"media,omitempty"`
	Platforms   []Platform `json:"platforms"`
	CreatedAt   time.Time  `json:"created_at"`
	ScheduledAt *time.Time `json:"scheduled_at,omitempty"`
}

// Video returns the first video attachment, if any.
func (p *Post) Video() *MediaRef {
	for i := range p.Media {
		if p.Media[i].Kind == MediaVideo {
			return &p.Media[i]
		}
	}
	return nil
}

// Image returns the first image attachment, if any.
func (p *Post) Image() *MediaRef {
	for i := range p.Media {
		if p.Media[i].Kind == MediaImage {
			return &p.Media[i]
		}
	}
	return nil
}

// Credential is the stored token pair for one (user, platform) connection.
// Extra carries platform-specific identity the APIs require alongside the
// token: TikTok's open_id, Instagram's business account id, Telegram's chat
// id, X's oauth1 token secret.
type Credential struct {
	UserID       string            `json:"user_id"`
	Platform     Platform          `json:"platform"`
	AccessToken  string            `json:"access_token"`
	RefreshToken string            `json:"refresh_token,omitempty"`
	Expiry       time.Time         `json:"expiry"`
	Extra        map[string]string `json:"extra,omitempty"`
}

// Clone returns a copy with its own Extra map, so mutating one credential
// never leaks into another.
func (c *Credential) Clone() *Credential {
	cp := *c
	cp.Extra = maps.Clone(c.Extra)
	return &cp
}

// Expired reports whether the access token is past its expiry. A zero expiry
// means the token does not expire (bot tokens, oauth1 token pairs).
func (c *Credential) Expired(now time.Time) bool {
	return !c.Expiry.IsZero() && !now.Before(c.Expiry)
}

// NeedsRefresh reports whether the token is expired or will expire within
// window.
func (c *Credential) NeedsRefresh(now time.Time, window time.Duration) bool {
	if c.Expiry.IsZero() {
		return false
	}
	return !now.Add(window).Before(c.Expiry)
}

// PublishResult is the outcome of one (post, platform) publish attempt.
type PublishResult struct {
	Platform     Platform  `json:"platform"`
	Success      bool      `json:"success"`
	ExternalID   string    `json:"external_id,omitempty"`
	ErrorCode    string    `json:"error_code,omitempty"`
	ErrorMessage string    `json:"error_message,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
}

// Metrics is the uniform per-post analytics shape. Each adapter owns the
// mapping from its platform's native field names to these four counters.
type Metrics struct {
	Views    int64 `json:"views"`
	Likes    int64 `json:"likes"`
	Comments int64 `json:"comments"`
	Shares   int64 `json:"shares"`
}

// ProfileInfo is the uniform account shape returned by FetchProfile.
type ProfileInfo struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	AvatarURL   string `json:"avatar_url,omitempty"`
	Followers   int64  `json:"followers"`
	Following   int64  `json:"following"`
	Posts       int64  `json:"posts"`
}
