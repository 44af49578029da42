package credentials

import (
	"context"
	"errors"
	"testing"
	"time"

	"crosspost/internal/model"
)

func TestMemoryStoreRoundTrip(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	cred := &model.Credential{
		UserID:      "u1",
		Platform:    model.PlatformYouTube,
		AccessToken: "tok",
		Expiry:      time.Now().Add(time.Hour),
	}
	if err := store.Put(ctx, cred); err != nil {
		t.Fatalf("put: %v", err)
	}

	got, err := store.Get(ctx, "u1", model.PlatformYouTube)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.AccessToken != "tok" {
		t.Errorf("access token = %q, want tok", got.AccessToken)
	}

	// The store hands out copies, not aliases.
	got.AccessToken = "mutated"
	again, _ := store.Get(ctx, "u1", model.PlatformYouTube)
	if again.AccessToken != "tok" {
		t.Errorf("stored credential mutated through a returned copy")
	}
}

func TestMemoryStoreCopiesExtra(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	cred := &model.Credential{
		UserID:      "u1",
		Platform:    model.PlatformTikTok,
		AccessToken: "tok",
		Extra:       map[string]string{"open_id": "o1"},
	}
	store.Put(ctx, cred)

	// Neither the caller's map nor a returned copy's map may alias the
	// stored one.
	cred.Extra["open_id"] = "mutated-caller"
	got, _ := store.Get(ctx, "u1", model.PlatformTikTok)
	if got.Extra["open_id"] != "o1" {
		t.Errorf("stored Extra mutated through the caller's map: %v", got.Extra)
	}

	got.Extra["open_id"] = "mutated-copy"
	again, _ := store.Get(ctx, "u1", model.PlatformTikTok)
	if again.Extra["open_id"] != "o1" {
		t.Errorf("stored Extra mutated through a returned copy: %v", again.Extra)
	}
}

func TestMemoryStoreKeysPerPlatform(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	store.Put(ctx, &model.Credential{UserID: "u1", Platform: model.PlatformYouTube, AccessToken: "yt"})
	store.Put(ctx, &model.Credential{UserID: "u1", Platform: model.PlatformTikTok, AccessToken: "tt"})

	yt, err := store.Get(ctx, "u1", model.PlatformYouTube)
	if err != nil || yt.AccessToken != "yt" {
		t.Errorf("youtube credential = %+v, err %v", yt, err)
	}
	tt, err := store.Get(ctx, "u1", model.PlatformTikTok)
	if err != nil || tt.AccessToken != "tt" {
		t.Errorf("tiktok credential = %+v, err %v", tt, err)
	}
}

func TestMemoryStoreDelete(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	store.Put(ctx, &model.Credential{UserID: "u1", Platform: model.PlatformX, AccessToken: "x"})
	if err := store.Delete(ctx, "u1", model.PlatformX); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := store.Get(ctx, "u1", model.PlatformX); !errors.Is(err, ErrNotFound) {
		t.Errorf("get after delete = %v, want ErrNotFound", err)
	}
}
