package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/samber/lo"

	"crosspost/internal"
	"crosspost/internal/credentials"
	"crosspost/internal/logging"
	"crosspost/internal/model"
	"crosspost/internal/platform"
	"crosspost/internal/publish"
)

func main() {
	mediaPath := flag.String("media", "", "path to the video or image to publish")
	mediaURL := flag.String("media-url", "", "public URL of the media (required for instagram)")
	caption := flag.String("caption", "", "post caption")
	platformsCSV := flag.String("platforms", "", "comma-separated platforms (youtube,tiktok,instagram,x,telegram)")
	userID := flag.String("user", "default", "account id the stored credentials belong to")
	scheduleAt := flag.String("schedule", "", "RFC3339 time to publish at (omit to publish now)")
	analyticsID := flag.String("analytics", "", "fetch metrics for this external post id instead of publishing")
	flag.Parse()

	// Load .env file if it exists (try multiple paths)
	envPaths := []string{".env", "../.env", "../../.env"}
	for _, path := range envPaths {
		_ = godotenv.Load(path)
	}

	cfg, err := internal.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	log, err := logging.New(cfg.ErrorsLogPath)
	if err != nil {
		panic(err)
	}
	defer log.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Stop on SIGINT/SIGTERM
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Infof("shutdown signal received")
		cancel()
	}()

	orch, err := buildOrchestrator(ctx, cfg, log)
	if err != nil {
		log.Errorf("build orchestrator: %v", err)
		os.Exit(1)
	}

	platforms := parsePlatforms(*platformsCSV)
	if len(platforms) == 0 {
		fmt.Fprintln(os.Stderr, "no valid platforms given, use -platforms")
		os.Exit(2)
	}

	if *analyticsID != "" {
		metrics, err := orch.FetchAnalytics(ctx, *userID, platforms[0], *analyticsID)
		if err != nil {
			log.Errorf("analytics: %v", err)
			os.Exit(1)
		}
		fmt.Printf("views=%d likes=%d comments=%d shares=%d\n",
			metrics.Views, metrics.Likes, metrics.Comments, metrics.Shares)
		return
	}

	post := &model.Post{
		ID:        fmt.Sprintf("post-%d", time.Now().Unix()),
		Caption:   *caption,
		Platforms: platforms,
		CreatedAt: time.Now().UTC(),
	}
	if *mediaPath != "" || *mediaURL != "" {
		post.Media = append(post.Media, model.MediaRef{
			Path: *mediaPath,
			URL:  *mediaURL,
			Kind: model.MediaKindFromPath(*mediaPath),
		})
	}

	var results []model.PublishResult
	if *scheduleAt != "" {
		when, err := time.Parse(time.RFC3339, *scheduleAt)
		if err != nil {
			fmt.Fprintf(os.Stderr, "bad -schedule value: %v\n", err)
			os.Exit(2)
		}
		results = orch.Schedule(ctx, post, platforms, when.UTC(), *userID)
		// Keep the process alive so client-side scheduled entries can fire.
		if len(orch.Scheduler().Pending()) > 0 {
			go orch.Scheduler().Run(ctx)
			waitForPending(ctx, orch.Scheduler())
		}
	} else {
		results = orch.Publish(ctx, post, platforms, *userID)
	}

	for _, r := range results {
		if r.Success {
			fmt.Printf("%-10s ok  %s\n", r.Platform, r.ExternalID)
		} else {
			fmt.Printf("%-10s err %s: %s\n", r.Platform, r.ErrorCode, r.ErrorMessage)
		}
	}

	failed := lo.CountBy(results, func(r model.PublishResult) bool { return !r.Success })
	log.Infof("done: %d ok, %d failed", len(results)-failed, failed)
	if failed > 0 {
		os.Exit(1)
	}
}

func buildOrchestrator(ctx context.Context, cfg internal.Config, log *logging.Logger) (*publish.Orchestrator, error) {
	var store credentials.Store
	if cfg.UseS3() {
		s3Store, err := credentials.NewS3Store(ctx, credentials.S3Config{
			Endpoint:  cfg.S3Endpoint,
			Region:    cfg.S3Region,
			Bucket:    cfg.S3Bucket,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
			Prefix:    cfg.TokensPrefix,
		})
		if err != nil {
			return nil, err
		}
		store = s3Store
	} else {
		log.Infof("no S3 credentials configured, using in-memory token store")
		store = credentials.NewMemoryStore()
	}

	reg := platform.NewRegistry()
	resolver := credentials.NewResolver(store, reg, map[model.Platform]credentials.OAuthApp{
		model.PlatformTikTok:    {ClientID: cfg.TikTokClientKey, ClientSecret: cfg.TikTokClientSecret},
		model.PlatformYouTube:   {ClientID: cfg.GoogleClientID, ClientSecret: cfg.GoogleClientSecret},
		model.PlatformInstagram: {ClientID: cfg.InstagramClientID, ClientSecret: cfg.InstagramClientSecret},
	},
		credentials.WithRefreshWindow(cfg.RefreshWindow),
		credentials.WithLogger(log),
	)

	client := &http.Client{Timeout: cfg.HTTPTimeout}
	adapters := []platform.Adapter{
		platform.NewTikTok(reg, client, log),
		platform.NewYouTube(reg, client, log),
		platform.NewInstagram(reg, client, log),
		platform.NewX(reg, cfg.XConsumerKey, cfg.XConsumerSecret, client, log),
		platform.NewTelegram(reg, log),
	}

	opts := []publish.Option{publish.WithLogger(log)}
	if cfg.MaxConcurrent > 0 {
		opts = append(opts, publish.WithMaxConcurrent(cfg.MaxConcurrent))
	}
	return publish.New(adapters, reg, resolver, opts...), nil
}

func parsePlatforms(csv string) []model.Platform {
	parts := strings.Split(csv, ",")
	var out []model.Platform
	for _, part := range parts {
		p := model.Platform(strings.ToLower(strings.TrimSpace(part)))
		if p.Known() && !lo.Contains(out, p) {
			out = append(out, p)
		}
	}
	return out
}

func waitForPending(ctx context.Context, s *publish.Scheduler) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if len(s.Pending()) == 0 {
				return
			}
		}
	}
}
