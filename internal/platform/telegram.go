package platform

import (
	"context"
	"strconv"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"crosspost/internal/logging"
	"crosspost/internal/model"
)

// Telegram posts to a channel through the bot API. The credential's
// AccessToken is the bot token and Extra["chat_id"] is the target channel.
// The bot API offers neither per-post metrics nor native scheduling.
type Telegram struct {
	limits Limits
	log    *logging.Logger
	newBot func(token string) (telegramBot, error)
}

// telegramBot is the slice of tgbotapi.BotAPI the adapter uses; tests swap
// in a fake because the bot API client does not take an injectable
// transport.
type telegramBot interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	GetChat(config tgbotapi.ChatInfoConfig) (tgbotapi.Chat, error)
	GetChatMembersCount(config tgbotapi.ChatMemberCountConfig) (int, error)
}

func NewTelegram(reg *Registry, log *logging.Logger) *Telegram {
	limits, _ := reg.Limits(model.PlatformTelegram)
	if log == nil {
		log = logging.Discard()
	}
	return &Telegram{
		limits: limits,
		log:    log,
		newBot: func(token string) (telegramBot, error) {
			return tgbotapi.NewBotAPI(token)
		},
	}
}

func (t *Telegram) ID() model.Platform { return model.PlatformTelegram }

func (t *Telegram) connect(cred *model.Credential) (telegramBot, int64, error) {
	if err := checkToken(cred); err != nil {
		return nil, 0, err
	}
	chatRaw := ""
	if cred.Extra != nil {
		chatRaw = cred.Extra["chat_id"]
	}
	chatID, err := strconv.ParseInt(chatRaw, 10, 64)
	if err != nil {
		return nil, 0, Errf(KindInvalidInput, "telegram chat id %q is not numeric", chatRaw)
	}
	bot, err := t.newBot(cred.AccessToken)
	if err != nil {
		// The bot API rejects bad tokens at connect time.
		return nil, 0, Wrap(KindInvalidToken, err, "telegram bot authorization failed")
	}
	return bot, chatID, nil
}

func (t *Telegram) Publish(ctx context.Context, cred *model.Credential, post *model.Post) (string, error) {
	bot, chatID, err := t.connect(cred)
	if err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", Wrap(KindCancelled, err, "telegram publish cancelled")
	}

	var msg tgbotapi.Chattable
	switch {
	case post.Video() != nil:
		video := post.Video()
		if _, err := checkMediaFile(video.Path); err != nil {
			return "", err
		}
		cfg := tgbotapi.NewVideo(chatID, tgbotapi.FilePath(video.Path))
		cfg.Caption = post.Caption
		msg = cfg
	case post.Image() != nil:
		image := post.Image()
		if _, err := checkMediaFile(image.Path); err != nil {
			return "", err
		}
		cfg := tgbotapi.NewPhoto(chatID, tgbotapi.FilePath(image.Path))
		cfg.Caption = post.Caption
		msg = cfg
	default:
		if post.Caption == "" {
			return "", Errf(KindInvalidInput, "telegram post has neither media nor text")
		}
		msg = tgbotapi.NewMessage(chatID, post.Caption)
	}

	sent, err := bot.Send(msg)
	if err != nil {
		return "", Wrap(KindPublishFailed, err, "telegram send to chat %d", chatID)
	}
	t.log.Infof("telegram: posted message %d to chat %d", sent.MessageID, chatID)
	return strconv.Itoa(sent.MessageID), nil
}

func (t *Telegram) Schedule(ctx context.Context, cred *model.Credential, post *model.Post, whenUTC time.Time) (string, error) {
	if err := checkScheduleTime(whenUTC); err != nil {
		return "", err
	}
	return "", Errf(KindNotSupported, "telegram does not support native scheduling")
}

func (t *Telegram) FetchProfile(ctx context.Context, cred *model.Credential) (*model.ProfileInfo, error) {
	bot, chatID, err := t.connect(cred)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, Wrap(KindCancelled, err, "telegram profile fetch cancelled")
	}

	chat, err := bot.GetChat(tgbotapi.ChatInfoConfig{
		ChatConfig: tgbotapi.ChatConfig{ChatID: chatID},
	})
	if err != nil {
		return nil, Wrap(KindFetchFailed, err, "telegram chat info for %d", chatID)
	}
	members, err := bot.GetChatMembersCount(tgbotapi.ChatMemberCountConfig{
		ChatConfig: tgbotapi.ChatConfig{ChatID: chatID},
	})
	if err != nil {
		return nil, Wrap(KindFetchFailed, err, "telegram member count for %d", chatID)
	}
	return &model.ProfileInfo{
		ID:          strconv.FormatInt(chatID, 10),
		DisplayName: chat.Title,
		Followers:   int64(members),
	}, nil
}

func (t *Telegram) FetchPostMetrics(ctx context.Context, cred *model.Credential, externalID string) (*model.Metrics, error) {
	return nil, Errf(KindNotSupported, "telegram does not expose per-post metrics")
}
