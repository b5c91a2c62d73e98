package channel

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"pdfrelay/internal/domain"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

const (
	telegramMaxMsgLen       = 4000
	telegramMaxSendAttempts = 3
	telegramPollTimeout     = 30
)

// telegramBackoffUnit scales the wait between send attempts.
var telegramBackoffUnit = time.Second

// Telegram implements domain.Transport over the Bot API with long polling.
type Telegram struct {
	token     string
	allowFrom []int64 // empty = allow all
	parseMode string
	logger    *slog.Logger
	http      *http.Client

	mu      sync.Mutex
	bot     *tgbotapi.BotAPI
	stopped chan struct{} // closed by Disconnect for the live poller
}

// TelegramConfig configures the Telegram transport.
type TelegramConfig struct {
	Token     string
	AllowFrom []string // user IDs as strings
	ParseMode string
	Logger    *slog.Logger
}

// NewTelegram returns an unconnected Telegram transport.
func NewTelegram(cfg TelegramConfig) *Telegram {
	var allowed []int64
	for _, s := range cfg.AllowFrom {
		if id, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64); err == nil {
			allowed = append(allowed, id)
		}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Telegram{
		token:     cfg.Token,
		allowFrom: allowed,
		parseMode: cfg.ParseMode,
		logger:    cfg.Logger,
		http:      &http.Client{Timeout: 60 * time.Second},
	}
}

// Name identifies the transport in logs.
func (t *Telegram) Name() string { return "telegram" }

// Connect authenticates with getMe and starts polling. Bot tokens need no
// pairing, so the session opens right away.
func (t *Telegram) Connect(ctx context.Context, listener func(domain.Signal)) error {
	bot, err := tgbotapi.NewBotAPI(t.token)
	if err != nil {
		return fmt.Errorf("telegram bot init: %w", err)
	}
	t.logger.Info("telegram bot connected", "username", bot.Self.UserName, "id", bot.Self.ID)

	stopped := make(chan struct{})
	t.mu.Lock()
	if t.bot != nil {
		t.stopLocked()
	}
	t.bot = bot
	t.stopped = stopped
	t.mu.Unlock()

	u := tgbotapi.NewUpdate(0)
	u.Timeout = telegramPollTimeout
	updates := bot.GetUpdatesChan(u)

	listener(domain.ConnectionOpened{})
	go t.poll(ctx, bot, updates, stopped, listener)
	return nil
}

func (t *Telegram) poll(ctx context.Context, bot *tgbotapi.BotAPI, updates tgbotapi.UpdatesChannel, stopped chan struct{}, listener func(domain.Signal)) {
	for {
		select {
		case <-stopped:
			return
		case <-ctx.Done():
			t.mu.Lock()
			if t.stopped == stopped {
				t.stopLocked()
			}
			t.mu.Unlock()
			return
		case update, ok := <-updates:
			if !ok {
				select {
				case <-stopped:
				default:
					listener(domain.ConnectionClosed{Reason: domain.CloseReason{Cause: "telegram updates channel closed"}})
				}
				return
			}
			if raw, ok := t.toRawMessage(bot, update); ok {
				listener(domain.MessageReceived{Message: raw})
			}
		}
	}
}

// Disconnect stops polling. Safe to call repeatedly.
func (t *Telegram) Disconnect() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopLocked()
}

func (t *Telegram) stopLocked() {
	if t.bot == nil {
		return
	}
	// StopReceivingUpdates panics when called twice on the same bot.
	close(t.stopped)
	t.bot.StopReceivingUpdates()
	t.bot = nil
	t.stopped = nil
}

func (t *Telegram) toRawMessage(bot *tgbotapi.BotAPI, update tgbotapi.Update) (domain.RawMessage, bool) {
	msg := update.Message
	if msg == nil || msg.From == nil || msg.Chat == nil {
		return domain.RawMessage{}, false
	}
	if !t.isAllowed(msg.From.ID) {
		t.logger.Warn("unauthorized telegram user", "user_id", msg.From.ID, "username", msg.From.UserName)
		return domain.RawMessage{}, false
	}

	raw := domain.RawMessage{
		ID:           strconv.Itoa(msg.MessageID) + "@" + strconv.FormatInt(msg.Chat.ID, 10),
		ChatID:       strconv.FormatInt(msg.Chat.ID, 10),
		SenderID:     strconv.FormatInt(msg.From.ID, 10),
		FromMe:       msg.From.ID == bot.Self.ID,
		Text:         msg.Text,
		ExtendedText: msg.Caption,
		Timestamp:    time.Unix(int64(msg.Date), 0),
		OtherMedia: len(msg.Photo) > 0 || msg.Audio != nil || msg.Video != nil ||
			msg.Voice != nil || msg.Sticker != nil,
	}
	if d := msg.Document; d != nil {
		raw.Document = &domain.Attachment{
			FileName: d.FileName,
			MimeType: d.MimeType,
			Size:     int64(d.FileSize),
		}
		raw.Handle = d.FileID
	}
	return raw, true
}

func (t *Telegram) isAllowed(userID int64) bool {
	if len(t.allowFrom) == 0 {
		return true
	}
	for _, id := range t.allowFrom {
		if id == userID {
			return true
		}
	}
	return false
}

// Download resolves the file's direct URL and fetches it.
func (t *Telegram) Download(ctx context.Context, msg domain.RawMessage) ([]byte, error) {
	fileID, ok := msg.Handle.(string)
	if !ok || fileID == "" {
		return nil, fmt.Errorf("message %s has no downloadable document", msg.ID)
	}
	bot := t.currentBot()
	if bot == nil {
		return nil, errors.New("telegram bot not connected")
	}
	url, err := bot.GetFileDirectURL(fileID)
	if err != nil {
		return nil, fmt.Errorf("resolve file %s: %w", fileID, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	resp, err := t.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download %s: %w", msg.ID, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download %s: status %d", msg.ID, resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

// Send delivers text to a chat ID, split into chunks under the API limit.
func (t *Telegram) Send(ctx context.Context, to string, text string) error {
	chatID, err := strconv.ParseInt(to, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid chat ID: %w", err)
	}
	bot := t.currentBot()
	if bot == nil {
		return errors.New("telegram bot not connected")
	}
	for _, chunk := range splitMessage(text, telegramMaxMsgLen) {
		if err := t.sendChunk(ctx, bot, chatID, chunk); err != nil {
			return err
		}
	}
	return nil
}

func (t *Telegram) currentBot() *tgbotapi.BotAPI {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.bot
}

// splitMessage cuts text into chunks of at most maxLen bytes, preferring
// to break after a newline in the second half of a chunk.
func splitMessage(text string, maxLen int) []string {
	if len(text) <= maxLen {
		return []string{text}
	}
	var chunks []string
	for len(text) > 0 {
		if len(text) <= maxLen {
			chunks = append(chunks, text)
			break
		}
		cut := maxLen
		if idx := strings.LastIndex(text[:maxLen], "\n"); idx > maxLen/2 {
			cut = idx + 1
		}
		chunks = append(chunks, text[:cut])
		text = text[cut:]
	}
	return chunks
}

// sendChunk sends one chunk. With a parse mode set it falls back to plain
// text on entity errors; rate limits and transient errors back off.
func (t *Telegram) sendChunk(ctx context.Context, bot *tgbotapi.BotAPI, chatID int64, text string) error {
	var lastErr error
	for attempt := 0; attempt < telegramMaxSendAttempts; attempt++ {
		msg := tgbotapi.NewMessage(chatID, text)
		if attempt == 0 && t.parseMode != "" {
			msg.ParseMode = t.parseMode
		}

		_, err := bot.Send(msg)
		if err == nil {
			return nil
		}
		lastErr = err
		errStr := err.Error()

		var wait time.Duration
		switch {
		case strings.Contains(errStr, "Too Many Requests") || strings.Contains(errStr, "429"):
			wait = time.Duration(attempt+1) * 3 * telegramBackoffUnit
			t.logger.Warn("telegram rate limited, backing off", "retry_after", wait, "attempt", attempt+1)
		case attempt == 0 && msg.ParseMode != "" && strings.Contains(errStr, "can't parse entities"):
			t.logger.Warn("telegram markup rejected, retrying as plain text", "err", err)
			continue
		default:
			wait = time.Duration(attempt+1) * telegramBackoffUnit
			t.logger.Warn("telegram send error, retrying", "err", err, "backoff", wait)
		}

		if attempt == telegramMaxSendAttempts-1 {
			break
		}
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return fmt.Errorf("telegram send to %d failed after %d attempts: %w", chatID, telegramMaxSendAttempts, lastErr)
}
