package handlers

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"packshot-studio/internal/compositor"
	"packshot-studio/internal/media"
	"packshot-studio/internal/mediagroup"
	"packshot-studio/internal/pipeline"
	"packshot-studio/internal/session"
	"packshot-studio/internal/telegram"
)

// Messenger is the part of the Telegram client the wizard uses.
type Messenger interface {
	SendText(chatID int64, text string) error
	SendTextWithKeyboard(chatID int64, text string, kb telegram.Keyboard) (int, error)
	EditTextWithKeyboard(chatID int64, messageID int, text string, kb telegram.Keyboard) error
	AnswerCallback(callbackID, text string)
	SendTyping(chatID int64)
	SendUploading(chatID int64)
	SendPhotoBytes(chatID int64, name string, data []byte, caption string) error
	SendDocumentBytes(chatID int64, name string, data []byte, caption string) error
	DownloadFile(ctx context.Context, fileID string) ([]byte, string, error)
}

// BackgroundRenderer produces the background-only preview.
type BackgroundRenderer interface {
	RenderBackground(ctx context.Context, background []byte, lossless bool) (compositor.Output, error)
}

type Options struct {
	Telegram       Messenger
	Sessions       *session.Store
	Renderer       BackgroundRenderer
	FilenamePrefix string
	// AnalysisWait bounds how long the wizard waits to show a suggestion.
	AnalysisWait time.Duration
	Now          func() time.Time
	Logger       *slog.Logger
}

type Handler struct {
	tg             Messenger
	sessions       *session.Store
	renderer       BackgroundRenderer
	filenamePrefix string
	analysisWait   time.Duration
	now            func() time.Time
	logger         *slog.Logger
	aggregator     *mediagroup.Aggregator

	// busy holds the state of the generate or compose run a session has in
	// flight, keyed by session.Key.
	busy sync.Map
}

func New(opts Options) *Handler {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	wait := opts.AnalysisWait
	if wait <= 0 {
		wait = 90 * time.Second
	}
	prefix := strings.TrimSpace(opts.FilenamePrefix)
	if prefix == "" {
		prefix = compositor.DefaultFilenamePrefix
	}

	return &Handler{
		tg:             opts.Telegram,
		sessions:       opts.Sessions,
		renderer:       opts.Renderer,
		filenamePrefix: prefix,
		analysisWait:   wait,
		now:            now,
		logger:         logger,
	}
}

func (h *Handler) SetMediaGroupAggregator(ag *mediagroup.Aggregator) {
	h.aggregator = ag
}

func (h *Handler) HandleUpdate(ctx context.Context, update telegram.Update) error {
	if update.CallbackQuery != nil {
		return h.handleCallback(ctx, update.CallbackQuery)
	}
	if update.Message == nil || update.Message.From == nil {
		return nil
	}

	msg := update.Message
	key := session.Key{ChatID: msg.Chat.ID, UserID: msg.From.ID}
	username := msg.From.UserName

	if msg.IsCommand() {
		return h.handleCommand(ctx, key, username, msg)
	}

	if fileID, mimeType, ok := imageFile(msg); ok {
		if msg.MediaGroupID != "" && h.aggregator != nil {
			h.aggregator.Add(mediagroup.Item{
				ChatID:       key.ChatID,
				UserID:       key.UserID,
				Username:     username,
				MediaGroupID: msg.MediaGroupID,
				Caption:      msg.Caption,
				FileID:       fileID,
				MimeType:     mimeType,
			})
			return nil
		}
		return h.capture(ctx, key, username, fileID, mimeType, msg.Caption)
	}

	if msg.Document != nil {
		return h.tg.SendText(key.ChatID, "❌ Please send an image (JPG, PNG or WEBP).")
	}

	if msg.Text != "" {
		return h.handleText(key, username, msg.Text)
	}

	return nil
}

// HandleMediaGroup captures the last photo of a settled album.
func (h *Handler) HandleMediaGroup(ctx context.Context, group mediagroup.Group) {
	item := group.Latest()
	if item.FileID == "" {
		return
	}
	key := session.Key{ChatID: group.ChatID, UserID: group.UserID}
	if len(group.Items) > 1 {
		_ = h.tg.SendText(key.ChatID, fmt.Sprintf("ℹ️ Album received: using the last of %d photos.", len(group.Items)))
	}
	if err := h.capture(ctx, key, group.Username, item.FileID, item.MimeType, group.Caption); err != nil {
		h.logger.Error("media group processing failed", "err", err)
	}
}

func (h *Handler) handleCommand(ctx context.Context, key session.Key, username string, msg *tgbotapi.Message) error {
	sess := h.sessions.Get(key, username)

	switch msg.Command() {
	case "start":
		if err := h.tg.SendText(key.ChatID, welcomeText); err != nil {
			return err
		}
		return h.renderUI(key, 0, menuMain, false)
	case "help":
		return h.tg.SendText(key.ChatID, helpText)
	case "styles":
		var b strings.Builder
		b.WriteString("🎨 Styles\n\n")
		for _, s := range sess.Flow.Catalog().Styles() {
			b.WriteString(fmt.Sprintf("• %s (%s)\n  %s\n", s.Name, s.ID, s.Prompt))
		}
		return h.tg.SendText(key.ChatID, strings.TrimSpace(b.String()))
	case "key":
		arg := strings.TrimSpace(msg.CommandArguments())
		switch strings.ToLower(arg) {
		case "":
			return h.tg.SendText(key.ChatID, "Usage: /key <your Gemini API key>  or  /key clear")
		case "clear", "off", "-":
			sess.Flow.SetAPIKey("")
			return h.tg.SendText(key.ChatID, "🔑 Personal key removed.")
		}
		sess.Flow.SetAPIKey(arg)
		return h.tg.SendText(key.ChatID, "🔑 Key saved for this chat. It is kept in memory only.")
	case "reset":
		sess.Flow.Reset()
		_ = h.tg.SendText(key.ChatID, "♻️ Reset. Send a product photo to start again.")
		return h.renderUI(key, 0, menuMain, false)
	default:
		return h.tg.SendText(key.ChatID, "❌ Unknown command. Use /help.")
	}
}

func (h *Handler) handleText(key session.Key, username, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	sess := h.sessions.Get(key, username)

	if adj, ok := parseAdjustment(text); ok {
		p := sess.Flow.Snapshot().Params
		switch adj.kind {
		case adjustScale:
			p.ScalePercent = adj.apply(p.ScalePercent)
		case adjustPosition:
			p.VerticalPositionPercent = adj.apply(p.VerticalPositionPercent)
		}
		if err := sess.Flow.SetParams(p.Clamp()); err != nil {
			return h.tg.SendText(key.ChatID, "❌ "+pipeline.UserMessage(err))
		}
		return h.renderUI(key, 0, menuMain, true)
	}

	sess.Flow.SetHint(text)
	return h.renderUI(key, 0, menuMain, true)
}

func (h *Handler) capture(ctx context.Context, key session.Key, username, fileID, mimeType, caption string) error {
	sess := h.sessions.Get(key, username)
	h.tg.SendTyping(key.ChatID)

	data, sniffed, err := h.tg.DownloadFile(ctx, fileID)
	if err != nil {
		h.logger.Error("photo download failed", "session", sess.Flow.ID(), "err", err)
		return h.tg.SendText(key.ChatID, "❌ Could not download the photo.")
	}
	if mimeType == "" {
		mimeType = sniffed
	}

	img, err := media.NewSourceImage(data, mimeType)
	if err != nil {
		return h.tg.SendText(key.ChatID, "❌ That file is not an image I can use.")
	}
	if err := sess.Flow.Capture(ctx, img); err != nil {
		return h.tg.SendText(key.ChatID, "❌ "+pipeline.UserMessage(err))
	}
	if c := strings.TrimSpace(caption); c != "" {
		sess.Flow.SetHint(c)
	}

	if err := h.renderUI(key, 0, menuMain, false); err != nil {
		return err
	}

	if sess.Flow.Snapshot().AnalysisPending {
		go h.refreshAfterAnalysis(ctx, key, sess.Flow)
	}
	return nil
}

// refreshAfterAnalysis re-renders the wizard once the suggestion arrives.
func (h *Handler) refreshAfterAnalysis(ctx context.Context, key session.Key, flow *pipeline.Orchestrator) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), h.analysisWait)
	defer cancel()

	if _, err := flow.AwaitAnalysis(ctx); err != nil {
		h.logger.Debug("analysis not shown", "session", flow.ID(), "err", err)
	}
	if err := h.renderUI(key, 0, menuMain, true); err != nil {
		h.logger.Warn("wizard refresh failed", "session", flow.ID(), "err", err)
	}
}

func imageFile(msg *tgbotapi.Message) (fileID, mimeType string, ok bool) {
	if len(msg.Photo) > 0 {
		return msg.Photo[len(msg.Photo)-1].FileID, "image/jpeg", true
	}
	if msg.Document != nil && isImageMime(msg.Document.MimeType) {
		return msg.Document.FileID, msg.Document.MimeType, true
	}
	return "", "", false
}

const welcomeText = "📦 Packshot Studio\n\n" +
	"Send a product photo and I will put it on an AI-generated background, ready for Instagram (1080×1080).\n\n" +
	"Commands:\n" +
	"/help - How it works\n" +
	"/styles - Background styles\n" +
	"/key <key> - Use your own Gemini API key\n" +
	"/reset - Start over"

const helpText = "📦 How it works\n\n" +
	"1. Send a product photo (white background works best).\n" +
	"2. With an API key the photo is analysed and a style is suggested, with a post caption.\n" +
	"3. Pick a style, optionally send a text hint (e.g. \"with morning light\").\n" +
	"4. Press 🖼 Generate for a background, then 📦 Compose.\n\n" +
	"Adjust with the buttons or by text: \"scale 80\", \"y 40\", \"scale +10\".\n" +
	"Blend ON makes white areas of the photo disappear into the background."
