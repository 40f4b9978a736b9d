package handlers

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"packshot-studio/internal/media"
	"packshot-studio/internal/pipeline"
	"packshot-studio/internal/preview"
	"packshot-studio/internal/session"
)

const (
	callbackPrefix = "ps"

	menuMain   = "main"
	menuStyles = "styles"

	paramStep = 10
)

func (h *Handler) handleCallback(ctx context.Context, q *tgbotapi.CallbackQuery) error {
	if q == nil || q.Message == nil || q.From == nil {
		return nil
	}
	data := strings.TrimSpace(q.Data)
	if !strings.HasPrefix(data, callbackPrefix+":") {
		return nil
	}

	parts := strings.Split(data, ":")
	if len(parts) < 3 {
		return nil
	}

	ownerID, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return nil
	}
	if ownerID != q.From.ID {
		h.tg.AnswerCallback(q.ID, "This menu belongs to someone else.")
		return nil
	}

	action := parts[2]
	args := parts[3:]
	key := session.Key{ChatID: q.Message.Chat.ID, UserID: ownerID}
	msgID := q.Message.MessageID

	sess := h.sessions.Get(key, q.From.UserName)
	h.sessions.SetMessageID(key, msgID)
	flow := sess.Flow
	menu := menuMain

	switch action {
	case "menu":
		if len(args) >= 1 {
			menu = args[0]
		}
		h.tg.AnswerCallback(q.ID, "")
	case "style":
		if len(args) >= 1 {
			if err := flow.ChooseStyle(args[0]); err != nil {
				h.tg.AnswerCallback(q.ID, pipeline.UserMessage(err))
				break
			}
		}
		h.tg.AnswerCallback(q.ID, "Style set")
	case "scale", "pos":
		delta := 0
		if len(args) >= 1 {
			delta, _ = strconv.Atoi(args[0])
		}
		p := flow.Snapshot().Params
		if action == "scale" {
			p.ScalePercent += delta
		} else {
			p.VerticalPositionPercent += delta
		}
		_ = flow.SetParams(p.Clamp())
		h.tg.AnswerCallback(q.ID, "")
	case "blend":
		p := flow.Snapshot().Params
		p.BlendWhiteAsTransparent = !p.BlendWhiteAsTransparent
		_ = flow.SetParams(p)
		h.tg.AnswerCallback(q.ID, "Blend "+onOff(p.BlendWhiteAsTransparent))
	case "format":
		p := flow.Snapshot().Params
		p.Lossless = !p.Lossless
		_ = flow.SetParams(p)
		h.tg.AnswerCallback(q.ID, "Format "+formatName(p.Lossless))
	case "gen", "compose":
		next := pipeline.StateGenerating
		if action == "compose" {
			next = pipeline.StateCompositing
		}
		if _, running := h.busy.LoadOrStore(key, next); running {
			h.tg.AnswerCallback(q.ID, "⏳ Still working on the last request…")
			return nil
		}
		err := h.runBusy(ctx, key, q.ID, msgID, action, flow)
		h.busy.Delete(key)
		if err != nil {
			return err
		}
	case "reset":
		flow.Reset()
		h.tg.AnswerCallback(q.ID, "Reset")
	default:
		h.tg.AnswerCallback(q.ID, "")
	}

	return h.renderUI(key, msgID, menu, true)
}

// runBusy shows the in-progress wizard, without Generate or Compose, before
// the long call starts.
func (h *Handler) runBusy(ctx context.Context, key session.Key, callbackID string, msgID int, action string, flow *pipeline.Orchestrator) error {
	if action == "gen" {
		h.tg.AnswerCallback(callbackID, "Generating…")
		if flow.Snapshot().HasSource {
			_ = h.renderUI(key, msgID, menuMain, true)
		}
		return h.generate(ctx, key, flow)
	}
	h.tg.AnswerCallback(callbackID, "Composing…")
	if flow.Snapshot().Background != nil {
		_ = h.renderUI(key, msgID, menuMain, true)
	}
	return h.compose(ctx, key, flow)
}

func (h *Handler) generate(ctx context.Context, key session.Key, flow *pipeline.Orchestrator) error {
	if !flow.Snapshot().HasSource {
		return h.tg.SendText(key.ChatID, "📷 Send a product photo first.")
	}

	h.tg.SendTyping(key.ChatID)

	res, err := flow.Generate(ctx)
	if err != nil {
		if errors.Is(err, pipeline.ErrSuperseded) {
			return nil
		}
		h.logger.Warn("generate failed", "session", flow.ID(), "err", err)
		return h.tg.SendText(key.ChatID, "❌ "+pipeline.UserMessage(err))
	}

	caption := fmt.Sprintf("🖼 Background by %s (%s)", res.ProviderID, res.Model)
	if d := res.Diagnostic(); d != "" {
		caption += "\nℹ️ " + d
	}

	if h.renderer == nil {
		return h.tg.SendText(key.ChatID, caption)
	}
	bgOut, err := h.renderer.RenderBackground(ctx, res.Image, false)
	if err != nil {
		h.logger.Warn("background preview failed", "session", flow.ID(), "err", err)
		return h.tg.SendText(key.ChatID, caption)
	}
	return h.tg.SendPhotoBytes(key.ChatID, "background"+media.Extension(bgOut.MimeType), bgOut.Data, caption)
}

func (h *Handler) compose(ctx context.Context, key session.Key, flow *pipeline.Orchestrator) error {
	h.tg.SendUploading(key.ChatID)

	out, err := flow.Composite(ctx)
	if err != nil {
		if errors.Is(err, pipeline.ErrSuperseded) {
			return nil
		}
		h.logger.Warn("composite failed", "session", flow.ID(), "err", err)
		return h.tg.SendText(key.ChatID, "❌ "+pipeline.UserMessage(err))
	}

	caption := flow.Snapshot().Caption()
	return h.tg.SendDocumentBytes(key.ChatID, out.Filename(h.filenamePrefix, h.now()), out.Data, caption)
}

func (h *Handler) renderUI(key session.Key, messageID int, menu string, edit bool) error {
	sess := h.sessions.Get(key, "")
	if messageID == 0 {
		messageID = h.sessions.MessageID(key)
	}

	snap := sess.Flow.Snapshot()
	if v, ok := h.busy.Load(key); ok {
		snap.State = v.(pipeline.State)
	}
	text := wizardText(snap)
	kb := wizardKeyboard(key.UserID, snap, sess.Flow.Catalog(), menu)

	if edit && messageID != 0 {
		if err := h.tg.EditTextWithKeyboard(key.ChatID, messageID, text, kb); err == nil {
			return nil
		}
	}

	msgID, err := h.tg.SendTextWithKeyboard(key.ChatID, text, kb)
	if err != nil {
		return err
	}
	h.sessions.SetMessageID(key, msgID)
	return nil
}

func wizardText(s pipeline.Snapshot) string {
	var b strings.Builder
	b.WriteString("📦 Packshot Studio\n\n")

	if s.HasSource {
		b.WriteString("Photo: saved ✅\n")
	} else {
		b.WriteString("Photo: (none)\n")
	}

	switch {
	case !s.HasSource:
	case s.AnalysisPending:
		b.WriteString("Analysis: ⏳ running…\n")
	case s.Analysis != nil && s.Analysis.SuggestedStyle != "":
		b.WriteString("Analysis: ✨ suggests " + truncateLine(s.Analysis.SuggestedStyle, 40) + "\n")
	case s.Analysis != nil:
		b.WriteString("Analysis: done\n")
	case !s.HasCredential:
		b.WriteString("Analysis: skipped (no API key, /key)\n")
	default:
		b.WriteString("Analysis: unavailable\n")
	}

	if s.HasUserKey {
		b.WriteString("Key: your own 🔑\n")
	}

	style := s.Style.Name
	if s.ExplicitStyle {
		style += " (your choice)"
	} else if s.Analysis != nil && s.Analysis.SuggestedStyleID == s.Style.ID {
		style += " (AI)"
	}
	b.WriteString("Style: " + style + "\n")
	if s.Hint != "" {
		b.WriteString("Hint: " + truncateLine(s.Hint, 80) + "\n")
	}
	b.WriteString(fmt.Sprintf("Scale: %d%%  Y: %d%%  Blend: %s  Format: %s\n",
		s.Params.ScalePercent, s.Params.VerticalPositionPercent, onOff(s.Params.BlendWhiteAsTransparent), formatName(s.Params.Lossless)))

	if s.Background != nil {
		b.WriteString(fmt.Sprintf("Background: %s (%s) ✅\n", s.Background.ProviderID, s.Background.Model))
	}
	if s.Caption() != "" {
		b.WriteString("\n📝 " + truncateLine(s.Caption(), 300) + "\n")
	}

	switch s.State {
	case pipeline.StateIdle:
		b.WriteString("\n📷 Send a product photo.\n")
	case pipeline.StateGenerating:
		b.WriteString("\n🎨 Generating background…\n")
	case pipeline.StateCompositing:
		b.WriteString("\n📦 Composing…\n")
	case pipeline.StateGenerated:
		b.WriteString("\n📦 Press Compose, or adjust first.\n")
	case pipeline.StateComposited:
		b.WriteString("\n✅ Done. Adjust and compose again, or generate a new background.\n")
	default:
		b.WriteString("\n🖼 Pick a style and press Generate.\n")
	}

	return strings.TrimSpace(b.String())
}

func wizardKeyboard(ownerID int64, s pipeline.Snapshot, catalog preview.Catalog, menu string) tgbotapi.InlineKeyboardMarkup {
	if menu == menuStyles {
		return stylesKeyboard(ownerID, s, catalog)
	}

	styleRow := []tgbotapi.InlineKeyboardButton{
		tgbotapi.NewInlineKeyboardButtonData("🎨 Style: "+s.Style.Name, cb(ownerID, "menu", menuStyles)),
	}
	if !s.HasSource {
		return tgbotapi.NewInlineKeyboardMarkup(
			styleRow,
			[]tgbotapi.InlineKeyboardButton{
				tgbotapi.NewInlineKeyboardButtonData("Reset", cb(ownerID, "reset")),
			},
		)
	}

	rows := [][]tgbotapi.InlineKeyboardButton{
		styleRow,
		{
			tgbotapi.NewInlineKeyboardButtonData(fmt.Sprintf("Scale −%d", paramStep), cb(ownerID, "scale", strconv.Itoa(-paramStep))),
			tgbotapi.NewInlineKeyboardButtonData(fmt.Sprintf("Scale +%d", paramStep), cb(ownerID, "scale", strconv.Itoa(paramStep))),
		},
		{
			tgbotapi.NewInlineKeyboardButtonData(fmt.Sprintf("Y −%d", paramStep), cb(ownerID, "pos", strconv.Itoa(-paramStep))),
			tgbotapi.NewInlineKeyboardButtonData(fmt.Sprintf("Y +%d", paramStep), cb(ownerID, "pos", strconv.Itoa(paramStep))),
		},
		{
			tgbotapi.NewInlineKeyboardButtonData("Blend: "+onOff(s.Params.BlendWhiteAsTransparent), cb(ownerID, "blend")),
			tgbotapi.NewInlineKeyboardButtonData("Format: "+formatName(s.Params.Lossless), cb(ownerID, "format")),
		},
	}

	if s.State != pipeline.StateGenerating && s.State != pipeline.StateCompositing {
		action := []tgbotapi.InlineKeyboardButton{
			tgbotapi.NewInlineKeyboardButtonData("🖼 Generate", cb(ownerID, "gen")),
		}
		if s.Background != nil {
			action = append(action, tgbotapi.NewInlineKeyboardButtonData("📦 Compose", cb(ownerID, "compose")))
		}
		rows = append(rows, action)
	}
	rows = append(rows, []tgbotapi.InlineKeyboardButton{
		tgbotapi.NewInlineKeyboardButtonData("Reset", cb(ownerID, "reset")),
	})

	return tgbotapi.NewInlineKeyboardMarkup(rows...)
}

func stylesKeyboard(ownerID int64, s pipeline.Snapshot, catalog preview.Catalog) tgbotapi.InlineKeyboardMarkup {
	var rows [][]tgbotapi.InlineKeyboardButton
	var row []tgbotapi.InlineKeyboardButton

	suggested := ""
	if s.Analysis != nil {
		suggested = s.Analysis.SuggestedStyleID
	}

	for _, style := range catalog.Styles() {
		label := style.Name
		if style.ID == suggested {
			label = "✨ " + label
		}
		if style.ID == s.Style.ID {
			label = "✅ " + label
		}

		row = append(row, tgbotapi.NewInlineKeyboardButtonData(label, cb(ownerID, "style", style.ID)))
		if len(row) == 2 {
			rows = append(rows, row)
			row = nil
		}
	}
	if len(row) > 0 {
		rows = append(rows, row)
	}

	rows = append(rows, []tgbotapi.InlineKeyboardButton{
		tgbotapi.NewInlineKeyboardButtonData("⬅ Back", cb(ownerID, "menu", menuMain)),
	})

	return tgbotapi.NewInlineKeyboardMarkup(rows...)
}

func cb(ownerID int64, parts ...string) string {
	return fmt.Sprintf("%s:%d:%s", callbackPrefix, ownerID, strings.Join(parts, ":"))
}

func onOff(v bool) string {
	if v {
		return "ON"
	}
	return "OFF"
}

func formatName(lossless bool) string {
	if lossless {
		return "PNG"
	}
	return "JPG"
}

func truncateLine(s string, max int) string {
	s = strings.TrimSpace(s)
	runes := []rune(s)
	if max <= 0 || len(runes) <= max {
		return s
	}
	return strings.TrimSpace(string(runes[:max])) + "…"
}
