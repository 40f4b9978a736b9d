package handlers

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"regexp"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"packshot-studio/internal/compositor"
	"packshot-studio/internal/pipeline"
	"packshot-studio/internal/preview"
	"packshot-studio/internal/provider"
	"packshot-studio/internal/session"
	"packshot-studio/internal/telegram"
)

type sentFile struct {
	name    string
	data    []byte
	caption string
}

type fakeMessenger struct {
	mu        sync.Mutex
	texts     []string
	keyboards []string
	markups   []telegram.Keyboard
	edits     int
	answers   []string
	photos    []sentFile
	documents []sentFile
	files     map[string][]byte
	nextMsgID int
}

func newFakeMessenger() *fakeMessenger {
	return &fakeMessenger{files: map[string][]byte{}, nextMsgID: 100}
}

func (f *fakeMessenger) SendText(chatID int64, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.texts = append(f.texts, text)
	return nil
}

func (f *fakeMessenger) SendTextWithKeyboard(chatID int64, text string, kb telegram.Keyboard) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.keyboards = append(f.keyboards, text)
	f.markups = append(f.markups, kb)
	f.nextMsgID++
	return f.nextMsgID, nil
}

func (f *fakeMessenger) EditTextWithKeyboard(chatID int64, messageID int, text string, kb telegram.Keyboard) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.keyboards = append(f.keyboards, text)
	f.markups = append(f.markups, kb)
	f.edits++
	return nil
}

func (f *fakeMessenger) AnswerCallback(callbackID, text string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.answers = append(f.answers, text)
}

func (f *fakeMessenger) SendTyping(int64)    {}
func (f *fakeMessenger) SendUploading(int64) {}

func (f *fakeMessenger) SendPhotoBytes(chatID int64, name string, data []byte, caption string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.photos = append(f.photos, sentFile{name: name, data: data, caption: caption})
	return nil
}

func (f *fakeMessenger) SendDocumentBytes(chatID int64, name string, data []byte, caption string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.documents = append(f.documents, sentFile{name: name, data: data, caption: caption})
	return nil
}

func (f *fakeMessenger) DownloadFile(ctx context.Context, fileID string) ([]byte, string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.files[fileID], "image/png", nil
}

func (f *fakeMessenger) lastUI() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.keyboards) == 0 {
		return ""
	}
	return f.keyboards[len(f.keyboards)-1]
}

func (f *fakeMessenger) lastButtons() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.markups) == 0 {
		return nil
	}
	return buttonData(f.markups[len(f.markups)-1])
}

func (f *fakeMessenger) answered() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.answers...)
}

func buttonData(kb telegram.Keyboard) []string {
	var out []string
	for _, row := range kb.InlineKeyboard {
		for _, b := range row {
			if b.CallbackData != nil {
				out = append(out, *b.CallbackData)
			}
		}
	}
	return out
}

type stubGenerator struct {
	image []byte
}

func (g stubGenerator) Generate(ctx context.Context, req provider.Request, credential string) (provider.Result, error) {
	return provider.Result{
		Image:      g.image,
		MimeType:   "image/png",
		ProviderID: provider.IDFallback,
		Model:      "flux",
		Attempts: []*provider.AttemptError{
			{ProviderID: provider.IDPrimary, Model: "imagen", Err: provider.ErrNoCredential},
		},
	}, nil
}

func pngOf(t *testing.T, w, h int, c color.Color) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

const (
	chatID int64 = 7
	userID int64 = 42
)

func newTestHandler(t *testing.T) (*Handler, *fakeMessenger, *session.Store) {
	t.Helper()
	return newTestHandlerWith(t, stubGenerator{image: pngOf(t, 64, 48, color.NRGBA{R: 90, G: 120, B: 60, A: 255})})
}

func newTestHandlerWith(t *testing.T, gen pipeline.Generator) (*Handler, *fakeMessenger, *session.Store) {
	t.Helper()
	tg := newFakeMessenger()
	tg.files["photo-1"] = pngOf(t, 40, 40, color.White)

	comp := compositor.New(compositor.Options{})
	store := session.NewStore(session.Options{NewFlow: func(k session.Key) *pipeline.Orchestrator {
		return pipeline.New(pipeline.Options{Generator: gen, Compositor: comp})
	}})

	h := New(Options{
		Telegram: tg,
		Sessions: store,
		Renderer: comp,
		Now:      func() time.Time { return time.UnixMilli(1_700_000_000_000) },
	})
	return h, tg, store
}

func message(text string) *tgbotapi.Message {
	msg := &tgbotapi.Message{
		MessageID: 1,
		From:      &tgbotapi.User{ID: userID, UserName: "shop"},
		Chat:      &tgbotapi.Chat{ID: chatID},
		Text:      text,
	}
	if strings.HasPrefix(text, "/") {
		cmd := strings.SplitN(text, " ", 2)[0]
		msg.Entities = []tgbotapi.MessageEntity{{Type: "bot_command", Offset: 0, Length: len(cmd)}}
	}
	return msg
}

func callback(from int64, data string) tgbotapi.Update {
	return tgbotapi.Update{CallbackQuery: &tgbotapi.CallbackQuery{
		ID:      "cb",
		From:    &tgbotapi.User{ID: from},
		Message: &tgbotapi.Message{MessageID: 101, Chat: &tgbotapi.Chat{ID: chatID}},
		Data:    data,
	}}
}

func sendPhoto(t *testing.T, h *Handler, caption string) {
	t.Helper()
	msg := message("")
	msg.Photo = []tgbotapi.PhotoSize{{FileID: "thumb"}, {FileID: "photo-1"}}
	msg.Caption = caption
	require.NoError(t, h.HandleUpdate(context.Background(), tgbotapi.Update{Message: msg}))
}

func TestPhotoCapturesAndRendersWizard(t *testing.T) {
	h, tg, store := newTestHandler(t)

	sendPhoto(t, h, "with morning light")

	sess, ok := store.Lookup(session.Key{ChatID: chatID, UserID: userID})
	require.True(t, ok)
	snap := sess.Flow.Snapshot()
	assert.True(t, snap.HasSource)
	assert.Equal(t, pipeline.StateAnalysisSkipped, snap.State)
	assert.Equal(t, "with morning light", snap.Hint)

	ui := tg.lastUI()
	assert.Contains(t, ui, "Photo: saved")
	assert.Contains(t, ui, "skipped (no API key")
}

func TestTextAdjustsParamsOrSetsHint(t *testing.T) {
	h, tg, store := newTestHandler(t)
	sendPhoto(t, h, "")

	require.NoError(t, h.HandleUpdate(context.Background(), tgbotapi.Update{Message: message("scale 200")}))
	require.NoError(t, h.HandleUpdate(context.Background(), tgbotapi.Update{Message: message("y 30")}))
	require.NoError(t, h.HandleUpdate(context.Background(), tgbotapi.Update{Message: message("soft shadows please")}))

	sess, _ := store.Lookup(session.Key{ChatID: chatID, UserID: userID})
	snap := sess.Flow.Snapshot()
	assert.Equal(t, 150, snap.Params.ScalePercent)
	assert.Equal(t, 30, snap.Params.VerticalPositionPercent)
	assert.Equal(t, "soft shadows please", snap.Hint)
	assert.Contains(t, tg.lastUI(), "Scale: 150%")
}

func TestCallbackFromAnotherUserIsRejected(t *testing.T) {
	h, tg, store := newTestHandler(t)

	require.NoError(t, h.HandleUpdate(context.Background(), callback(999, cb(userID, "style", "dark"))))

	require.Len(t, tg.answers, 1)
	assert.Contains(t, tg.answers[0], "someone else")
	assert.Equal(t, 0, store.Len())
}

func TestStyleGenerateComposeFlow(t *testing.T) {
	h, tg, store := newTestHandler(t)
	ctx := context.Background()
	sendPhoto(t, h, "")

	require.NoError(t, h.HandleUpdate(ctx, callback(userID, cb(userID, "style", "marble"))))
	require.NoError(t, h.HandleUpdate(ctx, callback(userID, cb(userID, "gen"))))

	require.Len(t, tg.photos, 1)
	assert.Equal(t, "background.jpg", tg.photos[0].name)
	assert.Contains(t, tg.photos[0].caption, "fallback (flux)")
	assert.Contains(t, tg.photos[0].caption, "skipped: no credential configured")

	require.NoError(t, h.HandleUpdate(ctx, callback(userID, cb(userID, "scale", "-10"))))
	require.NoError(t, h.HandleUpdate(ctx, callback(userID, cb(userID, "compose"))))

	require.Len(t, tg.documents, 1)
	assert.Equal(t, "packshot-1700000000000.jpg", tg.documents[0].name)
	assert.NotEmpty(t, tg.documents[0].data)

	sess, _ := store.Lookup(session.Key{ChatID: chatID, UserID: userID})
	snap := sess.Flow.Snapshot()
	assert.Equal(t, pipeline.StateComposited, snap.State)
	assert.Equal(t, "marble", snap.Style.ID)
	assert.Equal(t, 60, snap.Params.ScalePercent)
	assert.Contains(t, tg.lastUI(), "Marble Luxury (your choice)")
}

func TestComposeBeforeGenerate(t *testing.T) {
	h, tg, _ := newTestHandler(t)
	sendPhoto(t, h, "")

	require.NoError(t, h.HandleUpdate(context.Background(), callback(userID, cb(userID, "compose"))))
	assert.Empty(t, tg.documents)
	require.NotEmpty(t, tg.texts)
	assert.Contains(t, tg.texts[len(tg.texts)-1], "no background generated yet")
}

func TestKeyAndResetCommands(t *testing.T) {
	h, tg, store := newTestHandler(t)
	ctx := context.Background()
	sendPhoto(t, h, "")

	require.NoError(t, h.HandleUpdate(ctx, tgbotapi.Update{Message: message("/key abc123")}))
	sess, _ := store.Lookup(session.Key{ChatID: chatID, UserID: userID})
	assert.True(t, sess.Flow.Snapshot().HasUserKey)

	require.NoError(t, h.HandleUpdate(ctx, tgbotapi.Update{Message: message("/reset")}))
	snap := sess.Flow.Snapshot()
	assert.Equal(t, pipeline.StateIdle, snap.State)
	assert.True(t, snap.HasUserKey)
	assert.Contains(t, tg.lastUI(), "Key: your own")

	require.NoError(t, h.HandleUpdate(ctx, tgbotapi.Update{Message: message("/key clear")}))
	assert.False(t, sess.Flow.Snapshot().HasUserKey)
	assert.Contains(t, tg.texts[len(tg.texts)-1], "removed")
}

func TestStylesCommandListsCatalog(t *testing.T) {
	h, tg, _ := newTestHandler(t)

	require.NoError(t, h.HandleUpdate(context.Background(), tgbotapi.Update{Message: message("/styles")}))
	require.NotEmpty(t, tg.texts)
	list := tg.texts[len(tg.texts)-1]
	assert.Regexp(t, regexp.MustCompile(`(?s)Clean Desk.*Cozy Wood.*Marble Luxury`), list)
}

func TestWizardTextNoPhoto(t *testing.T) {
	snap := pipeline.New(pipeline.Options{}).Snapshot()
	text := wizardText(snap)

	assert.Contains(t, text, "Photo: (none)")
	assert.Contains(t, text, "Send a product photo")
	assert.NotContains(t, text, "Analysis:")
}

type blockingGenerator struct {
	stubGenerator
	calls   atomic.Int32
	started chan struct{}
	release chan struct{}
}

func (g *blockingGenerator) Generate(ctx context.Context, req provider.Request, credential string) (provider.Result, error) {
	g.calls.Add(1)
	g.started <- struct{}{}
	<-g.release
	return g.stubGenerator.Generate(ctx, req, credential)
}

func TestGenerateHidesActionsWhileRunning(t *testing.T) {
	gen := &blockingGenerator{
		stubGenerator: stubGenerator{image: pngOf(t, 64, 48, color.NRGBA{R: 90, G: 120, B: 60, A: 255})},
		started:       make(chan struct{}, 2),
		release:       make(chan struct{}),
	}
	h, tg, _ := newTestHandlerWith(t, gen)
	sendPhoto(t, h, "")

	done := make(chan error, 1)
	go func() { done <- h.HandleUpdate(context.Background(), callback(userID, "ps:42:gen")) }()

	select {
	case <-gen.started:
	case <-time.After(2 * time.Second):
		t.Fatal("generation never started")
	}

	assert.Contains(t, tg.lastUI(), "Generating background")
	assert.NotContains(t, tg.lastButtons(), "ps:42:gen")
	assert.Contains(t, tg.lastButtons(), "ps:42:reset")

	require.NoError(t, h.HandleUpdate(context.Background(), callback(userID, "ps:42:gen")))
	answers := tg.answered()
	require.NotEmpty(t, answers)
	assert.Contains(t, answers[len(answers)-1], "Still working")

	close(gen.release)
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("generation never finished")
	}

	assert.EqualValues(t, 1, gen.calls.Load())
	assert.Contains(t, tg.lastButtons(), "ps:42:gen")
	assert.Contains(t, tg.lastButtons(), "ps:42:compose")
}

func TestWizardKeyboardWhileBusy(t *testing.T) {
	catalog := preview.DefaultCatalog()
	bg := &provider.Result{ProviderID: provider.IDFallback}

	for _, state := range []pipeline.State{pipeline.StateGenerating, pipeline.StateCompositing} {
		data := buttonData(wizardKeyboard(1, pipeline.Snapshot{State: state, HasSource: true, Background: bg}, catalog, menuMain))
		assert.NotContains(t, data, "ps:1:gen", state)
		assert.NotContains(t, data, "ps:1:compose", state)
		assert.Contains(t, data, "ps:1:reset", state)
	}

	data := buttonData(wizardKeyboard(1, pipeline.Snapshot{State: pipeline.StateGenerated, HasSource: true, Background: bg}, catalog, menuMain))
	assert.Contains(t, data, "ps:1:gen")
	assert.Contains(t, data, "ps:1:compose")
}
