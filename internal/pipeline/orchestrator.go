package pipeline

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"packshot-studio/internal/analyzer"
	"packshot-studio/internal/compositor"
	"packshot-studio/internal/media"
	"packshot-studio/internal/preview"
	"packshot-studio/internal/provider"
)

type State string

const (
	StateIdle            State = "idle"
	StateAnalyzing       State = "analyzing"
	StateAnalyzed        State = "analyzed"
	StateAnalysisSkipped State = "analysis_skipped"
	StateStyleChosen     State = "style_chosen"
	StateGenerating      State = "generating"
	StateGenerated       State = "generated"
	StateCompositing     State = "compositing"
	StateComposited      State = "composited"
)

type Analyzer interface {
	Analyze(ctx context.Context, credential string, img media.SourceImage, instruction string) (analyzer.Result, error)
}

type Generator interface {
	Generate(ctx context.Context, req provider.Request, credential string) (provider.Result, error)
}

type Compositor interface {
	Compose(ctx context.Context, foreground, background []byte, p compositor.Params) (compositor.Output, error)
}

type Options struct {
	ID         string
	Analyzer   Analyzer
	Generator  Generator
	Compositor Compositor
	Catalog    preview.Catalog
	// Instruction is sent with every analysis request.
	Instruction string
	// Credential is the default key; SetAPIKey overrides it per session.
	Credential      string
	AnalysisTimeout time.Duration
	Logger          *slog.Logger
}

// Orchestrator holds one upload-to-composite flow. All methods are safe for
// concurrent use; the lock is never held across network calls.
type Orchestrator struct {
	id              string
	analyzer        Analyzer
	generator       Generator
	compositor      Compositor
	catalog         preview.Catalog
	instruction     string
	credential      string
	analysisTimeout time.Duration
	logger          *slog.Logger

	mu sync.Mutex

	state       State
	source      media.SourceImage
	sourceEpoch uint64
	genEpoch    uint64

	analysis        *analyzer.Result
	analysisErr     error
	analysisPending bool
	analysisDone    chan struct{}

	styleID       string
	explicitStyle bool
	hint          string
	params        compositor.Params
	userKey       string

	background *provider.Result
	prompt     string
	output     *compositor.Output
	lastErr    error
}

func New(opts Options) *Orchestrator {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	catalog := opts.Catalog
	if catalog.Len() == 0 {
		catalog = preview.DefaultCatalog()
	}
	id := strings.TrimSpace(opts.ID)
	if id == "" {
		id = uuid.NewString()
	}
	timeout := opts.AnalysisTimeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	instruction := opts.Instruction
	if strings.TrimSpace(instruction) == "" {
		instruction = preview.AnalysisInstruction(catalog, preview.InstructionOptions{})
	}

	o := &Orchestrator{
		id:              id,
		analyzer:        opts.Analyzer,
		generator:       opts.Generator,
		compositor:      opts.Compositor,
		catalog:         catalog,
		instruction:     instruction,
		credential:      strings.TrimSpace(opts.Credential),
		analysisTimeout: timeout,
		logger:          logger.With("session", id),
	}
	o.resetLocked()
	return o
}

func (o *Orchestrator) ID() string { return o.id }

func (o *Orchestrator) Catalog() preview.Catalog { return o.catalog }

// Capture replaces the source image. Analysis, background and output of the
// previous image are dropped, and analysis of the new one starts in the
// background when a credential is available.
func (o *Orchestrator) Capture(ctx context.Context, img media.SourceImage) error {
	if img.IsZero() {
		return wrap("capture", media.ErrEmpty)
	}

	o.mu.Lock()
	o.sourceEpoch++
	o.genEpoch++
	epoch := o.sourceEpoch
	o.source = img
	o.analysis = nil
	o.analysisErr = nil
	o.background = nil
	o.prompt = ""
	o.output = nil
	o.lastErr = nil
	o.explicitStyle = false

	done := make(chan struct{})
	o.analysisDone = done
	cred := o.credentialLocked()

	if o.analyzer == nil || cred == "" {
		o.analysisPending = false
		o.analysisErr = &analyzer.Failure{Stage: analyzer.StageCredential, Err: analyzer.ErrNoCredential}
		o.state = StateAnalysisSkipped
		close(done)
		o.mu.Unlock()
		o.logger.Info("photo captured", "state", StateAnalysisSkipped, "mime", img.MimeType(), "bytes", img.Size())
		return nil
	}

	o.analysisPending = true
	o.state = StateAnalyzing
	instruction := o.instruction
	o.mu.Unlock()

	o.logger.Info("photo captured", "state", StateAnalyzing, "mime", img.MimeType(), "bytes", img.Size())
	go o.runAnalysis(context.WithoutCancel(ctx), epoch, done, img, cred, instruction)
	return nil
}

func (o *Orchestrator) runAnalysis(ctx context.Context, epoch uint64, done chan struct{}, img media.SourceImage, cred, instruction string) {
	defer close(done)

	ctx, cancel := context.WithTimeout(ctx, o.analysisTimeout)
	defer cancel()

	res, err := o.analyzer.Analyze(ctx, cred, img, instruction)

	o.mu.Lock()
	defer o.mu.Unlock()

	if epoch != o.sourceEpoch {
		o.logger.Debug("stale analysis discarded")
		return
	}
	o.analysisPending = false

	if err != nil {
		o.analysisErr = err
		if o.state == StateAnalyzing {
			o.state = StateAnalysisSkipped
		}
		o.logger.Warn("analysis unavailable", "state", o.state, "err", err)
		return
	}

	o.analysis = &res
	if o.state == StateAnalyzing {
		o.state = StateAnalyzed
	}
	if !o.explicitStyle {
		if s, ok := o.catalog.Lookup(res.SuggestedStyleID); ok {
			o.styleID = s.ID
		}
	}
	o.logger.Info("analysis applied", "state", o.state, "style", o.styleID, "explicit", o.explicitStyle)
}

// AwaitAnalysis blocks until the analysis of the current photo finished.
// The returned error is the analysis failure, if any.
func (o *Orchestrator) AwaitAnalysis(ctx context.Context) (analyzer.Result, error) {
	o.mu.Lock()
	if o.source.IsZero() {
		o.mu.Unlock()
		return analyzer.Result{}, wrap("await analysis", ErrNoSource)
	}
	done := o.analysisDone
	epoch := o.sourceEpoch
	o.mu.Unlock()

	select {
	case <-done:
	case <-ctx.Done():
		return analyzer.Result{}, ctx.Err()
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if epoch != o.sourceEpoch {
		return analyzer.Result{}, ErrSuperseded
	}
	if o.analysis != nil {
		return *o.analysis, nil
	}
	return analyzer.Result{}, o.analysisErr
}

// ChooseStyle records an explicit style choice. Later suggestions no longer
// override it until a new photo is captured.
func (o *Orchestrator) ChooseStyle(id string) error {
	s, ok := o.catalog.Lookup(id)
	if !ok {
		return wrap("choose style", ErrUnknownStyle)
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	o.styleID = s.ID
	o.explicitStyle = true
	switch o.state {
	case StateAnalyzing, StateAnalyzed, StateAnalysisSkipped:
		o.state = StateStyleChosen
	}
	o.logger.Info("style chosen", "style", s.ID, "state", o.state)
	return nil
}

func (o *Orchestrator) SetHint(hint string) {
	o.mu.Lock()
	o.hint = strings.TrimSpace(hint)
	o.mu.Unlock()
}

// SetParams stores new placement parameters. A finished composite becomes
// stale and the flow returns to generated, ready to recomposite.
func (o *Orchestrator) SetParams(p compositor.Params) error {
	if err := p.Validate(); err != nil {
		return wrap("set params", err)
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	o.params = p
	if o.state == StateComposited {
		o.output = nil
		o.state = StateGenerated
	}
	return nil
}

// SetAPIKey overrides the default credential; an empty key restores it.
func (o *Orchestrator) SetAPIKey(key string) {
	o.mu.Lock()
	o.userKey = strings.TrimSpace(key)
	o.mu.Unlock()
}

// Generate builds the prompt from the current style, hint and (if already
// available) analysis, and runs the provider chain. Only the most recent call
// for the current photo may store its result.
func (o *Orchestrator) Generate(ctx context.Context) (provider.Result, error) {
	o.mu.Lock()
	if o.source.IsZero() {
		o.mu.Unlock()
		return provider.Result{}, wrap("generate", ErrNoSource)
	}
	o.genEpoch++
	genEpoch, srcEpoch := o.genEpoch, o.sourceEpoch

	style, _ := o.catalog.Lookup(o.styleID)
	complement := ""
	if o.analysis != nil {
		complement = o.analysis.VisualDescription
	}
	prompt := preview.BackgroundPrompt(style, o.hint, complement)
	cred := o.credentialLocked()
	o.state = StateGenerating
	o.lastErr = nil
	o.mu.Unlock()

	o.logger.Info("generating background", "state", StateGenerating, "style", style.ID)
	res, err := o.generator.Generate(ctx, provider.NewRequest(prompt), cred)

	o.mu.Lock()
	defer o.mu.Unlock()

	if genEpoch != o.genEpoch || srcEpoch != o.sourceEpoch {
		o.logger.Debug("stale generation discarded")
		return provider.Result{}, ErrSuperseded
	}

	if err != nil {
		o.state = StateStyleChosen
		o.lastErr = wrap("generate", err)
		o.logger.Warn("generation failed", "state", o.state, "err", err)
		return provider.Result{}, o.lastErr
	}

	o.background = &res
	o.prompt = prompt
	o.output = nil
	o.state = StateGenerated
	o.logger.Info("background ready", "state", o.state, "provider", res.ProviderID, "model", res.Model)
	return res, nil
}

// Composite renders the source over the current background with the current
// params.
func (o *Orchestrator) Composite(ctx context.Context) (compositor.Output, error) {
	o.mu.Lock()
	if o.source.IsZero() {
		o.mu.Unlock()
		return compositor.Output{}, wrap("composite", ErrNoSource)
	}
	if o.background == nil {
		o.mu.Unlock()
		return compositor.Output{}, wrap("composite", ErrNoBackground)
	}
	genEpoch, srcEpoch := o.genEpoch, o.sourceEpoch
	fg := o.source.Bytes()
	bg := o.background.Image
	params := o.params
	o.state = StateCompositing
	o.mu.Unlock()

	out, err := o.compositor.Compose(ctx, fg, bg, params)

	o.mu.Lock()
	defer o.mu.Unlock()

	if genEpoch != o.genEpoch || srcEpoch != o.sourceEpoch {
		return compositor.Output{}, ErrSuperseded
	}

	if err != nil {
		o.state = StateGenerated
		o.lastErr = wrap("composite", err)
		o.logger.Warn("composite failed", "state", o.state, "err", err)
		return compositor.Output{}, o.lastErr
	}

	o.output = &out
	o.state = StateComposited
	o.logger.Info("composite ready", "state", o.state, "bytes", len(out.Data))
	return out, nil
}

// Reset returns to idle from any state. The session credential survives.
func (o *Orchestrator) Reset() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.sourceEpoch++
	o.genEpoch++
	o.resetLocked()
	o.logger.Info("session reset", "state", o.state)
}

func (o *Orchestrator) resetLocked() {
	o.state = StateIdle
	o.source = media.SourceImage{}
	o.analysis = nil
	o.analysisErr = nil
	o.analysisPending = false
	done := make(chan struct{})
	close(done)
	o.analysisDone = done
	o.styleID = o.catalog.Default().ID
	o.explicitStyle = false
	o.hint = ""
	o.params = compositor.DefaultParams()
	o.background = nil
	o.prompt = ""
	o.output = nil
	o.lastErr = nil
}

func (o *Orchestrator) credentialLocked() string {
	if o.userKey != "" {
		return o.userKey
	}
	return o.credential
}
