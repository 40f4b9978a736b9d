package pipeline

import (
	"packshot-studio/internal/analyzer"
	"packshot-studio/internal/compositor"
	"packshot-studio/internal/preview"
	"packshot-studio/internal/provider"
)

// Snapshot is a copy of the session state for rendering.
type Snapshot struct {
	ID              string
	State           State
	HasSource       bool
	SourceMime      string
	SourceSize      int
	Analysis        *analyzer.Result
	AnalysisErr     error
	AnalysisPending bool
	Style           preview.Style
	ExplicitStyle   bool
	Hint            string
	Params          compositor.Params
	HasUserKey      bool
	HasCredential   bool
	Background      *provider.Result
	Prompt          string
	Output          *compositor.Output
	LastErr         error
}

// Caption is the analyzer's post text, or "".
func (s Snapshot) Caption() string {
	if s.Analysis == nil {
		return ""
	}
	return s.Analysis.Caption
}

func (o *Orchestrator) Snapshot() Snapshot {
	o.mu.Lock()
	defer o.mu.Unlock()

	style, _ := o.catalog.Lookup(o.styleID)
	s := Snapshot{
		ID:              o.id,
		State:           o.state,
		HasSource:       !o.source.IsZero(),
		SourceMime:      o.source.MimeType(),
		SourceSize:      o.source.Size(),
		AnalysisErr:     o.analysisErr,
		AnalysisPending: o.analysisPending,
		Style:           style,
		ExplicitStyle:   o.explicitStyle,
		Hint:            o.hint,
		Params:          o.params,
		HasUserKey:      o.userKey != "",
		HasCredential:   o.credentialLocked() != "",
		Prompt:          o.prompt,
		LastErr:         o.lastErr,
	}
	if o.analysis != nil {
		a := *o.analysis
		s.Analysis = &a
	}
	if o.background != nil {
		b := *o.background
		b.Attempts = append([]*provider.AttemptError(nil), o.background.Attempts...)
		s.Background = &b
	}
	if o.output != nil {
		out := *o.output
		s.Output = &out
	}
	return s
}
