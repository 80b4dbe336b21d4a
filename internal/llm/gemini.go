package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"google.golang.org/genai"
)

// Gemini calls the Gemini API through the genai SDK.
type Gemini struct {
	cfg    Config
	client *genai.Client
}

func NewGemini(ctx context.Context, cfg Config) (*Gemini, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("gemini provider requires an api key")
	}
	cc := &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if cfg.BaseURL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.BaseURL}
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	return &Gemini{cfg: cfg, client: client}, nil
}

func (g *Gemini) Name() string { return "gemini" }

func (g *Gemini) Generate(ctx context.Context, prompt string) (*Response, error) {
	conf := &genai.GenerateContentConfig{
		Temperature: genai.Ptr(float32(g.cfg.Temperature)),
	}
	if g.cfg.MaxOutputTokens > 0 {
		conf.MaxOutputTokens = int32(g.cfg.MaxOutputTokens)
	}

	resp, err := g.client.Models.GenerateContent(ctx, g.cfg.Model, genai.Text(prompt), conf)
	if err != nil {
		return nil, g.classify(err)
	}

	text := resp.Text()
	if text == "" {
		return nil, &Error{Kind: KindOther, Provider: g.Name(), Message: "empty response"}
	}
	out := &Response{Text: text, Model: g.cfg.Model}
	if len(resp.Candidates) > 0 {
		out.FinishReason = string(resp.Candidates[0].FinishReason)
	}
	if u := resp.UsageMetadata; u != nil {
		out.Usage = Usage{
			PromptTokens:     int(u.PromptTokenCount),
			CompletionTokens: int(u.CandidatesTokenCount),
			TotalTokens:      int(u.TotalTokenCount),
		}
	}
	return out, nil
}

func (g *Gemini) classify(err error) error {
	var apiErr genai.APIError
	if ptr := (*genai.APIError)(nil); errors.As(err, &ptr) && ptr != nil {
		apiErr = *ptr
	} else if !errors.As(err, &apiErr) {
		return transportError(g.Name(), err)
	}
	e := &Error{Provider: g.Name(), StatusCode: apiErr.Code, Message: apiErr.Message, Err: err}
	switch {
	case apiErr.Code == http.StatusTooManyRequests:
		e.Kind = KindRateLimited
	case apiErr.Code == http.StatusRequestTimeout || apiErr.Code == http.StatusGatewayTimeout:
		e.Kind = KindTimeout
	case apiErr.Code >= 500:
		e.Kind = KindUnavailable
	default:
		e.Kind = KindOther
	}
	return e
}
