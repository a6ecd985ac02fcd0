// Package tts converts message text to audio for voice playback. It is an
// optional collaborator: any failure degrades to a timer-based silent
// placeholder on the caller's side, never an error surfaced to the user.
package tts

import (
	"context"
	"errors"
	"fmt"
	"io"

	openai "github.com/sashabaranov/go-openai"
)

// PCM format returned by the speech endpoint.
const (
	SampleRate = 24000
	Channels   = 1
)

// Audio is raw synthesized speech.
type Audio struct {
	Samples    []byte `json:"samples"`
	SampleRate int    `json:"sampleRate"`
	Channels   int    `json:"channels"`
}

// Synthesizer turns text into audio.
type Synthesizer interface {
	Synthesize(ctx context.Context, text, voice string) (*Audio, error)
}

// OpenAI is a Synthesizer backed by the OpenAI speech API.
type OpenAI struct {
	client *openai.Client
}

// NewOpenAI builds the speech client. Fails when no token is configured.
func NewOpenAI(token, baseURL string) (*OpenAI, error) {
	if token == "" {
		return nil, errors.New("tts: no API token configured")
	}
	cfg := openai.DefaultConfig(token)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &OpenAI{client: openai.NewClientWithConfig(cfg)}, nil
}

// Synthesize implements Synthesizer, returning raw PCM.
func (o *OpenAI) Synthesize(ctx context.Context, text, voice string) (*Audio, error) {
	resp, err := o.client.CreateSpeech(ctx, openai.CreateSpeechRequest{
		Model:          openai.TTSModel1,
		Input:          text,
		Voice:          openai.SpeechVoice(voice),
		ResponseFormat: openai.SpeechResponseFormatPcm,
	})
	if err != nil {
		return nil, fmt.Errorf("tts: synthesize: %w", err)
	}
	defer func() { _ = resp.Close() }()

	samples, err := io.ReadAll(resp)
	if err != nil {
		return nil, fmt.Errorf("tts: read audio: %w", err)
	}
	return &Audio{Samples: samples, SampleRate: SampleRate, Channels: Channels}, nil
}
