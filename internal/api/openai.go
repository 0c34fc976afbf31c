// Package api implements the non-streaming HTTP endpoints: one-shot
// transcribe/respond/synthesize calls and device administration.
package api

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// transcriber turns recorded audio into text.
type transcriber interface {
	Transcribe(ctx context.Context, wav []byte) (string, error)
}

// responder produces one assistant reply for a user utterance.
type responder interface {
	Respond(ctx context.Context, systemPrompt, userText string) (string, error)
}

// OpenAIBackend implements transcriber and responder against the OpenAI API.
type OpenAIBackend struct {
	client          openai.Client
	chatModel       string
	transcribeModel string
	language        string
}

func NewOpenAIBackend(apiKey, chatModel, transcribeModel, language string) *OpenAIBackend {
	return &OpenAIBackend{
		client:          openai.NewClient(option.WithAPIKey(apiKey)),
		chatModel:       chatModel,
		transcribeModel: transcribeModel,
		language:        language,
	}
}

func (b *OpenAIBackend) Transcribe(ctx context.Context, wav []byte) (string, error) {
	res, err := b.client.Audio.Transcriptions.New(ctx, openai.AudioTranscriptionNewParams{
		File:     openai.File(bytes.NewReader(wav), "audio.wav", "audio/wav"),
		Model:    openai.AudioModel(b.transcribeModel),
		Language: openai.String(b.language),
	})
	if err != nil {
		return "", fmt.Errorf("api: transcribe: %w", err)
	}
	return res.Text, nil
}

func (b *OpenAIBackend) Respond(ctx context.Context, systemPrompt, userText string) (string, error) {
	resp, err := b.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: openai.ChatModel(b.chatModel),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(systemPrompt),
			openai.UserMessage(userText),
		},
	})
	if err != nil {
		return "", fmt.Errorf("api: chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("api: chat completion returned no choices")
	}
	return resp.Choices[0].Message.Content, nil
}
