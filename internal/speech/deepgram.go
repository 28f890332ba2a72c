package speech

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

// DefaultDeepgramURL is the Deepgram REST API base.
const DefaultDeepgramURL = "https://api.deepgram.com"

// Deepgram transcribes files with the pre-recorded /v1/listen endpoint.
type Deepgram struct {
	client *resty.Client
	opts   Options
}

type deepgramResponse struct {
	Results struct {
		Channels []struct {
			Alternatives []struct {
				Transcript string  `json:"transcript"`
				Confidence float64 `json:"confidence"`
			} `json:"alternatives"`
		} `json:"channels"`
	} `json:"results"`
}

type deepgramError struct {
	ErrCode string `json:"err_code"`
	ErrMsg  string `json:"err_msg"`
}

// NewDeepgram builds a REST client. An API key is required.
func NewDeepgram(opts Options) (*Deepgram, error) {
	key := strings.TrimSpace(opts.DeepgramAPIKey)
	if key == "" {
		return nil, errors.New("deepgram api key is empty")
	}
	base := strings.TrimRight(strings.TrimSpace(opts.DeepgramURL), "/")
	if base == "" {
		base = DefaultDeepgramURL
	}
	if opts.Model == "" {
		opts.Model = "nova-2"
	}
	if opts.LanguageCode == "" {
		opts.LanguageCode = "en-US"
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	client := resty.New().
		SetBaseURL(base).
		SetTimeout(timeout).
		SetAuthScheme("Token").
		SetAuthToken(key).
		SetRetryCount(1)
	return &Deepgram{client: client, opts: opts}, nil
}

// Recognize uploads the WAV file and returns the first channel's top alternative.
func (d *Deepgram) Recognize(ctx context.Context, path string) (string, error) {
	body, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read %q: %w", path, err)
	}

	params := map[string]string{
		"model":        d.opts.Model,
		"language":     d.opts.LanguageCode,
		"punctuate":    "true",
		"smart_format": "true",
	}
	if len(d.opts.Phrases) > 0 {
		params["keywords"] = strings.Join(d.opts.Phrases, ",")
	}

	var (
		result  deepgramResponse
		failure deepgramError
	)
	resp, err := d.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "audio/wav").
		SetQueryParams(params).
		SetBody(body).
		SetResult(&result).
		SetError(&failure).
		Post("/v1/listen")
	if err != nil {
		return "", fmt.Errorf("deepgram request: %w", err)
	}
	if resp.IsError() {
		msg := strings.TrimSpace(failure.ErrMsg)
		if msg == "" {
			msg = strings.TrimSpace(resp.String())
		}
		return "", fmt.Errorf("deepgram status %d: %s", resp.StatusCode(), msg)
	}
	if w := d.opts.DebugResponseSink; w != nil {
		_, _ = w.Write(append(resp.Body(), '\n'))
	}

	channels := result.Results.Channels
	if len(channels) == 0 || len(channels[0].Alternatives) == 0 {
		return "", ErrNoSpeech
	}
	text := strings.TrimSpace(channels[0].Alternatives[0].Transcript)
	if text == "" {
		return "", ErrNoSpeech
	}
	return text, nil
}
