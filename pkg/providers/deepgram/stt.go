// Package deepgram transcribes finished utterances with Deepgram's
// pre-recorded API.
package deepgram

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"

	"github.com/harunnryd/sapa/pkg/adapters/stt"
	"github.com/harunnryd/sapa/pkg/audio"
	"github.com/harunnryd/sapa/pkg/logging"
	"github.com/harunnryd/sapa/pkg/vad"

	api "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/listen/v1/rest"
	interfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/interfaces"
	client "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/listen"
)

type Config struct {
	APIKey   string
	Model    string
	Language string
	// SmartFormat adds punctuation and casing to the transcript.
	SmartFormat bool
}

// recognizer uploads one WAV body and returns transcript and language.
type recognizer func(ctx context.Context, wav io.Reader) (text, language string, err error)

type Transcriber struct {
	cfg       Config
	recognize recognizer
	logger    *slog.Logger
}

func New(cfg Config) *Transcriber {
	if cfg.Model == "" {
		cfg.Model = "nova-2"
	}
	t := &Transcriber{
		cfg:    cfg,
		logger: logging.NewComponentLogger(slog.Default(), "deepgram_stt"),
	}
	t.recognize = t.sdkRecognize
	return t
}

func (t *Transcriber) Name() string { return "deepgram" }

func (t *Transcriber) Transcribe(ctx context.Context, utt vad.Utterance) (stt.Result, error) {
	if len(utt.PCM) == 0 {
		return stt.Result{}, nil
	}
	channels := utt.Channels
	if channels <= 0 {
		channels = 1
	}
	wav := audio.EncodeWAV(utt.PCM, utt.SampleRate, channels)
	text, lang, err := t.recognize(ctx, bytes.NewReader(wav))
	if err != nil {
		return stt.Result{}, err
	}
	if lang == "" {
		lang = t.cfg.Language
	}
	t.logger.Debug("deepgram_transcript",
		slog.Duration("audio", utt.Duration),
		slog.Int("chars", len([]rune(text))),
		slog.String("language", lang),
	)
	return stt.Result{Text: strings.TrimSpace(text), Language: lang}, nil
}

func (t *Transcriber) sdkRecognize(ctx context.Context, wav io.Reader) (string, string, error) {
	c := client.NewREST(t.cfg.APIKey, &interfaces.ClientOptions{})
	dg := api.New(c)
	opts := &interfaces.PreRecordedTranscriptionOptions{
		Model:       t.cfg.Model,
		Language:    t.cfg.Language,
		SmartFormat: t.cfg.SmartFormat,
		Punctuate:   true,
	}
	if opts.Language == "" {
		opts.DetectLanguage = true
	}
	res, err := dg.FromStream(ctx, wav, opts)
	if err != nil {
		return "", "", err
	}
	if res == nil || res.Results == nil || len(res.Results.Channels) == 0 {
		return "", "", errors.New("deepgram: empty response")
	}
	ch := res.Results.Channels[0]
	if len(ch.Alternatives) == 0 {
		return "", ch.DetectedLanguage, nil
	}
	return ch.Alternatives[0].Transcript, ch.DetectedLanguage, nil
}

var _ stt.Transcriber = (*Transcriber)(nil)
