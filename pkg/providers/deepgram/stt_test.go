package deepgram

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/harunnryd/sapa/pkg/audio"
	"github.com/harunnryd/sapa/pkg/vad"
)

func TestTranscribeUploadsWAV(t *testing.T) {
	tr := New(Config{APIKey: "k", Language: "zh"})
	var body []byte
	tr.recognize = func(ctx context.Context, wav io.Reader) (string, string, error) {
		body, _ = io.ReadAll(wav)
		return " 太好了 ", "", nil
	}
	pcm := make([]byte, 3200)
	res, err := tr.Transcribe(context.Background(), vad.Utterance{SampleRate: 16000, Channels: 1, PCM: pcm, Duration: 100 * time.Millisecond})
	if err != nil {
		t.Fatalf("transcribe: %v", err)
	}
	if res.Text != "太好了" || res.Language != "zh" {
		t.Fatalf("unexpected result %+v", res)
	}
	decoded, rate, ch, err := audio.DecodeWAV(body)
	if err != nil || rate != 16000 || ch != 1 || len(decoded) != len(pcm) {
		t.Fatalf("expected wav upload, got rate=%d ch=%d len=%d err=%v", rate, ch, len(decoded), err)
	}
}

func TestTranscribeSkipsEmptyAudio(t *testing.T) {
	tr := New(Config{})
	tr.recognize = func(ctx context.Context, wav io.Reader) (string, string, error) {
		t.Fatalf("recognizer must not be called")
		return "", "", nil
	}
	if res, err := tr.Transcribe(context.Background(), vad.Utterance{}); err != nil || res.Text != "" {
		t.Fatalf("unexpected %+v %v", res, err)
	}
}

func TestTranscribePropagatesErrors(t *testing.T) {
	tr := New(Config{})
	boom := errors.New("401")
	tr.recognize = func(ctx context.Context, wav io.Reader) (string, string, error) { return "", "", boom }
	if _, err := tr.Transcribe(context.Background(), vad.Utterance{SampleRate: 8000, PCM: []byte{0, 0}}); !errors.Is(err, boom) {
		t.Fatalf("expected error, got %v", err)
	}
}
