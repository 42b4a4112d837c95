package segmenter

import (
	"context"
	"reflect"
	"testing"
	"time"

	"github.com/harunnryd/sapa/pkg/frames"
)

func TestSplitMidSentenceDeltas(t *testing.T) {
	got := New(Options{}).Split([]string{"今天天氣很好。明天", "會下雨。"})
	want := []frames.Sentence{
		{Index: 0, Text: "今天天氣很好。"},
		{Index: 1, Text: "明天會下雨。"},
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
}

func TestDecimalsAreNotBoundaries(t *testing.T) {
	got := New(Options{}).Split([]string{"Pi is about 3.", "14 today. Done"})
	want := []string{"Pi is about 3.14 today.", "Done"}
	assertTexts(t, got, want)
}

func TestRemainderFlushedAtEnd(t *testing.T) {
	got := New(Options{}).Split([]string{"第一句！", "沒有標點的結尾"})
	assertTexts(t, got, []string{"第一句！", "沒有標點的結尾"})
}

func TestMarkerRunsAndClosers(t *testing.T) {
	got := New(Options{}).Split([]string{"真的嗎？！", "「好。」接著\n\n最後"})
	assertTexts(t, got, []string{"真的嗎？！", "「好。」", "接著", "最後"})
}

func TestMinRunesMergesShortSentences(t *testing.T) {
	got := New(Options{MinRunes: 5}).Split([]string{"好。", "我們明天見面吧。", "嗯"})
	assertTexts(t, got, []string{"好。我們明天見面吧。", "嗯"})
}

func TestSplitIsIdempotent(t *testing.T) {
	deltas := []string{"Hello", " there. How ", "are you? I'm ", "fine; thanks", "\nBye"}
	s := New(Options{})
	first := s.Split(deltas)
	second := s.Split(deltas)
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("expected identical output, got %v and %v", first, second)
	}
	whole := s.Split([]string{"Hello there. How are you? I'm fine; thanks\nBye"})
	if !reflect.DeepEqual(first, whole) {
		t.Fatalf("chunking must not change boundaries: %v vs %v", first, whole)
	}
}

func TestRunStreamsInOrder(t *testing.T) {
	in := make(chan frames.TextDelta)
	out := New(Options{}).Run(context.Background(), in)

	in <- frames.TextDelta{Seq: 0, Text: "今天天氣很好。明天"}
	select {
	case s := <-out:
		if s.Index != 0 || s.Text != "今天天氣很好。" {
			t.Fatalf("unexpected first sentence %+v", s)
		}
	case <-time.After(time.Second):
		t.Fatalf("first sentence must be emitted before the stream ends")
	}

	go func() {
		in <- frames.TextDelta{Seq: 1, Text: "會下雨。"}
		close(in)
	}()
	var rest []frames.Sentence
	for s := range out {
		rest = append(rest, s)
	}
	if len(rest) != 1 || rest[0].Index != 1 || rest[0].Text != "明天會下雨。" {
		t.Fatalf("unexpected tail %v", rest)
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	in := make(chan frames.TextDelta)
	out := New(Options{}).Run(ctx, in)
	cancel()
	select {
	case _, ok := <-out:
		if ok {
			t.Fatalf("expected closed output")
		}
	case <-time.After(time.Second):
		t.Fatalf("output not closed after cancel")
	}
}

func assertTexts(t *testing.T, got []frames.Sentence, want []string) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("expected %d sentences %q, got %v", len(want), want, got)
	}
	for i, s := range got {
		if s.Index != i {
			t.Fatalf("sentence %d has index %d", i, s.Index)
		}
		if s.Text != want[i] {
			t.Fatalf("sentence %d: expected %q, got %q", i, want[i], s.Text)
		}
	}
}
