package emotion

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/harunnryd/sapa/pkg/errorsx"
)

func TestLoadTableFromDirectory(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "Happy.wav"), "happy-ref")
	writeFile(t, filepath.Join(dir, "whisper.WAV"), "whisper-ref")
	writeFile(t, filepath.Join(dir, "notes.txt"), "ignored")

	table, err := LoadTable(dir, nil, "")
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	happy, ok := table.Lookup("happy")
	if !ok {
		t.Fatalf("expected happy profile")
	}
	if string(happy.Reference) != "happy-ref" {
		t.Fatalf("expected happy reference audio, got %q", happy.Reference)
	}
	if happy.Param(ParamSpeed, 0) != 1.1 || happy.Param(ParamTopK, 0) != 50 {
		t.Fatalf("expected preset merged over defaults, got %v", happy.Params)
	}

	whisper, ok := table.Lookup("whisper")
	if !ok || whisper.Param(ParamTemperature, 0) != 0.8 {
		t.Fatalf("expected recording-only profile with default params, got %+v", whisper)
	}

	sad, ok := table.Lookup("sad")
	if !ok {
		t.Fatalf("expected preset-only profile")
	}
	if sad.HasReference() {
		t.Fatalf("sad has no recording and must stay parameter-only")
	}
	if _, ok := table.Lookup("notes"); ok {
		t.Fatalf("non-wav files must be ignored")
	}
}

func TestLoadTableMissingDirKeepsNeutral(t *testing.T) {
	table, err := LoadTable(filepath.Join(t.TempDir(), "absent"), map[string]map[string]float64{}, "")
	if err != nil {
		t.Fatalf("missing dir must not fail: %v", err)
	}
	n := table.Neutral()
	if n.Name != Neutral || n.Param(ParamSpeed, 0) != 1.0 {
		t.Fatalf("expected synthesized neutral, got %+v", n)
	}
}

func TestLoadTableDefaultReference(t *testing.T) {
	dir := t.TempDir()
	ref := filepath.Join(dir, "speaker.bin")
	writeFile(t, ref, "speaker")
	table, err := LoadTable("", nil, ref)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if p, _ := table.Lookup("gentle"); string(p.Reference) != "speaker" {
		t.Fatalf("expected default reference for gentle, got %q", p.Reference)
	}
}

func TestLoadTableRejectsInvalidPreset(t *testing.T) {
	_, err := LoadTable("", map[string]map[string]float64{"fast": {ParamSpeed: -1}}, "")
	if err == nil {
		t.Fatalf("expected configuration error")
	}
	if !errorsx.HasReason(err, errorsx.ReasonConfiguration) {
		t.Fatalf("expected configuration reason, got %s", errorsx.Reason(err))
	}
}

func TestResolveHappyFromKeywords(t *testing.T) {
	r := NewResolver(mustTable(t), NewKeywordClassifier(nil))
	p := r.Resolve("太好了", "")
	if p.Name != "happy" {
		t.Fatalf("expected happy, got %s", p.Name)
	}
	if p.Param(ParamTemperature, 0) != 1.0 {
		t.Fatalf("expected happy temperature, got %v", p.Params)
	}
}

func TestResolvePrecedence(t *testing.T) {
	r := NewResolver(mustTable(t), NewKeywordClassifier(nil))
	if got := r.Resolve("太好了", "sad").Name; got != "sad" {
		t.Fatalf("known override must win, got %s", got)
	}
	if got := r.Resolve("太好了", "furious").Name; got != "happy" {
		t.Fatalf("unknown override must fall through to classifier, got %s", got)
	}
}

func TestResolveFallsBackToNeutral(t *testing.T) {
	table := mustTable(t)
	cases := []struct {
		name string
		cls  Classifier
		text string
	}{
		{name: "no classifier", cls: nil, text: "hello"},
		{name: "empty result", cls: NewKeywordClassifier(nil), text: "the weather is fine"},
		{name: "unknown name", cls: ClassifierFunc(func(string) string { return "ecstatic" }), text: "x"},
	}
	for _, tc := range cases {
		r := NewResolver(table, tc.cls)
		p := r.Resolve(tc.text, "")
		if p.Name != Neutral {
			t.Fatalf("%s: expected neutral, got %s", tc.name, p.Name)
		}
		if _, ok := table.Lookup(p.Name); !ok {
			t.Fatalf("%s: resolver returned unknown profile %s", tc.name, p.Name)
		}
	}
}

func TestRulesFromMapOrder(t *testing.T) {
	rules := RulesFromMap(map[string][]string{
		"zesty": {"wow"},
		"sad":   {"唉"},
		"happy": {"耶"},
	})
	if len(rules) != 3 || rules[0].Profile != "happy" || rules[1].Profile != "sad" || rules[2].Profile != "zesty" {
		t.Fatalf("unexpected rule order: %+v", rules)
	}
	c := NewKeywordClassifier(rules)
	if c.Classify("WOW nice") != "zesty" {
		t.Fatalf("expected case-insensitive keyword match")
	}
}

func TestExtractOverride(t *testing.T) {
	text, name := ExtractOverride("[emotion:Happy] 今天天氣很好。")
	if name != "happy" || text != "今天天氣很好。" {
		t.Fatalf("unexpected extraction %q %q", text, name)
	}
	text, name = ExtractOverride("沒有標籤。")
	if name != "" || text != "沒有標籤。" {
		t.Fatalf("expected untouched text, got %q %q", text, name)
	}
}

func mustTable(t *testing.T) *Table {
	t.Helper()
	table, err := LoadTable("", nil, "")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	return table
}

func writeFile(t *testing.T, path, body string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}
