package redact

import (
	"strings"
	"testing"
)

func TestRedactDisabled(t *testing.T) {
	SetEnabled(false)
	in := "email a@b.com and phone +886 912 345 678"
	if got := Text(in); got != in {
		t.Fatalf("expected no redaction, got %q", got)
	}
}

func TestRedactEnabled(t *testing.T) {
	SetEnabled(true)
	defer SetEnabled(false)
	in := "email a@b.com and phone +886 912 345 678"
	got := Text(in)
	if got == in {
		t.Fatalf("expected redaction")
	}
	if want := "[REDACTED_EMAIL]"; !strings.Contains(got, want) {
		t.Fatalf("expected %q in output", want)
	}
	if want := "[REDACTED_PHONE]"; !strings.Contains(got, want) {
		t.Fatalf("expected %q in output", want)
	}
}

func TestRedactChineseText(t *testing.T) {
	got := Always("我的電話是0912345678，身分證A123456789")
	if strings.Contains(got, "0912345678") {
		t.Fatalf("phone not redacted: %q", got)
	}
	if !strings.Contains(got, "[REDACTED_ID]") {
		t.Fatalf("national id not redacted: %q", got)
	}
	if !strings.HasPrefix(got, "我的電話是") {
		t.Fatalf("surrounding text changed: %q", got)
	}
}
