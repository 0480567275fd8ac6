package logx

import (
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]zapcore.Level{
		"debug": zapcore.DebugLevel,
		"WARN":  zapcore.WarnLevel,
		"error": zapcore.ErrorLevel,
		"":      zapcore.InfoLevel,
		"bogus": zapcore.InfoLevel,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Fatalf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestSetReplacesLogger(t *testing.T) {
	Set(zap.NewNop())
	if L() == nil {
		t.Fatal("logger must not be nil")
	}
	if L().Desugar().Core().Enabled(zapcore.ErrorLevel) {
		t.Fatal("nop logger should not be enabled")
	}
}

func TestConfigureRejectsUnknownEncoding(t *testing.T) {
	if err := Configure(Options{Encoding: "yaml"}); err == nil {
		t.Fatal("expected error for unknown encoding")
	}
}
