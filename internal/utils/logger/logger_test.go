package logger

import "testing"

func TestSetLogLevel(t *testing.T) {
	t.Cleanup(func() { _ = SetLogLevel("info") })

	for _, name := range []string{"debug", "warn", "error", "info"} {
		if err := SetLogLevel(name); err != nil {
			t.Fatalf("SetLogLevel(%q): %v", name, err)
		}
		if got := Level(); got != name {
			t.Fatalf("Level()=%q want %q", got, name)
		}
	}
	for _, name := range []string{"verbose", "panic", "fatal"} {
		if err := SetLogLevel(name); err == nil {
			t.Errorf("SetLogLevel(%q) succeeded, want error", name)
		}
	}
}

func TestLogger_Singleton(t *testing.T) {
	if Logger() == nil || Logger() != Logger() {
		t.Fatalf("Logger() must return one shared instance")
	}
}
