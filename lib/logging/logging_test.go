package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
)

func TestNew_Levels(t *testing.T) {
	tests := []struct {
		level string
		want  logrus.Level
	}{
		{"", logrus.InfoLevel},
		{"DEBUG", logrus.DebugLevel},
		{"warn", logrus.WarnLevel},
		{"TRACE", logrus.TraceLevel},
	}
	for _, tt := range tests {
		log, closer, err := New(Options{Level: tt.level})
		if err != nil {
			t.Fatalf("New(%q) error = %v", tt.level, err)
		}
		closer.Close()
		if log.GetLevel() != tt.want {
			t.Errorf("New(%q) level = %v, want %v", tt.level, log.GetLevel(), tt.want)
		}
	}
}

func TestNew_Invalid(t *testing.T) {
	if _, _, err := New(Options{Level: "loud"}); err == nil {
		t.Error("New() with bad level should fail")
	}
	if _, _, err := New(Options{Format: "xml"}); err == nil {
		t.Error("New() with bad format should fail")
	}
}

func TestNew_JSONFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "server.log")
	log, closer, err := New(Options{Level: "info", Format: "json", Output: path})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	log.WithField("session", "abc").Info("hello")
	closer.Close()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	got := string(data)
	if !strings.Contains(got, `"msg":"hello"`) || !strings.Contains(got, `"session":"abc"`) {
		t.Errorf("log output = %q", got)
	}
}
