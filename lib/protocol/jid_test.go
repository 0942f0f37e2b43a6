package protocol

import (
	"errors"
	"strings"
	"testing"
)

func TestParseJID(t *testing.T) {
	tests := []struct {
		in      string
		want    JID
		wantErr error
	}{
		{"localhost", JID{Domain: "localhost"}, nil},
		{"bob@LocalHost", JID{Local: "bob", Domain: "localhost"}, nil},
		{"bob@localhost/game", JID{Local: "bob", Domain: "localhost", Resource: "game"}, nil},
		{"bob@localhost/a/b", JID{Local: "bob", Domain: "localhost", Resource: "a/b"}, nil},
		{"", JID{}, ErrEmptyDomain},
		{"@localhost", JID{}, ErrEmptyJIDPart},
		{"bob@localhost/", JID{}, ErrEmptyJIDPart},
		{"b ob@localhost", JID{}, ErrInvalidJIDLocal},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseJID(tt.in)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("ParseJID(%q) error = %v, want %v", tt.in, err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseJID(%q) unexpected error: %v", tt.in, err)
			}
			if got != tt.want {
				t.Errorf("ParseJID(%q) = %+v, want %+v", tt.in, got, tt.want)
			}
		})
	}
}

func TestJID_TooLong(t *testing.T) {
	_, err := NewJID(strings.Repeat("a", MaxJIDPartLength+1), "localhost", "")
	if !errors.Is(err, ErrJIDPartTooLong) {
		t.Errorf("NewJID() error = %v, want %v", err, ErrJIDPartTooLong)
	}
}

func TestJID_BareAndString(t *testing.T) {
	j := JID{Local: "bob", Domain: "localhost", Resource: "game"}
	if got := j.String(); got != "bob@localhost/game" {
		t.Errorf("String() = %q", got)
	}
	if got := j.Bare().String(); got != "bob@localhost" {
		t.Errorf("Bare().String() = %q", got)
	}
	if !j.IsFull() || j.Bare().IsFull() {
		t.Error("IsFull() mismatch")
	}
	if got := (JID{}).String(); got != "" {
		t.Errorf("zero String() = %q, want empty", got)
	}
}

func TestJID_Equal(t *testing.T) {
	a := JID{Local: "Bob", Domain: "localhost", Resource: "game"}
	b := JID{Local: "bob", Domain: "localhost", Resource: "game"}
	c := b.WithResource("Game")
	if !a.Equal(b) {
		t.Error("localpart comparison should be case-insensitive")
	}
	if b.Equal(c) {
		t.Error("resource comparison should be case-sensitive")
	}
}
