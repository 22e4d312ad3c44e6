package domain

import (
	"errors"
	"strings"
	"testing"
)

func TestValidateTrackID(t *testing.T) {
	valid := "4uLU6hMCjMI75M1A2tKUQC"

	tests := []struct {
		name    string
		id      string
		wantErr bool
	}{
		{name: "valid base62 token", id: valid},
		{name: "too short", id: "abc123", wantErr: true},
		{name: "too long", id: valid + "x", wantErr: true},
		{name: "empty", id: "", wantErr: true},
		{name: "invalid character", id: strings.Replace(valid, "4", "!", 1), wantErr: true},
		{name: "whitespace", id: strings.Replace(valid, "4", " ", 1), wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateTrackID(tt.id)
			if (err != nil) != tt.wantErr {
				t.Fatalf("got err=%v, wantErr=%v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalidTrackID) {
				t.Fatalf("error should match ErrInvalidTrackID, got %v", err)
			}
		})
	}
}

func TestTrackIdentity_Query(t *testing.T) {
	id := TrackIdentity{Title: "Windowlicker", Artists: []string{"Aphex Twin"}}
	if got := id.Query(); got != "Aphex Twin Windowlicker" {
		t.Fatalf("query: got %q", got)
	}
}
