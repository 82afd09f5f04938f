package audio

import (
	"testing"
	"time"
)

func TestValidatePCM(t *testing.T) {
	tests := []struct {
		name    string
		buf     []byte
		wantErr bool
	}{
		{"empty", nil, false},
		{"even length", make([]byte, 8000), false},
		{"odd length", make([]byte, 4001), true},
		{"single byte", []byte{0x7f}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidatePCM(tt.buf)
			if tt.wantErr && err == nil {
				t.Error("expected error, got nil")
			}
			if !tt.wantErr && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}

func TestDuration(t *testing.T) {
	tests := []struct {
		name       string
		byteLen    int
		sampleRate float64
		want       time.Duration
	}{
		{"one second at 16k", 32000, 16000, time.Second},
		{"quarter second at 16k", 8000, 16000, 250 * time.Millisecond},
		{"zero bytes", 0, 16000, 0},
		{"zero rate", 32000, 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Duration(tt.byteLen, tt.sampleRate); got != tt.want {
				t.Errorf("expected %v, got %v", tt.want, got)
			}
		})
	}
}
