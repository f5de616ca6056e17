package retroarch

import (
	"errors"
	"testing"
)

func TestParseStatusPlaying(t *testing.T) {
	status, err := ParseStatus("GET_STATUS PLAYING super_nes,Super Mario World,crc32=b19ed489")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if status.State != "PLAYING" || status.System != "super_nes" ||
		status.Content != "Super Mario World" || status.CRC32 != "b19ed489" {
		t.Errorf("unexpected status: %+v", status)
	}
}

func TestParseStatusContentless(t *testing.T) {
	status, err := ParseStatus("GET_STATUS CONTENTLESS")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if status.Playing() {
		t.Error("contentless reported as playing")
	}
	if status.System != "" || status.Content != "" {
		t.Errorf("contentless carried content info: %+v", status)
	}
}

func TestParseStatusContentWithCommas(t *testing.T) {
	status, err := ParseStatus("GET_STATUS PAUSED nes,Mario, Lost Levels,crc32=12ab34cd")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if status.Content != "Mario, Lost Levels" {
		t.Errorf("comma-bearing content mangled: %q", status.Content)
	}
}

func TestParseStatusMalformed(t *testing.T) {
	for _, reply := range []string{
		"",
		"GET_STATUS",
		"VERSION 1.17.0",
		"GET_STATUS EXPLODED nes,Game",
		"GET_STATUS PLAYING",
	} {
		if _, err := ParseStatus(reply); !errors.Is(err, ErrMalformedReply) {
			t.Errorf("ParseStatus(%q): expected ErrMalformedReply, got %v", reply, err)
		}
	}
}
