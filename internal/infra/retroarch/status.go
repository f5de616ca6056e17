package retroarch

import (
	"fmt"
	"strings"
)

// Status is the parsed GET_STATUS reply.
//
// Replies look like:
//
//	GET_STATUS PLAYING super_nes,Super Mario World,crc32=b19ed489
//	GET_STATUS PAUSED nes,Metroid,crc32=12ab34cd
//	GET_STATUS CONTENTLESS
type Status struct {
	State   string `json:"state"`
	System  string `json:"system,omitempty"`
	Content string `json:"content,omitempty"`
	CRC32   string `json:"crc32,omitempty"`
}

// Playing reports whether content is actively running.
func (s Status) Playing() bool {
	return s.State == "PLAYING"
}

// ParseStatus parses a GET_STATUS reply. A reply that does not match the
// line format fails with ErrMalformedReply rather than returning partial
// data.
func ParseStatus(reply string) (Status, error) {
	fields := strings.SplitN(strings.TrimSpace(reply), " ", 3)
	if len(fields) < 2 || fields[0] != "GET_STATUS" {
		return Status{}, fmt.Errorf("%w: %q", ErrMalformedReply, reply)
	}

	status := Status{State: fields[1]}
	switch status.State {
	case "CONTENTLESS":
		return status, nil
	case "PLAYING", "PAUSED":
	default:
		return Status{}, fmt.Errorf("%w: unknown state %q", ErrMalformedReply, fields[1])
	}

	if len(fields) < 3 {
		return Status{}, fmt.Errorf("%w: missing content info in %q", ErrMalformedReply, reply)
	}

	// system,content name,key=value extras
	parts := strings.Split(fields[2], ",")
	status.System = parts[0]
	for _, part := range parts[1:] {
		if k, v, found := strings.Cut(part, "="); found {
			if k == "crc32" {
				status.CRC32 = v
			}
			continue
		}
		if status.Content == "" {
			status.Content = part
		} else {
			status.Content += "," + part
		}
	}
	return status, nil
}
