// Package library scans EmulationStation gamelist.xml metadata into
// aggregate statistics and a lookup index used for session enrichment.
package library

// Game is one gamelist.xml entry.
type Game struct {
	System      string
	Path        string
	Name        string
	Description string
	Genre       string
	Developer   string
	Publisher   string
	ReleaseDate string
	Rating      string
	Favorite    bool
	KidGame     bool
	Hidden      bool
	Image       string
	Thumbnail   string
	Marquee     string
}

// Stats is the aggregate library snapshot. It is recomputed wholesale on
// each completed scan, never incrementally mutated.
type Stats struct {
	Total       int `json:"total"`
	Favorites   int `json:"favorites"`
	KidFriendly int `json:"kid_friendly"`
}
