package library

import (
	"encoding/xml"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// GamelistName is the per-system metadata file EmulationStation maintains.
const GamelistName = "gamelist.xml"

type gamelistXML struct {
	XMLName xml.Name  `xml:"gameList"`
	Games   []gameXML `xml:"game"`
}

type gameXML struct {
	Path        string `xml:"path"`
	Name        string `xml:"name"`
	Desc        string `xml:"desc"`
	Genre       string `xml:"genre"`
	Developer   string `xml:"developer"`
	Publisher   string `xml:"publisher"`
	ReleaseDate string `xml:"releasedate"`
	Rating      string `xml:"rating"`
	Favorite    string `xml:"favorite"`
	KidGame     string `xml:"kidgame"`
	Hidden      string `xml:"hidden"`
	Image       string `xml:"image"`
	Thumbnail   string `xml:"thumbnail"`
	Marquee     string `xml:"marquee"`
}

// parseGamelist reads one system's gamelist.xml into Game records. Relative
// media and rom paths are resolved against the system directory.
func parseGamelist(path, system string) ([]Game, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	var doc gamelistXML
	if err := xml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	systemDir := filepath.Dir(path)
	games := make([]Game, 0, len(doc.Games))
	for _, g := range doc.Games {
		if g.Path == "" {
			continue
		}
		game := Game{
			System:      system,
			Path:        cleanRelPath(g.Path),
			Name:        g.Name,
			Description: g.Desc,
			Genre:       g.Genre,
			Developer:   g.Developer,
			Publisher:   g.Publisher,
			ReleaseDate: g.ReleaseDate,
			Rating:      g.Rating,
			Favorite:    g.Favorite == "true",
			KidGame:     g.KidGame == "true",
			Hidden:      g.Hidden == "true",
			Image:       resolveMedia(systemDir, g.Image),
			Thumbnail:   resolveMedia(systemDir, g.Thumbnail),
			Marquee:     resolveMedia(systemDir, g.Marquee),
		}
		if game.Name == "" {
			game.Name = strings.TrimSuffix(filepath.Base(game.Path), filepath.Ext(game.Path))
		}
		games = append(games, game)
	}
	return games, nil
}

// cleanRelPath strips the ./ prefix gamelist entries usually carry.
func cleanRelPath(p string) string {
	return strings.TrimPrefix(p, "./")
}

// resolveMedia turns a gamelist-relative media path into an absolute one.
func resolveMedia(systemDir, p string) string {
	if p == "" {
		return ""
	}
	p = cleanRelPath(p)
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(systemDir, p)
}
