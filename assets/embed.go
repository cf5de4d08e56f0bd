// Package assets embeds the default race card so the server runs even when
// no RACES_FILE is configured.
package assets

import (
	"embed"
)

//go:embed races.tsv
var FS embed.FS

// RaceCard returns the raw tab-separated race card.
func RaceCard() ([]byte, error) {
	return FS.ReadFile("races.tsv")
}
