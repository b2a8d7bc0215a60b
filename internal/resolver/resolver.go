package resolver

import (
	"fmt"
	"strings"
)

// DefaultBaseURL is the official beatmap pack mirror.
const DefaultBaseURL = "https://packs.ppy.sh"

// Candidate pairs a remote URL with the local filename the download
// should land in once complete.
type Candidate struct {
	URL      string
	Filename string
}

// Resolver derives candidate download locations for a pack number.
// It performs no I/O; the same pack number always yields the same
// candidates in the same priority order.
type Resolver struct {
	baseURL string
}

// New creates a Resolver pointed at the official mirror.
func New() *Resolver {
	return &Resolver{baseURL: DefaultBaseURL}
}

// NewWithBaseURL creates a Resolver pointed at an alternate mirror.
// Used by tests and private mirrors; URL patterns stay identical.
func NewWithBaseURL(baseURL string) *Resolver {
	return &Resolver{baseURL: strings.TrimSuffix(baseURL, "/")}
}

// Candidates returns every known URL pattern for a pack, most likely
// first. Pack archives were renamed over the years, so older packs only
// exist under the later patterns.
func (r *Resolver) Candidates(pack int) []Candidate {
	urls := []string{
		fmt.Sprintf("%s/S%d%%20-%%20osu%%21%%20Beatmap%%20Pack%%20%%23%d.zip", r.baseURL, pack, pack),
		fmt.Sprintf("%s/S%d%%20-%%20Beatmap%%20Pack%%20%%23%d.zip", r.baseURL, pack, pack),
		fmt.Sprintf("%s/S%d%%20-%%20Beatmap%%20Pack%%20%%23%d.7z", r.baseURL, pack, pack),
	}

	candidates := make([]Candidate, 0, len(urls))
	for _, u := range urls {
		candidates = append(candidates, Candidate{
			URL:      u,
			Filename: filenameFromURL(u, pack),
		})
	}

	return candidates
}

// filenameFromURL maps a candidate URL back to the local archive name.
// The extension and the encoded "osu!" token are the only signals that
// distinguish the patterns.
func filenameFromURL(url string, pack int) string {
	switch {
	case strings.HasSuffix(url, ".7z"):
		return fmt.Sprintf("Beatmap Pack #%d.7z", pack)
	case strings.Contains(url, "osu%21"):
		return fmt.Sprintf("osu! Beatmap Pack #%d.zip", pack)
	default:
		return fmt.Sprintf("Beatmap Pack #%d.zip", pack)
	}
}
