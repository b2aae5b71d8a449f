package audio

import (
	"os"
	"strings"

	"github.com/dhowden/tag"
)

// Tags holds the descriptive tags of a recording
type Tags struct {
	Title  string
	Artist string
	Album  string
	Format string
}

// ReadTags reads embedded tags from path. Files without a supported tag
// block (plain WAV, for instance) return empty Tags and no error.
func ReadTags(path string) (Tags, error) {
	f, err := os.Open(path)
	if err != nil {
		return Tags{}, err
	}
	defer f.Close()

	m, err := tag.ReadFrom(f)
	if err != nil {
		// tag.ErrNoTagsFound and unparseable tag blocks are both "no tags"
		return Tags{}, nil
	}

	return Tags{
		Title:  strings.TrimSpace(m.Title()),
		Artist: strings.TrimSpace(m.Artist()),
		Album:  strings.TrimSpace(m.Album()),
		Format: string(m.Format()),
	}, nil
}
