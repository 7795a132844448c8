package votes

// VocabularyVersion tracks the canonical tag list revision. Bump it when
// the lists change so queued votes from older clients can be identified.
const VocabularyVersion = 2

// Moods is the canonical mood vocabulary. One list only; divergent copies
// of this list in clients are a defect.
var Moods = []string{
	"calm",
	"dark",
	"dreamy",
	"energetic",
	"melancholic",
	"uplifting",
}

// Genres is the canonical genre vocabulary.
var Genres = []string{
	"synthwave",
	"darksynth",
	"chillwave",
	"ebm",
	"retrowave",
	"spacesynth",
}

// ValidTag reports whether tag belongs to the vocabulary for kind.
func ValidTag(tag, kind string) bool {
	var list []string
	switch kind {
	case KindMood:
		list = Moods
	case KindGenre:
		list = Genres
	default:
		return false
	}
	for _, t := range list {
		if t == tag {
			return true
		}
	}
	return false
}
