package blocks

import "regexp"

const youtubeEmbedPrefix = "https://www.youtube.com/embed/"

var youtubeIDPattern = regexp.MustCompile(`(?:youtube\.com/watch\?v=|youtu\.be/|youtube\.com/embed/)([^&\n?#]+)`)

// NormalizeVideoURL rewrites YouTube watch, short and embed links to the
// canonical embed form. Any other URL is returned unchanged.
func NormalizeVideoURL(raw string) string {
	match := youtubeIDPattern.FindStringSubmatch(raw)
	if match == nil {
		return raw
	}
	return youtubeEmbedPrefix + match[1]
}
