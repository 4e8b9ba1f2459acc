package analysis

import (
	"fmt"
	"strings"
)

// buildPrompt composes the instruction sent alongside the video. The model
// is asked for a single JSON object so the response can be parsed without
// scraping prose.
func buildPrompt(transcript string) string {
	var b strings.Builder

	b.WriteString(`You are a music supervisor creating a soundtrack brief for the attached video.

Watch the video and design a piece of music that fits its visual mood, pacing and subject. Respond with a single JSON object, no surrounding prose, with this shape:

{
  "scene": "<one-sentence description of what happens in the video>",
  "mood": "<two or three adjectives for the emotional tone>",
  "tempo": "<slow | medium | fast>",
  "suno_request": {
    "title": "<short evocative song title>",
    "style": "<comma-separated genre and instrumentation tags>",
    "prompt": "<one-paragraph description of the music to generate>",
    "customMode": true,
    "instrumental": <true if the video needs no vocals, else false>
  }
}
`)

	if strings.TrimSpace(transcript) == "" {
		b.WriteString("\nNo speech was detected in the video. Judge the mood from the visuals alone.\n")
	} else {
		fmt.Fprintf(&b, "\nThe video contains the following spoken dialogue. Let its themes inform the lyrics and mood:\n\"\"\"\n%s\n\"\"\"\n", transcript)
	}

	return b.String()
}
