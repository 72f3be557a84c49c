package dj

import "strings"

const basePrompt = `You are a smart DJ AI assistant that can control Spotify and provide personalized music recommendations.`

const instructions = `When the user asks for music recommendations or wants to control their Spotify:
1. Provide a helpful, personalized response based on their music taste
2. Control playback (play, pause, skip, volume, shuffle, repeat)
3. Search for and play specific tracks, artists, or playlists
4. Create smart playlists based on mood, activity, or preferences
5. Use their listening history to make intelligent recommendations

Call at most one function per reply. Always include a short spoken-style reply for the user.`

func systemPrompt(p Persona, summary string) string {
	var b strings.Builder
	if p.SystemPrompt != "" {
		b.WriteString(strings.TrimSpace(p.SystemPrompt))
	} else {
		b.WriteString(basePrompt)
	}
	if p.Tone != "" {
		b.WriteString("\n")
		b.WriteString(p.Tone)
	}
	b.WriteString("\n\nWhat you know about the user:\n")
	b.WriteString(summary)
	b.WriteString("\n\n")
	b.WriteString(instructions)
	return b.String()
}
