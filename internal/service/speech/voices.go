package speech

import (
	"strings"

	"github.com/zhouzirui/tavern-link/backend/internal/analysis/emotion"
)

const (
	resourceStandard = "volc.service_type.10029"
	resourceMega     = "volc.megatts.default"
	resourceSeed     = "seed-tts-2.0"
)

// voiceAliases maps friendly names used in character cards to speaker ids.
var voiceAliases = map[string]string{
	"tavern-keeper": "zh_female_vv_uranus_bigtts",
	"narrator":      "zh_male_M392_conversation_wvae_bigtts",
	"bard":          "zh_male_yourougongzi_emo_v2_mars_bigtts",
	"en_default":    "en_female_amy_jupiter_bigtts",
}

// resolveVoice maps an alias to its speaker id.
func resolveVoice(v string) string {
	v = strings.TrimSpace(v)
	if mapped, ok := voiceAliases[strings.ToLower(v)]; ok {
		return mapped
	}
	return v
}

// seedHints mark speaker ids served by the seed resource.
var seedHints = []string{"bigtts", "seed", "megatts", "uranus", "venus", "jupiter", "saturn", "mars"}

// speakerCandidates resolves aliases and returns the requested voice followed
// by the configured default, deduplicated case-insensitively.
func speakerCandidates(requested, fallback string) []string {
	var out []string
	add := func(v string) {
		if v = resolveVoice(v); v == "" {
			return
		}
		for _, existing := range out {
			if strings.EqualFold(existing, v) {
				return
			}
		}
		out = append(out, v)
	}
	add(requested)
	add(fallback)
	return out
}

// resourceCandidates lists resource ids to try for a speaker, best guess first.
func resourceCandidates(speaker string) []string {
	if strings.HasPrefix(speaker, "S_") {
		return []string{resourceMega}
	}
	lowered := strings.ToLower(speaker)
	for _, hint := range seedHints {
		if strings.Contains(lowered, hint) {
			return []string{resourceSeed, resourceStandard}
		}
	}
	return []string{resourceStandard, resourceSeed}
}

// supportsEmotion reports whether a speaker accepts emotion parameters.
func supportsEmotion(speaker string) bool {
	return strings.Contains(strings.ToLower(speaker), "_emo")
}

// emotionParams turns a mood decision into audio parameters for speaker.
// An empty label means the request goes out without emotion.
func emotionParams(speaker string, d emotion.Decision) (string, float32) {
	if d.IsNeutral() || !supportsEmotion(speaker) {
		return "", 0
	}
	scale := d.Scale
	if scale <= 0 {
		scale = 3
	}
	return string(d.Emotion), max(1, min(scale, 5))
}
