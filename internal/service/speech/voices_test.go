package speech

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/zhouzirui/tavern-link/backend/internal/analysis/emotion"
)

func TestSpeakerCandidatesResolveAliasesAndDedupe(t *testing.T) {
	got := speakerCandidates("Tavern-Keeper", "zh_female_vv_uranus_bigtts")
	require.Equal(t, []string{"zh_female_vv_uranus_bigtts"}, got)

	got = speakerCandidates("narrator", "zh_female_vv_uranus_bigtts")
	require.Equal(t, []string{"zh_male_M392_conversation_wvae_bigtts", "zh_female_vv_uranus_bigtts"}, got)

	require.Empty(t, speakerCandidates(" ", ""))
}

func TestResourceCandidates(t *testing.T) {
	require.Equal(t, []string{resourceMega}, resourceCandidates("S_custom123"))
	require.Equal(t, []string{resourceSeed, resourceStandard}, resourceCandidates("zh_female_vv_uranus_bigtts"))
	require.Equal(t, []string{resourceStandard, resourceSeed}, resourceCandidates("BV001_streaming"))
}

func TestEmotionParams(t *testing.T) {
	happy := emotion.Decision{Emotion: emotion.Happy, Scale: 7, Score: 6}

	label, scale := emotionParams("zh_male_yourougongzi_emo_v2_mars_bigtts", happy)
	require.Equal(t, "happy", label)
	require.EqualValues(t, 5, scale)

	label, _ = emotionParams("zh_female_vv_uranus_bigtts", happy)
	require.Empty(t, label, "voice without emotion support")

	label, _ = emotionParams("zh_male_yourougongzi_emo_v2_mars_bigtts", emotion.Decision{Emotion: emotion.Neutral, Scale: 3})
	require.Empty(t, label)
}
