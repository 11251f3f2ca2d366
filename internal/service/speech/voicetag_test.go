package speech

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSplitVoiceTagsKeepsOrder(t *testing.T) {
	parts := SplitVoiceTags("欢迎光临！[voice:今天的麦酒特别好]  还想要点什么？[voice: ][voice:再见]")

	require.Equal(t, []Part{
		{Kind: PartText, Content: "欢迎光临！"},
		{Kind: PartVoice, Content: "今天的麦酒特别好"},
		{Kind: PartText, Content: "还想要点什么？"},
		{Kind: PartVoice, Content: "再见"},
	}, parts)
}

func TestSplitVoiceTagsPlainText(t *testing.T) {
	require.Equal(t, []Part{{Kind: PartText, Content: "只是文字"}}, SplitVoiceTags("  只是文字 "))
	require.Empty(t, SplitVoiceTags("   "))
}

func TestSplitParagraphs(t *testing.T) {
	got := SplitParagraphs("第一段\n\n\n第二段\n还是第二段\n\n  \n\n")
	require.Equal(t, []string{"第一段", "第二段\n还是第二段"}, got)
}
