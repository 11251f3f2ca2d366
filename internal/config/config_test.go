package config

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("PORT", "")
	t.Setenv("STORAGE_BACKEND", "")
	t.Setenv("AI_PROVIDER", "")
	t.Setenv("DATA_DIR", "")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, ":8080", cfg.Server.Addr)
	require.Equal(t, "file", cfg.Storage.Backend)
	require.Equal(t, ProviderArk, cfg.AI.Provider)
	require.Equal(t, 30, cfg.Chat.Defaults.HistoryLimit)
	require.Equal(t, 2000, cfg.Chat.Defaults.MaxGlobalMessages)
	require.True(t, cfg.Chat.Defaults.SplitMessage)
	require.Equal(t, "data/chat_settings.yaml", cfg.Chat.SettingsFile)
}

func TestLoadChatOverrides(t *testing.T) {
	t.Setenv("CHAT_HISTORY_LIMIT", "10")
	t.Setenv("CHAT_TRIGGER_MODE", "Keyword")
	t.Setenv("CHAT_TRIGGER_KEYWORDS", "老板娘, 麦酒 ,")
	t.Setenv("CHAT_ALLOWED_GROUPS", "100,200")
	t.Setenv("ONEBOT_SELF_ID", "123456")
	t.Setenv("AI_TIMEOUT_MS", "5000")

	cfg, err := Load()
	require.NoError(t, err)

	chat := cfg.Chat.Defaults
	require.Equal(t, 10, chat.HistoryLimit)
	require.Equal(t, TriggerKeyword, chat.TriggerMode)
	require.Equal(t, []string{"老板娘", "麦酒"}, chat.TriggerKeywords)
	require.Equal(t, []int64{100, 200}, chat.AllowedGroups)
	require.Equal(t, 5000, chat.AITimeoutMs)
	require.EqualValues(t, 123456, cfg.OneBot.SelfID)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	cases := map[string]string{
		"CHAT_HISTORY_LIMIT": "lots",
		"CHAT_ALLOWED_USERS": "1,abc",
		"STORAGE_BACKEND":    "mongo",
		"AI_PROVIDER":        "gemini",
		"CHAT_SPLIT_MESSAGE": "maybe",
		"ONEBOT_SELF_ID":     "me",
		"SPEECH_EMOTION_LLM": "sometimes",
	}
	for key, value := range cases {
		t.Run(key, func(t *testing.T) {
			t.Setenv(key, value)
			_, err := Load()
			require.Error(t, err)
			require.Contains(t, err.Error(), key)
		})
	}
}

func TestLoadServerAddrForms(t *testing.T) {
	t.Setenv("PORT", "127.0.0.1:9000")
	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, "127.0.0.1:9000", cfg.Server.Addr)

	t.Setenv("PORT", "80 80")
	_, err = Load()
	require.Error(t, err)
}

func TestLoadSpeechEmotionLLM(t *testing.T) {
	t.Setenv("SPEECH_EMOTION_LLM", "")
	cfg, err := Load()
	require.NoError(t, err)
	require.False(t, cfg.Speech.EmotionLLM)

	t.Setenv("SPEECH_EMOTION_LLM", "true")
	cfg, err = Load()
	require.NoError(t, err)
	require.True(t, cfg.Speech.EmotionLLM)
}
