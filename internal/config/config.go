package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/cloudwego/eino-ext/components/model/ark"
	"github.com/cloudwego/eino/components/model"
)

// Config 聚合整个服务的配置项。
type Config struct {
	Server  ServerConfig
	AI      AIConfig
	Speech  SpeechConfig
	OneBot  OneBotConfig
	Storage StorageConfig
	Log     LogConfig
	Chat    ChatConfig
}

// Load 从环境变量加载配置。
func Load() (*Config, error) {
	server, err := loadServerConfig()
	if err != nil {
		return nil, err
	}

	ai, err := loadAIConfig()
	if err != nil {
		return nil, err
	}

	speech, err := loadSpeechConfig()
	if err != nil {
		return nil, err
	}

	onebot, err := loadOneBotConfig()
	if err != nil {
		return nil, err
	}

	storage, err := loadStorageConfig()
	if err != nil {
		return nil, err
	}

	chat, err := loadChatConfig(storage.DataDir)
	if err != nil {
		return nil, err
	}

	return &Config{
		Server:  server,
		AI:      ai,
		Speech:  speech,
		OneBot:  onebot,
		Storage: storage,
		Log:     loadLogConfig(),
		Chat:    chat,
	}, nil
}

// ServerConfig 描述 HTTP 服务配置。
type ServerConfig struct {
	Addr           string
	AllowedOrigins []string
}

func loadServerConfig() (ServerConfig, error) {
	port := strings.TrimSpace(os.Getenv("PORT"))
	if port == "" {
		port = "8080"
	}

	origins := parseListEnv("CORS_ALLOWED_ORIGINS")
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	if strings.Contains(port, ":") {
		// 允许直接传入 ":8080" 或 "127.0.0.1:8080"。
		return ServerConfig{Addr: port, AllowedOrigins: origins}, nil
	}

	if strings.Contains(port, " ") {
		return ServerConfig{}, fmt.Errorf("invalid PORT value: %q", port)
	}

	return ServerConfig{Addr: ":" + port, AllowedOrigins: origins}, nil
}

// AI providers understood by the model client factory.
const (
	ProviderArk    = "ark"
	ProviderOpenAI = "openai"
)

// AIConfig 描述大模型相关配置。Provider 为 ark 时使用 ARK_*，为 openai 时使用 OPENAI_*。
type AIConfig struct {
	Provider    string
	APIKey      string
	AccessKey   string
	SecretKey   string
	Model       string
	BaseURL     string
	Region      string
	Temperature *float64
	TopP        *float64
	MaxTokens   *int

	OpenAIAPIKey  string
	OpenAIBaseURL string
	OpenAIModel   string
}

// Enabled 表示当前 provider 的必需凭证是否齐全。
func (c AIConfig) Enabled() bool {
	if c.Provider == ProviderOpenAI {
		return c.OpenAIAPIKey != "" && c.OpenAIModel != ""
	}
	return c.Model != "" && (c.APIKey != "" || (c.AccessKey != "" && c.SecretKey != ""))
}

// NewChatModel 使用 Ark 配置创建一个 eino 模型实例。
func (c AIConfig) NewChatModel(ctx context.Context) (model.ChatModel, error) {
	if c.Model == "" || (c.APIKey == "" && (c.AccessKey == "" || c.SecretKey == "")) {
		return nil, fmt.Errorf("Ark 凭证或模型配置缺失，至少提供 ARK_API_KEY + Model 或 AK/SK 组合")
	}

	cfg := &ark.ChatModelConfig{
		BaseURL:     c.BaseURL,
		Region:      c.Region,
		APIKey:      c.APIKey,
		AccessKey:   c.AccessKey,
		SecretKey:   c.SecretKey,
		Model:       c.Model,
		MaxTokens:   c.MaxTokens,
		Temperature: toFloat32(c.Temperature),
		TopP:        toFloat32(c.TopP),
	}

	return ark.NewChatModel(ctx, cfg)
}

func toFloat32(v *float64) *float32 {
	if v == nil {
		return nil
	}
	val := float32(*v)
	return &val
}

func loadAIConfig() (AIConfig, error) {
	temperature, err := parseOptionalFloatEnv("ARK_TEMPERATURE")
	if err != nil {
		return AIConfig{}, err
	}

	topP, err := parseOptionalFloatEnv("ARK_TOP_P")
	if err != nil {
		return AIConfig{}, err
	}

	maxTokens, err := parseOptionalIntEnv("ARK_MAX_TOKENS")
	if err != nil {
		return AIConfig{}, err
	}

	provider := strings.ToLower(getEnvOrDefault("AI_PROVIDER", ProviderArk))
	if provider != ProviderArk && provider != ProviderOpenAI {
		return AIConfig{}, fmt.Errorf("invalid AI_PROVIDER value %q: expected %s or %s", provider, ProviderArk, ProviderOpenAI)
	}

	modelName := strings.TrimSpace(os.Getenv("ARK_MODEL"))
	if modelName == "" {
		modelName = strings.TrimSpace(os.Getenv("Model"))
	}

	return AIConfig{
		Provider:      provider,
		APIKey:        strings.TrimSpace(os.Getenv("ARK_API_KEY")),
		AccessKey:     strings.TrimSpace(os.Getenv("ARK_ACCESS_KEY")),
		SecretKey:     strings.TrimSpace(os.Getenv("ARK_SECRET_KEY")),
		Model:         modelName,
		BaseURL:       getEnvOrDefault("ARK_BASE_URL", "https://ark.cn-beijing.volces.com/api/v3"),
		Region:        getEnvOrDefault("ARK_REGION", "cn-beijing"),
		Temperature:   temperature,
		TopP:          topP,
		MaxTokens:     maxTokens,
		OpenAIAPIKey:  strings.TrimSpace(os.Getenv("OPENAI_API_KEY")),
		OpenAIBaseURL: strings.TrimSpace(os.Getenv("OPENAI_BASE_URL")),
		OpenAIModel:   getEnvOrDefault("OPENAI_MODEL", "gpt-4o-mini"),
	}, nil
}

// SpeechConfig 描述语音合成相关配置。
// EmotionLLM asks the chat model for the voice emotion instead of keyword heuristics.
type SpeechConfig struct {
	AppID       string
	AccessToken string
	Voice       string
	Speed       float32
	Volume      float32
	Language    string
	Emotion     bool
	EmotionLLM  bool
	AudioDir    string
	Timeout     int
	Enabled     bool
}

func loadSpeechConfig() (SpeechConfig, error) {
	timeout, err := parseOptionalIntEnv("SPEECH_TIMEOUT")
	if err != nil {
		return SpeechConfig{}, err
	}
	timeoutSeconds := 30
	if timeout != nil && *timeout > 0 {
		timeoutSeconds = *timeout
	}

	speed, err := parseOptionalFloat32Env("SPEECH_TTS_SPEED")
	if err != nil {
		return SpeechConfig{}, err
	}
	ttsSpeed := float32(1.0)
	if speed != nil {
		ttsSpeed = *speed
	}

	volume, err := parseOptionalFloat32Env("SPEECH_TTS_VOLUME")
	if err != nil {
		return SpeechConfig{}, err
	}
	ttsVolume := float32(1.0)
	if volume != nil {
		ttsVolume = *volume
	}

	emotion, err := parseBoolEnv("SPEECH_TTS_EMOTION", true)
	if err != nil {
		return SpeechConfig{}, err
	}

	emotionLLM, err := parseBoolEnv("SPEECH_EMOTION_LLM", false)
	if err != nil {
		return SpeechConfig{}, err
	}

	appID := strings.TrimSpace(os.Getenv("SPEECH_APP_ID"))
	accessToken := strings.TrimSpace(os.Getenv("SPEECH_ACCESS_TOKEN"))
	if accessToken == "" {
		accessToken = strings.TrimSpace(os.Getenv("SPEECH_API_KEY"))
	}

	return SpeechConfig{
		AppID:       appID,
		AccessToken: accessToken,
		Voice:       getEnvOrDefault("SPEECH_TTS_VOICE", "zh_female_vv_uranus_bigtts"),
		Speed:       ttsSpeed,
		Volume:      ttsVolume,
		Language:    getEnvOrDefault("SPEECH_TTS_LANGUAGE", "zh-CN"),
		Emotion:     emotion,
		EmotionLLM:  emotionLLM,
		AudioDir:    getEnvOrDefault("SPEECH_AUDIO_DIR", filepath.Join("data", "audio")),
		Timeout:     timeoutSeconds,
		Enabled:     appID != "" && accessToken != "",
	}, nil
}

// OneBotConfig 描述 OneBot v11 正向 WebSocket 连接。
type OneBotConfig struct {
	URL         string
	AccessToken string
	SelfID      int64
	// AudioBaseURL, when set, makes voice replies reference served files instead of inline base64.
	AudioBaseURL string
}

// Enabled reports whether a OneBot endpoint is configured.
func (c OneBotConfig) Enabled() bool {
	return c.URL != ""
}

func loadOneBotConfig() (OneBotConfig, error) {
	selfID, err := parseOptionalInt64Env("ONEBOT_SELF_ID")
	if err != nil {
		return OneBotConfig{}, err
	}

	cfg := OneBotConfig{
		URL:          strings.TrimSpace(os.Getenv("ONEBOT_URL")),
		AccessToken:  strings.TrimSpace(os.Getenv("ONEBOT_ACCESS_TOKEN")),
		AudioBaseURL: strings.TrimRight(strings.TrimSpace(os.Getenv("ONEBOT_AUDIO_BASE_URL")), "/"),
	}
	if selfID != nil {
		cfg.SelfID = *selfID
	}
	return cfg, nil
}

// StorageConfig 选择全局记忆与粘性状态的持久化后端。
type StorageConfig struct {
	Backend       string
	DataDir       string
	SQLitePath    string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	DatabaseURL   string
}

func loadStorageConfig() (StorageConfig, error) {
	redisDB, err := parseOptionalIntEnv("REDIS_DB")
	if err != nil {
		return StorageConfig{}, err
	}

	backend := strings.ToLower(getEnvOrDefault("STORAGE_BACKEND", "file"))
	switch backend {
	case "file", "sqlite", "redis", "postgres":
	default:
		return StorageConfig{}, fmt.Errorf("invalid STORAGE_BACKEND value %q", backend)
	}

	dataDir := getEnvOrDefault("DATA_DIR", "data")
	cfg := StorageConfig{
		Backend:       backend,
		DataDir:       dataDir,
		SQLitePath:    getEnvOrDefault("SQLITE_PATH", filepath.Join(dataDir, "tavern.db")),
		RedisAddr:     getEnvOrDefault("REDIS_ADDR", "localhost:6379"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		DatabaseURL:   strings.TrimSpace(os.Getenv("DATABASE_URL")),
	}
	if redisDB != nil {
		cfg.RedisDB = *redisDB
	}
	return cfg, nil
}

// LogConfig 描述日志输出。
type LogConfig struct {
	Level string
	Dir   string
	// Pretty selects the human-readable console writer over JSON.
	Pretty bool
}

func loadLogConfig() LogConfig {
	pretty, err := parseBoolEnv("LOG_PRETTY", true)
	if err != nil {
		pretty = true
	}
	return LogConfig{
		Level:  getEnvOrDefault("LOG_LEVEL", "info"),
		Dir:    getEnvOrDefault("LOG_DIR", "logs"),
		Pretty: pretty,
	}
}

// ChatConfig 描述聊天行为的启动默认值与运行时设置文件位置。
type ChatConfig struct {
	SettingsFile string
	CharacterDir string
	Defaults     ChatSettings
}

func loadChatConfig(dataDir string) (ChatConfig, error) {
	defaults := DefaultChatSettings()

	if v, err := parseOptionalIntEnv("CHAT_HISTORY_LIMIT"); err != nil {
		return ChatConfig{}, err
	} else if v != nil {
		defaults.HistoryLimit = *v
	}

	if v, err := parseOptionalIntEnv("CHAT_MAX_GLOBAL_MESSAGES"); err != nil {
		return ChatConfig{}, err
	} else if v != nil {
		defaults.MaxGlobalMessages = *v
	}

	if v, err := parseOptionalIntEnv("AI_TIMEOUT_MS"); err != nil {
		return ChatConfig{}, err
	} else if v != nil {
		defaults.AITimeoutMs = *v
	}

	split, err := parseBoolEnv("CHAT_SPLIT_MESSAGE", defaults.SplitMessage)
	if err != nil {
		return ChatConfig{}, err
	}
	defaults.SplitMessage = split

	tts, err := parseBoolEnv("CHAT_TTS_ENABLED", defaults.TTSEnabled)
	if err != nil {
		return ChatConfig{}, err
	}
	defaults.TTSEnabled = tts

	groups, err := parseInt64ListEnv("CHAT_ALLOWED_GROUPS")
	if err != nil {
		return ChatConfig{}, err
	}
	users, err := parseInt64ListEnv("CHAT_ALLOWED_USERS")
	if err != nil {
		return ChatConfig{}, err
	}

	defaults.TriggerMode = getEnvOrDefault("CHAT_TRIGGER_MODE", defaults.TriggerMode)
	defaults.TriggerKeywords = parseListEnv("CHAT_TRIGGER_KEYWORDS")
	defaults.AllowedGroups = groups
	defaults.AllowedUsers = users
	defaults.DefaultCharacter = getEnvOrDefault("CHAT_DEFAULT_CHARACTER", defaults.DefaultCharacter)

	return ChatConfig{
		SettingsFile: getEnvOrDefault("CHAT_SETTINGS_FILE", filepath.Join(dataDir, "chat_settings.yaml")),
		CharacterDir: strings.TrimSpace(os.Getenv("CHARACTER_DIR")),
		Defaults:     defaults.Normalize(),
	}, nil
}
