package config

import (
	"os"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	LLM      LLMConfig      `yaml:"llm"`
	Voice    VoiceConfig    `yaml:"voice"`
	Coach    CoachConfig    `yaml:"coach"`
}

type ServerConfig struct {
	Port string `yaml:"port"`
	Mode string `yaml:"mode"` // debug, release
}

type DatabaseConfig struct {
	Type string `yaml:"type"` // sqlite, mysql
	DSN  string `yaml:"dsn"`
}

type LLMConfig struct {
	APIURL    string `yaml:"api_url"`
	APIKey    string `yaml:"api_key"`
	Model     string `yaml:"model"`
	MaxTokens int    `yaml:"max_tokens"`
}

// VoiceConfig 语音会话相关配置
type VoiceConfig struct {
	DefaultAssistant     string        `yaml:"default_assistant"`      // chef, coach
	Language             string        `yaml:"language"`               // 识别/合成语言，如 en-US
	FinalizeTimeout      time.Duration `yaml:"finalize_timeout"`       // 停止识别后等待最终结果的时间
	MaxCaptureDuration   time.Duration `yaml:"max_capture_duration"`   // 单次识别最长时间
	DispatchTimeout      time.Duration `yaml:"dispatch_timeout"`       // 调用对话后端的超时
	DispatchWorkers      int           `yaml:"dispatch_workers"`
	PlaybackStartTimeout time.Duration `yaml:"playback_start_timeout"` // 提交播放后等待播放开始的时间
	PlaybackTimeout      time.Duration `yaml:"playback_timeout"`       // 单次播放最长时间，超时按播放失败处理
	TTSCommand           string        `yaml:"tts_command"`            // 为空时由浏览器负责播放
	TTSArgs              []string      `yaml:"tts_args"`
}

// CoachConfig 健康教练的用户偏好，写入教练的系统提示词
type CoachConfig struct {
	Goal                string   `yaml:"goal"`
	DietaryRestrictions []string `yaml:"dietary_restrictions"`
	Allergies           []string `yaml:"allergies"`
	Lifestyle           string   `yaml:"lifestyle"`
	CurrentPlan         string   `yaml:"current_plan"`
}

var (
	cfg  *Config
	once sync.Once
)

func GetConfig() *Config {
	once.Do(func() {
		cfg = loadConfig()
	})
	return cfg
}

// Default 返回默认配置
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port: "8080",
			Mode: "debug",
		},
		Database: DatabaseConfig{
			Type: "sqlite",
			DSN:  "./data/voicechef.db",
		},
		LLM: LLMConfig{
			APIURL:    "https://api.openai.com/v1",
			Model:     "gpt-4o",
			MaxTokens: 1024,
		},
		Voice: VoiceConfig{
			DefaultAssistant:   "coach",
			Language:           "en-US",
			FinalizeTimeout:    3 * time.Second,
			MaxCaptureDuration: 30 * time.Second,
			DispatchTimeout:    60 * time.Second,
			DispatchWorkers:    2,

			PlaybackStartTimeout: 10 * time.Second,
			PlaybackTimeout:      2 * time.Minute,
		},
	}
}

func loadConfig() *Config {
	config := Default()

	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config.yaml"
	}

	data, err := os.ReadFile(configPath)
	if err == nil {
		yaml.Unmarshal(data, config)
	}

	applyEnv(config)
	return config
}

// applyEnv 环境变量优先级高于配置文件
func applyEnv(config *Config) {
	if apiKey := os.Getenv("OPENAI_API_KEY"); apiKey != "" {
		config.LLM.APIKey = apiKey
	}
	if baseURL := os.Getenv("OPENAI_BASE_URL"); baseURL != "" {
		config.LLM.APIURL = baseURL
	}
	if model := os.Getenv("OPENAI_MODEL_NAME"); model != "" {
		config.LLM.Model = model
	}

	// 数据库环境变量
	if dbType := os.Getenv("DB_TYPE"); dbType != "" {
		config.Database.Type = dbType
	}
	if dbDSN := os.Getenv("DB_DSN"); dbDSN != "" {
		config.Database.DSN = dbDSN
	}

	// 语音环境变量
	if assistant := os.Getenv("VOICE_DEFAULT_ASSISTANT"); assistant != "" {
		config.Voice.DefaultAssistant = strings.ToLower(assistant)
	}
	if ttsCommand := os.Getenv("VOICE_TTS_COMMAND"); ttsCommand != "" {
		fields := strings.Fields(ttsCommand)
		config.Voice.TTSCommand = fields[0]
		config.Voice.TTSArgs = fields[1:]
	}

	if config.Voice.DispatchWorkers <= 0 {
		config.Voice.DispatchWorkers = 1
	}
}

func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

func UpdateConfig(newCfg *Config) {
	cfg = newCfg
}
