package bootstrap

import (
	"strings"

	"github.com/spf13/viper"

	"chess_exe/internal/domain"
)

type Config struct {
	ServerPort           string `mapstructure:"SERVER_PORT"`
	RedisUrl             string `mapstructure:"REDIS_URL"`
	MongoUri             string `mapstructure:"MONGO_URI"`
	IsLocalCors          bool   `mapstructure:"LOCAL_CORS"`
	EnginePath           string `mapstructure:"ENGINE_PATH"`
	EngineEvalFile       string `mapstructure:"ENGINE_EVAL_FILE"`
	EngineHashMb         int    `mapstructure:"ENGINE_HASH_MB"`
	EngineThreads        int    `mapstructure:"ENGINE_THREADS"`
	AnalysisDepth        int    `mapstructure:"ANALYSIS_DEPTH"`
	AnalysisMultiPv      int    `mapstructure:"ANALYSIS_MULTI_PV"`
	AnalysisDeepDepth    int    `mapstructure:"ANALYSIS_DEEP_DEPTH"`
	AnalysisMaxRetries   int    `mapstructure:"ANALYSIS_MAX_RETRIES"`
	SchedulerTickSeconds int    `mapstructure:"SCHEDULER_TICK_SECONDS"`
	ReviewLimit          int    `mapstructure:"REVIEW_LIMIT"`
	TrackedPlayers       string `mapstructure:"TRACKED_PLAYERS"`
	MistralApiKey        string `mapstructure:"MISTRAL_API_KEY"`
	MistralAgentKey      string `mapstructure:"MISTRAL_AGENT_KEY"`
}

func Setup(cfgPath string) (*Config, error) {
	viper.SetConfigFile(cfgPath)

	err := viper.ReadInConfig()
	if err != nil {
		return nil, err
	}

	var cfg Config

	err = viper.Unmarshal(&cfg)
	if err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Profile собирает профиль анализа из конфига; нули заменяются дефолтами,
// чтобы пайплайн работал и с пустым .env.
func (c *Config) Profile() domain.AnalysisProfile {
	p := domain.AnalysisProfile{
		Depth:     c.AnalysisDepth,
		MultiPV:   c.AnalysisMultiPv,
		DeepDepth: c.AnalysisDeepDepth,
	}
	if p.Depth == 0 {
		p.Depth = 16
	}
	if p.MultiPV == 0 {
		p.MultiPV = 3
	}
	return p
}

func (c *Config) MaxRetries() int {
	if c.AnalysisMaxRetries == 0 {
		return 3
	}
	return c.AnalysisMaxRetries
}

func (c *Config) ReviewStorageLimit() int {
	if c.ReviewLimit == 0 {
		return 500
	}
	return c.ReviewLimit
}

func (c *Config) TrackedPlayerList() []string {
	if c.TrackedPlayers == "" {
		return nil
	}
	parts := strings.Split(c.TrackedPlayers, ",")
	players := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			players = append(players, trimmed)
		}
	}
	return players
}
