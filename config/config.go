// Package config 通过 viper 读取配置文件、环境变量与命令行参数
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix 环境变量前缀，例如 CLOCKTOWER_GAME_MAX_DAYS
const EnvPrefix = "CLOCKTOWER"

// Config 服务配置
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Game    GameConfig    `mapstructure:"game"`
	Storage StorageConfig `mapstructure:"storage"`
	Log     LogConfig     `mapstructure:"log"`
}

// ServerConfig HTTP 服务配置
type ServerConfig struct {
	Addr           string   `mapstructure:"addr"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// GameConfig 游戏规则配置
type GameConfig struct {
	MaxDays          int           `mapstructure:"max_days"`
	NominationBudget int           `mapstructure:"nomination_budget"`
	DecisionTimeout  time.Duration `mapstructure:"decision_timeout"`
	MinPlayers       int           `mapstructure:"min_players"`
	MaxPlayers       int           `mapstructure:"max_players"`
	Seed             int64         `mapstructure:"seed"`
}

// StorageConfig 存储配置，Path 为空时不持久化
type StorageConfig struct {
	Path string `mapstructure:"path"`
}

// LogConfig 日志配置
type LogConfig struct {
	Level string `mapstructure:"level"`
}

// FlagKeys 命令行参数名与配置键的对应关系
var FlagKeys = map[string]string{
	"addr":              "server.addr",
	"max-days":          "game.max_days",
	"nomination-budget": "game.nomination_budget",
	"decision-timeout":  "game.decision_timeout",
	"seed":              "game.seed",
	"db":                "storage.path",
	"log-level":         "log.level",
}

// SetDefaults 写入默认值
func SetDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("game.max_days", 10)
	v.SetDefault("game.nomination_budget", 3)
	v.SetDefault("game.decision_timeout", 30*time.Second)
	v.SetDefault("game.min_players", 5)
	v.SetDefault("game.max_players", 15)
	v.SetDefault("game.seed", 0)
	v.SetDefault("storage.path", "")
	v.SetDefault("log.level", "info")
}

// Load 依次合并默认值、配置文件、环境变量与命令行参数。
// path 为空时在当前目录查找可选的 config.yaml；flags 可以为空。
func Load(path string, flags *pflag.FlagSet) (Config, error) {
	v := viper.New()
	SetDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("读取配置文件失败: %w", err)
		}
	}

	if flags != nil {
		for name, key := range FlagKeys {
			f := flags.Lookup(name)
			if f == nil {
				continue
			}
			if err := v.BindPFlag(key, f); err != nil {
				return Config{}, fmt.Errorf("绑定命令行参数 --%s 失败: %w", name, err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("解析配置失败: %w", err)
	}
	return cfg, cfg.Validate()
}

// Validate 校验配置
func (c Config) Validate() error {
	switch {
	case c.Game.MaxDays <= 0:
		return fmt.Errorf("game.max_days 必须大于0，当前 %d", c.Game.MaxDays)
	case c.Game.NominationBudget <= 0:
		return fmt.Errorf("game.nomination_budget 必须大于0，当前 %d", c.Game.NominationBudget)
	case c.Game.DecisionTimeout <= 0:
		return fmt.Errorf("game.decision_timeout 必须大于0，当前 %s", c.Game.DecisionTimeout)
	case c.Game.MinPlayers < 5 || c.Game.MaxPlayers > 15 || c.Game.MinPlayers > c.Game.MaxPlayers:
		return fmt.Errorf("玩家人数范围必须在 5-15 之间，当前 %d-%d", c.Game.MinPlayers, c.Game.MaxPlayers)
	}
	return nil
}
