package src

import (
	"fmt"

	"homelink/src/model"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	LogConfig          model.LogConfig          `envconfig:"LOG"`
	RedisConfig        model.RedisConfig        `envconfig:"REDIS"`
	LLMConfig          model.LLMConfig          `envconfig:""`
	HealConfig         model.HealConfig         `envconfig:"HEAL"`
	ConversationConfig model.ConversationConfig `envconfig:"CONVERSATION"`
	ServerConfig       model.ServerConfig       `envconfig:""`
}

func LoadConfig() (*Config, error) {
	var config Config
	err := envconfig.Process("", &config)
	if err != nil {
		return nil, fmt.Errorf("error processing environment configuration: %v", err)
	}

	return &config, nil
}
