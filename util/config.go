package util

import (
	_ "embed"
	"fmt"
	"gopkg.in/yaml.v3"
	"log"
	"os"
	"strconv"
	"strings"
)

const Name = "gomphos"
const ConfigFileName = "config.yaml"

//go:embed config_default.yaml
var embeddedConfig []byte

type AppConfig struct {
	Conf struct {
		Host         string
		HttpPort     int    `yaml:"httpPort"`
		LocalDomain  string `yaml:"localDomain"`
		DatabasePath string `yaml:"databasePath"`
		RedisAddr    string `yaml:"redisAddr"`
		RedisDB      int    `yaml:"redisDb"`
		KafkaBrokers string `yaml:"kafkaBrokers"`
		KafkaTopic   string `yaml:"kafkaTopic"`
		Trends       struct {
			Threshold             float64 `yaml:"threshold"`
			ReviewThreshold       float64 `yaml:"reviewThreshold"`
			MaxScoreCooldownHours int     `yaml:"maxScoreCooldownHours"`
			MaxScoreHalflifeHours int     `yaml:"maxScoreHalflifeHours"`
		} `yaml:"trends"`
	}
}

func ReadConf() (*AppConfig, error) {

	c := &AppConfig{}

	// Try to resolve config file path (local first, then user dir)
	configPath := ResolveFilePath(ConfigFileName)

	var buf []byte
	var err error

	// Try to read from resolved path
	buf, err = os.ReadFile(configPath)
	if err != nil {
		// If file doesn't exist, use embedded config and create user config file
		log.Printf("Config file not found at %s, using embedded defaults", configPath)
		buf = embeddedConfig

		// Try to write default config to user config directory
		configDir, dirErr := GetConfigDir()
		if dirErr == nil {
			userConfigPath := configDir + "/" + ConfigFileName
			writeErr := os.WriteFile(userConfigPath, embeddedConfig, 0644)
			if writeErr != nil {
				log.Printf("Warning: could not write default config to %s: %v", userConfigPath, writeErr)
			} else {
				log.Printf("Created default config file at %s", userConfigPath)
			}
		}
	}

	err = yaml.Unmarshal(buf, c)
	if err != nil {
		return nil, fmt.Errorf("in config file: %w", err)
	}

	envHost := os.Getenv("GOMPHOS_HOST")
	envHttpPort := os.Getenv("GOMPHOS_HTTPPORT")
	envLocalDomain := os.Getenv("GOMPHOS_LOCALDOMAIN")
	envDatabasePath := os.Getenv("GOMPHOS_DATABASEPATH")
	envRedisAddr := os.Getenv("GOMPHOS_REDISADDR")
	envRedisDB := os.Getenv("GOMPHOS_REDISDB")
	envKafkaBrokers := os.Getenv("GOMPHOS_KAFKABROKERS")
	envKafkaTopic := os.Getenv("GOMPHOS_KAFKATOPIC")

	if envHost != "" {
		c.Conf.Host = envHost
	}

	if envHttpPort != "" {
		v, err := strconv.Atoi(envHttpPort)
		if err != nil {
			fmt.Println(err)
		}
		c.Conf.HttpPort = v
	}

	if envLocalDomain != "" {
		c.Conf.LocalDomain = envLocalDomain
	}

	if envDatabasePath != "" {
		c.Conf.DatabasePath = envDatabasePath
	}

	if envRedisAddr != "" {
		c.Conf.RedisAddr = envRedisAddr
	}

	if envRedisDB != "" {
		v, err := strconv.Atoi(envRedisDB)
		if err != nil {
			fmt.Println(err)
		}
		c.Conf.RedisDB = v
	}

	if envKafkaBrokers != "" {
		c.Conf.KafkaBrokers = envKafkaBrokers
	}

	if envKafkaTopic != "" {
		c.Conf.KafkaTopic = envKafkaTopic
	}

	if c.Conf.Trends.Threshold == 0 {
		c.Conf.Trends.Threshold = 5
	}
	if c.Conf.Trends.ReviewThreshold == 0 {
		c.Conf.Trends.ReviewThreshold = 10
	}
	if c.Conf.Trends.MaxScoreCooldownHours == 0 {
		c.Conf.Trends.MaxScoreCooldownHours = 48
	}
	if c.Conf.Trends.MaxScoreHalflifeHours == 0 {
		c.Conf.Trends.MaxScoreHalflifeHours = 4
	}

	return c, nil
}

// KafkaBrokerList splits the configured broker string into single addresses
func (c *AppConfig) KafkaBrokerList() []string {
	if c.Conf.KafkaBrokers == "" {
		return nil
	}

	parts := strings.Split(c.Conf.KafkaBrokers, ",")
	brokers := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			brokers = append(brokers, p)
		}
	}

	return brokers
}
