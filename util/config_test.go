package util

import (
	"os"
	"testing"
)

func TestConfigConstants(t *testing.T) {
	if Name != "gomphos" {
		t.Errorf("Expected Name 'gomphos', got '%s'", Name)
	}

	if ConfigFileName != "config.yaml" {
		t.Errorf("Expected ConfigFileName 'config.yaml', got '%s'", ConfigFileName)
	}
}

func TestReadConfWithYaml(t *testing.T) {
	// Create a test config file
	yamlContent := `
conf:
  host: 127.0.0.1
  httpPort: 9999
  localDomain: example.com
  databasePath: test.db
  redisAddr: 127.0.0.1:6380
`
	err := os.WriteFile("config.yaml", []byte(yamlContent), 0644)
	if err != nil {
		t.Fatalf("Failed to create test config: %v", err)
	}
	defer os.Remove("config.yaml")

	config, err := ReadConf()
	if err != nil {
		t.Fatalf("ReadConf failed: %v", err)
	}

	if config.Conf.Host != "127.0.0.1" {
		t.Errorf("Expected Host '127.0.0.1', got '%s'", config.Conf.Host)
	}

	if config.Conf.HttpPort != 9999 {
		t.Errorf("Expected HttpPort 9999, got %d", config.Conf.HttpPort)
	}

	if config.Conf.LocalDomain != "example.com" {
		t.Errorf("Expected LocalDomain 'example.com', got '%s'", config.Conf.LocalDomain)
	}

	if config.Conf.RedisAddr != "127.0.0.1:6380" {
		t.Errorf("Expected RedisAddr '127.0.0.1:6380', got '%s'", config.Conf.RedisAddr)
	}
}

func TestReadConfTrendsDefaults(t *testing.T) {
	yamlContent := `
conf:
  host: 127.0.0.1
  httpPort: 9999
  localDomain: example.com
`
	err := os.WriteFile("config.yaml", []byte(yamlContent), 0644)
	if err != nil {
		t.Fatalf("Failed to create test config: %v", err)
	}
	defer os.Remove("config.yaml")

	config, err := ReadConf()
	if err != nil {
		t.Fatalf("ReadConf failed: %v", err)
	}

	if config.Conf.Trends.Threshold != 5 {
		t.Errorf("Expected trends threshold default 5, got %f", config.Conf.Trends.Threshold)
	}

	if config.Conf.Trends.MaxScoreCooldownHours != 48 {
		t.Errorf("Expected cooldown default 48, got %d", config.Conf.Trends.MaxScoreCooldownHours)
	}

	if config.Conf.Trends.MaxScoreHalflifeHours != 4 {
		t.Errorf("Expected halflife default 4, got %d", config.Conf.Trends.MaxScoreHalflifeHours)
	}
}

func TestReadConfWithEnvOverrides(t *testing.T) {
	yamlContent := `
conf:
  host: 127.0.0.1
  httpPort: 9999
  localDomain: example.com
  redisAddr: 127.0.0.1:6379
`
	err := os.WriteFile("config.yaml", []byte(yamlContent), 0644)
	if err != nil {
		t.Fatalf("Failed to create test config: %v", err)
	}
	defer os.Remove("config.yaml")

	// Set environment variables
	os.Setenv("GOMPHOS_HOST", "192.168.1.1")
	os.Setenv("GOMPHOS_HTTPPORT", "8080")
	os.Setenv("GOMPHOS_LOCALDOMAIN", "test.example.com")
	os.Setenv("GOMPHOS_REDISADDR", "10.0.0.1:6379")

	defer func() {
		os.Unsetenv("GOMPHOS_HOST")
		os.Unsetenv("GOMPHOS_HTTPPORT")
		os.Unsetenv("GOMPHOS_LOCALDOMAIN")
		os.Unsetenv("GOMPHOS_REDISADDR")
	}()

	config, err := ReadConf()
	if err != nil {
		t.Fatalf("ReadConf failed: %v", err)
	}

	// Environment variables should override YAML values
	if config.Conf.Host != "192.168.1.1" {
		t.Errorf("Expected Host '192.168.1.1' from env, got '%s'", config.Conf.Host)
	}

	if config.Conf.HttpPort != 8080 {
		t.Errorf("Expected HttpPort 8080 from env, got %d", config.Conf.HttpPort)
	}

	if config.Conf.LocalDomain != "test.example.com" {
		t.Errorf("Expected LocalDomain 'test.example.com' from env, got '%s'", config.Conf.LocalDomain)
	}

	if config.Conf.RedisAddr != "10.0.0.1:6379" {
		t.Errorf("Expected RedisAddr '10.0.0.1:6379' from env, got '%s'", config.Conf.RedisAddr)
	}
}

func TestReadConfInvalidYaml(t *testing.T) {
	// Create an invalid YAML file
	invalidYaml := `
conf:
  host: 127.0.0.1
  httpPort: not_a_number
  invalid yaml structure
`
	err := os.WriteFile("config.yaml", []byte(invalidYaml), 0644)
	if err != nil {
		t.Fatalf("Failed to create test config: %v", err)
	}
	defer os.Remove("config.yaml")

	_, err = ReadConf()
	if err == nil {
		t.Error("Expected error when parsing invalid YAML")
	}
}

func TestKafkaBrokerList(t *testing.T) {
	config := &AppConfig{}

	if brokers := config.KafkaBrokerList(); brokers != nil {
		t.Errorf("Expected nil broker list for empty config, got %v", brokers)
	}

	config.Conf.KafkaBrokers = "broker1:9092, broker2:9092"
	brokers := config.KafkaBrokerList()

	if len(brokers) != 2 {
		t.Fatalf("Expected 2 brokers, got %d", len(brokers))
	}

	if brokers[0] != "broker1:9092" {
		t.Errorf("Expected 'broker1:9092', got '%s'", brokers[0])
	}

	if brokers[1] != "broker2:9092" {
		t.Errorf("Expected 'broker2:9092', got '%s'", brokers[1])
	}
}
