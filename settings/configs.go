package settings

import (
	"fmt"
	"gopkg.in/yaml.v2"
	"os"
	"time"
)

type DatabaseConfigurationSection struct {
	Type     string `yaml:"type"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
}

type VectorDBConfigurationSection struct {
	Type       string `yaml:"type"`
	Endpoint   string `yaml:"endpoint"`
	APIToken   string `yaml:"api-token"`
	Collection string `yaml:"collection"`
	Dimensions uint64 `yaml:"dimensions"`
}

type ComputeConfigurationSection struct {
	Endpoint           string `yaml:"endpoint"`
	EmbeddingsEndpoint string `yaml:"embeddings-endpoint"`
	Protocol           string `yaml:"protocol"`
	MaxBatchSize       int    `yaml:"max-batch-size"`
	Token              string `yaml:"token"`
}

type WorkersConfigurationSection struct {
	ModelWorkers   int `yaml:"model-workers"`
	GeneralWorkers int `yaml:"general-workers"` // 0 - size from hardware concurrency
	InitTimeoutMs  int `yaml:"init-timeout-ms"`
	TopIntervalMs  int `yaml:"top-interval-ms"`
}

type SummaryConfigurationSection struct {
	Model       string  `yaml:"model"`
	Temperature float32 `yaml:"temperature"`
	EvidenceK   int     `yaml:"evidence-k"`
}

type ConfigurationFile struct {
	Database  DatabaseConfigurationSection   `yaml:"database"`
	VectorDBs []VectorDBConfigurationSection `yaml:"vector-db"`
	Compute   []ComputeConfigurationSection  `yaml:"compute"`
	Workers   WorkersConfigurationSection    `yaml:"workers"`
	Summary   SummaryConfigurationSection    `yaml:"summary"`
}

func (w *WorkersConfigurationSection) InitTimeout() time.Duration {
	if w.InitTimeoutMs <= 0 {
		return 120 * time.Second
	}
	return time.Duration(w.InitTimeoutMs) * time.Millisecond
}

func ProcessConfigurationFile(path string) (*ConfigurationFile, error) {
	// read YAML file
	config := &ConfigurationFile{}

	yamlText, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error loading configuration file %s: %v", path, err)
	}

	err = yaml.Unmarshal(yamlText, config)
	if err != nil {
		return nil, fmt.Errorf("error parsing configuration file %s: %v", path, err)
	}

	if config.Summary.EvidenceK == 0 {
		config.Summary.EvidenceK = 8
	}

	return config, nil
}
