package config

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// LoadConfig читает YAML (или TOML по расширению .toml) поверх Default() и валидирует
func LoadConfig(filePath string) (*Config, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer func() {
		if closeErr := file.Close(); closeErr != nil {
			// Логируем ошибку, но не возвращаем, иначе перезапишем основную ошибку
			log.Printf("Warning: failed to close config file: %v", closeErr)
		}
	}()

	cfg := Default()
	if strings.EqualFold(filepath.Ext(filePath), ".toml") {
		if _, err := toml.NewDecoder(file).Decode(&cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	} else {
		decoder := yaml.NewDecoder(file)
		decoder.KnownFields(true)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	// относительные пути определений считаем от файла конфига
	base := filepath.Dir(filePath)
	for i := range cfg.Sites {
		if p := cfg.Sites[i].DefinitionFile; p != "" && !filepath.IsAbs(p) {
			cfg.Sites[i].DefinitionFile = filepath.Join(base, p)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation error: %w", err)
	}

	return &cfg, nil
}
