// Package config loads the file-based configuration for the securestore
// tools. Values from the environment override the file, so secrets like the
// pinning JWT never have to live on disk.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v2"
)

type Config struct {
	Blobstore BlobstoreConfig `yaml:"blobstore"`
	Metastore MetastoreConfig `yaml:"metastore"`
	Cache     CacheConfig     `yaml:"cache"`
	LogLevel  string          `yaml:"logLevel"`
}

type BlobstoreConfig struct {
	JWT           string `yaml:"jwt"`
	Endpoint      string `yaml:"endpoint"`
	Gateway       string `yaml:"gateway"`
	PublicGateway string `yaml:"publicGateway"`
}

type MetastoreConfig struct {
	DSN string `yaml:"dsn"`
}

type CacheConfig struct {
	Path          string `yaml:"path"`
	MinimumFreeGB int    `yaml:"minimumFreeGB"`
}

// Load reads the YAML file at path, applies defaults and environment
// overrides. A missing file is not an error; the environment alone can
// carry a full configuration.
func Load(path string) (Config, error) {
	var config Config

	data, err := os.ReadFile(path)
	if err == nil {
		if err := yaml.Unmarshal(data, &config); err != nil {
			return Config{}, fmt.Errorf("error parsing config file %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return Config{}, fmt.Errorf("error reading config file %s: %w", path, err)
	}

	if v := os.Getenv("PINATA_JWT"); v != "" {
		config.Blobstore.JWT = v
	}
	if v := os.Getenv("PINATA_GATEWAY"); v != "" {
		config.Blobstore.Gateway = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		config.Metastore.DSN = v
	}

	if config.Cache.Path == "" {
		config.Cache.Path = defaultCachePath()
	}
	if config.LogLevel == "" {
		config.LogLevel = "info"
	}

	return config, nil
}

func defaultCachePath() string {
	dir, err := os.UserCacheDir()
	if err != nil {
		return ".securestore-cache"
	}
	return dir + "/securestore"
}
