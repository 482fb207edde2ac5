// Package config loads process configuration. Values come from the
// environment (FABRIC_ prefix) layered over an optional fabric.yaml, with
// connection secrets optionally resolved through Vault at boot.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the full configuration of one fabric process. A single binary
// runs every role; roles without configuration (empty webhook URL, empty
// cluster id) are simply not started.
type Config struct {
	Server struct {
		Addr string `mapstructure:"addr"`
	} `mapstructure:"server"`

	Database struct {
		URL string `mapstructure:"url"`
	} `mapstructure:"database"`

	NATS struct {
		URL   string `mapstructure:"url"`
		Topic string `mapstructure:"topic"`
	} `mapstructure:"nats"`

	Auth struct {
		URL          string `mapstructure:"url"`
		ClientID     string `mapstructure:"client_id"`
		ClientSecret string `mapstructure:"client_secret"`
		Audience     string `mapstructure:"audience"`
	} `mapstructure:"auth"`

	Vault struct {
		Address    string `mapstructure:"address"`
		Token      string `mapstructure:"token"`
		SecretPath string `mapstructure:"secret_path"`
	} `mapstructure:"vault"`

	Secret struct {
		// Pepper is the project-key pepper; overridden by the Vault secret
		// when Vault is configured.
		Pepper string `mapstructure:"pepper"`
	} `mapstructure:"secret"`

	Prometheus struct {
		URL string `mapstructure:"url"`
	} `mapstructure:"prometheus"`

	ClusterID string `mapstructure:"cluster_id"`

	Usage struct {
		Delay time.Duration `mapstructure:"delay"`
	} `mapstructure:"usage"`

	Webhook struct {
		URL    string   `mapstructure:"url"`
		Secret string   `mapstructure:"secret"`
		Events []string `mapstructure:"events"`
	} `mapstructure:"webhook"`

	Metadata struct {
		Path string `mapstructure:"path"`
	} `mapstructure:"metadata"`

	// Kubeconfig enables the cluster projector; empty means in-cluster config.
	Kubeconfig string `mapstructure:"kubeconfig"`
}

// Load reads fabric.yaml (if present) and the environment.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigName("fabric")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/fabric")

	v.SetEnvPrefix("FABRIC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("server.addr", ":8080")
	v.SetDefault("nats.url", "nats://localhost:4222")
	v.SetDefault("nats.topic", "FABRIC_EVENTS")
	v.SetDefault("usage.delay", 5*time.Second)
	v.SetDefault("metadata.path", "./metadata")
	v.SetDefault("vault.secret_path", "secret/data/fabric")

	if err := v.ReadInConfig(); err != nil {
		if _, notFound := err.(viper.ConfigFileNotFoundError); !notFound {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return &cfg, nil
}
