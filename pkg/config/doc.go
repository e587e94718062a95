// Package config loads typed configuration for the service.
//
// Environment variables are parsed into tagged structs with
// github.com/caarlos0/env/v11. A `.env` file in the working directory is read
// once through github.com/joho/godotenv before the first parse, which keeps
// local development and container deployments on the same code path.
//
// Each configuration type is parsed at most once per process and cached by its
// type name:
//
//	type Config struct {
//		Addr string `env:"HTTP_ADDR" envDefault:":8080"`
//	}
//
//	var cfg Config
//	if err := config.Load(&cfg); err != nil {
//		return err
//	}
//
// Structured files (for example the free-tier limit table) are read with
// LoadYAML, which decodes a YAML document with gopkg.in/yaml.v3 and then lets
// environment variables override individual fields.
package config
