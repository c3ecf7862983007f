// Copyright ©2025 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// config is the divesync configuration. Values are read from the YAML
// configuration file and then overridden by any flags that were set.
type config struct {
	Family   string        `yaml:"family"`
	Address  string        `yaml:"address"`
	Output   string        `yaml:"output"`
	Timeout  time.Duration `yaml:"timeout"`
	Retries  *int          `yaml:"retries"`
	LogLevel string        `yaml:"log_level"`
	Samples  bool          `yaml:"samples"`
	Scan     time.Duration `yaml:"scan"`
}

func defaultConfig() config {
	return config{
		Output:   ".",
		LogLevel: "info",
		Scan:     10 * time.Second,
	}
}

// loadConfig reads the YAML file at path over the defaults. A missing
// file is not an error when required is false.
func loadConfig(path string, required bool) (config, error) {
	cfg := defaultConfig()
	if path == "" {
		return cfg, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		if !required && errors.Is(err, fs.ErrNotExist) {
			return cfg, nil
		}
		return cfg, err
	}
	err = yaml.Unmarshal(b, &cfg)
	if err != nil {
		return cfg, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}
