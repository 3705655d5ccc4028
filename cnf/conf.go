// Copyright 2026 The ESTCORP authors
//   This file is part of ESTCORP.
//
//  ESTCORP is free software: you can redistribute it and/or modify
//  it under the terms of the GNU General Public License as published by
//  the Free Software Foundation, either version 3 of the License, or
//  (at your option) any later version.
//
//  ESTCORP is distributed in the hope that it will be useful,
//  but WITHOUT ANY WARRANTY; without even the implied warranty of
//  MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
//  GNU General Public License for more details.
//
//  You should have received a copy of the GNU General Public License
//  along with ESTCORP.  If not, see <https://www.gnu.org/licenses/>.

package cnf

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"estcorp/annotate"
	"estcorp/collection"
	"estcorp/engine"
	"estcorp/monitoring"
	"estcorp/rdb"

	"github.com/bytedance/sonic"
	"github.com/czcorpus/cnc-gokit/logging"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

const (
	dfltServerReadTimeoutSecs  = 10
	dfltServerWriteTimeoutSecs = 30
	dfltListenAddress          = "127.0.0.1"
	dfltListenPort             = 8090
	dfltTimeZone               = "Europe/Tallinn"
	dfltLogProgressEach        = 1000
)

// ServerConf configures the read-only HTTP status API
type ServerConf struct {
	ListenAddress          string   `json:"listenAddress"`
	ListenPort             int      `json:"listenPort"`
	ServerReadTimeoutSecs  int      `json:"serverReadTimeoutSecs"`
	ServerWriteTimeoutSecs int      `json:"serverWriteTimeoutSecs"`
	CorsAllowedOrigins     []string `json:"corsAllowedOrigins"`
}

// Conf is a global configuration of the app
type Conf struct {
	LogFile         string           `json:"logFile"`
	LogLevel        logging.LogLevel `json:"logLevel"`
	LogProgressEach int              `json:"logProgressEach"`
	TimeZone        string           `json:"timeZone"`
	Server          ServerConf       `json:"server"`
	DB              *engine.DBConf   `json:"db"`
	Collection      *collection.Conf `json:"collection"`
	Annotation      *annotate.Conf   `json:"annotation"`
	Redis           *rdb.Conf        `json:"redis"`
	Monitoring      *monitoring.Conf `json:"monitoring"`

	srcPath string
}

func (conf *Conf) IsDebugMode() bool {
	return conf.LogLevel == "debug"
}

func (conf *Conf) TimezoneLocation() *time.Location {
	// we can ignore the error here as we always call ValidateAndDefaults()
	// first (which also tries to load the location and report possible
	// error)
	loc, _ := time.LoadLocation(conf.TimeZone)
	return loc
}

// GetSourcePath returns an absolute path of a file
// the config was loaded from.
func (conf *Conf) GetSourcePath() string {
	if filepath.IsAbs(conf.srcPath) {
		return conf.srcPath
	}
	var cwd string
	cwd, err := os.Getwd()
	if err != nil {
		cwd = "[failed to get working dir]"
	}
	return filepath.Join(cwd, conf.srcPath)
}

func isYAML(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}

// Parse decodes configuration data. YAML documents are converted to JSON
// first so the json tags of all the config types apply in both cases.
func Parse(rawData []byte, asYAML bool) (*Conf, error) {
	if asYAML {
		var tmp map[string]any
		if err := yaml.Unmarshal(rawData, &tmp); err != nil {
			return nil, fmt.Errorf("failed to parse YAML config: %w", err)
		}
		var err error
		rawData, err = sonic.Marshal(tmp)
		if err != nil {
			return nil, fmt.Errorf("failed to convert YAML config: %w", err)
		}
	}
	var conf Conf
	if err := sonic.Unmarshal(rawData, &conf); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &conf, nil
}

func LoadConfig(path string) *Conf {
	if path == "" {
		log.Fatal().Msg("Cannot load config - path not specified")
	}
	rawData, err := os.ReadFile(path)
	if err != nil {
		log.Fatal().Err(err).Msg("Cannot load config")
	}
	conf, err := Parse(rawData, isYAML(path))
	if err != nil {
		log.Fatal().Err(err).Msg("Cannot load config")
	}
	conf.srcPath = path
	return conf
}

func ValidateAndDefaults(conf *Conf) error {
	if conf.LogProgressEach == 0 {
		conf.LogProgressEach = dfltLogProgressEach
	}
	if conf.Server.ListenAddress == "" {
		conf.Server.ListenAddress = dfltListenAddress
		log.Warn().
			Str("address", conf.Server.ListenAddress).
			Msg("server.listenAddress not specified, using default")
	}
	if conf.Server.ListenPort == 0 {
		conf.Server.ListenPort = dfltListenPort
		log.Warn().
			Int("port", conf.Server.ListenPort).
			Msg("server.listenPort not specified, using default")
	}
	if conf.Server.ServerReadTimeoutSecs == 0 {
		conf.Server.ServerReadTimeoutSecs = dfltServerReadTimeoutSecs
	}
	if conf.Server.ServerWriteTimeoutSecs == 0 {
		conf.Server.ServerWriteTimeoutSecs = dfltServerWriteTimeoutSecs
		log.Warn().Msgf(
			"server.serverWriteTimeoutSecs not specified, using default: %d",
			dfltServerWriteTimeoutSecs,
		)
	}
	if conf.TimeZone == "" {
		conf.TimeZone = dfltTimeZone
		log.Warn().
			Str("timeZone", dfltTimeZone).
			Msg("time zone not specified, using default")
	}
	if _, err := time.LoadLocation(conf.TimeZone); err != nil {
		return fmt.Errorf("invalid time zone: %w", err)
	}
	if conf.Collection == nil {
		return fmt.Errorf("missing `collection` section")
	}
	if err := conf.Collection.ValidateAndDefaults("collection"); err != nil {
		return err
	}
	if conf.DB != nil {
		if err := conf.DB.ValidateAndDefaults("db"); err != nil {
			return err
		}
	}
	if err := conf.Annotation.ValidateAndDefaults("annotation"); err != nil {
		return err
	}
	if err := conf.Redis.ValidateAndDefaults("redis"); err != nil {
		return err
	}
	return nil
}
