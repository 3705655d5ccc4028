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

package rdb

import (
	"fmt"

	"github.com/rs/zerolog/log"
)

const (
	dfltPort         = 6379
	dfltKeyPrefix    = "estcorp"
	dfltLeaseTTLSecs = 60
)

// Conf configures the Redis based registry of running shard workers.
type Conf struct {
	Host         string `json:"host"`
	Port         int    `json:"port"`
	DB           int    `json:"db"`
	Password     string `json:"password"`
	KeyPrefix    string `json:"keyPrefix"`
	LeaseTTLSecs int    `json:"leaseTtlSecs"`
}

func (conf *Conf) ValidateAndDefaults(confContext string) error {
	if conf == nil {
		return nil
	}
	if conf.Host == "" {
		return fmt.Errorf("%s.host must be set", confContext)
	}
	if conf.Port == 0 {
		conf.Port = dfltPort
		log.Warn().
			Int("value", conf.Port).
			Msgf("%s.port not set, using default", confContext)
	}
	if conf.KeyPrefix == "" {
		conf.KeyPrefix = dfltKeyPrefix
	}
	if conf.LeaseTTLSecs == 0 {
		conf.LeaseTTLSecs = dfltLeaseTTLSecs
		log.Warn().
			Int("value", conf.LeaseTTLSecs).
			Msgf("%s.leaseTtlSecs not set, using default", confContext)

	} else if conf.LeaseTTLSecs < 3 {
		return fmt.Errorf("%s.leaseTtlSecs must be at least 3", confContext)
	}
	return nil
}
