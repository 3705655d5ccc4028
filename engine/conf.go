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

package engine

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/czcorpus/cnc-gokit/fs"
	"github.com/jackc/pgpassfile"
	"github.com/rs/zerolog/log"
)

const (
	DriverPostgres = "postgres"
	DriverMySQL    = "mysql"
	DriverSQLite   = "sqlite"

	dfltPostgresPort = 5432
	dfltMySQLPort    = 3306
	dfltPoolSize     = 4
	dfltPgSchema     = "public"
)

// DBConf configures a connection to a database holding collections.
//
// Credentials may be provided directly or via a credentials file
// using the format `host:port:database:user:password` (i.e. the
// PostgreSQL pgpass format). When the file is set and `host` is empty,
// the first entry of the file is used as a whole.
type DBConf struct {
	Driver                string `json:"driver"`
	Host                  string `json:"host"`
	Port                  int    `json:"port"`
	Name                  string `json:"name"`
	User                  string `json:"user"`
	Password              string `json:"password"`
	PgPassFile            string `json:"pgpassFile"`
	Schema                string `json:"schema"`
	Role                  string `json:"role"`
	PoolSize              int    `json:"poolSize"`
	CreateSchemaIfMissing bool   `json:"createSchemaIfMissing"`
}

func (conf *DBConf) applyPassfile() error {
	pf, err := pgpassfile.ReadPassfile(conf.PgPassFile)
	if err != nil {
		return fmt.Errorf("failed to read credentials file %s: %w", conf.PgPassFile, err)
	}
	if conf.Host == "" {
		if len(pf.Entries) == 0 {
			return fmt.Errorf("credentials file %s contains no entries", conf.PgPassFile)
		}
		entry := pf.Entries[0]
		conf.Host = entry.Hostname
		if entry.Port != "" && entry.Port != "*" {
			port, err := strconv.Atoi(entry.Port)
			if err != nil {
				return fmt.Errorf("invalid port in credentials file %s: %w", conf.PgPassFile, err)
			}
			conf.Port = port
		}
		conf.Name = entry.Database
		conf.User = entry.Username
		conf.Password = entry.Password
		return nil
	}
	if conf.Password == "" {
		conf.Password = pf.FindPassword(conf.Host, strconv.Itoa(conf.Port), conf.Name, conf.User)
	}
	return nil
}

func (conf *DBConf) ValidateAndDefaults(confContext string) error {
	if conf == nil {
		return fmt.Errorf("missing configuration section `%s`", confContext)
	}
	if conf.Driver == "" {
		conf.Driver = DriverPostgres
		log.Warn().
			Str("driver", conf.Driver).
			Msgf("%s.driver not specified, using default", confContext)
	}
	switch conf.Driver {
	case DriverPostgres, DriverMySQL:
		if conf.PgPassFile != "" {
			isFile, err := fs.IsFile(conf.PgPassFile)
			if err != nil {
				return fmt.Errorf("failed to validate %s.pgpassFile: %w", confContext, err)
			}
			if !isFile {
				return fmt.Errorf("%s.pgpassFile %s not found", confContext, conf.PgPassFile)
			}
			if err := conf.applyPassfile(); err != nil {
				return fmt.Errorf("failed to validate %s: %w", confContext, err)
			}
		}
		if conf.Host == "" {
			return fmt.Errorf("missing %s.host", confContext)
		}
		if conf.Name == "" {
			return fmt.Errorf("missing %s.name", confContext)
		}
		if conf.Port == 0 {
			if conf.Driver == DriverPostgres {
				conf.Port = dfltPostgresPort

			} else {
				conf.Port = dfltMySQLPort
			}
			log.Warn().
				Int("port", conf.Port).
				Msgf("%s.port not specified, using default", confContext)
		}
		if conf.Driver == DriverPostgres && conf.Schema == "" {
			conf.Schema = dfltPgSchema
			log.Warn().
				Str("schema", conf.Schema).
				Msgf("%s.schema not specified, using default", confContext)
		}
		if conf.Driver == DriverMySQL && conf.Schema != "" {
			return fmt.Errorf("%s.schema is not supported by the mysql driver", confContext)
		}
	case DriverSQLite:
		if conf.Name == "" {
			return fmt.Errorf("missing %s.name (path to the database file)", confContext)
		}
		if conf.Name != ":memory:" {
			dir := filepath.Dir(conf.Name)
			if _, err := os.Stat(dir); err != nil {
				return fmt.Errorf("invalid %s.name: %w", confContext, err)
			}
		}
		if conf.Schema != "" {
			return fmt.Errorf("%s.schema is not supported by the sqlite driver", confContext)
		}
	default:
		return fmt.Errorf("unsupported %s.driver `%s`", confContext, conf.Driver)
	}
	if conf.PoolSize == 0 {
		conf.PoolSize = dfltPoolSize
	}
	return nil
}
