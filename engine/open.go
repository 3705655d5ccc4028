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
	"context"
	"database/sql"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/rs/zerolog/log"

	_ "modernc.org/sqlite"
)

func openPostgres(conf *DBConf) (*sql.DB, error) {
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(conf.User, conf.Password),
		Host:   net.JoinHostPort(conf.Host, strconv.Itoa(conf.Port)),
		Path:   "/" + conf.Name,
	}
	pgConf, err := pgx.ParseConfig(u.String())
	if err != nil {
		return nil, fmt.Errorf("failed to prepare PostgreSQL connection: %w", err)
	}
	if conf.Schema != "" {
		pgConf.RuntimeParams["search_path"] = conf.Schema
	}
	opts := make([]stdlib.OptionOpenDB, 0, 1)
	if conf.Role != "" {
		role := conf.Role
		opts = append(opts, stdlib.OptionAfterConnect(func(ctx context.Context, conn *pgx.Conn) error {
			_, err := conn.Exec(ctx, "SET ROLE "+pgx.Identifier{role}.Sanitize())
			return err
		}))
	}
	return stdlib.OpenDB(*pgConf, opts...), nil
}

func openMySQL(conf *DBConf) (*sql.DB, error) {
	mconf := mysql.NewConfig()
	mconf.Net = "tcp"
	mconf.Addr = net.JoinHostPort(conf.Host, strconv.Itoa(conf.Port))
	mconf.User = conf.User
	mconf.Passwd = conf.Password
	mconf.DBName = conf.Name
	mconf.ParseTime = true
	mconf.Loc = time.Local
	mconf.Params = map[string]string{"autocommit": "true"}
	return sql.Open("mysql", mconf.FormatDSN())
}

func openSQLite(conf *DBConf) (*sql.DB, error) {
	db, err := sql.Open("sqlite", conf.Name)
	if err != nil {
		return nil, err
	}
	// a single writer is all SQLite can handle anyway
	db.SetMaxOpenConns(1)
	if _, err := db.Exec("PRAGMA busy_timeout = 10000"); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// Open connects to the configured database. For PostgreSQL, the configured
// schema is created if missing (and allowed) and set as the search path.
func Open(ctx context.Context, conf *DBConf) (*sql.DB, error) {
	var db *sql.DB
	var err error
	switch conf.Driver {
	case DriverPostgres:
		db, err = openPostgres(conf)
	case DriverMySQL:
		db, err = openMySQL(conf)
	case DriverSQLite:
		db, err = openSQLite(conf)
	default:
		return nil, fmt.Errorf("unsupported database driver %s", conf.Driver)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if conf.PoolSize > 0 && conf.Driver != DriverSQLite {
		db.SetMaxOpenConns(conf.PoolSize)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if conf.Driver == DriverPostgres && conf.CreateSchemaIfMissing && conf.Schema != "" {
		dialect := NewDialect(conf)
		if _, err := db.ExecContext(
			ctx, "CREATE SCHEMA IF NOT EXISTS "+dialect.Quote(conf.Schema)); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to create schema %s: %w", conf.Schema, err)
		}
		log.Info().Str("schema", conf.Schema).Msg("database schema ready")
	}
	log.Info().
		Str("driver", conf.Driver).
		Str("host", conf.Host).
		Str("database", conf.Name).
		Msg("connected to database")
	return db, nil
}
