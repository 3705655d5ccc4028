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

package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"estcorp/cnf"
	"estcorp/shard"

	"github.com/czcorpus/cnc-gokit/logging"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

const (
	redisConnectionTestTimeout = 20 * time.Second
)

var (
	version   string
	buildDate string
	gitCommit string
)

type VersionInfo struct {
	Version   string `json:"version"`
	BuildDate string `json:"buildDate"`
	GitCommit string `json:"gitCommit"`
}

type service interface {
	Start(ctx context.Context)
	Stop(ctx context.Context) error
}

func getEnv(name string) string {
	for _, p := range os.Environ() {
		items := strings.SplitN(p, "=", 2)
		if len(items) == 2 && items[0] == name {
			return items[1]
		}
	}
	return ""
}

// getRunID returns an identifier of the current process. It can be set
// via ESTCORP_RUN_ID so that external schedulers can correlate logs.
func getRunID() (runID string) {
	runID = getEnv("ESTCORP_RUN_ID")
	if runID == "" {
		runID = uuid.New().String()
	}
	return
}

func cleanVersionInfo(v string) string {
	return strings.TrimLeft(strings.Trim(v, "'"), "v")
}

// cmdArgs holds the parsed positional arguments shared by all
// the commands: a config path, an optional shard block and
// command specific rest.
type cmdArgs struct {
	conf  *cnf.Conf
	block *shard.Block
	rest  []string
	runID string
}

// setup loads and validates the configuration, configures logging
// and extracts an optional `D,R` shard block from the arguments.
func setup(args []string) *cmdArgs {
	block, rest, err := shard.FindBlockArg(args)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid arguments")
	}
	if len(rest) == 0 {
		log.Fatal().Msg("missing config path")
	}
	conf := cnf.LoadConfig(rest[0])
	logging.SetupLogging(logging.LoggingConf{Path: conf.LogFile, Level: conf.LogLevel})
	runID := getRunID()
	log.Logger = log.Logger.With().Str("runId", runID).Logger()
	if err := cnf.ValidateAndDefaults(conf); err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}
	return &cmdArgs{
		conf:  conf,
		block: block,
		rest:  rest[1:],
		runID: runID,
	}
}

func main() {
	ver := VersionInfo{
		Version:   cleanVersionInfo(version),
		BuildDate: cleanVersionInfo(buildDate),
		GitCommit: cleanVersionInfo(gitCommit),
	}

	rootCmd := &cobra.Command{
		Use:   "estcorp",
		Short: "ESTCORP - batch processing of Estonian text collections",
		Long: "Converts vert/prevert/TEI sources into JSON documents, runs external taggers,\n" +
			"imports documents into a database and builds indexes, samples and diffs.\n\n" +
			"Most commands accept an optional `D,R` argument limiting the work to documents\n" +
			"with id % D == R so that multiple processes can share the work.",
		SilenceUsage: true,
	}

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf(
				"estcorp %s\nbuild date: %s\nlast commit: %s\n",
				ver.Version, ver.BuildDate, ver.GitCommit,
			)
		},
	})

	rootCmd.AddCommand(&cobra.Command{
		Use:   "test <config>",
		Short: "Validate the configuration",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			setup(args)
			log.Info().Msg("config OK")
		},
	})

	rootCmd.AddCommand(
		convertCmd(),
		annotateCmd(),
		createCmd(),
		importCmd(),
		checkCmd(),
		indexCmd(),
		pickCmd(),
		diffCmd(),
		shardsCmd(),
		serveCmd(ver),
	)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
