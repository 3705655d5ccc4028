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
	"path/filepath"
	"strconv"
	"time"

	"estcorp/annotate"
	"estcorp/collection"
	"estcorp/convert"
	"estcorp/dbimport"
	"estcorp/diff"
	"estcorp/index"
	"estcorp/rdb"
	"estcorp/sample"

	"github.com/bytedance/sonic"
	"github.com/czcorpus/cnc-gokit/datetime"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func printJSON(v any) {
	data, err := sonic.ConfigStd.MarshalIndent(v, "", "  ")
	if err != nil {
		log.Fatal().Err(err).Msg("failed to encode output")
	}
	fmt.Println(string(data))
}

func parseCount(v string) int {
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		log.Fatal().Str("value", v).Msg("expected a positive number")
	}
	return n
}

func convertCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "convert <config> [D,R]",
		Short: "Convert source files into JSON documents",
		Args:  cobra.RangeArgs(1, 2),
		Run: func(cmd *cobra.Command, args []string) {
			cargs := setup(args)
			runJob(cargs, "convert", func(ctx context.Context, j *job) (int, error) {
				conv := convert.NewConverter(cargs.conf.Collection, cargs.block, cargs.conf.LogProgressEach)
				err := conv.Run(ctx)
				return conv.Stats().Docs, err
			})
		},
	}
}

func annotateCmd() *cobra.Command {
	var taggerName string
	var force, changedOnly bool
	cmd := &cobra.Command{
		Use:   "annotate <config> [D,R]",
		Short: "Run an external tagger on JSON documents",
		Args:  cobra.RangeArgs(1, 2),
		Run: func(cmd *cobra.Command, args []string) {
			cargs := setup(args)
			tconf, err := cargs.conf.Annotation.Tagger(taggerName)
			if err != nil {
				log.Fatal().Err(err).Msg("unknown tagger")
			}
			runJob(cargs, "annotate:"+tconf.Name, func(ctx context.Context, j *job) (int, error) {
				var hashes annotate.HashSource
				if changedOnly {
					backend, err := j.openBackend(ctx)
					if err != nil {
						return 0, err
					}
					hashes = backend
				}
				runner := annotate.NewRunner(
					cargs.conf.Collection,
					annotate.NewTagger(tconf),
					hashes,
					annotate.Options{
						Block:        cargs.block,
						Force:        force,
						ChangedOnly:  changedOnly,
						ProgressEach: cargs.conf.LogProgressEach,
					},
				)
				err := runner.Run(ctx)
				return runner.Stats().Docs, err
			})
		},
	}
	cmd.Flags().StringVar(&taggerName, "tagger", "", "name of a configured tagger")
	cmd.Flags().BoolVar(&force, "force", false, "re-annotate documents with an existing output")
	cmd.Flags().BoolVar(
		&changedOnly, "changed-only", false, "re-annotate documents whose sentences changed since import")
	cmd.MarkFlagRequired("tagger")
	return cmd
}

func createCmd() *cobra.Command {
	var overwrite bool
	var inputSuffix string
	cmd := &cobra.Command{
		Use:   "create <config>",
		Short: "Create database tables of a collection",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			cargs := setup(args)
			runJob(cargs, "create", func(ctx context.Context, j *job) (int, error) {
				backend, err := j.openBackend(ctx)
				if err != nil {
					return 0, err
				}
				return 0, dbimport.CreateTables(ctx, backend, cargs.conf.Collection, inputSuffix, overwrite)
			})
		},
	}
	cmd.Flags().BoolVarP(&overwrite, "overwrite", "r", false, "erase and recreate existing tables")
	cmd.Flags().StringVar(&inputSuffix, "input-suffix", "", "suffix of annotated document files")
	return cmd
}

func importCmd() *cobra.Command {
	var opts dbimport.Options
	cmd := &cobra.Command{
		Use:   "import <config> [D,R]",
		Short: "Import JSON documents into previously created tables",
		Args:  cobra.RangeArgs(1, 2),
		Run: func(cmd *cobra.Command, args []string) {
			cargs := setup(args)
			runJob(cargs, "import", func(ctx context.Context, j *job) (int, error) {
				opts.Block = cargs.block
				opts.ProgressEach = cargs.conf.LogProgressEach
				opts.OnProgress = func(docs, lastTextID int) {
					j.progress(ctx, docs, lastTextID)
				}
				backend, err := j.openBackend(ctx)
				if err != nil {
					return 0, err
				}
				imp := dbimport.NewImporter(cargs.conf.Collection, backend, opts)
				err = imp.Run(ctx)
				return imp.Stats().Docs, err
			})
		},
	}
	cmd.Flags().StringVar(&opts.InputSuffix, "input-suffix", "", "suffix of annotated document files")
	cmd.Flags().BoolVar(&opts.Resume, "resume", false, "skip documents already stored")
	cmd.Flags().IntVar(&opts.First, "first", 0, "import only the first N documents")
	cmd.Flags().IntVar(&opts.Last, "last", 0, "import only the last N documents")
	cmd.MarkFlagsMutuallyExclusive("first", "last")
	return cmd
}

func checkCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check <config>",
		Short: "Check consistency of an imported collection",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			cargs := setup(args)
			runJob(cargs, "check", func(ctx context.Context, j *job) (int, error) {
				backend, err := j.openBackend(ctx)
				if err != nil {
					return 0, err
				}
				report, err := dbimport.Check(ctx, backend, j.collection)
				if err != nil {
					return 0, err
				}
				printJSON(report)
				if !report.IsConsistent() {
					return report.Stats.Texts, fmt.Errorf("collection %s is not consistent", j.collection)
				}
				return report.Stats.Texts, nil
			})
		},
	}
}

func indexCmd() *cobra.Command {
	var workers int
	var out string
	cmd := &cobra.Command{
		Use:   "index",
		Short: "Build indexes of source vert files",
	}
	indexOpts := func(cargs *cmdArgs) index.Options {
		return index.Options{
			Prevert: cargs.conf.Collection.Format == collection.FormatPrevert,
			Workers: workers,
		}
	}
	docIDs := &cobra.Command{
		Use:   "docids <config>",
		Short: "Write a CSV index of document IDs",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			cargs := setup(args)
			outPath := out
			if outPath == "" {
				outPath = filepath.Join(cargs.conf.Collection.CollDir(), index.DocIDIndexFile)
			}
			runJob(cargs, "index:docids", func(ctx context.Context, j *job) (int, error) {
				return index.BuildDocIDIndex(ctx, cargs.conf.Collection.SourceFiles, outPath, indexOpts(cargs))
			})
		},
	}
	counts := &cobra.Command{
		Use:   "counts <config>",
		Short: "Write document/sentence/word counts and metadata indexes",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			cargs := setup(args)
			outDir := out
			if outDir == "" {
				outDir = cargs.conf.Collection.CollDir()
			}
			runJob(cargs, "index:counts", func(ctx context.Context, j *job) (int, error) {
				if err := os.MkdirAll(outDir, 0755); err != nil {
					return 0, err
				}
				res, err := index.BuildCountsIndex(ctx, cargs.conf.Collection.SourceFiles, outDir, indexOpts(cargs))
				var docs int
				for _, fc := range res {
					docs += fc.Docs
				}
				return docs, err
			})
		},
	}
	cmd.PersistentFlags().IntVar(&workers, "workers", 0, "number of files processed in parallel")
	cmd.PersistentFlags().StringVar(&out, "out", "", "output file (docids) or directory (counts)")
	cmd.AddCommand(docIDs, counts)
	return cmd
}

func pickCmd() *cobra.Command {
	var seed int64
	var in, out string
	var numericIDs, even bool
	cmd := &cobra.Command{
		Use:   "pick",
		Short: "Randomly pick documents or diff blocks",
	}
	outPath := func(cargs *cmdArgs, n int) string {
		if out != "" {
			return out
		}
		return filepath.Join(cargs.conf.Collection.CollDir(), sample.PicksFileName(n))
	}
	docs := &cobra.Command{
		Use:   "docs <config> <n>",
		Short: "Pick documents from the document ID index",
		Args:  cobra.ExactArgs(2),
		Run: func(cmd *cobra.Command, args []string) {
			cargs := setup(args)
			n := parseCount(cargs.rest[0])
			runJob(cargs, "pick:docs", func(ctx context.Context, j *job) (int, error) {
				indexPath := in
				if indexPath == "" {
					indexPath = filepath.Join(cargs.conf.Collection.CollDir(), index.DocIDIndexFile)
				}
				idx, err := sample.LoadDocIndex(indexPath)
				if err != nil {
					return 0, err
				}
				picks := sample.PickFromDocIndex(idx, n, seed)
				if len(picks) < n {
					log.Warn().Int("requested", n).Int("picked", len(picks)).Msg("not enough documents")
				}
				return len(picks), sample.WritePicks(outPath(cargs, n), picks)
			})
		},
	}
	meta := &cobra.Command{
		Use:   "meta <config> <n>",
		Short: "Pick documents from metadata indexes",
		Args:  cobra.ExactArgs(2),
		Run: func(cmd *cobra.Command, args []string) {
			cargs := setup(args)
			n := parseCount(cargs.rest[0])
			runJob(cargs, "pick:meta", func(ctx context.Context, j *job) (int, error) {
				dir := in
				if dir == "" {
					dir = cargs.conf.Collection.CollDir()
				}
				paths := make([]string, 0, len(cargs.conf.Collection.SourceFiles))
				for _, src := range cargs.conf.Collection.SourceFiles {
					paths = append(paths, index.MetaIndexPath(dir, src))
				}
				var filter func(sample.MetaEntry) bool
				if numericIDs {
					filter = sample.NumericIDs
				}
				picks, words, err := sample.PickFromMetaIndexes(paths, n, seed, filter)
				if err != nil {
					return 0, err
				}
				log.Info().Int("docs", len(picks)).Int("words", words).Msg("documents picked")
				return len(picks), sample.WritePicks(outPath(cargs, n), picks)
			})
		},
	}
	diffs := &cobra.Command{
		Use:   "diffs <config> <diff-file> <n>",
		Short: "Pick blocks of a diff report",
		Args:  cobra.ExactArgs(3),
		Run: func(cmd *cobra.Command, args []string) {
			cargs := setup(args)
			n := parseCount(cargs.rest[1])
			runJob(cargs, "pick:diffs", func(ctx context.Context, j *job) (int, error) {
				path, err := sample.PickDiffs(cargs.rest[0], n, seed, even)
				if err != nil {
					return 0, err
				}
				log.Info().Str("file", path).Int("blocks", n).Msg("diff blocks picked")
				return n, nil
			})
		},
	}
	cmd.PersistentFlags().Int64Var(&seed, "seed", sample.DfltSeed, "random generator seed")
	cmd.PersistentFlags().StringVar(&in, "in", "", "index file (docs) or directory with metadata indexes (meta)")
	cmd.PersistentFlags().StringVar(&out, "out", "", "output CSV file")
	meta.Flags().BoolVar(&numericIDs, "numeric-ids", false, "pick only documents with numeric IDs")
	diffs.Flags().BoolVarP(&even, "even", "e", false, "spread picks evenly among subcorpora")
	cmd.AddCommand(docs, meta, diffs)
	return cmd
}

func diffCmd() *cobra.Command {
	var rc diff.RunConf
	var out string
	cmd := &cobra.Command{
		Use:   "diff <config>",
		Short: "Compare two annotation versions of all documents",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			cargs := setup(args)
			if rc.LayerB == "" {
				rc.LayerB = rc.LayerA
			}
			if out == "" {
				out = filepath.Join(
					cargs.conf.Collection.CollDir(), fmt.Sprintf("diff_%s_%s.txt", rc.LayerA, rc.LayerB))
			}
			runJob(cargs, "diff", func(ctx context.Context, j *job) (int, error) {
				summary, docs, err := diff.RunDir(ctx, cargs.conf.Collection, rc, out)
				if err != nil {
					return docs, err
				}
				log.Info().
					Str("report", out).
					Int("equal", summary.Equal).
					Int("conflicts", summary.Conflicts).
					Int("modified", summary.Modified).
					Int("missing", summary.Missing).
					Int("extra", summary.Extra).
					Msg("diff finished")
				return docs, nil
			})
		},
	}
	cmd.Flags().StringVar(&rc.SuffixA, "suffix-a", "", "file suffix of the first version")
	cmd.Flags().StringVar(&rc.LayerA, "layer-a", "", "layer of the first version")
	cmd.Flags().StringVar(&rc.SuffixB, "suffix-b", "", "file suffix of the second version")
	cmd.Flags().StringVar(&rc.LayerB, "layer-b", "", "layer of the second version (defaults to layer-a)")
	cmd.Flags().StringVar(&rc.Attr, "attr", "", "compared attribute (spans only by default)")
	cmd.Flags().StringVar(&rc.NameA, "name-a", "", "label of the first version in the report")
	cmd.Flags().StringVar(&rc.NameB, "name-b", "", "label of the second version in the report")
	cmd.Flags().StringVar(&out, "out", "", "report file")
	cmd.MarkFlagRequired("layer-a")
	return cmd
}

func shardsCmd() *cobra.Command {
	var ago string
	cmd := &cobra.Command{
		Use:   "shards <config>",
		Short: "List running shard workers of the collection",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			cargs := setup(args)
			if cargs.conf.Redis == nil {
				log.Fatal().Msg("the `redis` configuration section is required")
			}
			registry := rdb.NewRegistry(cargs.conf.Redis)
			defer registry.Close()
			ctx := cmd.Context()
			if err := registry.TestConnection(ctx, redisConnectionTestTimeout); err != nil {
				log.Fatal().Err(err).Msg("failed to connect to Redis")
			}
			items, err := registry.ListShards(ctx, cargs.conf.Collection.Name)
			if err != nil {
				log.Fatal().Err(err).Msg("failed to list shards")
			}
			if ago != "" {
				dur, err := datetime.ParseDuration(ago)
				if err != nil {
					log.Fatal().Err(err).Msg("invalid --ago value")
				}
				items = rdb.FilterRecent(items, dur, time.Now().In(cargs.conf.TimezoneLocation()))
			}
			printJSON(items)
		},
	}
	cmd.Flags().StringVar(&ago, "ago", "", "show only shards with a heartbeat not older than this (e.g. 10m, 1h)")
	return cmd
}
