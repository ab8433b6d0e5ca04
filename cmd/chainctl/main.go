// Copyright 2024 The Cockroach Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// chainctl is an interactive shell over a chained.Table of strings, useful
// for watching how a table grows and how its chains are ordered.
//
// Usage:
//
//	chainctl [options]
//
// Options override the CHAINCTL_* environment variables and .env file:
//
//	-s, --initial-size   Initial bucket count
//	-H, --hash           String hash: multiplicative or xxhash
//	    --history        History file (default: ~/.chainctl_history)
//	    --log-level      trace, debug, info, warn or error
//	    --env-file       Load variables from this file instead of ./.env
//
// Commands (in REPL):
//
//	put <key> <value...>    Insert or update an entry
//	get <key>               Retrieve an entry by key
//	del <key>               Delete an entry
//	scan [limit]            List entries in table order
//	len                     Count live entries
//	info                    Show table info
//	clear                   Remove all entries
//	bulk <count> [prefix]   Insert N sequential entries
//	load <file>             Insert the pairs of a JSON (with comments) object
//	dump <file>             Atomically write all entries as a JSON object
//	help                    Show this help
//	exit / quit / q         Exit
package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/cockroachdb/chained/internal/config"
	"github.com/peterh/liner"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	flag "github.com/spf13/pflag"
)

func main() {
	// Set up zerolog to use pretty printing
	log.Logger = log.Output(zerolog.ConsoleWriter{
		Out: os.Stderr,
	})

	if err := run(os.Args[1:]); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		log.Fatal().Err(err).Msg("chainctl failed")
	}
}

func run(args []string) error {
	cfg, err := parseConfig(args)
	if err != nil {
		return err
	}
	zerolog.SetGlobalLevel(cfg.Level())
	log.Debug().Str("config", fmt.Sprintf("%+v", cfg)).Msg("")

	s, err := newSession(os.Stdout, cfg.InitialSize, cfg.HashStrategy, cfg.Hash())
	if err != nil {
		return fmt.Errorf("creating table: %w", err)
	}
	defer func() {
		if err := s.close(); err != nil {
			log.Error().Err(err).Msg("could not close the table")
		}
	}()

	return repl(s, historyFile(cfg.HistoryFile))
}

// parseConfig loads the environment configuration and applies any flags
// given on the command line on top of it.
func parseConfig(args []string) (*config.Config, error) {
	flagSet := flag.NewFlagSet("chainctl", flag.ContinueOnError)
	initialSize := flagSet.IntP("initial-size", "s", 0, "initial bucket count")
	hash := flagSet.StringP("hash", "H", "", "string hash: multiplicative or xxhash")
	history := flagSet.String("history", "", "history file")
	logLevel := flagSet.String("log-level", "", "log level")
	envFile := flagSet.String("env-file", "", "load variables from this file instead of ./.env")
	if err := flagSet.Parse(args); err != nil {
		return nil, err
	}
	if flagSet.NArg() > 0 {
		return nil, fmt.Errorf("unexpected arguments: %v", flagSet.Args())
	}

	var envFiles []string
	if *envFile != "" {
		envFiles = append(envFiles, *envFile)
	}
	cfg, err := config.LoadFromEnv(envFiles...)
	if err != nil {
		return nil, fmt.Errorf("could not load the configuration: %w", err)
	}

	if flagSet.Changed("initial-size") {
		cfg.InitialSize = *initialSize
	}
	if flagSet.Changed("hash") {
		cfg.HashStrategy = *hash
	}
	if flagSet.Changed("history") {
		cfg.HistoryFile = *history
	}
	if flagSet.Changed("log-level") {
		cfg.LogLevel = *logLevel
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// historyFile returns the path to the history file.
func historyFile(configured string) string {
	if configured != "" {
		return configured
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".chainctl_history")
}

// repl reads command lines with liner until the user exits.
func repl(s *session, history string) error {
	line := liner.NewLiner()
	defer line.Close()

	line.SetCtrlCAborts(true)
	line.SetCompleter(complete)

	if f, err := os.Open(history); err == nil {
		if _, err := line.ReadHistory(f); err != nil {
			log.Warn().Err(err).Str("file", history).Msg("could not read history")
		}
		f.Close()
	}
	defer func() {
		if history == "" {
			return
		}
		f, err := os.Create(history)
		if err != nil {
			log.Warn().Err(err).Str("file", history).Msg("could not save history")
			return
		}
		defer f.Close()
		if _, err := line.WriteHistory(f); err != nil {
			log.Warn().Err(err).Str("file", history).Msg("could not save history")
		}
	}()

	s.printf("chainctl (initial_size=%d, hash=%s)\n", s.initial, s.hashName)
	s.printf("Type 'help' for available commands.\n\n")

	for {
		input, err := line.Prompt("chainctl> ")
		if err != nil {
			if errors.Is(err, liner.ErrPromptAborted) || errors.Is(err, io.EOF) {
				s.printf("\nBye!\n")
				return nil
			}
			return fmt.Errorf("reading input: %w", err)
		}
		if input == "" {
			continue
		}
		line.AppendHistory(input)

		if s.exec(input) {
			s.printf("Bye!\n")
			return nil
		}
	}
}
