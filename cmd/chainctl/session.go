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

package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/chained"
	"github.com/natefinch/atomic"
	"github.com/rs/zerolog/log"
	"github.com/tailscale/hujson"
)

// commands lists every command name, aliases included, for completion.
var commands = []string{
	"put", "set", "get", "del", "delete",
	"scan", "ls", "list", "len", "count",
	"info", "clear", "bulk", "load", "dump",
	"help", "?", "exit", "quit", "q",
}

// session executes commands against a table and writes their output to out.
type session struct {
	table    *chained.Table[string, string]
	out      io.Writer
	hashName string
	initial  int
	// released counts the values handed back by the table's destructor.
	released int
}

func newSession(
	out io.Writer, initialSize int, hashName string, hash chained.HashFunc[string],
) (*session, error) {
	s := &session{
		out:      out,
		hashName: hashName,
		initial:  initialSize,
	}
	table, err := chained.New[string, string](initialSize, hash, chained.StringEqual,
		chained.WithValueDestructor[string, string](func(string) { s.released++ }),
		chained.WithLogger[string, string](log.Logger.With().Str("table", "chainctl").Logger()))
	if err != nil {
		return nil, err
	}
	s.table = table
	return s, nil
}

func (s *session) close() error {
	return s.table.Close()
}

func (s *session) printf(format string, args ...any) {
	fmt.Fprintf(s.out, format, args...)
}

// exec runs a single command line. It returns true when the line asks to
// leave the session.
func (s *session) exec(line string) bool {
	parts := strings.Fields(line)
	if len(parts) == 0 {
		return false
	}
	cmd := strings.ToLower(parts[0])
	args := parts[1:]

	switch cmd {
	case "exit", "quit", "q":
		return true

	case "help", "?":
		s.printHelp()

	case "put", "set":
		s.cmdPut(args)

	case "get":
		s.cmdGet(args)

	case "del", "delete":
		s.cmdDelete(args)

	case "scan", "ls", "list":
		s.cmdScan(args)

	case "len", "count":
		s.printf("%d\n", s.table.Len())

	case "info":
		s.cmdInfo()

	case "clear":
		n := s.table.Len()
		s.table.Clear()
		s.printf("OK: cleared %d entries\n", n)

	case "bulk":
		s.cmdBulk(args)

	case "load":
		s.cmdLoad(args)

	case "dump":
		s.cmdDump(args)

	default:
		s.printf("Unknown command: %s (type 'help' for commands)\n", cmd)
	}
	return false
}

// complete provides tab completion for commands.
func complete(line string) []string {
	var completions []string
	lower := strings.ToLower(line)
	for _, cmd := range commands {
		if strings.HasPrefix(cmd, lower) {
			completions = append(completions, cmd)
		}
	}
	return completions
}

func (s *session) printHelp() {
	s.printf("Commands:\n")
	s.printf("  put <key> <value...>    Insert or update an entry\n")
	s.printf("  get <key>               Retrieve an entry by key\n")
	s.printf("  del <key>               Delete an entry\n")
	s.printf("  scan [limit]            List entries in table order\n")
	s.printf("  len                     Count live entries\n")
	s.printf("  info                    Show table info\n")
	s.printf("  clear                   Remove all entries\n")
	s.printf("  bulk <count> [prefix]   Insert N sequential entries\n")
	s.printf("  load <file>             Insert the pairs of a JSON (with comments) object\n")
	s.printf("  dump <file>             Atomically write all entries as a JSON object\n")
	s.printf("  help                    Show this help\n")
	s.printf("  exit / quit / q         Exit\n")
}

func (s *session) cmdPut(args []string) {
	if len(args) < 2 {
		s.printf("Usage: put <key> <value...>\n")
		return
	}
	key, value := args[0], strings.Join(args[1:], " ")
	existed := s.table.Has(key)
	if err := s.table.Put(key, value); err != nil {
		s.printf("Error: %v\n", err)
		return
	}
	if existed {
		s.printf("OK: updated %s\n", key)
	} else {
		s.printf("OK: inserted %s\n", key)
	}
}

func (s *session) cmdGet(args []string) {
	if len(args) != 1 {
		s.printf("Usage: get <key>\n")
		return
	}
	value, ok := s.table.Get(args[0])
	if !ok {
		s.printf("(not found)\n")
		return
	}
	s.printf("%s\n", value)
}

func (s *session) cmdDelete(args []string) {
	if len(args) != 1 {
		s.printf("Usage: del <key>\n")
		return
	}
	if s.table.Delete(args[0]) {
		s.printf("OK: deleted %s\n", args[0])
	} else {
		s.printf("OK: %s did not exist\n", args[0])
	}
}

func (s *session) cmdScan(args []string) {
	limit := 20
	if len(args) >= 1 {
		var err error
		limit, err = strconv.Atoi(args[0])
		if err != nil || limit < 1 {
			s.printf("Error: limit must be a positive integer\n")
			return
		}
	}

	if s.table.Len() == 0 {
		s.printf("(empty)\n")
		return
	}

	var n int
	for e, ok := s.table.First(); ok && n < limit; e, ok = s.table.Next(e) {
		n++
		s.printf("%3d. %s = %s\n", n, e.Key(), e.Value())
	}
	if n < s.table.Len() {
		s.printf("... (showing first %d of %d, use 'scan <limit>' for more)\n", n, s.table.Len())
	}
}

func (s *session) cmdInfo() {
	buckets := s.table.BucketCount()
	s.printf("Entries:      %d\n", s.table.Len())
	s.printf("Buckets:      %d (initial %d)\n", buckets, s.initial)
	s.printf("Load factor:  %.2f\n", float64(s.table.Len())/float64(buckets))
	s.printf("Hash:         %s\n", s.hashName)
	s.printf("Released:     %d\n", s.released)
}

func (s *session) cmdBulk(args []string) {
	if len(args) < 1 {
		s.printf("Usage: bulk <count> [prefix]\n")
		return
	}
	count, err := strconv.Atoi(args[0])
	if err != nil || count < 1 {
		s.printf("Error: count must be a positive integer\n")
		return
	}
	prefix := "key"
	if len(args) >= 2 {
		prefix = args[1]
	}

	start := time.Now()
	for i := 0; i < count; i++ {
		if err := s.table.Put(prefix+strconv.Itoa(i), strconv.Itoa(i)); err != nil {
			s.printf("Error at entry %d: %v\n", i+1, err)
			return
		}
	}
	elapsed := time.Since(start)
	log.Debug().Int("count", count).Dur("elapsed", elapsed).Int("buckets", s.table.BucketCount()).Msg("bulk insert")
	s.printf("OK: inserted %d entries in %v\n", count, elapsed.Round(time.Microsecond))
}

func (s *session) cmdLoad(args []string) {
	if len(args) != 1 {
		s.printf("Usage: load <file>\n")
		return
	}
	pairs, err := readPairs(args[0])
	if err != nil {
		s.printf("Error: %v\n", err)
		return
	}

	keys := make([]string, 0, len(pairs))
	for k := range pairs {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	for _, k := range keys {
		if err := s.table.Put(k, pairs[k]); err != nil {
			s.printf("Error loading %s: %v\n", k, err)
			return
		}
	}
	s.printf("OK: loaded %d entries from %s\n", len(keys), args[0])
}

func (s *session) cmdDump(args []string) {
	if len(args) != 1 {
		s.printf("Usage: dump <file>\n")
		return
	}
	pairs := make(map[string]string, s.table.Len())
	s.table.All(func(k, v string) bool {
		pairs[k] = v
		return true
	})
	if err := writePairs(args[0], pairs); err != nil {
		s.printf("Error: %v\n", err)
		return
	}
	s.printf("OK: wrote %d entries to %s\n", len(pairs), args[0])
}

// readPairs parses a JSON object of string values. Comments and trailing
// commas are allowed.
func readPairs(path string) (map[string]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	standardized, err := hujson.Standardize(data)
	if err != nil {
		return nil, fmt.Errorf("invalid JSONC %s: %w", path, err)
	}
	var pairs map[string]string
	if err := json.Unmarshal(standardized, &pairs); err != nil {
		return nil, fmt.Errorf("invalid JSON %s: %w", path, err)
	}
	return pairs, nil
}

// writePairs replaces path with pairs encoded as an indented JSON object.
// Readers observe either the previous file or the complete new one.
func writePairs(path string, pairs map[string]string) error {
	buf, err := json.MarshalIndent(pairs, "", "  ")
	if err != nil {
		return err
	}
	buf = append(buf, '\n')
	return atomic.WriteFile(path, bytes.NewReader(buf))
}
