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
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/cockroachdb/chained"
	"github.com/cockroachdb/chained/internal/config"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

func newTestSession(t *testing.T, initialSize int) (*session, *bytes.Buffer) {
	var buf bytes.Buffer
	s, err := newSession(&buf, initialSize, "multiplicative", chained.StringHash)
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, s.close()) })
	return s, &buf
}

// execLine executes line and returns what it printed.
func execLine(t *testing.T, s *session, buf *bytes.Buffer, line string) string {
	t.Helper()
	buf.Reset()
	require.False(t, s.exec(line), line)
	return buf.String()
}

func TestSessionBasic(t *testing.T) {
	s, buf := newTestSession(t, 4)

	require.Equal(t, "(empty)\n", execLine(t, s, buf, "scan"))
	require.Equal(t, "OK: inserted a\n", execLine(t, s, buf, "put a 1"))
	require.Equal(t, "OK: updated a\n", execLine(t, s, buf, "PUT a one two"))
	require.Equal(t, "one two\n", execLine(t, s, buf, "get a"))
	require.Equal(t, "(not found)\n", execLine(t, s, buf, "get b"))
	require.Equal(t, "1\n", execLine(t, s, buf, "len"))
	require.Equal(t, "OK: deleted a\n", execLine(t, s, buf, "del a"))
	require.Equal(t, "OK: a did not exist\n", execLine(t, s, buf, "delete a"))
	require.Equal(t, "0\n", execLine(t, s, buf, "count"))

	// The overwritten and the deleted value.
	require.EqualValues(t, 2, s.released)
}

func TestSessionUsage(t *testing.T) {
	s, buf := newTestSession(t, 4)

	testCases := []struct {
		line     string
		expected string
	}{
		{"put a", "Usage: put <key> <value...>\n"},
		{"get", "Usage: get <key>\n"},
		{"del a b", "Usage: del <key>\n"},
		{"bulk", "Usage: bulk <count> [prefix]\n"},
		{"bulk -3", "Error: count must be a positive integer\n"},
		{"scan none", "Error: limit must be a positive integer\n"},
		{"load", "Usage: load <file>\n"},
		{"dump", "Usage: dump <file>\n"},
		{"frobnicate", "Unknown command: frobnicate (type 'help' for commands)\n"},
		{"   ", ""},
	}
	for _, c := range testCases {
		require.Equal(t, c.expected, execLine(t, s, buf, c.line), c.line)
	}
	require.Contains(t, execLine(t, s, buf, "help"), "bulk <count> [prefix]")
}

func TestSessionExit(t *testing.T) {
	s, _ := newTestSession(t, 4)
	for _, line := range []string{"exit", "quit", "q", "EXIT now"} {
		require.True(t, s.exec(line), line)
	}
}

func TestSessionBulkScanInfo(t *testing.T) {
	s, buf := newTestSession(t, 4)

	require.True(t, strings.HasPrefix(execLine(t, s, buf, "bulk 10 k"), "OK: inserted 10 entries in "))
	require.Equal(t, "10\n", execLine(t, s, buf, "len"))
	require.Equal(t, "7\n", execLine(t, s, buf, "get k7"))

	out := execLine(t, s, buf, "scan 3")
	lines := strings.Split(strings.TrimRight(out, "\n"), "\n")
	require.Len(t, lines, 4)
	require.True(t, strings.HasPrefix(lines[0], "  1. k"), lines[0])
	require.Equal(t, "... (showing first 3 of 10, use 'scan <limit>' for more)", lines[3])

	// The 7th insert into 4 buckets doubled the array; 10 entries do not
	// exceed 1.3 per bucket of 8.
	out = execLine(t, s, buf, "info")
	require.Contains(t, out, "Entries:      10\n")
	require.Contains(t, out, "Buckets:      8 (initial 4)\n")
	require.Contains(t, out, "Load factor:  1.25\n")
	require.Contains(t, out, "Hash:         multiplicative\n")

	require.Equal(t, "OK: cleared 10 entries\n", execLine(t, s, buf, "clear"))
	require.Equal(t, "0\n", execLine(t, s, buf, "len"))
	require.Contains(t, execLine(t, s, buf, "info"), "Buckets:      8 (initial 4)\n")
	require.EqualValues(t, 10, s.released)
}

func TestSessionScanOrder(t *testing.T) {
	s, buf := newTestSession(t, 1)
	execLine(t, s, buf, "put a 1")
	execLine(t, s, buf, "put b 2")
	// One bucket, most recent first.
	require.Equal(t, "  1. b = 2\n  2. a = 1\n", execLine(t, s, buf, "scan"))
}

func TestSessionLoadDump(t *testing.T) {
	dir := t.TempDir()
	seed := filepath.Join(dir, "seed.jsonc")
	require.NoError(t, os.WriteFile(seed, []byte(`{
	// categories
	"default": "stdout",
	"my_cat": "file", /* inline */
	"audit": "syslog",
}
`), 0o600))

	s, buf := newTestSession(t, 2)
	require.Equal(t, "OK: loaded 3 entries from "+seed+"\n", execLine(t, s, buf, "load "+seed))
	require.Equal(t, "file\n", execLine(t, s, buf, "get my_cat"))

	dump := filepath.Join(dir, "dump.json")
	require.Equal(t, "OK: wrote 3 entries to "+dump+"\n", execLine(t, s, buf, "dump "+dump))

	pairs, err := readPairs(dump)
	require.NoError(t, err)
	expected := map[string]string{"default": "stdout", "my_cat": "file", "audit": "syslog"}
	if diff := cmp.Diff(expected, pairs); diff != "" {
		t.Fatalf("dump (-want +got):\n%s", diff)
	}

	// Dumping again replaces the file.
	execLine(t, s, buf, "del audit")
	execLine(t, s, buf, "dump "+dump)
	pairs, err = readPairs(dump)
	require.NoError(t, err)
	require.Len(t, pairs, 2)
}

func TestSessionLoadErrors(t *testing.T) {
	dir := t.TempDir()
	s, buf := newTestSession(t, 2)

	require.True(t, strings.HasPrefix(execLine(t, s, buf, "load "+filepath.Join(dir, "missing")), "Error: "))

	bad := filepath.Join(dir, "bad.json")
	require.NoError(t, os.WriteFile(bad, []byte(`{"a": `), 0o600))
	require.Contains(t, execLine(t, s, buf, "load "+bad), "invalid JSONC")

	wrongType := filepath.Join(dir, "numbers.json")
	require.NoError(t, os.WriteFile(wrongType, []byte(`{"a": 1}`), 0o600))
	require.Contains(t, execLine(t, s, buf, "load "+wrongType), "invalid JSON")
	require.Equal(t, "0\n", execLine(t, s, buf, "len"))
}

func TestComplete(t *testing.T) {
	require.Equal(t, []string{"del", "delete", "dump"}, complete("d"))
	require.Equal(t, []string{"scan"}, complete("SC"))
	require.Empty(t, complete("zz"))
	require.Equal(t, []string{"?"}, complete("?"))
}

func TestParseConfig(t *testing.T) {
	envFile := filepath.Join(t.TempDir(), "missing.env")

	cfg, err := parseConfig([]string{"--env-file", envFile, "-s", "32", "--hash", "xxhash", "--history", "/tmp/h"})
	require.NoError(t, err)
	require.EqualValues(t, 32, cfg.InitialSize)
	require.Equal(t, "xxhash", cfg.HashStrategy)
	require.Equal(t, "/tmp/h", cfg.HistoryFile)
	require.Equal(t, "/tmp/h", historyFile(cfg.HistoryFile))

	t.Setenv("CHAINCTL_INITIAL_SIZE", "64")
	cfg, err = parseConfig([]string{"--env-file", envFile})
	require.NoError(t, err)
	require.EqualValues(t, 64, cfg.InitialSize)

	_, err = parseConfig([]string{"--env-file", envFile, "--initial-size", "0"})
	require.ErrorIs(t, err, config.ErrInvalid)

	_, err = parseConfig([]string{"--env-file", envFile, "extra"})
	require.Error(t, err)
}
