package config

import (
	"errors"
	"fmt"
	"slices"

	"github.com/BurntSushi/toml"
)

// maxSuggestionDistance is the largest edit distance for which an unknown
// key gets a "did you mean" hint.
const maxSuggestionDistance = 3

// knownKeys lists every valid key, sorted so ties resolve deterministically.
var knownKeys = func() []string {
	keys := []string{
		"worker_limit", "pairs_file", "control_dir", "poll_interval", "monitor_backend",
		"executor_path", "copy_concurrency",
		"history_db", "lock_file",
		"log_level", "log_file", "log_max_size_mb", "log_max_backups",
	}
	slices.Sort(keys)

	return keys
}()

// checkUnknownKeys reports every undecoded key in md.
func checkUnknownKeys(md *toml.MetaData) error {
	var errs []error

	for _, key := range md.Undecoded() {
		name := key[0]

		if s := closestKey(name); s != "" {
			errs = append(errs, fmt.Errorf("unknown config key %q (did you mean %q?)", key.String(), s))
			continue
		}

		errs = append(errs, fmt.Errorf("unknown config key %q", key.String()))
	}

	return errors.Join(errs...)
}

func closestKey(unknown string) string {
	best := ""
	bestDist := maxSuggestionDistance + 1

	for _, k := range knownKeys {
		if d := levenshtein(unknown, k); d < bestDist {
			best, bestDist = k, d
		}
	}

	return best
}

// levenshtein computes the edit distance between two strings using two
// rolling rows.
func levenshtein(a, b string) int {
	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)

	for j := range prev {
		prev[j] = j
	}

	for i := range len(a) {
		curr[0] = i + 1

		for j := range len(b) {
			cost := 1
			if a[i] == b[j] {
				cost = 0
			}

			curr[j+1] = min(curr[j]+1, prev[j+1]+1, prev[j]+cost)
		}

		prev, curr = curr, prev
	}

	return prev[len(b)]
}
