// Package testutil provides shared test assertion helpers.
package testutil

import (
	"testing"

	"github.com/sergi/go-diff/diffmatchpatch"
)

// AssertEqual fails t with a human-readable diff of expected vs actual
// when the two strings differ, instead of dumping both strings raw.
func AssertEqual(t *testing.T, msg, expected, actual string) {
	t.Helper()
	if expected == actual {
		return
	}
	dmp := diffmatchpatch.New()
	diffs := dmp.DiffMain(expected, actual, true)
	diffs = dmp.DiffCleanupSemantic(diffs)
	t.Fatalf("%s:\n%s", msg, dmp.DiffPrettyText(diffs))
}
