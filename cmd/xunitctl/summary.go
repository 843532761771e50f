package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"

	"github.com/robotomize/browser-xunit/internal/reporter"
	"github.com/robotomize/browser-xunit/internal/slice"
)

func browserName(s reporter.Summary) string {
	return strings.TrimSpace(s.Browser.Name + " " + s.Browser.Version)
}

func failed(summaries []reporter.Summary) bool {
	_, ok := slice.Find(
		summaries, func(s reporter.Summary) bool {
			return s.Failures > 0 || s.PersistErrors > 0
		},
	)

	return ok
}

func printSummary(w io.Writer, summaries []reporter.Summary) {
	if len(summaries) == 0 {
		_, _ = fmt.Fprintln(w, color.YellowString("No browser finished, no reports written"))
		return
	}

	for _, s := range summaries {
		_, _ = fmt.Fprintf(
			w, "%s: %d files, %d tests %s %s %s\n",
			browserName(s),
			s.Files,
			s.Tests,
			color.GreenString("[passed: %d", s.Passes),
			color.RedString("failed: %d", s.Failures),
			color.YellowString("skipped: %d]", s.Skipped),
		)
	}

	total := slice.Sum(summaries, func(s reporter.Summary) int { return s.Tests })
	failures := slice.Sum(summaries, func(s reporter.Summary) int { return s.Failures })
	persistErrors := slice.Sum(summaries, func(s reporter.Summary) int { return s.PersistErrors })

	if persistErrors > 0 {
		broken := slice.Filter(summaries, func(s reporter.Summary) bool { return s.PersistErrors > 0 })
		_, _ = fmt.Fprintln(
			w, color.RedString(
				"✗ %d report(s) not written for %s", persistErrors,
				strings.Join(slice.Map(broken, browserName), ", "),
			),
		)
	}

	if failures > 0 {
		_, _ = fmt.Fprintln(w, color.RedString("✗ Failed: %d of %d", failures, total))
		return
	}

	_, _ = fmt.Fprintln(w, color.GreenString("✓ Passed: %d", total))
}
