package report

import (
	"encoding/xml"
	"strings"
	"time"

	"github.com/robotomize/browser-xunit/internal/xmltag"
)

// TimestampLayout is the layout of the testsuite timestamp attribute.
const TimestampLayout = "2006-01-02T15:04:05"

// Document is a serialized testsuite.
type Document struct {
	Name    string
	Content []byte
	Stats   Stats

	// Skipped is the value written to the skipped attribute.
	Skipped int
	// SkipDeficit is how far tests-passes-failures went below zero.
	SkipDeficit int
	// ImplicitClose is set when the timing window was closed by serialization.
	ImplicitClose bool
}

// Render builds a testsuite document from stats and outcomes.
// The timestamp attribute is the serialization time now.
func Render(name string, stats Stats, outcomes []Outcome, now time.Time) Document {
	doc := Document{Name: name, Stats: stats}

	skipped := stats.Skipped()
	if skipped < 0 {
		doc.SkipDeficit = -skipped
		skipped = 0
	}
	doc.Skipped = skipped

	var duration time.Duration
	if stats.Closed() {
		duration = stats.Duration
	}

	cases := make([]string, 0, len(outcomes))
	for _, o := range outcomes {
		cases = append(cases, renderCase(o))
	}

	suite := xmltag.Build(
		"testsuite", []xmltag.Attr{
			{Name: "name", Value: name},
			{Name: "tests", Value: stats.Tests},
			{Name: "failures", Value: stats.Failures},
			{Name: "errors", Value: stats.Failures},
			{Name: "skipped", Value: skipped},
			{Name: "timestamp", Value: now.Format(TimestampLayout)},
			{Name: "time", Value: seconds(duration)},
		}, false, cases...,
	)

	doc.Content = []byte(xml.Header + suite + "\n")

	return doc
}

func renderCase(o Outcome) string {
	attrs := []xmltag.Attr{
		{Name: "classname", Value: o.ClassName},
		{Name: "name", Value: o.Title},
		{Name: "time", Value: seconds(o.Duration)},
	}

	if o.State != StateFailed {
		return xmltag.Build("testcase", attrs, true)
	}

	return xmltag.Build("testcase", attrs, false, renderFailure(o.Error))
}

func renderFailure(f *Failure) string {
	if f == nil || f.Message == "" && f.Stack == "" {
		return xmltag.Build("failure", nil, true)
	}

	body := make([]string, 0, 2)
	for _, s := range []string{f.Message, f.Stack} {
		if s != "" {
			body = append(body, s)
		}
	}

	return xmltag.Build(
		"failure", []xmltag.Attr{{Name: "message", Value: f.Message}}, false,
		xmltag.CDATA(strings.Join(body, "\n")),
	)
}

// seconds formats d with millisecond precision.
func seconds(d time.Duration) float64 {
	if d <= 0 {
		return 0
	}

	return float64(d.Milliseconds()) / 1000
}
