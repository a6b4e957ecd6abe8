package parser

import (
	"regexp"

	"github.com/JakeFAU/disclosure-monitor/internal/crawler"
)

// ParamExtractor recovers detail parameters from a button's onclick script.
type ParamExtractor interface {
	Extract(onclick string) (crawler.DetailParams, bool)
}

// ScriptParamExtractor matches the form assignments the archive emits, in
// the order seq_no, spoke_time, spoke_date, co_id, TYPEK.
type ScriptParamExtractor struct {
	pattern *regexp.Regexp
}

var onclickPattern = regexp.MustCompile(
	`(?s)seq_no\.value\s*=\s*["'](\d+)["'];.*?` +
		`spoke_time\.value\s*=\s*["'](\d+)["'];.*?` +
		`spoke_date\.value\s*=\s*["'](\d+)["'];.*?` +
		`co_id\.value\s*=\s*["'](\w+)["'];.*?` +
		`TYPEK\.value\s*=\s*["'](\w+)["']`,
)

// NewScriptParamExtractor returns the default extractor.
func NewScriptParamExtractor() *ScriptParamExtractor {
	return &ScriptParamExtractor{pattern: onclickPattern}
}

// Extract implements ParamExtractor.
func (e *ScriptParamExtractor) Extract(onclick string) (crawler.DetailParams, bool) {
	m := e.pattern.FindStringSubmatch(onclick)
	if m == nil {
		return crawler.DetailParams{}, false
	}
	return crawler.DetailParams{
		SeqNo:     m[1],
		SpokeTime: m[2],
		SpokeDate: m[3],
		CompanyID: m[4],
		TypeK:     m[5],
	}, true
}
