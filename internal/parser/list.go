// Package parser reads the archive's list and detail HTML.
package parser

import (
	"bytes"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/JakeFAU/disclosure-monitor/internal/crawler"
)

const (
	// NoDataMarker appears in list responses with no announcements.
	NoDataMarker = "查詢無資料"
	// DetailButtonLabel is the value of the button that opens a detail page.
	DetailButtonLabel = "詳細資料"
	// minListCells is the fewest cells a data row carries.
	minListCells = 6
)

var pageNumPattern = regexp.MustCompile(`pagenum\.value\s*=\s*['"](\d+)['"]`)

// ListParser extracts candidates from a list response.
type ListParser struct {
	params ParamExtractor
	logger *zap.Logger
}

// NewListParser builds a ListParser. A nil extractor uses the script
// extractor matching the archive's button handlers.
func NewListParser(params ParamExtractor, logger *zap.Logger) *ListParser {
	if params == nil {
		params = NewScriptParamExtractor()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ListParser{params: params, logger: logger}
}

// ParseList implements crawler.ListParser.
func (p *ListParser) ParseList(body []byte) (crawler.ListPage, error) {
	if bytes.Contains(body, []byte(NoDataMarker)) {
		return crawler.ListPage{NoData: true}, nil
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return crawler.ListPage{}, fmt.Errorf("parse list html: %w", err)
	}

	page := crawler.ListPage{TotalPages: TotalPages(body)}
	doc.Find("tr.odd, tr.even").Each(func(_ int, row *goquery.Selection) {
		cells := row.Find("td")
		if cells.Length() < minListCells {
			return
		}
		button := row.Find(`input[type="button"]`).FilterFunction(func(_ int, s *goquery.Selection) bool {
			return strings.TrimSpace(s.AttrOr("value", "")) == DetailButtonLabel
		}).First()
		if button.Length() == 0 {
			return
		}
		onclick := button.AttrOr("onclick", "")
		params, ok := p.params.Extract(onclick)
		if !ok {
			p.logger.Debug("detail button without recognizable params", zap.String("onclick", onclick))
			return
		}
		page.Candidates = append(page.Candidates, crawler.Candidate{
			CompanyCode: strippedText(cells.Eq(0)),
			CompanyName: strippedText(cells.Eq(1)),
			Params:      params,
		})
	})
	return page, nil
}

// TotalPages returns the largest page number referenced by the pager, or 1.
func TotalPages(body []byte) int {
	total := 1
	for _, m := range pageNumPattern.FindAllSubmatch(body, -1) {
		if n, err := strconv.Atoi(string(m[1])); err == nil && n > total {
			total = n
		}
	}
	return total
}
