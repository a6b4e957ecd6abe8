package parser

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/disclosure-monitor/internal/crawler"
)

// UnrecognizedSubject is stored when a detail table has none of the known
// subject or content labels.
const UnrecognizedSubject = "（特殊格式解析）"

// ErrTableMissing means the detail page had no bordered data table.
var ErrTableMissing = fmt.Errorf("detail table missing: %w", crawler.ErrUnparseable)

// Fields maps each header label in a detail table to its value. Labels keep
// their first occurrence order.
type Fields struct {
	labels []string
	values map[string]string
}

// Get returns the value for label.
func (f Fields) Get(label string) (string, bool) {
	v, ok := f.values[label]
	return v, ok
}

// Labels returns the labels in table order.
func (f Fields) Labels() []string {
	return append([]string(nil), f.labels...)
}

func (f *Fields) add(label, value string) {
	if f.values == nil {
		f.values = make(map[string]string)
	}
	if _, dup := f.values[label]; dup {
		return
	}
	f.labels = append(f.labels, label)
	f.values[label] = value
}

// Resolver picks subject and content out of a detail table's fields.
type Resolver struct {
	SubjectLabels []string
	ContentLabels []string
}

// DefaultResolver returns the label lists the archive uses.
func DefaultResolver() Resolver {
	return Resolver{
		SubjectLabels: []string{"主旨", "公告主題", "主題"},
		ContentLabels: []string{"說明", "當日重大訊息之詳細內容", "詳細內容", "事實發生日", "發生緣由"},
	}
}

// Resolve returns the first non-empty subject and the content labels' values
// joined by newlines. ok is false when neither was found.
func (r Resolver) Resolve(f Fields) (crawler.Detail, bool) {
	var d crawler.Detail
	for _, label := range r.SubjectLabels {
		if v, found := f.Get(label); found && v != "" {
			d.Subject = v
			break
		}
	}
	var parts []string
	for _, label := range r.ContentLabels {
		if v, found := f.Get(label); found && v != "" {
			parts = append(parts, v)
		}
	}
	d.Content = strings.Join(parts, "\n")
	return d, d.Subject != "" || d.Content != ""
}

// DetailParser extracts subject and content from a detail response.
type DetailParser struct {
	resolver Resolver
}

// NewDetailParser builds a DetailParser using resolver.
func NewDetailParser(resolver Resolver) *DetailParser {
	return &DetailParser{resolver: resolver}
}

// ParseDetail implements crawler.DetailParser. A page without a data table
// fails with ErrTableMissing. A table without recognized labels yields its
// whole text as content under UnrecognizedSubject.
func (p *DetailParser) ParseDetail(body []byte) (crawler.Detail, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return crawler.Detail{}, fmt.Errorf("parse detail html: %w", err)
	}
	table := doc.Find("table.hasBorder").First()
	if table.Length() == 0 {
		return crawler.Detail{}, ErrTableMissing
	}
	if d, ok := p.resolver.Resolve(ExtractFields(table)); ok {
		return d, nil
	}
	return crawler.Detail{
		Subject: UnrecognizedSubject,
		Content: strings.Join(textFragments(table), "\n"),
	}, nil
}

// ExtractFields pairs header cells with value cells row by row.
func ExtractFields(table *goquery.Selection) Fields {
	var f Fields
	table.Find("tr").Each(func(_ int, row *goquery.Selection) {
		heads := row.Find("td.tblHead, th.tblHead, td.tt, th.tt")
		values := row.Find("td.odd, td.even")
		n := min(heads.Length(), values.Length())
		for i := range n {
			label := strippedText(heads.Eq(i))
			if label == "" {
				continue
			}
			f.add(label, cellValue(values.Eq(i)))
		}
	})
	return f
}

func cellValue(cell *goquery.Selection) string {
	if pre := cell.Find("pre").First(); pre.Length() > 0 {
		return strings.TrimSpace(strings.ReplaceAll(pre.Text(), nbsp, " "))
	}
	return strippedText(cell)
}
