package crawler

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// ErrBlocked signals that the archive served its anti-scraping page. It is
// never retried and stops the run without advancing the cursor.
var ErrBlocked = errors.New("archive blocked the request")

// ErrUnparseable marks a detail page whose structure could not be read.
var ErrUnparseable = errors.New("unparseable detail page")

// HTTPStatusError reports a non-success HTTP status from the archive.
type HTTPStatusError struct {
	StatusCode int
	URL        string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("%s returned %d %s", e.URL, e.StatusCode, http.StatusText(e.StatusCode))
}

// Market is one listing board in the archive.
type Market struct {
	Kind string `json:"kind" mapstructure:"kind"`
	Name string `json:"name" mapstructure:"name"`
}

// ListQuery addresses one page of a monthly announcement list.
type ListQuery struct {
	Year   int
	Month  int
	Market Market
	Page   int
}

func (q ListQuery) String() string {
	return fmt.Sprintf("%d/%02d %s page %d", q.Year, q.Month, q.Market.Kind, q.Page)
}

// DetailParams are the five values a list row carries to open its detail page.
type DetailParams struct {
	SeqNo     string `json:"seq_no"`
	SpokeTime string `json:"spoke_time"`
	SpokeDate string `json:"spoke_date"`
	CompanyID string `json:"co_id"`
	TypeK     string `json:"typek"`
}

// String renders the params in the form stored with each disclosure.
func (p DetailParams) String() string {
	return fmt.Sprintf("seq_no=%s&spoke_time=%s&spoke_date=%s&co_id=%s&TYPEK=%s",
		p.SeqNo, p.SpokeTime, p.SpokeDate, p.CompanyID, p.TypeK)
}

// Candidate is a list row that links to a detail page.
type Candidate struct {
	CompanyCode string
	CompanyName string
	Params      DetailParams
}

// ListPage is the parsed form of one list response.
type ListPage struct {
	NoData     bool
	TotalPages int
	Candidates []Candidate
}

// Detail is the subject and body extracted from a detail page.
type Detail struct {
	Subject string
	Content string
}

// Disclosure is one normalized announcement ready for persistence.
// PublishDate is YYYY-MM-DD and PublishTime is HH:MM:SS.
type Disclosure struct {
	ID          int64     `json:"id"`
	Market      string    `json:"market"`
	CompanyCode string    `json:"company_code"`
	CompanyName string    `json:"company_name"`
	PublishDate string    `json:"publish_date"`
	PublishTime string    `json:"publish_time"`
	Subject     string    `json:"subject"`
	Content     string    `json:"content"`
	SourceDate  time.Time `json:"source_date"`
	RawParams   string    `json:"raw_params,omitempty"`
}

// ConflictPolicy decides what happens when a disclosure's natural key exists.
type ConflictPolicy string

// Conflict policies.
const (
	ConflictIgnore     ConflictPolicy = "ignore"
	ConflictUpdateName ConflictPolicy = "update_name"
)

// AlertMode decides when keyword alerts are derived for a written record.
type AlertMode string

// Alert modes.
const (
	AlertsOnInsert AlertMode = "on_insert"
	AlertsOnUpsert AlertMode = "on_upsert"
)

// WriteRequest is a disclosure plus the keywords it matched.
type WriteRequest struct {
	Disclosure Disclosure
	Conflict   ConflictPolicy
	AlertMode  AlertMode
	Keywords   []string
}

// WriteResult describes what a single write did.
type WriteResult struct {
	ID            int64
	Inserted      bool
	AlertsCreated []string
}

// DisclosureText is the searchable part of a stored disclosure.
type DisclosureText struct {
	ID      int64
	Subject string
	Content string
}

// AlertNotification is published for each newly created alert.
type AlertNotification struct {
	DisclosureID int64     `json:"disclosure_id"`
	Keyword      string    `json:"keyword"`
	Market       string    `json:"market,omitempty"`
	CompanyCode  string    `json:"company_code,omitempty"`
	CompanyName  string    `json:"company_name,omitempty"`
	PublishDate  string    `json:"publish_date,omitempty"`
	Subject      string    `json:"subject,omitempty"`
	Source       string    `json:"source"`
	CreatedAt    time.Time `json:"created_at"`
}

// Attributes returns the Pub/Sub attributes used for subscription filters.
func (n AlertNotification) Attributes() map[string]string {
	return map[string]string{
		"source":       n.Source,
		"keyword":      n.Keyword,
		"company_code": n.CompanyCode,
	}
}
