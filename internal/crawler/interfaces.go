package crawler

import (
	"context"
	"time"
)

// ArchiveClient issues the two archive requests the engine needs.
type ArchiveClient interface {
	FetchList(ctx context.Context, q ListQuery) ([]byte, error)
	FetchDetail(ctx context.Context, p DetailParams) ([]byte, error)
}

// ListParser turns a list response into candidates.
type ListParser interface {
	ParseList(body []byte) (ListPage, error)
}

// DetailParser extracts subject and content from a detail response.
type DetailParser interface {
	ParseDetail(body []byte) (Detail, error)
}

// Ingestor writes one disclosure and derives its alerts.
type Ingestor interface {
	Ingest(ctx context.Context, d Disclosure) (WriteResult, error)
}

// DisclosureStore persists a disclosure and its alerts in one transaction.
type DisclosureStore interface {
	Save(ctx context.Context, req WriteRequest) (WriteResult, error)
}

// RescanStore walks stored disclosures and adds missing alerts.
type RescanStore interface {
	ListDisclosureTexts(ctx context.Context, afterID int64, limit int) ([]DisclosureText, error)
	InsertAlerts(ctx context.Context, disclosureID int64, keywords []string) ([]string, error)
}

// BlobStore writes raw artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data []byte) (string, error)
}

// Publisher pushes alert notifications to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// Pauser waits for a delay or until ctx is done.
type Pauser interface {
	Pause(ctx context.Context, delay time.Duration)
}
