package ingest

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/JakeFAU/disclosure-monitor/internal/crawler"
)

type naturalKey struct {
	code, date, time, subject string
}

// memStore mirrors the uniqueness rules of the disclosures and alerts tables.
type memStore struct {
	mu      sync.Mutex
	nextID  int64
	byKey   map[naturalKey]int64
	rows    map[int64]crawler.Disclosure
	alerts  map[int64]map[string]struct{}
	saveErr error
}

func newMemStore() *memStore {
	return &memStore{
		byKey:  make(map[naturalKey]int64),
		rows:   make(map[int64]crawler.Disclosure),
		alerts: make(map[int64]map[string]struct{}),
	}
}

func (s *memStore) Save(_ context.Context, req crawler.WriteRequest) (crawler.WriteResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saveErr != nil {
		return crawler.WriteResult{}, s.saveErr
	}
	d := req.Disclosure
	key := naturalKey{d.CompanyCode, d.PublishDate, d.PublishTime, d.Subject}
	id, exists := s.byKey[key]
	res := crawler.WriteResult{}
	switch {
	case !exists:
		s.nextID++
		id = s.nextID
		d.ID = id
		s.byKey[key] = id
		s.rows[id] = d
		res.ID, res.Inserted = id, true
	case req.Conflict == crawler.ConflictUpdateName:
		row := s.rows[id]
		row.CompanyName = d.CompanyName
		s.rows[id] = row
		res.ID = id
	case req.AlertMode == crawler.AlertsOnUpsert:
		res.ID = id
	}
	if res.ID != 0 && (res.Inserted || req.AlertMode == crawler.AlertsOnUpsert) {
		res.AlertsCreated = s.addAlerts(res.ID, req.Keywords)
	}
	return res, nil
}

func (s *memStore) ListDisclosureTexts(_ context.Context, afterID int64, limit int) ([]crawler.DisclosureText, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]int64, 0, len(s.rows))
	for id := range s.rows {
		if id > afterID {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	if len(ids) > limit {
		ids = ids[:limit]
	}
	out := make([]crawler.DisclosureText, 0, len(ids))
	for _, id := range ids {
		row := s.rows[id]
		out = append(out, crawler.DisclosureText{ID: id, Subject: row.Subject, Content: row.Content})
	}
	return out, nil
}

func (s *memStore) InsertAlerts(_ context.Context, disclosureID int64, keywords []string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rows[disclosureID]; !ok {
		return nil, errors.New("foreign key violation")
	}
	return s.addAlerts(disclosureID, keywords), nil
}

func (s *memStore) addAlerts(id int64, keywords []string) []string {
	set, ok := s.alerts[id]
	if !ok {
		set = make(map[string]struct{})
		s.alerts[id] = set
	}
	var created []string
	for _, kw := range keywords {
		if _, dup := set[kw]; dup {
			continue
		}
		set[kw] = struct{}{}
		created = append(created, kw)
	}
	return created
}

func (s *memStore) alertCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, set := range s.alerts {
		n += len(set)
	}
	return n
}

type staticKeywords []string

func (k staticKeywords) Load(context.Context) ([]string, error) { return k, nil }

type failingKeywords struct{ err error }

func (k failingKeywords) Load(context.Context) ([]string, error) { return nil, k.err }
