package repository

import (
	"context"
	"fmt"
	"sync"

	"khmerscribe/internal/model"
)

type memoryStore struct {
	mu          sync.Mutex
	requests    map[string]*model.Request
	events      map[string][]model.EventLog
	transcripts map[string]map[string]*model.TranscriptDocument
	emails      map[string]string
	quotas      map[string]*model.CustomQuota
}

// MemoryStore is an in-process Store used when no database is configured, and in tests
type MemoryStore interface {
	Store

	// SetUserEmail records the email of a user
	SetUserEmail(userID, email string)

	// SetCustomQuota stores quota overrides keyed by email
	SetCustomQuota(quota model.CustomQuota)

	// ListTranscripts returns every transcript of a user
	ListTranscripts(userID string) []*model.TranscriptDocument
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() MemoryStore {
	return &memoryStore{
		requests:    make(map[string]*model.Request),
		events:      make(map[string][]model.EventLog),
		transcripts: make(map[string]map[string]*model.TranscriptDocument),
		emails:      make(map[string]string),
		quotas:      make(map[string]*model.CustomQuota),
	}
}

func requestKey(userID, id string) string {
	return userID + "/" + id
}

func (s *memoryStore) GetRequest(ctx context.Context, userID, id string) (*model.Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := requestKey(userID, id)
	stored, ok := s.requests[key]
	if !ok {
		return nil, fmt.Errorf("transcribe request %s: %w", key, ErrNotFound)
	}

	// Return a copy to avoid race conditions
	req := stored.Clone()
	req.EventLogs = append([]model.EventLog(nil), s.events[key]...)
	return req, nil
}

// checkRevision must be called with s.mu held
func (s *memoryStore) checkRevision(req *model.Request) (*model.Request, error) {
	stored, ok := s.requests[requestKey(req.UserID, req.ID)]
	if !ok {
		if req.Revision != 0 {
			return nil, fmt.Errorf("transcribe request %s no longer exists: %w", req.Key(), ErrConflict)
		}
		return nil, nil
	}
	if stored.Revision != req.Revision {
		return nil, fmt.Errorf("transcribe request %s at revision %d, write based on %d: %w",
			req.Key(), stored.Revision, req.Revision, ErrConflict)
	}
	return stored, nil
}

func (s *memoryStore) SaveRequest(ctx context.Context, req *model.Request) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, err := s.checkRevision(req)
	if err != nil {
		return err
	}
	if stored == nil {
		stored = &model.Request{}
		s.requests[req.Key()] = stored
	}
	stored.Merge(req)
	stored.EventLogs = nil
	stored.Revision++
	req.Revision = stored.Revision
	return nil
}

func (s *memoryStore) UpdateStatus(ctx context.Context, req *model.Request, event model.EventLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, err := s.checkRevision(req)
	if err != nil {
		return err
	}
	if stored == nil {
		stored = req.Clone()
		stored.EventLogs = nil
		stored.Revision = 0
		s.requests[req.Key()] = stored
	}

	applyLifecycleFields(stored, req)
	stored.Revision++
	req.Revision = stored.Revision

	key := req.Key()
	s.events[key] = append(s.events[key], event)
	return nil
}

// applyLifecycleFields copies the fields owned by status updates, including empty values
func applyLifecycleFields(dst, src *model.Request) {
	dst.Status = src.Status
	dst.UpdatedAt = src.UpdatedAt
	dst.Error = src.Error
	dst.TransactionID = src.TransactionID
	dst.RequestType = src.RequestType
	dst.RequestOptions = src.RequestOptions
}

func (s *memoryStore) ListEvents(ctx context.Context, userID, id string) ([]model.EventLog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.EventLog(nil), s.events[requestKey(userID, id)]...), nil
}

func (s *memoryStore) DeleteRequest(ctx context.Context, userID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := requestKey(userID, id)
	if _, ok := s.requests[key]; !ok {
		return fmt.Errorf("transcribe request %s: %w", key, ErrNotFound)
	}
	delete(s.requests, key)
	delete(s.events, key)
	return nil
}

func (s *memoryStore) PutTranscript(ctx context.Context, userID string, doc *model.TranscriptDocument) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	docs, ok := s.transcripts[userID]
	if !ok {
		docs = make(map[string]*model.TranscriptDocument)
		s.transcripts[userID] = docs
	}
	c := *doc
	c.Request = *doc.Request.Clone()
	docs[doc.Name] = &c
	return nil
}

func (s *memoryStore) FindTranscript(ctx context.Context, userID, requestID string) (*model.TranscriptDocument, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, doc := range s.transcripts[userID] {
		if doc.ID == requestID {
			c := *doc
			c.Request = *doc.Request.Clone()
			return &c, nil
		}
	}
	return nil, fmt.Errorf("transcript for request %s/%s: %w", userID, requestID, ErrNotFound)
}

func (s *memoryStore) ListTranscripts(userID string) []*model.TranscriptDocument {
	s.mu.Lock()
	defer s.mu.Unlock()

	docs := make([]*model.TranscriptDocument, 0, len(s.transcripts[userID]))
	for _, doc := range s.transcripts[userID] {
		c := *doc
		c.Request = *doc.Request.Clone()
		docs = append(docs, &c)
	}
	return docs
}

func (s *memoryStore) GetUserEmail(ctx context.Context, userID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	email, ok := s.emails[userID]
	if !ok {
		return "", fmt.Errorf("user %s: %w", userID, ErrNotFound)
	}
	return email, nil
}

func (s *memoryStore) GetCustomQuota(ctx context.Context, email string) (*model.CustomQuota, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	q, ok := s.quotas[email]
	if !ok {
		return nil, nil
	}
	c := *q
	return &c, nil
}

func (s *memoryStore) SetUserEmail(userID, email string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.emails[userID] = email
}

func (s *memoryStore) SetCustomQuota(quota model.CustomQuota) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.quotas[quota.Email] = &quota
}
