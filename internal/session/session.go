// Package session keeps per-login marking configuration: the answer keys
// and concept map a marker uploads before sending scans.
package session

import (
	"context"
	"errors"
	"sort"
	"time"

	"go-omr-marker/pkg/models"
)

// ErrNotFound is returned for unknown or expired sessions.
var ErrNotFound = errors.New("session not found")

// Session is the configuration loaded by one marker.
type Session struct {
	ID         string                      `json:"id"`
	CreatedAt  time.Time                   `json:"created_at"`
	AnswerKeys map[string]models.AnswerKey `json:"answer_keys"`
	ConceptMap models.ConceptMap           `json:"concept_map"`
}

// New creates an empty session.
func New(id string, now time.Time) *Session {
	return &Session{
		ID:         id,
		CreatedAt:  now.UTC(),
		AnswerKeys: make(map[string]models.AnswerKey),
		ConceptMap: models.ConceptMap{},
	}
}

// SetKey stores the answer key of a section.
func (s *Session) SetKey(section string, key models.AnswerKey) {
	if s.AnswerKeys == nil {
		s.AnswerKeys = make(map[string]models.AnswerKey)
	}
	s.AnswerKeys[section] = key
}

// Sections lists the sections that have a key, sorted.
func (s *Session) Sections() []string {
	out := make([]string, 0, len(s.AnswerKeys))
	for k, v := range s.AnswerKeys {
		if len(v) > 0 {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out
}

// Clone returns a deep copy.
func (s *Session) Clone() *Session {
	out := &Session{
		ID:         s.ID,
		CreatedAt:  s.CreatedAt,
		AnswerKeys: make(map[string]models.AnswerKey, len(s.AnswerKeys)),
		ConceptMap: make(models.ConceptMap, len(s.ConceptMap)),
	}
	for section, key := range s.AnswerKeys {
		k := make(models.AnswerKey, len(key))
		for id, letter := range key {
			k[id] = letter
		}
		out.AnswerKeys[section] = k
	}
	for i, sc := range s.ConceptMap {
		c := models.SubjectConcepts{Subject: sc.Subject, Concepts: make([]models.Concept, len(sc.Concepts))}
		for j, concept := range sc.Concepts {
			c.Concepts[j] = models.Concept{Name: concept.Name, Questions: append([]string(nil), concept.Questions...)}
		}
		out.ConceptMap[i] = c
	}
	return out
}

// Store persists sessions.
type Store interface {
	Get(ctx context.Context, id string) (*Session, error)
	Save(ctx context.Context, s *Session) error
	Delete(ctx context.Context, id string) error
}
