package models

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"
)

var ErrInvalidConceptMap = errors.New("invalid concept map")

// Concept groups question ids under a named skill.
type Concept struct {
	Name      string
	Questions []string
}

// SubjectConcepts holds the concepts of one subject in declaration order.
type SubjectConcepts struct {
	Subject  string
	Concepts []Concept
}

// ConceptMap maps subject -> concept -> question ids, keeping the order
// in which subjects and concepts were declared.
type ConceptMap []SubjectConcepts

// Subject returns the concepts declared for name.
func (cm ConceptMap) Subject(name string) (SubjectConcepts, bool) {
	for _, sc := range cm {
		if sc.Subject == name {
			return sc, true
		}
	}
	return SubjectConcepts{}, false
}

// Validate checks every referenced question id.
func (cm ConceptMap) Validate() error {
	seen := make(map[string]struct{}, len(cm))
	for _, sc := range cm {
		if strings.TrimSpace(sc.Subject) == "" {
			return fmt.Errorf("%w: empty subject name", ErrInvalidConceptMap)
		}
		if _, ok := seen[sc.Subject]; ok {
			return fmt.Errorf("%w: duplicate subject %q", ErrInvalidConceptMap, sc.Subject)
		}
		seen[sc.Subject] = struct{}{}
		for _, c := range sc.Concepts {
			for _, id := range c.Questions {
				if err := ValidateQuestionID(id); err != nil {
					return fmt.Errorf("%w: %s/%s: %v", ErrInvalidConceptMap, sc.Subject, c.Name, err)
				}
			}
		}
	}
	return nil
}

// UnmarshalJSON walks the object in document order.
func (cm *ConceptMap) UnmarshalJSON(data []byte) error {
	if !gjson.ValidBytes(data) {
		return fmt.Errorf("%w: malformed JSON", ErrInvalidConceptMap)
	}
	root := gjson.ParseBytes(data)
	if root.Type == gjson.Null {
		*cm = nil
		return nil
	}
	if !root.IsObject() {
		return fmt.Errorf("%w: expected an object of subjects", ErrInvalidConceptMap)
	}

	var (
		out ConceptMap
		err error
	)
	root.ForEach(func(subject, concepts gjson.Result) bool {
		if !concepts.IsObject() {
			err = fmt.Errorf("%w: subject %q must map concepts to question lists", ErrInvalidConceptMap, subject.String())
			return false
		}
		sc := SubjectConcepts{Subject: subject.String()}
		concepts.ForEach(func(name, ids gjson.Result) bool {
			var c Concept
			c, err = parseConcept(subject.String(), name.String(), ids)
			if err != nil {
				return false
			}
			sc.Concepts = append(sc.Concepts, c)
			return true
		})
		if err != nil {
			return false
		}
		out = append(out, sc)
		return true
	})
	if err != nil {
		return err
	}
	*cm = out
	return nil
}

func parseConcept(subject, name string, ids gjson.Result) (Concept, error) {
	c := Concept{Name: name, Questions: []string{}}
	if !ids.IsArray() {
		return c, fmt.Errorf("%w: %s/%s must be a list of question ids", ErrInvalidConceptMap, subject, name)
	}
	for _, id := range ids.Array() {
		switch id.Type {
		case gjson.Number:
			if id.Num != float64(id.Int()) {
				return c, fmt.Errorf("%w: %s/%s: non-integer id %s", ErrInvalidConceptMap, subject, name, id.Raw)
			}
			c.Questions = append(c.Questions, strconv.FormatInt(id.Int(), 10))
		case gjson.String:
			c.Questions = append(c.Questions, strings.TrimSpace(id.Str))
		default:
			return c, fmt.Errorf("%w: %s/%s: unexpected id %s", ErrInvalidConceptMap, subject, name, id.Raw)
		}
	}
	return c, nil
}

// MarshalJSON writes subjects and concepts in their stored order.
// Numeric ids are written as numbers.
func (cm ConceptMap) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, sc := range cm {
		if i > 0 {
			buf.WriteByte(',')
		}
		if err := writeKey(&buf, sc.Subject); err != nil {
			return nil, err
		}
		buf.WriteByte('{')
		for j, c := range sc.Concepts {
			if j > 0 {
				buf.WriteByte(',')
			}
			if err := writeKey(&buf, c.Name); err != nil {
				return nil, err
			}
			buf.WriteByte('[')
			for k, id := range c.Questions {
				if k > 0 {
					buf.WriteByte(',')
				}
				if _, err := strconv.Atoi(id); err == nil {
					buf.WriteString(id)
					continue
				}
				raw, err := json.Marshal(id)
				if err != nil {
					return nil, err
				}
				buf.Write(raw)
			}
			buf.WriteByte(']')
		}
		buf.WriteByte('}')
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func writeKey(buf *bytes.Buffer, key string) error {
	raw, err := json.Marshal(key)
	if err != nil {
		return err
	}
	buf.Write(raw)
	buf.WriteByte(':')
	return nil
}

// SubjectStrengths partitions one subject's concepts.
type SubjectStrengths struct {
	Subject          string
	DoneWell         []string
	NeedsImprovement []string
}

// StrengthsWeaknesses lists subjects in concept map order.
type StrengthsWeaknesses []SubjectStrengths

// Subject returns the partition for name.
func (sw StrengthsWeaknesses) Subject(name string) (SubjectStrengths, bool) {
	for _, s := range sw {
		if s.Subject == name {
			return s, true
		}
	}
	return SubjectStrengths{}, false
}

type strengthsJSON struct {
	DoneWell         []string `json:"done_well"`
	NeedsImprovement []string `json:"needs_improvement"`
}

// MarshalJSON encodes {subject: {done_well, needs_improvement}} in order.
func (sw StrengthsWeaknesses) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, s := range sw {
		if i > 0 {
			buf.WriteByte(',')
		}
		if err := writeKey(&buf, s.Subject); err != nil {
			return nil, err
		}
		body := strengthsJSON{DoneWell: s.DoneWell, NeedsImprovement: s.NeedsImprovement}
		if body.DoneWell == nil {
			body.DoneWell = []string{}
		}
		if body.NeedsImprovement == nil {
			body.NeedsImprovement = []string{}
		}
		raw, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		buf.Write(raw)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func (sw *StrengthsWeaknesses) UnmarshalJSON(data []byte) error {
	if !gjson.ValidBytes(data) {
		return errors.New("strengths_weaknesses: malformed JSON")
	}
	var out StrengthsWeaknesses
	gjson.ParseBytes(data).ForEach(func(subject, body gjson.Result) bool {
		out = append(out, SubjectStrengths{
			Subject:          subject.String(),
			DoneWell:         stringList(body.Get("done_well")),
			NeedsImprovement: stringList(body.Get("needs_improvement")),
		})
		return true
	})
	*sw = out
	return nil
}

func stringList(r gjson.Result) []string {
	items := r.Array()
	out := make([]string, 0, len(items))
	for _, item := range items {
		out = append(out, item.String())
	}
	return out
}
