package validation

import (
	"encoding/json"
	"fmt"
	"strings"

	apperrors "go-omr-marker/internal/errors"
	"go-omr-marker/pkg/models"

	"github.com/tidwall/gjson"
)

// ParseAnswerKey validates a {"1": "A", ...} payload. Ids must be numeric
// strings and letters A-E; lowercase letters are accepted and normalised.
func ParseAnswerKey(raw []byte) (models.AnswerKey, error) {
	if !gjson.ValidBytes(raw) {
		return nil, apperrors.NewValidationError("Answer key is not valid JSON", nil)
	}
	root := gjson.ParseBytes(raw)
	if !root.IsObject() {
		return nil, apperrors.NewValidationError("Answer key must be an object of question id to letter", nil)
	}
	return parseKeyObject(root)
}

// ParseQRARKey validates a {"qr": {...}, "ar": {...}} payload.
func ParseQRARKey(raw []byte) (qr, ar models.AnswerKey, err error) {
	if !gjson.ValidBytes(raw) {
		return nil, nil, apperrors.NewValidationError("QR/AR answer key is not valid JSON", nil)
	}
	root := gjson.ParseBytes(raw)
	for _, section := range []string{"qr", "ar"} {
		if !root.Get(section).IsObject() {
			return nil, nil, apperrors.NewValidationError(
				fmt.Sprintf("QR/AR answer key must contain a %q object", section), nil).WithDetails(section)
		}
	}
	if qr, err = parseKeyObject(root.Get("qr")); err != nil {
		return nil, nil, err
	}
	if ar, err = parseKeyObject(root.Get("ar")); err != nil {
		return nil, nil, err
	}
	return qr, ar, nil
}

// ParseConceptMap validates a {subject: {concept: [ids]}} payload keeping
// declaration order.
func ParseConceptMap(raw []byte) (models.ConceptMap, error) {
	var cm models.ConceptMap
	if err := json.Unmarshal(raw, &cm); err != nil {
		return nil, apperrors.NewValidationError("Invalid concept map", err)
	}
	if err := cm.Validate(); err != nil {
		return nil, apperrors.NewValidationError("Invalid concept map", err)
	}
	return cm, nil
}

func parseKeyObject(obj gjson.Result) (models.AnswerKey, error) {
	key := make(models.AnswerKey)
	var err error
	obj.ForEach(func(id, value gjson.Result) bool {
		qid := strings.TrimSpace(id.String())
		if e := models.ValidateQuestionID(qid); e != nil {
			err = apperrors.NewValidationError("All question keys must be numeric strings", e).WithDetails(qid)
			return false
		}
		if value.Type != gjson.String {
			err = apperrors.NewValidationError(fmt.Sprintf("Answer for question %s must be a letter", qid), nil).WithDetails(qid)
			return false
		}
		letter, e := models.ParseLetter(value.Str)
		if e != nil {
			err = apperrors.NewValidationError(fmt.Sprintf("Invalid answer for question %s", qid), e).WithDetails(qid)
			return false
		}
		if _, dup := key[qid]; dup {
			err = apperrors.NewValidationError(fmt.Sprintf("Question %s appears twice", qid), nil).WithDetails(qid)
			return false
		}
		key[qid] = letter
		return true
	})
	if err != nil {
		return nil, err
	}
	return key, nil
}
