package models

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// LoginRequest carries the shared marking password
type LoginRequest struct {
	Password string `json:"password" binding:"required"`
}

// LoginResponse returns the new session and the token that authenticates it
type LoginResponse struct {
	SessionID string `json:"session_id"`
	Token     string `json:"token"`
}

// StatusResponse acknowledges a configuration update
type StatusResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

// SessionConfigResponse reports what a session has loaded so far
type SessionConfigResponse struct {
	SessionID  string               `json:"session_id"`
	AnswerKeys map[string]AnswerKey `json:"answer_keys"`
	ConceptMap ConceptMap           `json:"concept_map"`
	Sections   []string             `json:"sections"`
}

// BatchEntry is one line of a batch manifest
type BatchEntry struct {
	StudentName  string `json:"student_name"`
	WritingScore string `json:"writing_score"`
	ReadingPDF   string `json:"reading_pdf"`
	QRARPDF      string `json:"qr_ar_pdf"`

	// Files names documents for papers other than reading and qr_ar.
	Files map[string]string `json:"documents,omitempty"`
}

// Documents maps paper keys to archive member names.
func (e BatchEntry) Documents() map[string]string {
	docs := make(map[string]string, len(e.Files)+2)
	for k, v := range e.Files {
		docs[k] = v
	}
	if e.ReadingPDF != "" {
		docs["reading"] = e.ReadingPDF
	}
	if e.QRARPDF != "" {
		docs["qr_ar"] = e.QRARPDF
	}
	return docs
}

// StudentFailure reports a student that could not be marked
type StudentFailure struct {
	StudentName string `json:"student_name"`
	Section     string `json:"section,omitempty"`
	Error       string `json:"error"`
}

// BatchReport summarises a batch run
type BatchReport struct {
	Total     int              `json:"total"`
	Succeeded []string         `json:"succeeded"`
	Failed    []StudentFailure `json:"failed"`
}
