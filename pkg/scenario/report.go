package scenario

// Grading statuses.
const (
	StatusCompleted = "COMPLETED"
	StatusFailed    = "FAILED"
	StatusError     = "ERROR"
)

// Report is the grader's verdict on one conversation.
type Report struct {
	Status                   string   `json:"status"`
	IsBookingConfirmed       bool     `json:"isBookingConfirmed"`
	LanguageDetectionSuccess bool     `json:"languageDetectionSuccess"`
	UXAnalysis               string   `json:"uxAnalysis"`
	Enhancements             []string `json:"enhancements"`
}

// Turn is one utterance in the conversation history.
type Turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}
