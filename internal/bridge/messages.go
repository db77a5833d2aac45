package bridge

import (
	"encoding/json"
	"fmt"
)

// Inbound frame kinds form a closed set; anything else is logged and dropped.
const (
	kindAnswer            = "answer"
	kindStored            = "stored"
	kindDocumentProcessed = "document_processed"
	kindMeetingReport     = "meeting_report"
)

const reportStatusSuccess = "success"

// statementFrame is the outbound fire-and-forget transcript utterance.
// StartTime is the logical utterance time in Unix milliseconds, not the send
// time, so the backend can order concurrently produced statements by intent.
type statementFrame struct {
	Type       string  `json:"type"`
	Text       string  `json:"text"`
	Speaker    string  `json:"speaker"`
	Confidence float64 `json:"confidence"`
	StartTime  int64   `json:"startTime"`
}

// questionFrame is the outbound request expecting one correlated answer.
type questionFrame struct {
	Type        string  `json:"type"`
	Text        string  `json:"text"`
	Confidence  float64 `json:"confidence"`
	WithSources bool    `json:"withSources,omitempty"`
}

type answerFrame struct {
	Type    string   `json:"type"`
	Text    string   `json:"text"`
	Answer  string   `json:"answer"`
	Sources []string `json:"sources,omitempty"`
}

type storedFrame struct {
	Type    string `json:"type"`
	Speaker string `json:"speaker"`
	Text    string `json:"text"`
}

type documentProcessedFrame struct {
	Type   string `json:"type"`
	File   string `json:"file"`
	Chunks int    `json:"chunks"`
}

type meetingReportFrame struct {
	Type          string `json:"type"`
	Status        string `json:"status"`
	MeetingTitle  string `json:"meetingTitle"`
	SummaryType   string `json:"summaryType"`
	ReportContent string `json:"reportContent"`
}

// unknownFrame stands in for any kind outside the closed set.
type unknownFrame struct {
	Type string
}

// decodeInbound parses one inbound frame into its concrete type. Unknown
// kinds decode to *unknownFrame; only malformed JSON is an error.
func decodeInbound(data []byte) (any, error) {
	var env struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode frame envelope: %w", err)
	}

	switch env.Type {
	case kindAnswer:
		var f answerFrame
		if err := json.Unmarshal(data, &f); err != nil {
			return nil, fmt.Errorf("decode answer frame: %w", err)
		}
		return &f, nil
	case kindStored:
		var f storedFrame
		if err := json.Unmarshal(data, &f); err != nil {
			return nil, fmt.Errorf("decode stored frame: %w", err)
		}
		return &f, nil
	case kindDocumentProcessed:
		var f documentProcessedFrame
		if err := json.Unmarshal(data, &f); err != nil {
			return nil, fmt.Errorf("decode document_processed frame: %w", err)
		}
		return &f, nil
	case kindMeetingReport:
		var f meetingReportFrame
		if err := json.Unmarshal(data, &f); err != nil {
			return nil, fmt.Errorf("decode meeting_report frame: %w", err)
		}
		return &f, nil
	default:
		return &unknownFrame{Type: env.Type}, nil
	}
}

// Answer is the resolved result of a question.
type Answer struct {
	Question string   `json:"question"`
	Text     string   `json:"text"`
	Sources  []string `json:"sources,omitempty"`
}

// Report is the resolved result of a meeting-report job.
type Report struct {
	Status       string `json:"status"`
	MeetingTitle string `json:"meeting_title"`
	SummaryType  string `json:"summary_type"`
	Content      string `json:"content"`
}
