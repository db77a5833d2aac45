package bridge

import "testing"

func TestDecodeInboundKnownKinds(t *testing.T) {
	tests := []struct {
		name string
		data string
		want string
	}{
		{"answer", `{"type":"answer","text":"q","answer":"a","sources":["s1"]}`, kindAnswer},
		{"stored", `{"type":"stored","speaker":"ana","text":"hi"}`, kindStored},
		{"document_processed", `{"type":"document_processed","file":"f.pdf","chunks":3}`, kindDocumentProcessed},
		{"meeting_report", `{"type":"meeting_report","status":"success","reportContent":"r"}`, kindMeetingReport},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := decodeInbound([]byte(tt.data))
			if err != nil {
				t.Fatalf("decode: %v", err)
			}
			switch f := msg.(type) {
			case *answerFrame:
				if tt.want != kindAnswer {
					t.Fatalf("decoded to answer, want %s", tt.want)
				}
				if f.Text != "q" || f.Answer != "a" || len(f.Sources) != 1 {
					t.Errorf("unexpected answer frame: %+v", f)
				}
			case *storedFrame:
				if tt.want != kindStored {
					t.Fatalf("decoded to stored, want %s", tt.want)
				}
			case *documentProcessedFrame:
				if tt.want != kindDocumentProcessed {
					t.Fatalf("decoded to document_processed, want %s", tt.want)
				}
				if f.Chunks != 3 {
					t.Errorf("chunks = %d, want 3", f.Chunks)
				}
			case *meetingReportFrame:
				if tt.want != kindMeetingReport {
					t.Fatalf("decoded to meeting_report, want %s", tt.want)
				}
			default:
				t.Fatalf("unexpected frame type %T", msg)
			}
		})
	}
}

func TestDecodeInboundUnknownKind(t *testing.T) {
	msg, err := decodeInbound([]byte(`{"type":"telemetry","x":1}`))
	if err != nil {
		t.Fatalf("unknown kind must not error: %v", err)
	}
	f, ok := msg.(*unknownFrame)
	if !ok {
		t.Fatalf("expected *unknownFrame, got %T", msg)
	}
	if f.Type != "telemetry" {
		t.Errorf("kind = %q, want telemetry", f.Type)
	}
}

func TestDecodeInboundMalformed(t *testing.T) {
	if _, err := decodeInbound([]byte("{nope")); err == nil {
		t.Error("expected error for malformed frame")
	}
}
