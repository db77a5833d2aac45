package bridge

import (
	"context"
	"errors"
	"testing"
	"time"
)

func connectRoom(t *testing.T, m *Manager, dialer *fakeDialer, roomID string) *fakeConn {
	t.Helper()
	if err := m.Connect(context.Background(), roomID); err != nil {
		t.Fatalf("connect %s: %v", roomID, err)
	}
	return dialer.lastConn()
}

func TestQuestionResolvesWithAnswer(t *testing.T) {
	dialer := &fakeDialer{}
	m := NewManager(testConfig(), dialer, nil, nil)
	conn := connectRoom(t, m, dialer, "room-1")

	type result struct {
		answer Answer
		err    error
	}
	done := make(chan result, 1)
	go func() {
		a, err := m.SendQuestion(context.Background(), "room-1", "what was decided?")
		done <- result{a, err}
	}()

	waitFor(t, time.Second, "question frame", func() bool { return conn.sentCount() == 1 })
	frame, ok := conn.sentFrames()[0].(questionFrame)
	if !ok || frame.Type != "question" || frame.Text != "what was decided?" {
		t.Fatalf("unexpected outbound frame: %#v", conn.sentFrames()[0])
	}
	if frame.WithSources {
		t.Error("plain question must not request sources")
	}

	conn.deliver(t, map[string]any{
		"type":   "answer",
		"text":   "what was decided?",
		"answer": "ship on friday",
	})

	res := <-done
	if res.err != nil {
		t.Fatalf("question rejected: %v", res.err)
	}
	if res.answer.Text != "ship on friday" {
		t.Errorf("unexpected answer: %q", res.answer.Text)
	}
}

func TestQuestionRequiresLiveConnection(t *testing.T) {
	m := NewManager(testConfig(), &fakeDialer{}, nil, nil)

	if _, err := m.SendQuestion(context.Background(), "room-1", "anyone?"); !errors.Is(err, ErrNotConnected) {
		t.Errorf("expected ErrNotConnected, got %v", err)
	}

	// A room context with no live connection behaves the same.
	m.SendStatement("room-1", Statement{Speaker: "ana", Text: "creates context"})
	if _, err := m.SendQuestion(context.Background(), "room-1", "anyone?"); !errors.Is(err, ErrNotConnected) {
		t.Errorf("expected ErrNotConnected with offline context, got %v", err)
	}
}

func TestQuestionTimesOutExactlyOnce(t *testing.T) {
	cfg := testConfig()
	cfg.QuestionTimeout = 60 * time.Millisecond
	dialer := &fakeDialer{}
	m := NewManager(cfg, dialer, nil, nil)
	conn := connectRoom(t, m, dialer, "room-1")

	start := time.Now()
	_, err := m.SendQuestion(context.Background(), "room-1", "no one answers")
	elapsed := time.Since(start)

	if !errors.Is(err, ErrRequestTimeout) {
		t.Fatalf("expected ErrRequestTimeout, got %v", err)
	}
	if elapsed < cfg.QuestionTimeout {
		t.Errorf("rejected after %v, before the %v timeout", elapsed, cfg.QuestionTimeout)
	}

	// A late out-of-band answer for the same text must be ignored.
	conn.deliver(t, map[string]any{"type": "answer", "text": "no one answers", "answer": "too late"})
	time.Sleep(20 * time.Millisecond)
	if !m.Connected("room-1") {
		t.Error("late answer must not disturb the connection")
	}
}

func TestAnswerRoutingPrefersSourcedMap(t *testing.T) {
	dialer := &fakeDialer{}
	m := NewManager(testConfig(), dialer, nil, nil)
	conn := connectRoom(t, m, dialer, "room-1")

	sourced := make(chan Answer, 1)
	go func() {
		a, err := m.SendQuestionWithSources(context.Background(), "room-1", "who owns this?")
		if err != nil {
			t.Errorf("sourced question rejected: %v", err)
		}
		sourced <- a
	}()
	waitFor(t, time.Second, "sourced question sent", func() bool { return conn.sentCount() == 1 })

	plain := make(chan error, 1)
	go func() {
		_, err := m.SendQuestion(context.Background(), "room-1", "who owns this?")
		plain <- err
	}()
	waitFor(t, time.Second, "plain question sent", func() bool { return conn.sentCount() == 2 })

	// Identical text pending in both maps: the with-sources entry wins the
	// first matching answer.
	conn.deliver(t, map[string]any{
		"type":    "answer",
		"text":    "who owns this?",
		"answer":  "the infra team",
		"sources": []string{"minutes-2026-08-12"},
	})

	a := <-sourced
	if len(a.Sources) != 1 || a.Sources[0] != "minutes-2026-08-12" {
		t.Errorf("expected sources on sourced answer, got %v", a.Sources)
	}

	// The plain entry is still pending and resolves from the next answer.
	conn.deliver(t, map[string]any{"type": "answer", "text": "who owns this?", "answer": "the infra team"})
	if err := <-plain; err != nil {
		t.Errorf("plain question rejected: %v", err)
	}
}

func TestDuplicateQuestionOrphansFirstEntry(t *testing.T) {
	cfg := testConfig()
	cfg.QuestionTimeout = 80 * time.Millisecond
	dialer := &fakeDialer{}
	m := NewManager(cfg, dialer, nil, nil)
	conn := connectRoom(t, m, dialer, "room-1")

	first := make(chan error, 1)
	go func() {
		_, err := m.SendQuestion(context.Background(), "room-1", "same text")
		first <- err
	}()
	waitFor(t, time.Second, "first question sent", func() bool { return conn.sentCount() == 1 })

	second := make(chan error, 1)
	go func() {
		_, err := m.SendQuestion(context.Background(), "room-1", "same text")
		second <- err
	}()
	waitFor(t, time.Second, "second question sent", func() bool { return conn.sentCount() == 2 })

	// One answer settles the current map entry (the second registration).
	conn.deliver(t, map[string]any{"type": "answer", "text": "same text", "answer": "resolved"})
	if err := <-second; err != nil {
		t.Errorf("second question should resolve, got %v", err)
	}

	// The orphaned first entry rejects on its own timer.
	if err := <-first; !errors.Is(err, ErrRequestTimeout) {
		t.Errorf("first question should time out, got %v", err)
	}
}

func TestQuestionCancelledByCaller(t *testing.T) {
	dialer := &fakeDialer{}
	m := NewManager(testConfig(), dialer, nil, nil)
	conn := connectRoom(t, m, dialer, "room-1")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := m.SendQuestion(ctx, "room-1", "nevermind")
		done <- err
	}()
	waitFor(t, time.Second, "question sent", func() bool { return conn.sentCount() == 1 })
	cancel()

	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}
