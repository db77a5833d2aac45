package bridge

import (
	"context"
	"fmt"
	"time"
)

// pendingQuestion is one in-flight question awaiting its correlated answer.
// Every settlement path runs under the owning room's mutex, so the settled
// flag needs no atomics. The result channel is buffered so settling never
// blocks the dispatcher.
type pendingQuestion struct {
	text        string
	withSources bool
	submittedAt time.Time
	timer       *time.Timer
	settled     bool
	result      chan questionResult
}

type questionResult struct {
	answer Answer
	err    error
}

func newPendingQuestion(text string, withSources bool) *pendingQuestion {
	return &pendingQuestion{
		text:        text,
		withSources: withSources,
		submittedAt: time.Now(),
		result:      make(chan questionResult, 1),
	}
}

// settleLocked resolves or rejects the entry exactly once and clears its
// timer. Callers hold the room mutex.
func (p *pendingQuestion) settleLocked(res questionResult) {
	if p.settled {
		return
	}
	p.settled = true
	if p.timer != nil {
		p.timer.Stop()
	}
	p.result <- res
}

// SendQuestion asks the knowledge backend a question and blocks until the
// correlated answer arrives, the question times out, or ctx is cancelled.
// Questions require a live connection; unlike statements they are never
// buffered or retried.
func (m *Manager) SendQuestion(ctx context.Context, roomID, text string) (Answer, error) {
	return m.ask(ctx, roomID, text, false)
}

// SendQuestionWithSources behaves like SendQuestion but asks the backend to
// include source references. Its pending entries live in a separate map so a
// plain answer can never satisfy a with-sources caller.
func (m *Manager) SendQuestionWithSources(ctx context.Context, roomID, text string) (Answer, error) {
	return m.ask(ctx, roomID, text, true)
}

func (m *Manager) ask(ctx context.Context, roomID, text string, withSources bool) (Answer, error) {
	r := m.lookupRoom(roomID)
	if r == nil {
		return Answer{}, fmt.Errorf("%w: room %s", ErrNotConnected, roomID)
	}

	r.mu.Lock()
	if r.state != stateConnected || r.conn == nil {
		r.mu.Unlock()
		return Answer{}, fmt.Errorf("%w: room %s", ErrNotConnected, roomID)
	}
	conn := r.conn
	table := r.questionTable(withSources)
	if _, ok := table[text]; ok {
		// The literal text is the correlation key: the newer registration
		// takes the map slot and the older entry rejects on its own timer.
		m.logger.Warn("duplicate question in flight, previous entry orphaned", "room_id", roomID, "text", text)
	}
	p := newPendingQuestion(text, withSources)
	table[text] = p
	p.timer = time.AfterFunc(m.cfg.QuestionTimeout, func() {
		m.expireQuestion(r, p)
	})
	r.touchLocked()
	r.mu.Unlock()

	frame := questionFrame{Type: "question", Text: text, Confidence: 1, WithSources: withSources}
	if err := conn.Send(ctx, frame); err != nil {
		m.failQuestion(r, p, fmt.Errorf("send question: %w", err))
	}

	select {
	case res := <-p.result:
		return res.answer, res.err
	case <-ctx.Done():
		m.failQuestion(r, p, ctx.Err())
		res := <-p.result
		return res.answer, res.err
	}
}

// failQuestion settles p with err unless a dispatched answer won the race.
func (m *Manager) failQuestion(r *room, p *pendingQuestion, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	table := r.questionTable(p.withSources)
	if table[p.text] == p {
		delete(table, p.text)
	}
	p.settleLocked(questionResult{err: err})
}

// expireQuestion rejects the entry once its timeout elapses with no answer.
func (m *Manager) expireQuestion(r *room, p *pendingQuestion) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p.settled {
		return
	}
	table := r.questionTable(p.withSources)
	if table[p.text] == p {
		delete(table, p.text)
	}
	m.logger.Warn("question timed out", "room_id", r.id, "text", p.text)
	p.settleLocked(questionResult{err: fmt.Errorf("%w: question %q", ErrRequestTimeout, p.text)})
}

// resolveAnswer settles the pending entry keyed by the answer's question
// text. The with-sources map is checked first, then the plain map; whichever
// holds a matching key wins.
func (m *Manager) resolveAnswer(r *room, f *answerFrame) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if p, ok := r.pendingSourced[f.Text]; ok {
		delete(r.pendingSourced, f.Text)
		p.settleLocked(questionResult{answer: Answer{Question: f.Text, Text: f.Answer, Sources: f.Sources}})
		return
	}
	if p, ok := r.pendingPlain[f.Text]; ok {
		delete(r.pendingPlain, f.Text)
		p.settleLocked(questionResult{answer: Answer{Question: f.Text, Text: f.Answer}})
		return
	}
	m.logger.Warn("answer with no pending question", "room_id", r.id, "text", f.Text)
}
