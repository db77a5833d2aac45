package bridge

import "time"

// Config holds the bridge tunables. Zero fields fall back to the defaults.
type Config struct {
	// ConnectTimeout bounds the connection handshake. It is distinct from the
	// steady-state request timeouts below.
	ConnectTimeout time.Duration

	// QuestionTimeout bounds how long a question waits for its answer.
	QuestionTimeout time.Duration

	// ReportTimeout bounds how long a report job waits for its result. Report
	// generation is slow, so this is much longer than QuestionTimeout.
	ReportTimeout time.Duration

	// ReconnectDelay is the fixed delay between reconnect attempts.
	ReconnectDelay time.Duration

	// MaxReconnectAttempts caps automatic reconnects before the room is
	// abandoned. An abandoned room needs an explicit Connect to resume.
	MaxReconnectAttempts int

	// MaxBufferSize caps the statement buffer; exceeding it evicts the
	// oldest entry.
	MaxBufferSize int

	// MaxBufferAge drops buffered statements older than this during replay.
	MaxBufferAge time.Duration

	// SendRetryLimit is the number of retries after a failed statement send
	// before the statement falls back to the buffer.
	SendRetryLimit int

	// SendRetryBaseDelay seeds the exponential backoff between send retries.
	SendRetryBaseDelay time.Duration

	// SendTimeout bounds a single transport send.
	SendTimeout time.Duration

	// FlushInterval is the delay between replayed statements, respecting
	// downstream rate limits.
	FlushInterval time.Duration
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		ConnectTimeout:       10 * time.Second,
		QuestionTimeout:      30 * time.Second,
		ReportTimeout:        5 * time.Minute,
		ReconnectDelay:       5 * time.Second,
		MaxReconnectAttempts: 5,
		MaxBufferSize:        200,
		MaxBufferAge:         10 * time.Minute,
		SendRetryLimit:       3,
		SendRetryBaseDelay:   250 * time.Millisecond,
		SendTimeout:          5 * time.Second,
		FlushInterval:        100 * time.Millisecond,
	}
}

func (c Config) normalized() Config {
	def := DefaultConfig()
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = def.ConnectTimeout
	}
	if c.QuestionTimeout <= 0 {
		c.QuestionTimeout = def.QuestionTimeout
	}
	if c.ReportTimeout <= 0 {
		c.ReportTimeout = def.ReportTimeout
	}
	if c.ReconnectDelay <= 0 {
		c.ReconnectDelay = def.ReconnectDelay
	}
	if c.MaxReconnectAttempts <= 0 {
		c.MaxReconnectAttempts = def.MaxReconnectAttempts
	}
	if c.MaxBufferSize <= 0 {
		c.MaxBufferSize = def.MaxBufferSize
	}
	if c.MaxBufferAge <= 0 {
		c.MaxBufferAge = def.MaxBufferAge
	}
	if c.SendRetryLimit <= 0 {
		c.SendRetryLimit = def.SendRetryLimit
	}
	if c.SendRetryBaseDelay <= 0 {
		c.SendRetryBaseDelay = def.SendRetryBaseDelay
	}
	if c.SendTimeout <= 0 {
		c.SendTimeout = def.SendTimeout
	}
	if c.FlushInterval <= 0 {
		c.FlushInterval = def.FlushInterval
	}
	return c
}
