package nats

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSubject(t *testing.T) {
	assert.Equal(t, "events.research_session.created", Subject("research_session.created"))
}

func TestOccurredAt(t *testing.T) {
	at := time.Date(2026, 1, 2, 3, 4, 5, 6, time.UTC)
	got := occurredAt(map[string]interface{}{"occurred_at": at.Format(time.RFC3339Nano)})
	assert.True(t, got.Equal(at))

	assert.WithinDuration(t, time.Now(), occurredAt(map[string]interface{}{}), time.Second)
}
