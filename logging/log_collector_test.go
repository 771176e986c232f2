package logging

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogCollector(t *testing.T) {
	c := NewLogCollector()
	assert.Nil(t, c.GetLogs("logging_in"))

	c.AddLog("logging_in", LogEntry{Time: time.Now(), Level: "INFO", Message: "login clicked"})
	c.AddLog("logging_in", LogEntry{Time: time.Now(), Level: "INFO", Message: "signed in"})
	c.AddLog("tendering", LogEntry{Time: time.Now(), Level: "WARN", Message: "retrying"})

	logs := c.GetLogs("logging_in")
	require.Len(t, logs, 2)
	assert.Equal(t, "signed in", logs[1].Message)

	// Returned slices are copies.
	logs[0].Message = "mutated"
	assert.Equal(t, "login clicked", c.GetLogs("logging_in")[0].Message)

	tendering := c.GetLogs("tendering")
	require.Len(t, tendering, 1)
	assert.Equal(t, "WARN", tendering[0].Level)
}
