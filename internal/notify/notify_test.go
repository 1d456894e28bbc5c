package notify

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTerminalWritesLines(t *testing.T) {
	var buf bytes.Buffer
	term := NewTerminal(&buf)

	term.Notice("Order placed!")
	term.Alert("Error", "Failed to place order.")

	assert.Equal(t, "Order placed!\nError: Failed to place order.\n", buf.String())
}

func TestRecorderCaptures(t *testing.T) {
	rec := &Recorder{}
	rec.Notice("a")
	rec.Notice("b")
	rec.Alert("Error", "c")

	assert.Equal(t, []string{"a", "b"}, rec.Notices())
	assert.Equal(t, []string{"Error: c"}, rec.Alerts())
}
