package progress

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRenderLine_CountsOnly(t *testing.T) {
	snap := Snapshot{Counts: Counts{Total: 10, Completed: 4, Failed: 1}}

	line := renderLine(snap)
	assert.Equal(t, "Progress: 4/10 complete, 1 failed (50.0%)", line)
}

func TestRenderLine_ActiveItemsTruncated(t *testing.T) {
	snap := Snapshot{
		Counts: Counts{Total: 10},
		Active: []Active{
			{Pack: 1, Percent: 10, Speed: 1024 * 1024},
			{Pack: 2, Percent: 20, Speed: 2 * 1024 * 1024},
			{Pack: 3, Percent: 30, Speed: 512},
			{Pack: 4, Percent: 40, Speed: 512},
			{Pack: 5, Percent: 50, Speed: 512},
		},
	}

	line := renderLine(snap)
	assert.Contains(t, line, "Pack #1: 10.0%")
	assert.Contains(t, line, "Pack #3: 30.0%")
	assert.NotContains(t, line, "Pack #4")
	assert.Contains(t, line, "(+ 2 more)")
}

func TestRenderLine_EmptyBatch(t *testing.T) {
	line := renderLine(Snapshot{})
	assert.Equal(t, "Progress: 0/0 complete, 0 failed (0.0%)", line)
}

func TestReporter_StopsWhenBatchDone(t *testing.T) {
	table := NewTable()
	table.Add(1)
	table.MarkDone(1, true)

	var buf bytes.Buffer

	reporter := NewReporter(table, &buf, 10*time.Millisecond)

	done := make(chan struct{})

	go func() {
		reporter.Run(context.Background())
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("reporter did not stop after batch completed")
	}

	assert.Contains(t, buf.String(), "1/1 complete")
}

func TestReporter_Summary(t *testing.T) {
	table := NewTable()

	for pack := 1; pack <= 3; pack++ {
		table.Add(pack)
	}

	table.MarkDone(1, true)
	table.MarkDone(2, false)
	table.MarkDone(3, false)

	var buf bytes.Buffer

	reporter := NewReporter(table, &buf, time.Second)
	reporter.Summary([]int{3, 2})

	out := buf.String()
	assert.Contains(t, out, "Download complete: 1/3 successful, 2 failed")
	assert.Contains(t, out, "Failed packs: 2, 3")
	assert.True(t, strings.HasPrefix(out, "\r\033[K"))
}
