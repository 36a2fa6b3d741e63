package health

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestReportFrame(t *testing.T) {
	report := Report()

	lines := strings.Split(strings.TrimRight(report, "\n"), "\n")
	assert.Equal(t, reportHeader, lines[0])
	assert.Equal(t, reportFooter, lines[len(lines)-1])
	assert.Greater(t, len(lines), 2, "report must carry metric lines")
}

func TestReportCarriesEveryMetric(t *testing.T) {
	report := Report()

	// Every metric appears either with a value or an explicit
	// "Unable to read" fallback, never silently missing.
	for _, label := range []string{"CPU Usage:", "CPU Temperature:", "Disk Usage", "RAM Usage:", "System Uptime:"} {
		assert.Contains(t, report, label)
	}
}

func TestReportEndsWithNewline(t *testing.T) {
	assert.True(t, strings.HasSuffix(Report(), "\n"))
}
