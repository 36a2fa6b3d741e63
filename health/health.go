// Package health produces the host status block served by the filewire
// server's health command: CPU load and temperature, disk and RAM usage,
// and system uptime.
package health

import (
	"fmt"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/sirupsen/logrus"
)

const (
	reportHeader = "=== SERVER HEALTH INFORMATION ==="
	reportFooter = "================================"

	// cpuSampleWindow is the measurement interval for CPU usage. Kept
	// short so a health request does not stall the event loop long.
	cpuSampleWindow = 100 * time.Millisecond
)

// Report builds the multi-line health block. Metrics that cannot be read
// on this host degrade to an "Unable to read" line rather than failing
// the whole report.
func Report() string {
	var b strings.Builder
	b.WriteString(reportHeader + "\n")

	writeCPU(&b)
	writeCPUTemp(&b)
	writeDisk(&b)
	writeRAM(&b)
	writeUptime(&b)

	b.WriteString(reportFooter + "\n")
	return b.String()
}

func writeCPU(b *strings.Builder) {
	percents, err := cpu.Percent(cpuSampleWindow, false)
	if err != nil || len(percents) == 0 {
		logrus.WithFields(logrus.Fields{
			"function": "writeCPU",
			"error":    fmt.Sprint(err),
		}).Warn("Failed to sample CPU usage")
		b.WriteString("CPU Usage: Unable to read\n")
		return
	}
	fmt.Fprintf(b, "CPU Usage: %.2f%%\n", percents[0])
}

func writeCPUTemp(b *strings.Builder) {
	temps, err := host.SensorsTemperatures()
	if err != nil || len(temps) == 0 {
		b.WriteString("CPU Temperature: Unable to read\n")
		return
	}
	fmt.Fprintf(b, "CPU Temperature: %.0f °C\n", temps[0].Temperature)
}

func writeDisk(b *strings.Builder) {
	usage, err := disk.Usage("/")
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "writeDisk",
			"error":    err.Error(),
		}).Warn("Failed to read disk usage")
		b.WriteString("Disk Usage: Unable to read\n")
		return
	}
	fmt.Fprintf(b, "Disk Usage ('/'): %.2f%%\n", usage.UsedPercent)
}

func writeRAM(b *strings.Builder) {
	vm, err := mem.VirtualMemory()
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "writeRAM",
			"error":    err.Error(),
		}).Warn("Failed to read memory usage")
		b.WriteString("RAM Usage: Unable to read\n")
		return
	}
	fmt.Fprintf(b, "RAM Usage: %.2f%%\n", vm.UsedPercent)
	fmt.Fprintf(b, "Total RAM: %.2f MB\n", float64(vm.Total)/(1024*1024))
	fmt.Fprintf(b, "Free RAM: %.2f MB\n", float64(vm.Available)/(1024*1024))
}

func writeUptime(b *strings.Builder) {
	uptime, err := host.Uptime()
	if err != nil {
		b.WriteString("System Uptime: Unable to read\n")
		return
	}
	fmt.Fprintf(b, "System Uptime: %d hours, %d minutes\n", uptime/3600, (uptime%3600)/60)
}
