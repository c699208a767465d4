package main

import (
	"bytes"
	"fmt"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"

	"github.com/sisoputnfrba/tp-2025-2c-csopesy/internal/bootstrap"
	"github.com/sisoputnfrba/tp-2025-2c-csopesy/internal/process"
)

const reportFilePath = "csopesy-log.txt"

const timeFmt = "2006-01-02 15:04:05"

// renderScreenLS renders the screen -ls report (spec §6): CPU
// utilization, cores used/free, then running and finished processes
// with per-process timestamp and pc/len.
func renderScreenLS(sys *bootstrap.System) string {
	var buf bytes.Buffer

	fraction, used, total := sys.Utilization()
	fmt.Fprintf(&buf, "CPU utilization: %.0f%%\n", fraction*100)
	fmt.Fprintf(&buf, "Cores used: %d\n", used)
	fmt.Fprintf(&buf, "Cores available: %d\n\n", total-used)

	buf.WriteString("Running processes:\n")
	writeProcessTable(&buf, sys.ListRunning(), true)

	buf.WriteString("\nSleeping processes:\n")
	writeProcessTable(&buf, sys.ListSleeping(), true)

	buf.WriteString("\nFinished processes:\n")
	writeProcessTable(&buf, sys.ListFinished(), false)

	return buf.String()
}

func writeProcessTable(buf *bytes.Buffer, procs []*process.Process, running bool) {
	table := tablewriter.NewWriter(buf)
	if running {
		table.SetHeader([]string{"PID", "Name", "Created", "Core", "PC/Len"})
	} else {
		table.SetHeader([]string{"PID", "Name", "Finished", "Status"})
	}
	for _, p := range procs {
		if running {
			table.Append([]string{
				fmt.Sprintf("%d", p.PID()),
				p.Name(),
				p.CreationTime().Format(timeFmt),
				fmt.Sprintf("%d", p.LastCoreID()),
				fmt.Sprintf("%d/%d", p.PC(), p.InstructionCount()),
			})
			continue
		}
		table.Append([]string{
			fmt.Sprintf("%d", p.PID()),
			p.Name(),
			p.FinishTime().Format(timeFmt),
			p.Termination().String(),
		})
	}
	table.Render()
}

// renderProcessSMI renders the process-smi table (spec §6): CPU-util,
// total/used/free memory and byte-utilization, running processes with
// allocated bytes.
func renderProcessSMI(sys *bootstrap.System) string {
	var buf bytes.Buffer

	fraction, used, total := sys.Utilization()
	usedBytes, totalBytes := byteUsage(sys)
	fmt.Fprintf(&buf, "CPU utilization: %.0f%% (%d/%d cores)\n", fraction*100, used, total)
	fmt.Fprintf(&buf, "Memory usage: %d/%d bytes (%.0f%%)\n\n", usedBytes, totalBytes, percent(usedBytes, totalBytes))

	table := tablewriter.NewWriter(&buf)
	table.SetHeader([]string{"PID", "Name", "Memory (bytes)"})
	for _, p := range sys.ListRunning() {
		table.Append([]string{
			fmt.Sprintf("%d", p.PID()),
			p.Name(),
			fmt.Sprintf("%d", p.AllocatedBytes()),
		})
	}
	table.Render()
	return buf.String()
}

func byteUsage(sys *bootstrap.System) (used, total int) {
	usedFrames, totalFrames := sys.FrameUsage()
	frameSize := sys.FrameSize()
	return usedFrames * frameSize, totalFrames * frameSize
}

func percent(used, total int) float64 {
	if total == 0 {
		return 0
	}
	return 100 * float64(used) / float64(total)
}

// renderAttach renders `screen -r <name>` (spec §6): live pc/len and
// log tail for a running process, or the memory-violation message with
// HH:MM:SS and faulting address for a terminated one.
func renderAttach(p *process.Process) string {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "Process name: %s\n", p.Name())
	fmt.Fprintf(&buf, "ID: %d\n", p.PID())

	switch p.Termination() {
	case process.MemoryViolation:
		v := p.Violation()
		msg := fmt.Sprintf("Process %s shut down due to memory access violation error that occurred at %s. %s invalid.",
			p.Name(), v.At.Format("15:04:05"), v.Addr)
		buf.WriteString(color.RedString(msg) + "\n")
	case process.FinishedNormally:
		fmt.Fprintf(&buf, "Finished!\n")
	default:
		fmt.Fprintf(&buf, "Current instruction line: %d\n", p.PC())
	}
	fmt.Fprintf(&buf, "Lines of code: %d\n\n", p.InstructionCount())

	buf.WriteString("Logs:\n")
	for _, entry := range p.Logs() {
		fmt.Fprintf(&buf, "(%s) %s\n", entry.At.Format(timeFmt), entry.Text)
	}
	return buf.String()
}

func writeReportFile(report string) error {
	return os.WriteFile(reportFilePath, []byte(strings.TrimRight(report, "\n")+"\n"), 0o644)
}
