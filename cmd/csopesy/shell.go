package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/peterh/liner"

	"github.com/sisoputnfrba/tp-2025-2c-csopesy/internal/bootstrap"
	"github.com/sisoputnfrba/tp-2025-2c-csopesy/internal/config"
	"github.com/sisoputnfrba/tp-2025-2c-csopesy/internal/process"
)

const historyFile = ".csopesy_history"

// shell is the interactive REPL driving a *bootstrap.System (spec §6
// CLI commands). It is the one "external collaborator" allowed to
// touch the filesystem for config.txt. Command history is kept in
// memory for the session only; it is not saved to historyFile.
type shell struct {
	line *liner.State
	sys  *bootstrap.System
	ctx  context.Context
}

func newShell() *shell {
	l := liner.NewLiner()
	l.SetCtrlCAborts(true)
	return &shell{line: l}
}

func (s *shell) close() {
	s.line.Close()
}

func (s *shell) run() error {
	fmt.Println(color.CyanString("csopesy emulator shell. Type \"help\" for commands."))
	for {
		input, err := s.line.Prompt("csopesy> ")
		if err != nil {
			return nil // EOF or Ctrl-D: exit cleanly
		}
		s.line.AppendHistory(input)

		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}
		if exit := s.dispatch(input); exit {
			return nil
		}
	}
}

// dispatch handles one command line. It returns true when the shell
// should exit (spec §6: `exit` has exit code 0).
func (s *shell) dispatch(line string) bool {
	fields := strings.Fields(line)
	cmd := fields[0]
	rest := strings.TrimSpace(strings.TrimPrefix(line, cmd))

	if cmd != "initialize" && cmd != "help" && cmd != "clear" && cmd != "exit" && s.sys == nil {
		fmt.Println(color.RedString("not initialized: run \"initialize\" first"))
		return false
	}

	switch cmd {
	case "initialize":
		s.cmdInitialize(rest)
	case "screen":
		s.cmdScreen(rest)
	case "scheduler-start":
		s.sys.SchedulerStart()
		fmt.Println("auto-generator started")
	case "scheduler-stop":
		s.sys.SchedulerStop()
		fmt.Println("auto-generator stopped")
	case "report-util":
		s.cmdReportUtil()
	case "process-smi":
		fmt.Print(renderProcessSMI(s.sys))
	case "vmstat":
		fmt.Print(s.sys.VMStatReport())
	case "help":
		printHelp()
	case "clear":
		fmt.Print("\033[H\033[2J")
	case "exit":
		if s.sys != nil {
			fmt.Println("shutting down, waiting for active processes...")
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			_ = s.sys.Shutdown(ctx)
		}
		return true
	default:
		fmt.Println(color.RedString("unknown command: %q", cmd))
	}
	return false
}

func (s *shell) cmdInitialize(rest string) {
	if s.sys != nil {
		fmt.Println(color.YellowString("already initialized"))
		return
	}
	path := strings.TrimSpace(rest)
	if path == "" {
		path = "config.txt"
	}
	cfg, err := config.Load(path)
	if err != nil {
		fmt.Println(color.RedString("initialize failed: %v", err))
		return
	}
	sys, err := bootstrap.Build(cfg)
	if err != nil {
		fmt.Println(color.RedString("initialize failed: %v", err))
		return
	}
	s.sys = sys
	s.ctx = sys.Run()
	fmt.Println(color.GreenString("initialized: %d cores, scheduler=%s", cfg.NumCPU, cfg.SchedulerPolicy))
}

func (s *shell) cmdScreen(rest string) {
	args := strings.Fields(rest)
	if len(args) == 0 {
		fmt.Println(color.RedString("usage: screen -s|-c|-r|-ls ..."))
		return
	}
	switch args[0] {
	case "-s":
		s.screenCreate(args[1:], nil)
	case "-c":
		s.screenCreateCustom(rest)
	case "-r":
		s.screenAttach(args[1:])
	case "-ls":
		fmt.Print(renderScreenLS(s.sys))
	default:
		fmt.Println(color.RedString("usage: screen -s|-c|-r|-ls ..."))
	}
}

func (s *shell) screenCreate(args []string, instructions []process.Instruction) {
	if len(args) != 2 {
		fmt.Println(color.RedString("usage: screen -s <name> <size>"))
		return
	}
	size, err := strconv.Atoi(args[1])
	if err != nil {
		fmt.Println(color.RedString("size must be an integer: %v", err))
		return
	}
	p, err := s.sys.Submit(args[0], size, instructions)
	if err != nil {
		fmt.Println(color.RedString("screen -s failed: %v", err))
		return
	}
	fmt.Printf("created process %s (pid %d)\n", p.Name(), p.PID())
}

// screenCreateCustom parses `screen -c <name> <size> "<instrs>"`: the
// instruction string is whatever remains after the first two tokens,
// still quoted, so splitting on spaces would break quoted PRINT args.
func (s *shell) screenCreateCustom(rest string) {
	fields := strings.Fields(rest)
	if len(fields) < 4 {
		fmt.Println(color.RedString(`usage: screen -c <name> <size> "<instrs>"`))
		return
	}
	name, sizeTok := fields[1], fields[2]
	quoted := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(rest), fields[0]))
	quoted = strings.TrimSpace(strings.TrimPrefix(quoted, name))
	quoted = strings.TrimSpace(strings.TrimPrefix(quoted, sizeTok))
	quoted = strings.TrimPrefix(quoted, `"`)
	quoted = strings.TrimSuffix(quoted, `"`)

	ins, err := process.ParseProgram(quoted)
	if err != nil {
		fmt.Println(color.RedString("screen -c failed: %v", err))
		return
	}
	s.screenCreate([]string{name, sizeTok}, ins)
}

func (s *shell) screenAttach(args []string) {
	if len(args) != 1 {
		fmt.Println(color.RedString("usage: screen -r <name>"))
		return
	}
	p, ok := s.sys.FindByName(args[0])
	if !ok {
		fmt.Println(color.RedString("no such process: %s", args[0]))
		return
	}
	fmt.Print(renderAttach(p))
}

func (s *shell) cmdReportUtil() {
	report := renderScreenLS(s.sys)
	if err := writeReportFile(report); err != nil {
		fmt.Println(color.RedString("report-util failed: %v", err))
		return
	}
	fmt.Println(color.GreenString("report written to %s", reportFilePath))
}

func printHelp() {
	fmt.Println(`commands:
  initialize [config.txt]
  screen -s <name> <size>
  screen -c <name> <size> "<instrs>"
  screen -r <name>
  screen -ls
  scheduler-start
  scheduler-stop
  report-util
  process-smi
  vmstat
  help
  clear
  exit`)
}
