// Command gocnc runs the motion core against a G-code program under a
// simulated step clock. Input comes from a file, stdin, or a serial
// device; an interactive console exposes feedhold, cycle start, queue
// flush and job kill.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"io"
	"math"
	"os"
	"strings"
	"time"

	"github.com/edaniels/golog"
	"github.com/google/shlex"
	"github.com/pkg/errors"
	"github.com/tarm/serial"

	"gocnc/canon"
	"gocnc/config"
	"gocnc/core"
	"gocnc/gcode"
	"gocnc/status"
	"gocnc/stepgen"
)

var (
	configPath = flag.String("config", "", "Machine config JSON path (default: built-in cartesian profile)")
	gcodePath  = flag.String("gcode", "", "G-code file to stream (default: stdin)")
	device     = flag.String("device", "", "Serial device to stream G-code from instead of a file")
	baud       = flag.Int("baud", 115200, "Serial baud rate")
	console    = flag.Bool("console", false, "Interactive console after (or instead of) streaming")
	debug      = flag.Bool("debug", false, "Verbose logging")
)

func main() {
	flag.Parse()

	logger := golog.NewLogger("gocnc")
	if *debug {
		logger = golog.NewDebugLogger("gocnc")
	}

	cfg, err := loadConfig()
	if err != nil {
		logger.Fatalw("config", "error", err)
	}

	pipeline := stepgen.NewPipeline(cfg, [config.MotorCount]stepgen.StepBackend{})
	ctrl := canon.NewController(cfg, pipeline, logger)
	ctrl.InstallTimerGuard()

	if err := run(ctrl, logger); err != nil {
		logger.Fatalw("run", "error", err)
	}

	// Drain whatever is still queued before reporting final position.
	// (core.TimerFreq * 600 overflows uint32, so clamp to the max tick budget.)
	ctrl.WaitIdle(math.MaxUint32)
	m := ctrl.Primary()
	for i := 0; i < gcode.AxisCount; i++ {
		if cfg.Axes[i].Mode == config.AxisDisabled {
			continue
		}
		fmt.Printf("%s=%.4f ", gcode.AxisNames[i], m.GetAbsolutePosition(i))
	}
	fmt.Println()
}

func loadConfig() (*config.Machine, error) {
	if *configPath == "" {
		return config.Default(), nil
	}
	data, err := os.ReadFile(*configPath)
	if err != nil {
		return nil, errors.Wrap(err, "reading config file")
	}
	return config.Load(data)
}

func run(ctrl *canon.Controller, logger golog.Logger) error {
	switch {
	case *device != "":
		return streamSerial(ctrl, logger)
	case *console && *gcodePath == "":
		return runConsole(ctrl, logger, os.Stdin)
	default:
		in := io.Reader(os.Stdin)
		if *gcodePath != "" {
			f, err := os.Open(*gcodePath)
			if err != nil {
				return errors.Wrap(err, "opening gcode file")
			}
			defer f.Close()
			in = f
		}
		if err := streamLines(ctrl, logger, in); err != nil {
			return err
		}
		if *console {
			return runConsole(ctrl, logger, os.Stdin)
		}
		return nil
	}
}

// streamLines feeds G-code lines through the core, advancing the
// simulated clock whenever the planner pushes back.
func streamLines(ctrl *canon.Controller, logger golog.Logger, in io.Reader) error {
	scanner := bufio.NewScanner(in)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if err := submitLine(ctrl, line); err != nil {
			logger.Errorw("gcode rejected", "line", lineNo, "text", line, "error", err)
		}
	}
	return scanner.Err()
}

// submitLine retries a backpressured line while simulated time advances.
// Gives up if the machine stays busy (or held) for too long.
func submitLine(ctrl *canon.Controller, line string) error {
	for attempt := 0; attempt < 3000; attempt++ {
		err := ctrl.ExecuteLine(line)
		if errors.Is(err, status.Eagain) {
			ctrl.RunFor(core.TimerFreq / 100) // 10ms of machine time
			continue
		}
		ctrl.RunFor(core.TimerFreq / 1000)
		return err
	}
	return status.Eagain
}

func streamSerial(ctrl *canon.Controller, logger golog.Logger) error {
	port, err := serial.OpenPort(&serial.Config{
		Name:        *device,
		Baud:        *baud,
		ReadTimeout: 50 * time.Millisecond,
	})
	if err != nil {
		return errors.Wrapf(err, "opening serial port %s", *device)
	}
	defer port.Close()
	logger.Infow("streaming from serial", "device", *device, "baud", *baud)
	return streamLines(ctrl, logger, port)
}

// runConsole accepts raw G-code plus immediate control commands.
func runConsole(ctrl *canon.Controller, logger golog.Logger, in io.Reader) error {
	m := ctrl.Primary()
	scanner := bufio.NewScanner(in)
	fmt.Println("gocnc console - 'help' for commands")
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			ctrl.RunFor(core.TimerFreq / 100)
			continue
		}

		fields, err := shlex.Split(line)
		if err != nil || len(fields) == 0 {
			fmt.Println("unparseable input")
			continue
		}

		switch fields[0] {
		case "quit", "exit", "q":
			return nil
		case "help", "?":
			printHelp()
		case "hold", "!":
			m.RequestFeedhold(canon.HoldTypeActions, canon.HoldExitCycle)
		case "scram":
			m.RequestFeedhold(canon.HoldTypeScram, canon.HoldExitStop)
		case "resume", "~":
			m.RequestCycleStart()
		case "flush", "%":
			m.RequestQueueFlush()
		case "kill":
			m.RequestJobKill()
		case "clear":
			m.Clear()
		case "status":
			printStatus(ctrl)
		case "run":
			ctrl.RunFor(core.TimerFreq) // one second of machine time
		default:
			if err := submitLine(ctrl, line); err != nil {
				logger.Errorw("gcode rejected", "text", line, "error", err)
			}
		}
		ctrl.RunFor(core.TimerFreq / 100)
	}
}

func printStatus(ctrl *canon.Controller) {
	m := ctrl.Active()
	fmt.Printf("state=%d hold=%d vel=%.1f pos:", m.Combined(), m.HoldState(), m.Planner().RuntimeVelocity())
	for i := 0; i < 3; i++ {
		fmt.Printf(" %s=%.3f", gcode.AxisNames[i], m.GetAbsolutePosition(i))
	}
	fmt.Println()
}

func printHelp() {
	fmt.Println("  <gcode>      execute a G-code line")
	fmt.Println("  hold | !     feedhold with entry actions")
	fmt.Println("  scram        fast stop")
	fmt.Println("  resume | ~   cycle start / restart")
	fmt.Println("  flush | %    queue flush (only in hold)")
	fmt.Println("  kill         job kill (^d equivalent)")
	fmt.Println("  clear        clear alarm/shutdown")
	fmt.Println("  status       machine state and position")
	fmt.Println("  run          advance one second of machine time")
	fmt.Println("  quit         exit")
}
