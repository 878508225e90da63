package utils

import (
	"flag"
	"fmt"
	"github.com/logrusorgru/aurora"
	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"
	"os"
	"runtime"
	"strings"
	"syscall"
)

// ChannelWriter feeds serialized log lines into a channel instead of a stream;
// the term-ui dashboard drains it into its log pane.
type ChannelWriter struct {
	Channel chan []byte
}

func (cw ChannelWriter) Write(p []byte) (n int, err error) {
	cw.Channel <- p
	return len(p), nil
}

var OutputChannel = make(chan []byte, 1024)

// ConsoleInit configures process-wide zerolog and returns the named logger. In
// term-ui mode lines go to OutputChannel as raw JSON; otherwise a human
// console writer on stdout. Also raises the open-file limit, every model
// worker keeps its own backend connections.
func ConsoleInit(name string, termUi *bool) (zerolog.Logger, chan []byte) {
	flag.Parse()
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	raiseFileLimit()

	var lg zerolog.Logger
	if *termUi {
		lg = zerolog.New(ChannelWriter{Channel: OutputChannel}).
			Hook(callerHook{}).
			With().Str("app", name).Logger()
	} else {
		lg = zlog.Output(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: "02/01 15:04:05"}).
			Hook(callerHook{}).
			With().Str("app", name).Logger()
	}

	zlog.Logger = lg
	return lg, OutputChannel
}

const fileLimitTarget = 256000

func raiseFileLimit() {
	var rLimit syscall.Rlimit
	if err := syscall.Getrlimit(syscall.RLIMIT_NOFILE, &rLimit); err != nil {
		fmt.Printf("%s failed to read rlimit: %v\n", aurora.Red("ERR"), err)
		return
	}
	if rLimit.Cur >= fileLimitTarget && rLimit.Max >= fileLimitTarget {
		return
	}

	if rLimit.Cur < fileLimitTarget {
		rLimit.Cur = fileLimitTarget
	}
	if rLimit.Max < fileLimitTarget {
		rLimit.Max = fileLimitTarget
	}
	if err := syscall.Setrlimit(syscall.RLIMIT_NOFILE, &rLimit); err != nil {
		fmt.Printf("%s failed to raise rlimit to %d: %v\n", aurora.Red("ERR"), fileLimitTarget, err)
		return
	}
	fmt.Printf("%s raised to current=%v max=%v\n", aurora.Green("rlimit"), rLimit.Cur, rLimit.Max)
}

// callerHook annotates info-and-above lines with file:line, trimmed to a
// repo-relative path.
type callerHook struct{}

func (h callerHook) Run(e *zerolog.Event, l zerolog.Level, msg string) {
	if l < zerolog.InfoLevel {
		return
	}
	_, file, line, ok := runtime.Caller(3)
	if !ok {
		return
	}
	if idx := strings.Index(file, "docpilot/"); idx >= 0 {
		file = file[idx+len("docpilot/"):]
	}
	e.Str("line", fmt.Sprintf("%s:%d", file, line))
}
