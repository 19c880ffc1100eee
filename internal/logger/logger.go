// Package logger prints topic-tagged protocol traces.
//
// Output is off unless the VERBOSE environment variable is set to 1 or
// more. Each line is prefixed with the milliseconds since process start,
// the topic and the node id:
//
//	000123 PROP [1] phase one with proposal 5
package logger

import (
	"fmt"
	"io"
	"log"
	"os"
	"strconv"
	"sync"
	"sync/atomic"
	"time"
)

type Topic string

const (
	DProposer Topic = "PROP"
	DAcceptor Topic = "ACEP"
	DLearner  Topic = "LERN"
	DPersist  Topic = "PERS"
	DNetwork  Topic = "NETW"
	DClient   Topic = "CLNT"
	DInfo     Topic = "INFO"
	DWarn     Topic = "WARN"
	DError    Topic = "ERRO"
	DTest     Topic = "TEST"
)

var (
	debugStart     time.Time
	debugVerbosity atomic.Int32

	outMu sync.Mutex
	out   io.Writer = os.Stdout
)

// Logger is what the protocol code logs through.
type Logger interface {
	Debug(topic Topic, format string, a ...interface{})
}

// NodeLogger tags every line with a node id. An id of -1 omits the tag.
type NodeLogger struct {
	me int
}

func New(me int) *NodeLogger {
	return &NodeLogger{me: me}
}

func (nl *NodeLogger) Debug(topic Topic, format string, a ...interface{}) {
	if !DebugEnabled() {
		return
	}
	ms := time.Since(debugStart).Milliseconds()
	var prefix string
	if nl.me == -1 {
		prefix = fmt.Sprintf("%06d %v ", ms, string(topic))
	} else {
		prefix = fmt.Sprintf("%06d %v [%d] ", ms, string(topic), nl.me)
	}

	outMu.Lock()
	defer outMu.Unlock()
	fmt.Fprintf(out, prefix+format+"\n", a...)
}

// Discard drops everything.
type Discard struct{}

func (Discard) Debug(Topic, string, ...interface{}) {}

// SetOutput redirects trace output. It returns the previous writer.
func SetOutput(w io.Writer) io.Writer {
	outMu.Lock()
	defer outMu.Unlock()
	prev := out
	out = w
	return prev
}

// SetVerbosity overrides the level read from VERBOSE.
func SetVerbosity(level int) {
	debugVerbosity.Store(int32(level))
}

// Verbosity is the current trace level.
func Verbosity() int {
	return int(debugVerbosity.Load())
}

func DebugEnabled() bool {
	return debugVerbosity.Load() >= 1
}

func init() {
	debugVerbosity.Store(int32(getVerbosity()))
	debugStart = time.Now()
	log.SetFlags(log.Flags() &^ (log.Ldate | log.Ltime))
}

// Retrieve the verbosity level from an environment variable
func getVerbosity() int {
	v := os.Getenv("VERBOSE")
	level := 0
	if v != "" {
		var err error
		level, err = strconv.Atoi(v)
		if err != nil {
			log.Fatalf("Invalid verbosity %v", v)
		}
	}
	return level
}
