// Package log provides leveled logging for the storage engine. It follows
// the syslog-priority-prefixed style of the wider project this engine was
// extracted from: no timestamps by default (the surrounding process/systemd
// adds those), switchable per level by discarding the level's writer.
package log

import (
	"fmt"
	"io"
	"log"
	"os"
)

var logDateTime bool

var (
	DebugWriter io.Writer = os.Stderr
	InfoWriter  io.Writer = os.Stderr
	WarnWriter  io.Writer = os.Stderr
	ErrWriter   io.Writer = os.Stderr
)

var (
	debugPrefix = "<7>[AURORA-HISTORIAN][DEBUG]   "
	infoPrefix  = "<6>[AURORA-HISTORIAN][INFO]    "
	warnPrefix  = "<4>[AURORA-HISTORIAN][WARNING] "
	errPrefix   = "<3>[AURORA-HISTORIAN][ERROR]   "
)

var (
	debugLog *log.Logger = log.New(DebugWriter, debugPrefix, 0)
	infoLog  *log.Logger = log.New(InfoWriter, infoPrefix, 0)
	warnLog  *log.Logger = log.New(WarnWriter, warnPrefix, log.Lshortfile)
	errLog   *log.Logger = log.New(ErrWriter, errPrefix, log.Llongfile)

	debugTimeLog *log.Logger = log.New(DebugWriter, debugPrefix, log.LstdFlags)
	infoTimeLog  *log.Logger = log.New(InfoWriter, infoPrefix, log.LstdFlags)
	warnTimeLog  *log.Logger = log.New(WarnWriter, warnPrefix, log.LstdFlags|log.Lshortfile)
	errTimeLog   *log.Logger = log.New(ErrWriter, errPrefix, log.LstdFlags|log.Llongfile)
)

// SetLevel cascades writer-discard switches: setting a level silences
// every level below it.
func SetLevel(lvl string) {
	switch lvl {
	case "err", "fatal":
		WarnWriter = io.Discard
		fallthrough
	case "warn":
		InfoWriter = io.Discard
		fallthrough
	case "info":
		DebugWriter = io.Discard
	case "debug":
	default:
		fmt.Printf("log: invalid loglevel %q, defaulting to debug\n", lvl)
	}
}

func SetDateTime(on bool) { logDateTime = on }

func Debug(v ...interface{}) { emit(DebugWriter, debugLog, debugTimeLog, fmt.Sprint(v...)) }
func Info(v ...interface{})  { emit(InfoWriter, infoLog, infoTimeLog, fmt.Sprint(v...)) }
func Warn(v ...interface{})  { emit(WarnWriter, warnLog, warnTimeLog, fmt.Sprint(v...)) }
func Error(v ...interface{}) { emit(ErrWriter, errLog, errTimeLog, fmt.Sprint(v...)) }

func Debugf(format string, v ...interface{}) { emit(DebugWriter, debugLog, debugTimeLog, fmt.Sprintf(format, v...)) }
func Infof(format string, v ...interface{})  { emit(InfoWriter, infoLog, infoTimeLog, fmt.Sprintf(format, v...)) }
func Warnf(format string, v ...interface{})  { emit(WarnWriter, warnLog, warnTimeLog, fmt.Sprintf(format, v...)) }
func Errorf(format string, v ...interface{}) { emit(ErrWriter, errLog, errTimeLog, fmt.Sprintf(format, v...)) }

// WarnOrInfo implements a severity downgrade: shard failures that concern
// data already past its retention window are expected and logged at INFO
// rather than WARN.
func WarnOrInfo(stale bool, format string, v ...interface{}) {
	if stale {
		Infof(format, v...)
		return
	}
	Warnf(format, v...)
}

func emit(w io.Writer, plain, timed *log.Logger, out string) {
	if w == io.Discard {
		return
	}
	if logDateTime {
		timed.Output(3, out)
		return
	}
	plain.Output(3, out)
}
