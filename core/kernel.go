package core

// Kernel runs the entry loop: it drains the inbox for the current level one
// message at a time, dispatching each through the Dispatcher, until
// ReadInput reports the level is exhausted. A *LifetimeViolation panic from
// anywhere beneath Dispatch is the one condition that halts the loop rather
// than continuing to the next message — an unrecoverable bug that ends the
// level with a distinguished error instead of silently skipping it. The
// loop itself is a generalization of a fixed-size block-processing loop to
// an open-ended per-level inbox drain.

import (
	"fmt"

	"github.com/sirupsen/logrus"
)

// Kernel runs the drain-inbox loop against a Host and Dispatcher.
type Kernel struct {
	host       Host
	dispatcher *Dispatcher
	log        *logrus.Logger
}

// NewKernel constructs a Kernel. A nil logger falls back to logrus's
// package-level default, so a single shared *logrus.Logger can be threaded
// through every long-running component without forcing one at construction.
func NewKernel(host Host, dispatcher *Dispatcher, log *logrus.Logger) *Kernel {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Kernel{host: host, dispatcher: dispatcher, log: log}
}

// LevelReport summarizes one RunLevel call, for devnet tooling and tests.
type LevelReport struct {
	MessagesProcessed int
	Results           []DispatchResult
}

// RunLevel drains the inbox until Host.ReadInput reports exhaustion,
// dispatching each message in order. It recovers a *LifetimeViolation panic
// at the top of the loop, logs it as fatal, and returns it as an error
// instead of letting it escape the process — callers (the `jstzd run`
// command, tests) decide whether "halt the process" actually means os.Exit.
func (k *Kernel) RunLevel() (report LevelReport, err error) {
	defer func() {
		if r := recover(); r != nil {
			if lv, ok := r.(*LifetimeViolation); ok {
				k.log.WithField("violation", lv.Error()).Error("kernel: fatal transaction lifetime violation, halting level")
				err = lv
				return
			}
			panic(r)
		}
	}()

	var lastLevel uint64
	for {
		msg, ok, rerr := k.host.ReadInput()
		if rerr != nil {
			return report, NewError(KindStorageFailure, "read inbox", rerr)
		}
		if !ok {
			break
		}
		lastLevel = msg.Level

		k.dispatcher.SetLevel(msg.Level)
		result, derr := k.dispatcher.DispatchMessage(msg.Payload)
		if derr != nil {
			k.log.WithFields(logrus.Fields{
				"level": msg.Level,
				"id":    msg.ID,
				"error": derr,
			}).Warn("kernel: message rejected before dispatch")
			report.MessagesProcessed++
			continue
		}
		report.MessagesProcessed++
		report.Results = append(report.Results, result)
		k.host.WriteDebug(fmt.Sprintf("kernel: processed level=%d id=%d kind=%d", msg.Level, msg.ID, result.Kind))
	}

	if report.MessagesProcessed > 0 {
		k.dispatcher.ExpireOracleRequests(lastLevel)
	}
	k.host.WriteDebug(fmt.Sprintf("kernel: end of level, %d messages processed", report.MessagesProcessed))
	return report, nil
}
