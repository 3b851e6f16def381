package client

import (
	"github.com/sirupsen/logrus"
)

// Notifier receives the user-facing progress and outcome messages a transfer
// session emits. State transitions never depend on what a Notifier does with
// them; it is purely an output port.
type Notifier interface {
	Loading(msg string)
	Success(msg string)
	Error(msg string)
}

type nopNotifier struct{}

func (nopNotifier) Loading(string) {}
func (nopNotifier) Success(string) {}
func (nopNotifier) Error(string)   {}

// NopNotifier discards all notifications.
var NopNotifier Notifier = nopNotifier{}

// LogNotifier forwards notifications to a logrus logger.
type LogNotifier struct {
	Log *logrus.Logger
}

func (n LogNotifier) logger() *logrus.Logger {
	if n.Log != nil {
		return n.Log
	}
	return logrus.StandardLogger()
}

func (n LogNotifier) Loading(msg string) {
	n.logger().WithField("notify", "loading").Info(msg)
}

func (n LogNotifier) Success(msg string) {
	n.logger().WithField("notify", "success").Info(msg)
}

func (n LogNotifier) Error(msg string) {
	n.logger().WithField("notify", "error").Warn(msg)
}
