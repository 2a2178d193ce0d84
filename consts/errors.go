package consts

import "errors"

var (
	ErrMonitorAlreadyRunning = errors.New("monitor already running")
	ErrMonitorNotRunning     = errors.New("monitor not running")
)
