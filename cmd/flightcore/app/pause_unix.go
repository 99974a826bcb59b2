//go:build !windows

package app

import (
	"os"
	"syscall"
)

// pauseSignals toggle the run state between RUNNING and PAUSED
var pauseSignals = []os.Signal{syscall.SIGUSR1}
