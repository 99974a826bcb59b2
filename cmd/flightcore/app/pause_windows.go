//go:build windows

package app

import "os"

// pauseSignals is empty: Windows has no user signals
var pauseSignals []os.Signal
