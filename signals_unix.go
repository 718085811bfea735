// Copyright 2020 Kentaro Hibino. All rights reserved.
// Use of this source code is governed by a MIT license
// that can be found in the LICENSE file.

//go:build !windows

package taskkit

import (
	"os"
	"os/signal"

	"golang.org/x/sys/unix"
)

// waitForSignals blocks until SIGINT or SIGTERM, which it treats as a
// request to shut down. SIGTSTP pauses the named groups (every registered
// group if none are named) instead of exiting, letting an operator freeze
// dispatch without killing the process; a second SIGTSTP resumes them.
func (k *Kit) waitForSignals(groups ...string) {
	k.logger.Info("listening for signals...")
	if len(groups) == 0 {
		groups = k.groupNames()
	}
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, unix.SIGTERM, unix.SIGINT, unix.SIGTSTP)
	paused := false
	for {
		sig := <-sigs
		if sig == unix.SIGTSTP {
			if paused {
				k.Resume(groups...)
			} else {
				k.Pause(groups...)
			}
			paused = !paused
			continue
		}
		break
	}
}
