// Copyright 2020 Kentaro Hibino. All rights reserved.
// Use of this source code is governed by a MIT license
// that can be found in the LICENSE file.

//go:build windows

package taskkit

import (
	"os"
	"os/signal"
)

// waitForSignals blocks until an interrupt, which it treats as a request
// to shut down. Windows has no SIGTSTP equivalent wired here, so pause is
// not signal-triggered on this platform; call Kit.Pause directly instead.
// groups is accepted only to match the unix build's signature.
func (k *Kit) waitForSignals(groups ...string) {
	k.logger.Info("listening for signals...")
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt)
	<-sigs
}
