// Copyright (c) 2016 The Decred developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package signal

import "github.com/btcsuite/btclog"

// log is this package's subsystem logger, disabled by default until the
// hosting binary calls UseLogger — the same pattern models/system use in
// the teacher repo.
var log = btclog.Disabled

// UseLogger sets the package-wide logger used by ShutdownListener.
func UseLogger(logger btclog.Logger) {
	log = logger
}
