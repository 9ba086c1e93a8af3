package zigbee

import (
	"github.com/rs/zerolog"
)

func testLogger() zerolog.Logger { return zerolog.Nop() }

// waitForDispatcher blocks until every job enqueued before this call has run,
// by enqueuing a barrier job behind them and waiting for it.
func waitForDispatcher(d *Dispatcher) {
	done := make(chan struct{})
	d.enqueue(func() { close(done) })
	<-done
}
