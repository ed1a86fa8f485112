package ctpsim

import (
	"sync"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/tradewell/ctpgate/internal/ctp"
)

type discardReceiver struct{}

func (discardReceiver) OnMessage(ctp.Message) {}

func TestReleaseDuringDeliveriesDoesNotPanic(t *testing.T) {
	s := New(Options{})
	s.SetReceiver(discardReceiver{})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				s.EmitTick(ctp.Tick{InstrumentID: "cu2509", LastPrice: decimal.NewFromInt(71230)})
			}
		}()
	}
	s.Release()
	wg.Wait()

	// Release is idempotent.
	s.Release()
}
