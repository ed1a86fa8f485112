// Command gateway runs the client against the in-memory simulator and
// prints every domain event as JSON. It exists to exercise the full
// orchestration path end to end without a broker account.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"

	"github.com/tradewell/ctpgate/config"
	"github.com/tradewell/ctpgate/core/events"
	"github.com/tradewell/ctpgate/gateway"
	"github.com/tradewell/ctpgate/internal/bus/eventbus"
	"github.com/tradewell/ctpgate/internal/ctp"
	"github.com/tradewell/ctpgate/internal/ctp/ctpsim"
	"github.com/tradewell/ctpgate/internal/marketdata"
	"github.com/tradewell/ctpgate/internal/observability"
)

func main() {
	var (
		configPath  = flag.String("config", "", "path to YAML configuration")
		instruments = flag.String("instruments", "cu2509,rb2510", "comma-separated instruments to subscribe")
		tickEvery   = flag.Duration("tick-every", time.Second, "simulated tick interval")
	)
	flag.Parse()

	if err := run(*configPath, splitList(*instruments), *tickEvery); err != nil {
		log.Fatalf("gateway: %v", err)
	}
}

func run(configPath string, instruments []string, tickEvery time.Duration) error {
	observability.SetLogger(&observability.StderrLogger{})

	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	login := ctp.LoginField{
		TradingDay:  time.Now().Format("20060102"),
		FrontID:     1,
		SessionID:   1001,
		MaxOrderRef: "1",
	}
	md := ctpsim.New(ctpsim.Options{Login: login})
	td := ctpsim.New(ctpsim.Options{Login: login, AutoAccept: true, AutoFill: true})

	client, err := gateway.New(cfg, md, td, gateway.WithMetrics(prometheus.DefaultRegisterer))
	if err != nil {
		return err
	}
	defer client.Close()

	sub := client.OnEvent("stdout", eventbus.DropOldest, printEvent)
	defer sub.Cancel()

	if err := client.Connect(ctx); err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	if err := client.Subscribe(instruments, marketdata.PriorityNormal); err != nil {
		return err
	}

	go emitTicks(ctx, md, instruments, tickEvery)

	<-ctx.Done()
	observability.Log().Info("shutting down")
	client.Disconnect()
	return nil
}

func loadConfig(path string) (config.Gateway, error) {
	if path != "" {
		return config.Load(path)
	}
	cfg := config.FromEnv()
	if len(cfg.MarketDataFronts) == 0 {
		cfg.MarketDataFronts = []string{"sim://market-data"}
	}
	if len(cfg.TraderFronts) == 0 {
		cfg.TraderFronts = []string{"sim://trader"}
	}
	if cfg.Credentials.BrokerID == "" {
		cfg.Credentials.BrokerID = "9999"
	}
	if cfg.Credentials.UserID == "" {
		cfg.Credentials.UserID = "sim"
	}
	return cfg, nil
}

func printEvent(evt events.Event) {
	line, err := json.Marshal(evt)
	if err != nil {
		observability.Log().Warn("event marshal failed", observability.Err(err))
		return
	}
	fmt.Fprintln(os.Stdout, string(line))
}

// emitTicks drives a random-walk price per instrument until the context ends.
func emitTicks(ctx context.Context, md *ctpsim.Sim, instruments []string, every time.Duration) {
	prices := make(map[string]decimal.Decimal, len(instruments))
	for i, instrument := range instruments {
		prices[instrument] = decimal.NewFromInt(int64(70000 + i*1000))
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	step := decimal.NewFromInt(10)
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			for _, instrument := range instruments {
				price := prices[instrument]
				if now.UnixNano()%2 == 0 {
					price = price.Add(step)
				} else {
					price = price.Sub(step)
				}
				prices[instrument] = price
				md.EmitTick(ctp.Tick{
					InstrumentID: instrument,
					TradingDay:   now.Format("20060102"),
					UpdateTime:   now.Format("15:04:05"),
					LastPrice:    price,
					BidPrice:     price.Sub(decimal.New(1, 0)),
					BidVolume:    5,
					AskPrice:     price.Add(decimal.New(1, 0)),
					AskVolume:    5,
					Volume:       1,
				})
			}
		}
	}
}

func splitList(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
