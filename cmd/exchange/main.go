// Command exchange is the composition root for the matching core: it
// loads configuration, wires every internal/exchange package together,
// and runs until SIGINT/SIGTERM. There is no HTTP/gRPC surface here —
// submission and market-data access are library calls against
// matching.Engine, out of scope for this binary (spec Non-goals).
//
// Grounded on cmd/server/main.go's flag parsing and graceful-shutdown
// shape, stripped of the teacher's service-registry/fx indirection and
// HTTP listener since this core hand-wires its collaborators directly.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mnt-exchange/core/internal/exchange/accounting"
	"github.com/mnt-exchange/core/internal/exchange/catalog"
	"github.com/mnt-exchange/core/internal/exchange/config"
	"github.com/mnt-exchange/core/internal/exchange/eventbus"
	"github.com/mnt-exchange/core/internal/exchange/exlog"
	"github.com/mnt-exchange/core/internal/exchange/funding"
	"github.com/mnt-exchange/core/internal/exchange/ledgerfile"
	"github.com/mnt-exchange/core/internal/exchange/matching"
	"github.com/mnt-exchange/core/internal/exchange/money"
	"github.com/mnt-exchange/core/internal/exchange/position"
	"github.com/mnt-exchange/core/internal/exchange/risk"
)

const (
	appName    = "mnt-exchange-core"
	appVersion = "v0.1.0"

	// defaultQtyExponent sizes the raw cross-product limits in
	// ExchangeConfig (max_position_size_raw, max_open_interest_per_product_raw):
	// those knobs are symbol-agnostic, so they're interpreted at the
	// same decimal exponent BTC-PERP itself uses.
	defaultQtyExponent = 8

	fundingPoolSize = 8

	// circuitBreakerBand and circuitBreakerCooldown match the §8 circuit
	// breaker scenario (band ±2%, cooldown before a tripped symbol can
	// reseed its reference price). Neither is exposed as an environment
	// knob in config.ExchangeConfig, so they're fixed here rather than
	// invented a config field for.
	circuitBreakerBand     = 20_000 // 0.02 at money.RateScale
	circuitBreakerCooldown = 5 * time.Minute
)

func main() {
	var (
		configPath = flag.String("config", "", "Path to configuration file (falls back to development defaults)")
		version    = flag.Bool("version", false, "Show version information")
	)
	flag.Parse()

	if *version {
		fmt.Printf("%s %s\n", appName, appVersion)
		return
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logFactory, err := exlog.NewFactory(cfg.Logging.Level, cfg.Logging.Encoding)
	if err != nil {
		log.Fatalf("logging: %v", err)
	}
	logger := logFactory.For("main")

	if err := os.MkdirAll(cfg.Exchange.LedgerDir, 0o755); err != nil {
		log.Fatalf("ledger dir: %v", err)
	}
	ledger, err := ledgerfile.Open(cfg.Exchange.LedgerDir + "/trades.ledger")
	if err != nil {
		log.Fatalf("ledger file: %v", err)
	}
	defer func() {
		if err := ledger.Close(); err != nil {
			logger.Error("ledger close failed", "error", err.Error())
		}
	}()

	cat, err := seedCatalog()
	if err != nil {
		log.Fatalf("catalog: %v", err)
	}

	bus, _ := eventbus.NewInMemory(logFactory.For("eventbus"))

	breaker := risk.NewBreaker(circuitBreakerBand, circuitBreakerCooldown)
	breaker.OnChange(func(symbol string, state risk.BreakerState) {
		bus.PublishBreakerChange(symbol, int(state))
	})

	riskLimits := risk.Limits{
		MaxDailyLoss:        money.Micro(cfg.Exchange.MaxNotionalPerUser),
		MaxNotionalPerOrder: money.Micro(cfg.Exchange.MaxNotionalPerUser),
	}
	riskEngine := risk.NewEngine(riskLimits, logFactory.For("risk"))

	journal := accounting.New(ledger, logFactory.For("accounting"), cfg.Exchange.ReconciliationEvery)

	posLimits := position.Limits{
		MaxPositionSize:           money.NewQty(cfg.Exchange.MaxPositionSize, defaultQtyExponent),
		MaxNotionalPerUser:        money.Micro(cfg.Exchange.MaxNotionalPerUser),
		MaxOpenPositions:          cfg.Exchange.MaxOpenPositions,
		MaxOpenInterestPerProduct: money.NewQty(cfg.Exchange.MaxOpenInterestPerProduct, defaultQtyExponent),
	}
	posMgr := position.New(cat, posLimits, journal, riskEngine, logFactory.For("position"))

	engine := matching.New(cat, riskEngine, breaker, posMgr, journal, bus,
		logFactory.For("matching"), cfg.Exchange.VATRate, cfg.Exchange.InsuranceContributionFraction)
	_ = engine // held by the composition root; nothing in this binary calls Submit on it.

	sched := funding.New(cat, posMgr, journal, logFactory.For("funding"),
		cfg.Exchange.FundingInterval, cfg.Exchange.MaxFundingRate, fundingPoolSize)

	ctx, cancel := context.WithCancel(context.Background())
	go sched.Run(ctx)

	logger.Info("exchange core started", "version", appVersion)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")
	cancel()
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.Default(), nil
	}
	return config.Load(path)
}

// seedCatalog loads the two instruments named in this market's funding
// and spot scenarios (spec §8): a perpetual with USD/MNT-style external
// reference, and a spot gold pair.
func seedCatalog() (*catalog.Catalog, error) {
	cat, err := catalog.New("1.0.0")
	if err != nil {
		return nil, err
	}

	btcPerp := &catalog.Product{
		Symbol:            "BTC-PERP",
		Category:          catalog.CategoryPerpetual,
		QtyExponent:       defaultQtyExponent,
		TickSize:          1,
		LotSize:           money.NewQty(1_000_000, defaultQtyExponent),
		MinOrderQty:       money.NewQty(1_000_000, defaultQtyExponent),
		MaxOrderQty:       money.NewQty(100_00_000_000, defaultQtyExponent),
		MinNotional:       1,
		InitialMarginRate: 100_000, // 0.10
		MakerFeeRate:      1_000,   // 0.001
		TakerFeeRate:      2_000,   // 0.002
		FundingRateStatic: 100,     // 0.0001
		HasExternalRef:    true,
		PriceBandRate:     100_000, // 10%
	}
	btcPerp.SetActive(true)
	btcPerp.SetMarkPrice(1_000_000)
	btcPerp.SetLastPrice(1_000_000)
	cat.Load(btcPerp)

	xauSpot := &catalog.Product{
		Symbol:           "XAU-SPOT",
		Category:         catalog.CategorySpot,
		QtyExponent:      defaultQtyExponent,
		TickSize:         1,
		LotSize:          money.NewQty(1_000_000, defaultQtyExponent),
		MinOrderQty:      money.NewQty(1_000_000, defaultQtyExponent),
		MaxOrderQty:      money.NewQty(100_00_000_000, defaultQtyExponent),
		MinNotional:      1,
		SpreadMarkupRate: 1_000, // 0.001
	}
	xauSpot.SetActive(true)
	xauSpot.SetMarkPrice(100_000)
	xauSpot.SetLastPrice(100_000)
	cat.Load(xauSpot)

	return cat, nil
}
