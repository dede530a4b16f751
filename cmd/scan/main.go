// One-shot quant scan: pulls daily bars for the default universe, runs the
// indicator engine and prints the ranked composite scores. Useful for
// checking trigger behavior without starting the bot.
package main

import (
	"context"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/joho/godotenv"

	"krx-trading-bot/config"
	"krx-trading-bot/internal/broker"
	"krx-trading-bot/internal/indicator"
	"krx-trading-bot/internal/scanner"
)

func main() {
	godotenv.Load()
	godotenv.Load(".env")

	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("config: %v\n", err)
		os.Exit(1)
	}

	var b broker.Broker
	if cfg.BrokerConfig.MockMode || cfg.BrokerConfig.AppKey == "" {
		fmt.Println("No broker credentials, scanning synthetic mock data")
		b = broker.NewMockClient()
	} else {
		b = broker.NewClient(broker.Config{
			AppKey:    cfg.BrokerConfig.AppKey,
			AppSecret: cfg.BrokerConfig.AppSecret,
			AccountNo: cfg.BrokerConfig.AccountNo,
			BaseURL:   cfg.BrokerConfig.BaseURL,
		})
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	universe := scanner.DefaultUniverse()
	results := make([]*indicator.ScanResult, 0, len(universe))
	failures := 0
	for _, stock := range universe {
		bars, err := b.GetDailyPrices(ctx, stock.Symbol, time.Now())
		if err != nil {
			fmt.Printf("  %s %-20s FAILED: %v\n", stock.Symbol, stock.Company, err)
			failures++
			continue
		}
		results = append(results, indicator.Analyze(stock.Symbol, stock.Company, bars))
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].CompositeScore != results[j].CompositeScore {
			return results[i].CompositeScore > results[j].CompositeScore
		}
		return results[i].Symbol < results[j].Symbol
	})

	fmt.Printf("\n%-8s %-22s %6s %6s %6s %6s  %s\n",
		"SYMBOL", "COMPANY", "SCORE", "BULL", "BEAR", "NEUT", "ACTION")
	for _, r := range results {
		fmt.Printf("%-8s %-22s %6d %6d %6d %6d  %s\n",
			r.Symbol, r.Company, r.CompositeScore,
			r.BullishCount, r.BearishCount, r.NeutralCount, r.Action)
	}
	fmt.Printf("\nScanned %d symbols, %d failures\n", len(results), failures)
}
