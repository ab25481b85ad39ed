// Package simbackend is an in-process analysis service. It derives per-token
// findings from synthetic trade histories and serves them through the same
// HTTP API as the real service.
package simbackend

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/TeneoProtocolAI/walletscan/internal/core/domain"
)

type TradeType string

const (
	Buy  TradeType = "buy"
	Sell TradeType = "sell"
)

// Trade is one swap of a token for the scanned wallet.
type Trade struct {
	Type      TradeType
	Amount    decimal.Decimal
	PriceUSD  decimal.Decimal
	Timestamp time.Time
}

// Token describes a traded mint and its market prices.
type Token struct {
	Mint         string
	Symbol       string
	Name         string
	CurrentPrice decimal.Decimal
	AthPrice     decimal.Decimal
}

// Findings computes the record for token from its trades.
//
// Gain/loss is realized plus unrealized against the average buy price. Missed
// value counts what each sell left on the table against the all-time high.
// Every counter only grows as trades are appended, so partial results fold
// cleanly into later ones.
func Findings(token Token, trades []Trade) domain.TokenRecord {
	sorted := make([]Trade, len(trades))
	copy(sorted, trades)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Timestamp.Before(sorted[j].Timestamp)
	})

	var totalBought, totalSold, totalCost, totalRevenue decimal.Decimal
	var volume, purchaseSum, missed decimal.Decimal

	for _, t := range sorted {
		value := t.Amount.Mul(t.PriceUSD)
		volume = volume.Add(value)

		switch t.Type {
		case Buy:
			totalBought = totalBought.Add(t.Amount)
			totalCost = totalCost.Add(value)
			purchaseSum = purchaseSum.Add(t.PriceUSD)
		case Sell:
			totalSold = totalSold.Add(t.Amount)
			totalRevenue = totalRevenue.Add(value)
			if gap := token.AthPrice.Sub(t.PriceUSD); gap.IsPositive() {
				missed = missed.Add(gap.Mul(t.Amount))
			}
		}
	}

	currentBalance := totalBought.Sub(totalSold)
	// Sells before the first recorded buy
	if currentBalance.IsNegative() {
		currentBalance = decimal.Zero
	}

	avgBuyPrice := decimal.Zero
	if totalBought.IsPositive() {
		avgBuyPrice = totalCost.Div(totalBought)
	}

	realizedPnL := totalRevenue.Sub(totalSold.Mul(avgBuyPrice))
	unrealizedPnL := currentBalance.Mul(token.CurrentPrice.Sub(avgBuyPrice))

	rec := domain.TokenRecord{
		Mint:             token.Mint,
		Symbol:           token.Symbol,
		Name:             token.Name,
		Trades:           len(sorted),
		TotalVolume:      volume.Round(6),
		TotalGainLoss:    realizedPnL.Add(unrealizedPnL).Round(6),
		TotalMissedValue: missed.Round(6),
		PurchasePriceSum: purchaseSum,
		AthPriceSum:      token.AthPrice.Mul(decimal.NewFromInt(int64(len(sorted)))),
	}
	return rec.Derive()
}
