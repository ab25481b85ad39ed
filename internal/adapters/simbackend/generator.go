package simbackend

import (
	"crypto/sha256"
	"encoding/hex"
	"hash/fnv"
	"math/rand"
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

var symbols = []struct{ symbol, name string }{
	{"BONK", "Bonk"},
	{"WIF", "dogwifhat"},
	{"JUP", "Jupiter"},
	{"PYTH", "Pyth Network"},
	{"RAY", "Raydium"},
	{"ORCA", "Orca"},
	{"POPCAT", "Popcat"},
	{"MEW", "cat in a dogs world"},
	{"SAMO", "Samoyedcoin"},
	{"JTO", "Jito"},
	{"RENDER", "Render"},
	{"HNT", "Helium"},
}

// plannedTrade is one entry of a wallet's history in processing order.
type plannedTrade struct {
	token int
	trade Trade
}

// history is the full synthetic trade history of one wallet.
type history struct {
	tokens []Token
	trades []plannedTrade
}

// generateHistory builds a deterministic history for key. The same key always
// yields the same tokens, prices and trades.
func generateHistory(key string, tokenCount, tradesPerToken int, end time.Time) *history {
	h := fnv.New64a()
	h.Write([]byte(key))
	rng := rand.New(rand.NewSource(int64(h.Sum64())))

	hist := &history{}
	start := end.Add(-90 * 24 * time.Hour)

	for i := 0; i < tokenCount; i++ {
		meta := symbols[i%len(symbols)]
		price := decimal.NewFromFloat(0.01 + rng.Float64()*20).Round(6)
		peak := price

		var balance decimal.Decimal
		at := start.Add(time.Duration(rng.Int63n(int64(30 * 24 * time.Hour))))

		for n := 0; n < tradesPerToken; n++ {
			// Random walk between -40% and +60%
			move := decimal.NewFromFloat(0.6 + rng.Float64())
			price = price.Mul(move).Round(6)
			if price.GreaterThan(peak) {
				peak = price
			}

			t := Trade{Type: Buy, PriceUSD: price, Timestamp: at}
			if n > 0 && balance.IsPositive() && rng.Intn(2) == 0 {
				t.Type = Sell
				t.Amount = balance.Mul(decimal.NewFromFloat(0.25 + rng.Float64()*0.75)).Round(4)
				balance = balance.Sub(t.Amount)
			} else {
				t.Amount = decimal.NewFromInt(int64(10 + rng.Intn(990)))
				balance = balance.Add(t.Amount)
			}
			hist.trades = append(hist.trades, plannedTrade{token: i, trade: t})
			at = at.Add(time.Duration(1+rng.Intn(72)) * time.Hour)
		}

		hist.tokens = append(hist.tokens, Token{
			Mint:         mintAddress(key, i),
			Symbol:       meta.symbol,
			Name:         meta.name,
			CurrentPrice: price.Mul(decimal.NewFromFloat(0.5 + rng.Float64())).Round(6),
			AthPrice:     peak.Mul(decimal.NewFromFloat(1 + rng.Float64()*0.5)).Round(6),
		})
	}

	sort.SliceStable(hist.trades, func(i, j int) bool {
		return hist.trades[i].trade.Timestamp.Before(hist.trades[j].trade.Timestamp)
	})
	return hist
}

func mintAddress(key string, i int) string {
	sum := sha256.Sum256([]byte{byte(i), byte(i >> 8)})
	sum = sha256.Sum256(append(sum[:], key...))
	return hex.EncodeToString(sum[:16])
}

// records folds the first processed trades into one record per token, in
// order of first appearance.
func (h *history) records(processed int) []tokenState {
	if processed > len(h.trades) {
		processed = len(h.trades)
	}

	index := make(map[int]int)
	var out []tokenState
	for _, pt := range h.trades[:processed] {
		pos, ok := index[pt.token]
		if !ok {
			pos = len(out)
			index[pt.token] = pos
			out = append(out, tokenState{token: h.tokens[pt.token]})
		}
		out[pos].trades = append(out[pos].trades, pt.trade)
	}
	return out
}

type tokenState struct {
	token  Token
	trades []Trade
}
