package service

import (
	"sort"

	"github.com/shopspring/decimal"

	"github.com/TeneoProtocolAI/walletscan/internal/core/domain"
)

// Project derives the read model from the job and the accumulated results.
// It never mutates its inputs and accepts an empty or not-yet-started job.
func Project(job domain.AnalysisJob, results domain.ResultSnapshot) domain.ViewModel {
	status := job.Status
	if status == "" {
		status = domain.StatusNotFound
	}

	vm := domain.ViewModel{
		Key:              job.Key,
		Status:           status,
		Progress:         job.Progress,
		LastHeartbeat:    job.LastHeartbeat,
		Restarts:         job.Restarts,
		Tokens:           make([]domain.TokenRecord, 0, len(results.Records)),
		TotalMissedValue: decimal.Zero,
		TotalGainLoss:    decimal.Zero,
		TotalVolume:      decimal.Zero,
		HasMore:          results.Loaded < results.Total,
		Total:            results.Total,
		LoadedCount:      results.Loaded,
		Loading:          results.Fetching || status == domain.StatusPending || status == domain.StatusProcessing,
		Error:            projectError(job, results),
	}

	var best, worst *domain.TokenRecord
	for i := range results.Records {
		rec := results.Records[i]
		vm.Tokens = append(vm.Tokens, rec)

		vm.TotalMissedValue = vm.TotalMissedValue.Add(rec.TotalMissedValue)
		vm.TotalGainLoss = vm.TotalGainLoss.Add(rec.TotalGainLoss)
		vm.TotalVolume = vm.TotalVolume.Add(rec.TotalVolume)

		switch rec.TotalGainLoss.Sign() {
		case 1:
			vm.Distribution.InProfit++
		case -1:
			vm.Distribution.InLoss++
		default:
			vm.Distribution.StillHeld++
		}

		if best == nil || outperforms(rec, *best) {
			r := rec
			best = &r
		}
		if worst == nil || underperforms(rec, *worst) {
			r := rec
			worst = &r
		}
	}
	vm.BestPerformer = best
	vm.WorstPerformer = worst

	sort.SliceStable(vm.Tokens, func(i, j int) bool {
		if c := vm.Tokens[i].TotalMissedValue.Cmp(vm.Tokens[j].TotalMissedValue); c != 0 {
			return c > 0
		}
		return vm.Tokens[i].Mint < vm.Tokens[j].Mint
	})
	return vm
}

// outperforms orders by gain/loss, breaking ties by the smaller mint.
func outperforms(a, b domain.TokenRecord) bool {
	if c := a.TotalGainLoss.Cmp(b.TotalGainLoss); c != 0 {
		return c > 0
	}
	return a.Mint < b.Mint
}

func underperforms(a, b domain.TokenRecord) bool {
	if c := a.TotalGainLoss.Cmp(b.TotalGainLoss); c != 0 {
		return c < 0
	}
	return a.Mint < b.Mint
}

func projectError(job domain.AnalysisJob, results domain.ResultSnapshot) string {
	switch {
	case job.Status == domain.StatusFailed && job.Error != "":
		return job.Error
	case job.LastError != "":
		return job.LastError
	default:
		return results.LastError
	}
}
