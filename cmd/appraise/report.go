package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/fatih/color"

	"github.com/ahrav/go-appraise/internal/challenge"
	"github.com/ahrav/go-appraise/internal/consensus"
	"github.com/ahrav/go-appraise/internal/domain"
)

var (
	green  = color.New(color.FgGreen).SprintFunc()
	yellow = color.New(color.FgYellow).SprintFunc()
	red    = color.New(color.FgRed).SprintFunc()
	cyan   = color.New(color.FgCyan).SprintFunc()
	gray   = color.New(color.FgHiBlack).SprintFunc()
	bold   = color.New(color.Bold).SprintFunc()
)

func errorText(msg string) string { return red("error: " + msg) }

// roundLine renders one progress line for a recorded round.
func roundLine(ev challenge.RoundEvent) string {
	label := "initial"
	if ev.Round > 0 {
		label = fmt.Sprintf("round %d", ev.Round)
	}
	var price string
	switch {
	case ev.Appraisal.Failed():
		price = red("call failed")
	case ev.Appraisal.Price != nil:
		price = green(domain.USD(*ev.Appraisal.Price))
	default:
		price = yellow("no price")
	}
	return fmt.Sprintf("  %s %s %s", gray(label+":"), ev.AppraiserID, price)
}

// writeReport prints the human-readable summary of a run.
func writeReport(w io.Writer, r *consensus.Report) {
	res := r.Result
	fmt.Fprintf(w, "\n%s\n", bold("Consensus"))
	fmt.Fprintf(w, "  price:      %s\n", green(domain.USD(res.Price)))
	fmt.Fprintf(w, "  std dev:    %s\n", domain.USD(res.StandardDeviation))
	fmt.Fprintf(w, "  dispersion: %.2f\n", r.DispersionConfidence)
	if !r.AggregatorUsed {
		fmt.Fprintf(w, "  %s\n", yellow("aggregator unavailable, weighted price used"))
	}

	ids := make([]string, 0, len(res.Models))
	for id := range res.Models {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	fmt.Fprintf(w, "\n%s\n", bold("Models"))
	for _, id := range ids {
		d := res.Models[id]
		fmt.Fprintf(w, "  %-40s weight %.3f  similarity %.3f  change %.3f\n",
			id, d.Weight, d.TextSimilarity, d.PriceChange)
	}
	for _, id := range r.FailedAppraisers {
		fmt.Fprintf(w, "  %-40s %s\n", id, red("failed"))
	}

	if r.Accuracy != nil {
		a := r.Accuracy
		fmt.Fprintf(w, "\n%s\n", bold("Holdout"))
		fmt.Fprintf(w, "  actual:    %s\n", domain.USD(a.Actual))
		fmt.Fprintf(w, "  predicted: %s\n", domain.USD(a.Predicted))
		fmt.Fprintf(w, "  error:     %s (%.2f%%)\n", domain.USD(a.AbsoluteError), a.PercentageError)
		fmt.Fprintf(w, "  accuracy:  %s\n", accuracyText(a.Score))
	}

	if expl := strings.TrimSpace(res.Explanation); expl != "" {
		fmt.Fprintf(w, "\n%s\n  %s\n", bold("Explanation"), cyan(expl))
	}
	fmt.Fprintf(w, "\n%s\n", gray(fmt.Sprintf("run %s in %s", r.RunID, r.Duration.Round(1e6))))
}

func accuracyText(score float64) string {
	s := fmt.Sprintf("%.2f%%", score*100)
	switch {
	case score >= 0.9:
		return green(s)
	case score >= 0.7:
		return yellow(s)
	default:
		return red(s)
	}
}

// writeArtifact stores the consensus result JSON at path, creating parent
// directories as needed.
func writeArtifact(path string, r *consensus.Report) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create artifact dir: %w", err)
	}
	res := r.Result
	res.Sanitize()
	data, err := json.MarshalIndent(res, "", "  ")
	if err != nil {
		return fmt.Errorf("encode artifact: %w", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("write artifact: %w", err)
	}
	return nil
}
