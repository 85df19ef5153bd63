// Package main provides CMA-ES trimming of a ship's field sources: it looks
// for per-source strength multipliers that move the line of action of the
// ship's own field force through its centre of mass, keeping the net force.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/gocarina/gocsv"
	"gonum.org/v1/gonum/optimize"
	"gopkg.in/yaml.v3"

	"github.com/pthm-cable/gdrive/config"
	"github.com/pthm-cable/gdrive/scenario"
)

// evalRecord is one row of trim_log.csv.
type evalRecord struct {
	Eval     int     `csv:"eval"`
	Fitness  float64 `csv:"fitness"`
	Force    float64 `csv:"force"`
	LeverArm float64 `csv:"lever_arm"`
}

// formatDuration formats a duration as HH:MM:SS or MM:SS for shorter durations.
func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	d -= m * time.Minute
	s := d / time.Second

	if h > 0 {
		return fmt.Sprintf("%dh%02dm%02ds", h, m, s)
	}
	return fmt.Sprintf("%dm%02ds", m, s)
}

func findShip(sc *scenario.Scenario, id uint64) *scenario.Ship {
	for i := range sc.Ships {
		if sc.Ships[i].ID == id {
			return &sc.Ships[i]
		}
	}
	return nil
}

func main() {
	configPath := flag.String("config", "", "Config YAML file (empty = use defaults)")
	scenarioPath := flag.String("scenario", "", "Scenario YAML file (empty = built-in docking scenario)")
	shipID := flag.Uint64("ship", 1, "ID of the ship to trim")
	lo := flag.Float64("min", 0.25, "Lowest strength multiplier")
	hi := flag.Float64("max", 2.0, "Highest strength multiplier")
	maxEvals := flag.Int("max-evals", 400, "Maximum number of evaluations")
	population := flag.Int("population", 0, "CMA-ES population size (0 = auto)")
	outputDir := flag.String("output", "", "Output directory for results")
	flag.Parse()

	if *outputDir == "" {
		log.Fatal("--output is required")
	}
	if err := os.MkdirAll(*outputDir, 0755); err != nil {
		log.Fatalf("failed to create output directory: %v", err)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	sc := scenario.Default()
	if *scenarioPath != "" {
		if sc, err = scenario.Load(*scenarioPath); err != nil {
			log.Fatalf("failed to load scenario: %v", err)
		}
	}
	ship := findShip(sc, *shipID)
	if ship == nil {
		log.Fatalf("scenario has no ship %d", *shipID)
	}
	if len(ship.Sources) < 2 {
		log.Fatalf("ship %d has %d sources; trimming needs at least two", *shipID, len(ship.Sources))
	}

	params := NewParamVector(ship, *lo, *hi)
	evaluator, err := NewFitnessEvaluator(ship, cfg.Field.Margin)
	if err != nil {
		log.Fatalf("ship %d: %v", *shipID, err)
	}

	dim := params.Dim()
	initX := params.Normalize(params.DefaultVector())
	baseline := evaluator.Evaluate(params.DefaultVector())
	baseRes := evaluator.LastResult()

	logPath := filepath.Join(*outputDir, "trim_log.csv")
	logFile, err := os.Create(logPath)
	if err != nil {
		log.Fatalf("failed to create log file: %v", err)
	}
	defer logFile.Close()

	evalCount := 0
	bestFitness := baseline
	bestParams := params.DefaultVector()
	startTime := time.Now()

	problem := optimize.Problem{
		Func: func(x []float64) float64 {
			clamped := params.Clamp(params.Denormalize(x))
			fitness := evaluator.Evaluate(clamped)
			res := evaluator.LastResult()
			evalCount++

			if fitness < bestFitness {
				bestFitness = fitness
				bestParams = clamped
			}

			rec := []evalRecord{{Eval: evalCount, Fitness: fitness, Force: res.Force, LeverArm: res.LeverArm}}
			if evalCount == 1 {
				err = gocsv.Marshal(rec, logFile)
			} else {
				err = gocsv.MarshalWithoutHeaders(rec, logFile)
			}
			if err != nil {
				log.Printf("failed to log eval %d: %v", evalCount, err)
			}

			if evalCount%25 == 0 {
				elapsed := time.Since(startTime)
				fmt.Printf("Eval %d/%d: lever=%.4f force=%.3f (best=%.4f) | elapsed: %s\n",
					evalCount, *maxEvals, res.LeverArm, res.Force, bestFitness, formatDuration(elapsed))
			}
			return fitness
		},
	}

	settings := &optimize.Settings{
		FuncEvaluations: *maxEvals,
		Concurrent:      0, // the evaluator reuses one manager
	}
	popSize := *population
	if popSize == 0 {
		popSize = 4 + int(3.0*float64(dim)/2.0)
	}
	method := &optimize.CmaEsChol{
		InitStepSize: 0.2,
		Population:   popSize,
	}

	fmt.Printf("Trimming ship %d: %d sources, target force %.3f, baseline lever arm %.4f\n",
		*shipID, dim, evaluator.Target(), baseRes.LeverArm)

	if _, err := optimize.Minimize(problem, initX, settings, method); err != nil {
		log.Printf("optimization ended: %v", err)
	}

	evaluator.Evaluate(bestParams)
	best := evaluator.LastResult()
	fmt.Printf("\nTrim complete after %d evaluations in %s\n", evalCount, formatDuration(time.Since(startTime)))
	fmt.Printf("Lever arm: %.4f -> %.4f, force: %.3f -> %.3f\n",
		baseRes.LeverArm, best.LeverArm, baseRes.Force, best.Force)
	for i, spec := range params.Specs {
		fmt.Printf("  %s: x%.4f\n", spec.Name, bestParams[i])
	}

	params.ApplyToShip(ship, bestParams)
	data, err := yaml.Marshal(sc)
	if err != nil {
		log.Fatalf("failed to marshal trimmed scenario: %v", err)
	}
	outPath := filepath.Join(*outputDir, "trimmed.yaml")
	if err := os.WriteFile(outPath, data, 0644); err != nil {
		log.Fatalf("failed to write trimmed scenario: %v", err)
	}
	fmt.Printf("\nTrimmed scenario saved to: %s\n", outPath)
}
