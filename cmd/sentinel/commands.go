package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/kalambet/fcsentinel/internal/config"
	"github.com/kalambet/fcsentinel/internal/observability"
	"github.com/kalambet/fcsentinel/internal/pipeline"
	"github.com/kalambet/fcsentinel/internal/simulation"
	"github.com/kalambet/fcsentinel/internal/storage"
)

// --- cycle ---

var cycleCmd = &cobra.Command{
	Use:   "cycle",
	Short: "Run or trigger evaluation cycles",
}

var cycleRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Evaluate every FC locally and stream rows as they finish",
	Long: `Evaluate every FC locally and stream rows as they finish.

Examples:
  sentinel cycle run
  sentinel cycle run --scenario "Hurricane in East Coast" --workers 4`,
	RunE: func(cmd *cobra.Command, args []string) error {
		scenarios, _ := cmd.Flags().GetStringSlice("scenario")
		workers, _ := cmd.Flags().GetInt("workers")

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return runLocalCycle(ctx, scenarios, workers, os.Stdout)
	},
}

var cycleTriggerCmd = &cobra.Command{
	Use:   "trigger",
	Short: "Queue a cycle on the running server",
	RunE: func(cmd *cobra.Command, args []string) error {
		wait, _ := cmd.Flags().GetBool("wait")

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		return triggerCycle(cmd.Context(), client, wait, time.Second)
	},
}

func init() {
	cycleRunCmd.Flags().StringSlice("scenario", nil, "activate a simulation scenario (repeatable)")
	cycleRunCmd.Flags().Int("workers", 0, "concurrent FC evaluations (default cycle.workers)")
	cycleTriggerCmd.Flags().Bool("wait", false, "wait for the cycle to finish")
	cycleCmd.AddCommand(cycleRunCmd)
	cycleCmd.AddCommand(cycleTriggerCmd)
}

func runLocalCycle(ctx context.Context, scenarios []string, workers int, out io.Writer) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := newLogger(cfg.Log)
	if workers < 1 {
		workers = cfg.Cycle.Workers
	}

	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	defer store.Close()

	eng, err := openEngine(ctx, cfg)
	if err != nil {
		return err
	}

	svc := newServices(cfg, store, eng, observability.NewMetrics(), workers, logger)
	defer svc.Close()
	if err := svc.scenarios.Activate(scenarios...); err != nil {
		return err
	}
	if len(scenarios) > 0 {
		printStep("Simulating: %v", svc.scenarios.Active())
	}

	printRowHeader(out)
	res, err := svc.orchestrator.Run(ctx, func(row pipeline.Row) { printRow(out, row) })
	if errors.Is(err, context.Canceled) {
		printWarning("Cycle interrupted: %d evaluated, %d skipped", res.Evaluated+res.Failed, res.Skipped)
		return nil
	}
	if err != nil {
		return err
	}
	printSuccess("Cycle %s: %d evaluated, %d failed in %s",
		res.CycleID, res.Evaluated, res.Failed, res.FinishedAt.Sub(res.StartedAt).Round(time.Millisecond))
	return nil
}

type cycleJob struct {
	JobID     string `json:"job_id"`
	Status    string `json:"status"`
	Attempts  int    `json:"attempts"`
	LastError string `json:"last_error"`
}

func triggerCycle(ctx context.Context, c *apiClient, wait bool, poll time.Duration) error {
	resp, err := c.post(ctx, "/v1/cycles", nil)
	if err != nil {
		return err
	}
	var queued cycleJob
	if err := decodeJSON(resp, &queued); err != nil {
		return err
	}
	printSuccess("Queued cycle job %s", queued.JobID)
	if !wait {
		return nil
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(poll):
		}
		resp, err := c.get(ctx, "/v1/cycles/"+url.PathEscape(queued.JobID))
		if err != nil {
			return err
		}
		var job cycleJob
		if err := decodeJSON(resp, &job); err != nil {
			return err
		}
		switch job.Status {
		case storage.JobCompleted:
			printSuccess("Cycle job %s completed", job.JobID)
			return nil
		case storage.JobFailed:
			return fmt.Errorf("cycle job %s failed after %d attempts: %s", job.JobID, job.Attempts, job.LastError)
		}
	}
}

// --- fcs ---

var fcsCmd = &cobra.Command{
	Use:   "fcs",
	Short: "Inspect fulfillment centers",
}

var fcsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List FCs with their latest risk, highest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		rows, err := fetchRows(cmd.Context(), client)
		if err != nil {
			return err
		}
		if len(rows) == 0 {
			fmt.Println("No fulfillment centers found.")
			return nil
		}
		printRowHeader(os.Stdout)
		for _, row := range rows {
			printRow(os.Stdout, row)
		}
		return nil
	},
}

var fcsShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show an FC with its verdict and plan",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		return showFC(cmd.Context(), client, args[0], os.Stdout)
	},
}

func init() {
	fcsCmd.AddCommand(fcsListCmd)
	fcsCmd.AddCommand(fcsShowCmd)
}

func fetchRows(ctx context.Context, c *apiClient) ([]pipeline.Row, error) {
	resp, err := c.get(ctx, "/v1/fcs")
	if err != nil {
		return nil, err
	}
	var body struct {
		Data []pipeline.Row `json:"data"`
	}
	if err := decodeJSON(resp, &body); err != nil {
		return nil, err
	}
	return body.Data, nil
}

func showFC(ctx context.Context, c *apiClient, id string, out io.Writer) error {
	resp, err := c.get(ctx, "/v1/fcs/"+url.PathEscape(id))
	if err != nil {
		return err
	}
	var fc any
	if err := decodeJSON(resp, &fc); err != nil {
		return err
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(fc)
}

// --- evidence ---

var evidenceCmd = &cobra.Command{
	Use:   "evidence",
	Short: "Record or purge disruption evidence",
}

var evidenceAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Record a disruption signal for a city",
	Long: `Record a disruption signal for a city.

Examples:
  sentinel evidence add --category weather --city Boston --title "Blizzard warning" --signal -5
  sentinel evidence add --category labor --city Chicago --title "Dock workers strike" --signal high`,
	RunE: func(cmd *cobra.Command, args []string) error {
		rec := storage.EvidenceRecord{Source: "cli"}
		rec.Category, _ = cmd.Flags().GetString("category")
		rec.Location, _ = cmd.Flags().GetString("city")
		rec.Title, _ = cmd.Flags().GetString("title")
		rec.Detail, _ = cmd.Flags().GetString("detail")
		rec.Signal, _ = cmd.Flags().GetString("signal")

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		return addEvidence(cmd.Context(), client, rec)
	},
}

var evidencePurgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Delete evidence older than the retention window",
	RunE: func(cmd *cobra.Command, args []string) error {
		olderThan, _ := cmd.Flags().GetDuration("older-than")

		cfg, err := config.Load()
		if err != nil {
			return err
		}
		if olderThan <= 0 {
			olderThan = cfg.EvidenceRetention()
		}
		store, err := storage.Open(cfg.Storage.DataDir)
		if err != nil {
			return fmt.Errorf("opening storage: %w", err)
		}
		defer store.Close()

		n, err := store.PurgeEvidence(cmd.Context(), time.Now().Add(-olderThan))
		if err != nil {
			return err
		}
		printSuccess("Purged %d evidence records older than %s", n, olderThan)
		return nil
	},
}

func init() {
	evidenceAddCmd.Flags().String("category", "", "weather, social, news, labor or logistics")
	evidenceAddCmd.Flags().String("city", "", "city the signal is about")
	evidenceAddCmd.Flags().String("title", "", "headline or short description")
	evidenceAddCmd.Flags().String("detail", "", "longer text")
	evidenceAddCmd.Flags().String("signal", "", "temperature, sentiment, impact, severity or disruption level")
	evidenceAddCmd.MarkFlagRequired("category")
	evidenceAddCmd.MarkFlagRequired("city")
	evidenceAddCmd.MarkFlagRequired("title")
	evidencePurgeCmd.Flags().Duration("older-than", 0, "age cutoff (default evidence.retention)")
	evidenceCmd.AddCommand(evidenceAddCmd)
	evidenceCmd.AddCommand(evidencePurgeCmd)
}

func addEvidence(ctx context.Context, c *apiClient, rec storage.EvidenceRecord) error {
	resp, err := c.post(ctx, "/v1/evidence", rec)
	if err != nil {
		return err
	}
	var saved storage.EvidenceRecord
	if err := decodeJSON(resp, &saved); err != nil {
		return err
	}
	printSuccess("Stored %s evidence %s for %s", saved.Category, saved.ID, saved.Location)
	return nil
}

// --- simulate ---

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Manage simulated disruption scenarios on the running server",
}

var simulateListCmd = &cobra.Command{
	Use:   "list",
	Short: "List scenarios, marking the active ones",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		sim, err := fetchSimulation(cmd.Context(), client)
		if err != nil {
			return err
		}
		printScenarios(os.Stdout, sim)
		return nil
	},
}

var simulateSetCmd = &cobra.Command{
	Use:   "set <name>...",
	Short: "Replace the active scenarios",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		return setScenarios(cmd.Context(), client, args)
	},
}

var simulateClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Deactivate every scenario",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.delete(cmd.Context(), "/v1/simulation")
		if err != nil {
			return err
		}
		if err := decodeJSON(resp, nil); err != nil {
			return err
		}
		printSuccess("Simulation cleared")
		return nil
	},
}

func init() {
	simulateCmd.AddCommand(simulateListCmd)
	simulateCmd.AddCommand(simulateSetCmd)
	simulateCmd.AddCommand(simulateClearCmd)
}

type simulationState struct {
	Active    []string              `json:"active"`
	Available []simulation.Scenario `json:"available"`
}

func fetchSimulation(ctx context.Context, c *apiClient) (simulationState, error) {
	var sim simulationState
	resp, err := c.get(ctx, "/v1/simulation")
	if err != nil {
		return sim, err
	}
	err = decodeJSON(resp, &sim)
	return sim, err
}

func setScenarios(ctx context.Context, c *apiClient, names []string) error {
	resp, err := c.put(ctx, "/v1/simulation", map[string]any{"scenarios": names})
	if err != nil {
		return err
	}
	var sim simulationState
	if err := decodeJSON(resp, &sim); err != nil {
		return err
	}
	printSuccess("Active scenarios: %v", sim.Active)
	return nil
}

func printScenarios(out io.Writer, sim simulationState) {
	active := make(map[string]bool, len(sim.Active))
	for _, n := range sim.Active {
		active[n] = true
	}
	for _, sc := range sim.Available {
		mark := " "
		if active[sc.Name] {
			mark = colorize(colorGreen, "*")
		}
		fmt.Fprintf(out, "%s %s\n    %s\n", mark, colorize(colorBold, sc.Name), sc.Description)
	}
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		for _, k := range config.ShowAll(cfg) {
			fmt.Printf("  %s = %s\n", colorize(colorBold, k.Key), k.Value)
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		if err := config.SetKey(key, value); err != nil {
			return err
		}

		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
}
