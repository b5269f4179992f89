package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"dealdesk/internal/types"
)

var (
	dealName    string
	dealDomain  string
	dealThesis  string
	dealStage   string
	dealSectors []string
	runSeq      int
	forceRerun  bool
)

var newCmd = &cobra.Command{
	Use:   "new",
	Short: "Create a deal",
	RunE: func(cmd *cobra.Command, args []string) error {
		if dealName == "" || dealDomain == "" {
			return fmt.Errorf("--name and --domain are required")
		}
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		mgr, err := buildStore(cfg)
		if err != nil {
			return err
		}
		deal := types.Deal{
			ID:     uuid.NewString(),
			Name:   dealName,
			Domain: dealDomain,
			Profile: types.InvestorProfile{
				Thesis:  dealThesis,
				Stage:   dealStage,
				Sectors: dealSectors,
			},
			CreatedAt: time.Now().UTC(),
		}
		if err := mgr.CreateDeal(deal); err != nil {
			return err
		}
		fmt.Println(deal.ID)
		return nil
	},
}

var runCmd = &cobra.Command{
	Use:   "run [deal-id]",
	Short: "Run the evaluation pipeline for a deal",
	Long: `Starts the first run for a deal, or resumes an interrupted one from its
completion markers. A completed deal is left alone unless --rerun is given,
which archives the prior run's artifacts and evaluates from scratch. A
degraded persona never aborts the run.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		orch, _, err := buildOrchestrator(cmd.Context(), cfg, nil)
		if err != nil {
			return err
		}
		if forceRerun {
			return orch.Rerun(cmd.Context(), args[0])
		}
		return orch.Run(cmd.Context(), args[0])
	},
}

var resumeCmd = &cobra.Command{
	Use:   "resume [deal-id]",
	Short: "Resume the active run from its first incomplete stage",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		orch, _, err := buildOrchestrator(cmd.Context(), cfg, nil)
		if err != nil {
			return err
		}
		return orch.Resume(cmd.Context(), args[0])
	},
}

var statusCmd = &cobra.Command{
	Use:   "status [deal-id]",
	Short: "Probe run status, advancing a stalled run by one unit of work",
	Long: `Prints the run summary. The probe doubles as the resume trigger: if the
active run has stalled (the process driving it died), exactly one incomplete
unit of work is executed before reporting.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		orch, mgr, err := buildOrchestrator(cmd.Context(), cfg, nil)
		if err != nil {
			return err
		}
		dealID := args[0]

		advance, err := orch.AdvanceIfStalled(cmd.Context(), dealID)
		if err != nil {
			return err
		}
		logger.Info("stall probe", zap.String("result", string(advance)))

		runs, err := mgr.Runs(dealID)
		if err != nil {
			return err
		}
		markers, err := mgr.Markers(dealID)
		if err != nil {
			return err
		}
		personas, err := mgr.PersonaOutputs(dealID)
		if err != nil {
			return err
		}
		out := map[string]any{
			"advance":  advance,
			"runs":     runs,
			"markers":  markers,
			"personas": personas,
		}
		return json.NewEncoder(os.Stdout).Encode(out)
	},
}

var showCmd = &cobra.Command{
	Use:   "show [deal-id]",
	Short: "Print the canonical deal state snapshot",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		mgr, err := buildStore(cfg)
		if err != nil {
			return err
		}
		var state *types.DealState
		if runSeq > 0 {
			state, err = mgr.ArchivedSnapshot(args[0], runSeq)
		} else {
			state, err = mgr.Snapshot(args[0])
		}
		if err != nil {
			return err
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(state)
	},
}

var rebuildCmd = &cobra.Command{
	Use:   "rebuild [deal-id]",
	Short: "Refold the event log into the snapshot and projection",
	Long: `The append log is ground truth; the snapshot and the SQLite read model
are derived caches. rebuild drops both and regenerates them from the log.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		mgr, err := buildStore(cfg)
		if err != nil {
			return err
		}
		state, err := mgr.Rebuild(args[0])
		if err != nil {
			return err
		}
		logger.Info("rebuilt",
			zap.String("deal_id", args[0]),
			zap.Int("evidence", len(state.Evidence)),
			zap.Int("hypotheses", len(state.Hypotheses)))
		return nil
	},
}

func init() {
	newCmd.Flags().StringVar(&dealName, "name", "", "company name")
	newCmd.Flags().StringVar(&dealDomain, "domain", "", "company domain")
	newCmd.Flags().StringVar(&dealThesis, "thesis", "", "investor thesis")
	newCmd.Flags().StringVar(&dealStage, "stage", "seed", "investment stage")
	newCmd.Flags().StringSliceVar(&dealSectors, "sector", nil, "sector tags")
	runCmd.Flags().BoolVar(&forceRerun, "rerun", false, "start a fresh run even if the last one completed")
	showCmd.Flags().IntVar(&runSeq, "run", 0, "archived run sequence number (default: current)")
}
