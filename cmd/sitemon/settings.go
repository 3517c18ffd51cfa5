package main

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/site_mon/internal/clock"
	"github.com/eliteGoblin/focusd/site_mon/internal/usecase"
)

func newBreakCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "break",
		Short: "Pause all blocking for a while",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "start <minutes>",
		Short: fmt.Sprintf("Start a break of %d to %d minutes", usecase.MinBreakMinutes, usecase.MaxBreakMinutes),
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			minutes, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("minutes must be a number: %w", err)
			}
			return withBreaker(func(b *usecase.Breaker) error {
				state, err := b.Start(minutes)
				if err != nil {
					return err
				}
				fmt.Printf("Break started, blocking resumes at %s\n", state.EndTime().Format("15:04"))
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "end",
		Short: "End the current break now",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withBreaker(func(b *usecase.Breaker) error {
				if err := b.End(); err != nil {
					return err
				}
				fmt.Println("Break ended, blocking resumed")
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show the current break",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withBreaker(func(b *usecase.Breaker) error {
				state, err := b.State()
				if err != nil {
					return err
				}
				if !state.Active {
					fmt.Println("No break active")
					return nil
				}
				fmt.Printf("Break active until %s (%s left)\n",
					state.EndTime().Format("15:04"), b.Remaining(state).Round(time.Second))
				return nil
			})
		},
	})

	return cmd
}

// withBreaker runs fn against a breaker over the settings store. The
// running daemon notices the change on its next revision poll.
func withBreaker(fn func(b *usecase.Breaker) error) error {
	_, store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()
	return fn(usecase.NewBreaker(store, clock.RealClock{}, zap.NewNop()))
}

func newExportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "export [file]",
		Short: "Write settings as JSON to a file or stdout",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, store, err := openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			cfg, err := store.Load()
			if err != nil {
				return err
			}
			data, err := usecase.ExportSettings(cfg)
			if err != nil {
				return err
			}
			data = append(data, '\n')

			if len(args) == 0 {
				_, err = os.Stdout.Write(data)
				return err
			}
			if err := os.WriteFile(args[0], data, 0600); err != nil {
				return fmt.Errorf("failed to write %s: %w", args[0], err)
			}
			fmt.Printf("Exported %d rule groups to %s\n", len(cfg.RuleGroups), args[0])
			return nil
		},
	}
}

func newImportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import <file|->",
		Short: "Replace rule groups with those from a JSON settings file",
		Long: `Replaces every rule group with the groups in the file. Groups that
cannot be read are skipped with a warning; the rest are still imported.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := readInput(args[0])
			if err != nil {
				return err
			}
			result, err := usecase.ImportSettings(data)
			if err != nil {
				return err
			}

			_, store, err := openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			logger, _ := zap.NewDevelopment()
			defer func() { _ = logger.Sync() }()

			if err := result.Apply(store, logger); err != nil {
				return err
			}
			fmt.Printf("Imported %d rule groups, skipped %d\n", len(result.Groups), len(result.Skipped))
			return nil
		},
	}
}

func readInput(path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(os.Stdin)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return data, nil
}
