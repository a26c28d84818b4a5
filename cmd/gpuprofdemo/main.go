// gpuprofdemo drives the GPU activity pipeline end-to-end against a
// scripted mock vendor backend, so the pipeline's wiring can be
// exercised and inspected without a CUDA-capable GPU.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/gpuprof/gpuprof/internal/mcpsurface"
	"github.com/gpuprof/gpuprof/internal/pipeline"
)

var version = "0.1.0"

func main() {
	rootCmd := &cobra.Command{
		Use:     "gpuprofdemo",
		Short:   "Drive the GPU activity pipeline against a scripted mock vendor backend",
		Version: version,
	}

	var (
		runProfile string
		runOutput  string
	)
	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Run the scripted two-stream demo scenario and print the attributed activities as JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := os.Stdout
			if runOutput != "-" {
				f, err := os.Create(runOutput)
				if err != nil {
					return fmt.Errorf("gpuprofdemo: open output: %w", err)
				}
				defer f.Close()
				_, err = runDemo(runProfile, f)
				return err
			}
			_, err := runDemo(runProfile, out)
			return err
		},
	}
	runCmd.Flags().StringVarP(&runProfile, "profile", "p", "balanced", fmt.Sprintf("Sampling profile: %v", pipeline.ProfileNames()))
	runCmd.Flags().StringVarP(&runOutput, "output", "o", "-", "Output file path for the JSON activity export (- for stdout)")

	var mcpProfile string
	mcpCmd := &cobra.Command{
		Use:   "mcp",
		Short: "Run the demo scenario, then serve its stats over an MCP stdio server",
		Long: `Runs the scripted demo scenario once, then starts a JSON-RPC server
implementing the Model Context Protocol (MCP) over stdio, exposing the
finished pipeline's drop counter, cubin registry stats, and trace
backlog as read-only tools.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := runDemo(mcpProfile, os.Stderr)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			srv := mcpsurface.NewServer("gpuprofdemo", version, p)
			return srv.Start(ctx)
		},
	}
	mcpCmd.Flags().StringVarP(&mcpProfile, "profile", "p", "balanced", "Sampling profile for the driven scenario")

	rootCmd.AddCommand(runCmd, mcpCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
