package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/hungpt99-dev/ai-super-app-desktop-sub003/core/logger"
	"github.com/hungpt99-dev/ai-super-app-desktop-sub003/core/runtime"
)

var (
	runWorkspace string
	runSession   string
	runInputJSON string
)

var runCmd = &cobra.Command{
	Use:   "run <agent.yaml>",
	Short: "Execute an agent definition file",
	Long: `Loads an agent definition (graph, permissions, model, budget) from a
YAML file, registers it and runs it to completion. The final variables and
token usage are printed as JSON.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := logger.WithComponentName(cmd.Context(), "run")

		data, err := os.ReadFile(args[0])
		if err != nil {
			return err
		}
		var def runtime.AgentDefinition
		if err := yaml.Unmarshal(data, &def); err != nil {
			return fmt.Errorf("parse agent definition: %w", err)
		}

		a, err := bootstrap()
		if err != nil {
			return err
		}
		defer a.close()

		if _, err := a.manager.Install(ctx, echoPackage()); err != nil {
			return err
		}
		if err := a.registry.Register(ctx, &def); err != nil {
			return err
		}

		input := map[string]any{}
		if runInputJSON != "" {
			if err := json.Unmarshal([]byte(runInputJSON), &input); err != nil {
				return fmt.Errorf("invalid --input JSON: %w", err)
			}
		}

		ec, err := a.runtime.Execute(ctx, def.ID, runWorkspace, runSession, input)
		if err != nil {
			return err
		}

		out, err := json.MarshalIndent(map[string]any{
			"executionId": ec.ExecutionID,
			"status":      ec.Status,
			"variables":   ec.Variables,
			"tokenUsage":  ec.TokenUsage,
		}, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(out))
		return nil
	},
}

func init() {
	runCmd.Flags().StringVar(&runWorkspace, "workspace", "default", "workspace id")
	runCmd.Flags().StringVar(&runSession, "session", "", "session id")
	runCmd.Flags().StringVar(&runInputJSON, "input", "", "execution input as a JSON object")
	rootCmd.AddCommand(runCmd)
}
