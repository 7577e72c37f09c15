package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hungpt99-dev/ai-super-app-desktop-sub003/core/logger"
	"github.com/hungpt99-dev/ai-super-app-desktop-sub003/core/module"
	"github.com/hungpt99-dev/ai-super-app-desktop-sub003/modules/echo"
)

// echoPackage wraps the built-in echo module as an installable package.
func echoPackage() module.Package {
	return module.Package{ManifestYAML: []byte(echo.ManifestYAML)}
}

var modulesCmd = &cobra.Command{
	Use:   "modules",
	Short: "Manage installed modules",
}

var modulesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List built-in modules and their manifests",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := logger.WithComponentName(cmd.Context(), "modules")

		a, err := bootstrap()
		if err != nil {
			return err
		}
		defer a.close()

		if _, err := a.manager.Install(ctx, echoPackage()); err != nil {
			return err
		}
		for _, m := range a.manager.Installed() {
			fmt.Printf("%s\t%s\t%s\n", m.Name, m.Version, m.Description)
		}
		return nil
	},
}

var toolInputJSON string

var modulesToolCmd = &cobra.Command{
	Use:   "tool <module> <tool>",
	Short: "Run a module tool",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := logger.WithComponentName(cmd.Context(), "modules")

		a, err := bootstrap()
		if err != nil {
			return err
		}
		defer a.close()

		if _, err := a.manager.Install(ctx, echoPackage()); err != nil {
			return err
		}

		var input map[string]any
		if toolInputJSON != "" {
			if err := json.Unmarshal([]byte(toolInputJSON), &input); err != nil {
				return fmt.Errorf("invalid --input JSON: %w", err)
			}
		}

		result, err := a.manager.RunTool(ctx, args[0], args[1], input)
		if err != nil {
			return err
		}
		out, err := json.MarshalIndent(result, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(out))
		return nil
	},
}

func init() {
	modulesToolCmd.Flags().StringVar(&toolInputJSON, "input", "", "tool input as a JSON object")
	modulesCmd.AddCommand(modulesListCmd, modulesToolCmd)
	rootCmd.AddCommand(modulesCmd)
}
