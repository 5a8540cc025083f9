package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
)

var registerCmd = &cobra.Command{
	Use:   "register <spec-file>",
	Short: "Register an API specification",
	Long:  `Reads an OpenAPI 3.x or AsyncAPI 2.x document (JSON or YAML) and registers its endpoints with the gateway.`,
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := buildApp()
		if err != nil {
			return err
		}
		defer a.close()

		raw, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("read spec file: %w", err)
		}

		name, _ := cmd.Flags().GetString("name")
		if name == "" {
			name = strings.TrimSuffix(filepath.Base(args[0]), filepath.Ext(args[0]))
		}

		doc, endpoints, err := a.gateway.RegisterSpecification(cmd.Context(), name, raw)
		if err != nil {
			return err
		}

		fmt.Printf("Registered %s (%s %s) as document %s\n", doc.Name, doc.Family, doc.Version, doc.ID)
		for i := range endpoints {
			fmt.Printf("  %-10s %-40s %s\n",
				endpoints[i].Operation, endpoints[i].AddressPattern, endpoints[i].ID)
		}

		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
			out, err := json.MarshalIndent(map[string]any{
				"document":  doc,
				"endpoints": endpoints,
			}, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(out))
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(registerCmd)
	registerCmd.Flags().String("name", "", "Display name for the document (default: file name)")
	registerCmd.Flags().Bool("json", false, "Print the full registration as JSON")
}
