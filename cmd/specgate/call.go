package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var callCmd = &cobra.Command{
	Use:   "call <endpoint-id>",
	Short: "Execute one registered endpoint",
	Long:  `Builds and executes a call against a registered endpoint. Parameters are given as repeated -P name=value flags and the body as a JSON string.`,
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := buildApp()
		if err != nil {
			return err
		}
		defer a.close()

		params, err := parsePairs(cmd, "param")
		if err != nil {
			return err
		}
		headerPairs, err := parsePairs(cmd, "header")
		if err != nil {
			return err
		}
		headers := make(map[string]string, len(headerPairs))
		for name, value := range headerPairs {
			headers[name] = fmt.Sprint(value)
		}

		var body any
		if raw, _ := cmd.Flags().GetString("body"); raw != "" {
			if err := json.Unmarshal([]byte(raw), &body); err != nil {
				return fmt.Errorf("body must be valid JSON: %w", err)
			}
		}

		user, _ := cmd.Flags().GetString("user")
		resp, err := a.gateway.CallEndpoint(cmd.Context(), args[0], user, params, headers, body)
		if err != nil {
			return err
		}

		out, err := json.MarshalIndent(resp, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(out))
		return nil
	},
}

// parsePairs reads repeated name=value flags into a parameter map
func parsePairs(cmd *cobra.Command, flag string) (map[string]any, error) {
	values, _ := cmd.Flags().GetStringArray(flag)
	if len(values) == 0 {
		return nil, nil
	}
	out := make(map[string]any, len(values))
	for _, pair := range values {
		name, value, found := strings.Cut(pair, "=")
		if !found || name == "" {
			return nil, fmt.Errorf("invalid --%s %q, expected name=value", flag, pair)
		}
		out[name] = value
	}
	return out, nil
}

func init() {
	rootCmd.AddCommand(callCmd)
	callCmd.Flags().StringArrayP("param", "P", nil, "Endpoint parameter as name=value (repeatable)")
	callCmd.Flags().StringArrayP("header", "H", nil, "Request header as name=value (repeatable)")
	callCmd.Flags().String("body", "", "Request body as a JSON string")
	callCmd.Flags().String("user", "", "User ID whose OAuth2 authorization to apply")
}
