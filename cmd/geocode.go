package main

import (
	"encoding/json"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/support934/smartgecode-saas/pkg/geocode"
)

var geocodeCmd = &cobra.Command{
	Use:   "geocode <address>",
	Short: "Geocode one address and print the result as JSON",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate("geocode"); err != nil {
			return err
		}

		query := strings.TrimSpace(strings.Join(args, " "))
		if query == "" {
			return eris.New("address must not be empty")
		}

		res := newGeocoder(nil).Lookup(cmd.Context(), geocode.BuildQuery(query, "", "", ""))
		return printLookup(cmd, res)
	},
}

func printLookup(cmd *cobra.Command, res geocode.Result) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(res); err != nil {
		return eris.Wrap(err, "encode result")
	}
	if !res.Matched() {
		return eris.Errorf("no match (%s)", res.Failure)
	}
	return nil
}

func init() {
	rootCmd.AddCommand(geocodeCmd)
}
