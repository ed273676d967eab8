package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

var auditJSON bool

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Report keys and orders that violate allocation invariants",
	RunE:  runAudit,
}

func init() {
	auditCmd.Flags().BoolVar(&auditJSON, "json", false, "output as JSON")
}

func runAudit(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd.Context(), loadConfig())
	if err != nil {
		return err
	}
	defer a.Close()

	anomalies, err := a.service.Audit(cmd.Context())
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if auditJSON {
		data, err := json.MarshalIndent(anomalies, "", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintln(out, string(data))
		return nil
	}
	if len(anomalies) == 0 {
		fmt.Fprintln(out, "no anomalies")
		return nil
	}
	for _, anomaly := range anomalies {
		fmt.Fprintf(out, "%-22s order=%d key=%d %s\n", anomaly.Kind, anomaly.OrderID, anomaly.KeyID, anomaly.Details)
	}
	return nil
}
