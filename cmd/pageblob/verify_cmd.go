package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"pkt.systems/pageblob/internal/diagnostics/storagecheck"
)

func (a *app) newVerifyCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Run diagnostic checks",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "store",
		Short: "Verify storage configuration with a throwaway probe blob",
		Args:  cobra.NoArgs,
		Example: strings.TrimSpace(`
# Verify Azure Blob using Shared Key credentials
PAGEBLOB_STORE=azure://myacct/journals PAGEBLOB_AZURE_KEY=... pageblob verify store

# Verify Azure Blob using a SAS token
pageblob verify store --store azure://myacct/journals --azure-sas-token 'sv=...'
`),
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := storagecheck.VerifyStore(cmd.Context(), a.cfg, storagecheck.Opener(a.open), a.logger)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Store: %s\n", a.cfg.Store)
			fmt.Fprintf(out, "Provider: %s\n", res.Provider)
			if res.Endpoint != "" {
				fmt.Fprintf(out, "Endpoint: %s\n", res.Endpoint)
			}
			fmt.Fprintf(out, "Container: %s\n", res.Container)
			fmt.Fprintf(out, "Probe blob: %s\n", res.ProbeBlob)
			if cred := res.Credentials; cred.Account != "" || cred.Source != "" {
				fmt.Fprintf(out, "Account: %s (has_secret:%t source:%s)\n", cred.Account, cred.HasSecret, cred.Source)
			}
			fmt.Fprintln(out)
			for _, check := range res.Checks {
				if check.Err == nil {
					fmt.Fprintf(out, "✔ %s\n", check.Name)
				} else {
					fmt.Fprintf(out, "✘ %s: %v\n", check.Name, check.Err)
				}
			}
			if res.Passed() {
				fmt.Fprintln(out, "Storage verification succeeded.")
				return nil
			}
			return fmt.Errorf("storage verification failed")
		},
	})
	return cmd
}
