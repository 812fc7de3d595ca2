package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newVerifyCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "verify",
		Short: "List stored records that no longer decode into the current model",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(cmd.Context(), *configPath, migrateAuto)
			if err != nil {
				return err
			}
			defer a.close()

			bad, err := a.store.Verify(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, rec := range bad {
				fmt.Fprintln(out, rec.Error())
			}
			if len(bad) > 0 {
				return fmt.Errorf("%d malformed records", len(bad))
			}
			fmt.Fprintln(out, "all records are well-formed")
			return nil
		},
	}
}
