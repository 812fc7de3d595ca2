package main

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/pitabwire/regelwerk/internal/seed"
	"github.com/pitabwire/regelwerk/internal/service"
)

func newSeedCmd(configPath *string) *cobra.Command {
	var dryRun bool
	cmd := &cobra.Command{
		Use:   "seed [directory...]",
		Short: "Import field and template definitions from YAML files",
		Long: "Loads every .yaml and .yml file below the given directories (or seed.directories\n" +
			"from the configuration), validates them as one set and upserts them.",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), *configPath, migrateAlways)
			if err != nil {
				return err
			}
			defer a.close()

			dirs := args
			if len(dirs) == 0 {
				dirs = a.cfg.Seed.Directories
			}
			svc := service.New(a.store, service.WithLogger(a.logger), service.WithMetrics(a.metrics))
			importer := seed.NewImporter(svc, a.logger, a.metrics)

			out := cmd.OutOrStdout()
			if dryRun {
				docs, err := seed.NewLoader().LoadAll(dirs)
				if err != nil {
					return err
				}
				existing, err := svc.Fields.List(cmd.Context())
				if err != nil {
					return err
				}
				known := make(map[string]bool, len(existing))
				for _, f := range existing {
					known[f.ID] = true
				}
				verrs := seed.NewValidator().Validate(docs, func(id string) bool { return known[id] })
				for _, ve := range verrs {
					fmt.Fprintf(out, "%s %s\n", ve.Code, ve.Error())
				}
				if len(verrs) > 0 {
					return fmt.Errorf("%d validation errors", len(verrs))
				}
				fmt.Fprintf(out, "%d documents valid\n", len(docs))
				return nil
			}

			res, err := importer.LoadAndImport(cmd.Context(), dirs)
			var verr *seed.ValidationError
			if errors.As(err, &verr) {
				for _, ve := range verr.Errors {
					fmt.Fprintf(out, "%s %s\n", ve.Code, ve.Error())
				}
			}
			if err != nil {
				return err
			}
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			return enc.Encode(res)
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "validate the definitions without importing them")
	return cmd
}
