// Package patient provides commands for the patient registry.
package patient

import (
	"context"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/chestguard/chestguard/internal/analysis"
	"github.com/chestguard/chestguard/internal/conf"
	"github.com/chestguard/chestguard/internal/datastore"
	"github.com/chestguard/chestguard/internal/errors"
)

const commandTimeout = 30 * time.Second

// Command creates the patient parent command.
func Command(settings *conf.Settings) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "patient",
		Short: "Manage registered patients",
	}
	cmd.AddCommand(addCommand(settings), listCommand(settings))
	return cmd
}

func addCommand(settings *conf.Settings) *cobra.Command {
	var p datastore.Patient

	cmd := &cobra.Command{
		Use:   "add [MR number]",
		Short: "Register a patient",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p.MRNo = strings.TrimSpace(args[0])
			if p.MRNo == "" {
				return errors.ValidationError("MR number is required")
			}
			if p.Age < 0 {
				return errors.ValidationError("age must not be negative")
			}

			return withStore(cmd.Context(), settings, func(ctx context.Context, ds datastore.Interface) error {
				if err := ds.CreatePatient(ctx, &p); err != nil {
					return err
				}
				fmt.Printf("Patient %s registered\n", p.MRNo)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&p.FullName, "name", "", "Full name")
	cmd.Flags().StringVar(&p.Email, "email", "", "Email address")
	cmd.Flags().IntVar(&p.Age, "age", 0, "Age in years")
	cmd.Flags().StringVar(&p.Gender, "gender", "", "Gender")
	cmd.Flags().StringVar(&p.City, "city", "", "City")

	return cmd
}

func listCommand(settings *conf.Settings) *cobra.Command {
	var limit, offset int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List registered patients",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd.Context(), settings, func(ctx context.Context, ds datastore.Interface) error {
				patients, err := ds.ListPatients(ctx, limit, offset)
				if err != nil {
					return err
				}

				w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
				fmt.Fprintln(w, "MR NO\tNAME\tAGE\tGENDER\tCITY\tREGISTERED")
				for i := range patients {
					p := &patients[i]
					fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\t%s\n",
						p.MRNo, p.FullName, p.Age, p.Gender, p.City, p.CreatedAt.Format(time.DateTime))
				}
				return w.Flush()
			})
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 50, "Maximum number of patients to list")
	cmd.Flags().IntVar(&offset, "offset", 0, "Number of patients to skip")

	return cmd
}

func withStore(parent context.Context, settings *conf.Settings, fn func(context.Context, datastore.Interface) error) error {
	ds, err := analysis.OpenDataStore(settings)
	if err != nil {
		return err
	}
	defer ds.Close() //nolint:errcheck // nothing to recover on exit

	ctx, cancel := context.WithTimeout(parent, commandTimeout)
	defer cancel()
	return fn(ctx, ds)
}
