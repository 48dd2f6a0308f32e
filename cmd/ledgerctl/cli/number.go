package cli

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/odyssey-erp/invoice-ledger/internal/shared"
)

func newNumberCommand(env Env, flags *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "number",
		Short: "Inspect invoice numbering",
	}

	var company, date string
	next := &cobra.Command{
		Use:   "next",
		Short: "Preview the next invoice number for a company and date",
		Example: `  ledgerctl number next --company "Piyush Enterprises" --date 2026-03-10
  ledgerctl number next --company "Ayurveda Vatika"`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(company) == "" {
				return errors.New("--company is required")
			}
			on := time.Now().UTC()
			if date != "" {
				parsed, err := shared.ParseDate(date)
				if err != nil {
					return fmt.Errorf("--date: %w", err)
				}
				on = parsed.Time
			}
			numbers, closeFn, err := env.OpenNumbers(cmd.Context(), flags.dsn)
			if err != nil {
				return err
			}
			defer closeFn()
			number, err := numbers.PreviewNumber(cmd.Context(), company, on)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), number)
			return nil
		},
	}
	next.Flags().StringVar(&company, "company", "", "issuing company name")
	next.Flags().StringVar(&date, "date", "", "invoice date (YYYY-MM-DD), defaults to today")
	cmd.AddCommand(next)
	return cmd
}
