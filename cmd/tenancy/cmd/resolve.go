package cmd

import (
	"fmt"
	"text/tabwriter"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/platinummonkey/tenancy/pkg/accounts"
)

var resolveCmd = &cobra.Command{
	Use:   "resolve",
	Short: "Show which account a user resolves to",
	Long: `Lists the user's memberships and runs account resolution for them,
printing the chosen account and the rule that picked it.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		userID, _ := cmd.Flags().GetString("user")
		log := logrus.NewEntry(logger)

		b, err := openBackend(cfg, log, nil)
		if err != nil {
			return err
		}
		defer b.Close()

		ctx := cmd.Context()
		memberships, err := b.resolver.Memberships(ctx, userID)
		if err != nil {
			return err
		}
		accountID, err := b.resolver.Resolve(ctx, userID)
		if err != nil {
			return err
		}
		selected, _ := b.selections.GetSelection(ctx, userID)
		_, rule := accounts.SelectAccount(memberships, selected)

		out := cmd.OutOrStdout()
		w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ACCOUNT\tROLE\tPLAN\tJOINED")
		for _, m := range memberships {
			plan := "-"
			if m.AccountPlan != nil {
				plan = *m.AccountPlan
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", m.AccountID, m.Role, plan, m.CreatedAt.Format("2006-01-02"))
		}
		if err := w.Flush(); err != nil {
			return err
		}

		if accountID == "" {
			fmt.Fprintln(out, "\nNo account: the user needs onboarding")
			return nil
		}
		fmt.Fprintf(out, "\nActive account: %s (rule: %s)\n", accountID, rule)
		return nil
	},
}

func init() {
	resolveCmd.Flags().String("user", "", "User id to resolve")
	_ = resolveCmd.MarkFlagRequired("user")
}
