package cmd

import (
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply database migrations",
	Long:  `Creates or upgrades the users, accounts, memberships, businesses and admins tables. Safe to run repeatedly.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		log := logrus.NewEntry(logger)

		b, err := openBackend(cfg, log, nil)
		if err != nil {
			return err
		}
		defer b.Close()

		if err := b.migrate(cmd.Context(), log); err != nil {
			return err
		}
		log.Info("Migrations applied")
		return nil
	},
}
