// Command hanoidb is a thin demonstration CLI over package hanoidb: put,
// get, delete, and stat against a database directory.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/stairsdb/hanoidb"
)

var dbDir string

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "hanoidb",
		Short: "Inspect and mutate a hanoidb database directory",
	}
	root.PersistentFlags().StringVar(&dbDir, "dir", "./data", "database directory")
	root.AddCommand(newPutCmd(), newGetCmd(), newDeleteCmd(), newStatCmd())
	return root
}

func openDB() (*hanoidb.DB, error) {
	logger, err := zap.NewProduction()
	if err != nil {
		return nil, fmt.Errorf("building logger: %w", err)
	}
	return hanoidb.Open(dbDir, hanoidb.WithLogger(logger))
}

func newPutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "put <key> <value>",
		Short: "Insert or overwrite a key",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := openDB()
			if err != nil {
				return err
			}
			defer db.Close()
			return db.Insert([]byte(args[0]), []byte(args[1]))
		},
	}
}

func newGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <key>",
		Short: "Look up a key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := openDB()
			if err != nil {
				return err
			}
			defer db.Close()

			val, err := db.Get([]byte(args[0]))
			if err != nil {
				if errors.Is(err, hanoidb.ErrNotFound) {
					fmt.Println("(not found)")
					return nil
				}
				return err
			}
			fmt.Println(string(val))
			return nil
		},
	}
}

func newDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <key>",
		Short: "Delete a key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := openDB()
			if err != nil {
				return err
			}
			defer db.Close()
			return db.Delete([]byte(args[0]))
		},
	}
}

func newStatCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stat",
		Short: "Print the database directory path",
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := openDB()
			if err != nil {
				return err
			}
			defer db.Close()
			fmt.Println(db.Path())
			return nil
		},
	}
}
