package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/spf13/cobra"

	"github.com/scienceminer/bibstore"
)

var getCmd = &cobra.Command{
	Use:   "get",
	Short: "Print the record stored under an ident or a DOI",
	RunE: func(cmd *cobra.Command, args []string) error {
		ident, _ := cmd.Flags().GetString("ident")
		doi, _ := cmd.Flags().GetString("doi")
		if (ident == "") == (doi == "") {
			return fmt.Errorf("exactly one of --ident and --doi is required")
		}

		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		store, closeStore, err := openStore(cfg, nil)
		if err != nil {
			return err
		}
		defer closeStore()

		var doc bibstore.MatchingDocument
		err = retryOverloaded(func() error {
			var err error
			if ident != "" {
				doc, err = store.LookupByIdent(ident)
			} else {
				doc, err = store.LookupByDOI(doi)
			}
			return err
		})
		if err != nil {
			return err
		}
		if !doc.Found() {
			return fmt.Errorf("%s: not found", doc.Key)
		}
		fmt.Println(doc.JSON)
		return nil
	},
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "Print the first entries of a map in key order",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		mapName, _ := cmd.Flags().GetString("map")

		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		store, closeStore, err := openStore(cfg, nil)
		if err != nil {
			return err
		}
		defer closeStore()

		var entries []bibstore.Entry
		err = retryOverloaded(func() error {
			var err error
			entries, err = store.ListEntries(limit, mapName)
			return err
		})
		if err != nil {
			return err
		}
		for _, e := range entries {
			fmt.Printf("%s\t%s\n", e.Key, e.Value)
		}
		return nil
	},
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Print the number of entries per map as JSON",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		store, closeStore, err := openStore(cfg, nil)
		if err != nil {
			return err
		}
		defer closeStore()

		sizes, err := store.Stats()
		if err != nil {
			return err
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(sizes)
	},
}

var dumpCmd = &cobra.Command{
	Use:   "dump",
	Short: "Print every map with statistics and decoded rows",
	RunE: func(cmd *cobra.Command, args []string) error {
		rows, _ := cmd.Flags().GetBool("rows")

		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		store, closeStore, err := openStore(cfg, nil)
		if err != nil {
			return err
		}
		defer closeStore()

		flags := bibstore.DumpMapHeaders | bibstore.DumpStats | bibstore.DumpEnv
		if rows {
			flags |= bibstore.DumpRows
		}
		return store.Dump(os.Stdout, flags)
	},
}

func init() {
	getCmd.Flags().String("ident", "", "Fatcat release ident")
	getCmd.Flags().String("doi", "", "DOI")
	listCmd.Flags().Int("limit", 0, "Maximum number of entries (default list.default_limit)")
	listCmd.Flags().String("map", bibstore.PrimaryMapName, "Map to list")
	dumpCmd.Flags().Bool("rows", false, "Include every row")
}

// retryOverloaded retries f with exponential backoff while the store
// reports ErrOverloaded. Any other error is returned at once.
func retryOverloaded(f func() error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 10 * time.Millisecond
	b.MaxElapsedTime = 5 * time.Second
	return backoff.Retry(func() error {
		err := f()
		if err != nil && !errors.Is(err, bibstore.ErrOverloaded) {
			return backoff.Permanent(err)
		}
		return err
	}, b)
}
