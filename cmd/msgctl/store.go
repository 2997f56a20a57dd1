package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/cockroachdb/errors"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/iwoork/homeforpup-sub006/internal/maintenance"
	"github.com/iwoork/homeforpup-sub006/pkg/repository"
	"github.com/iwoork/homeforpup-sub006/pkg/state"
	"github.com/iwoork/homeforpup-sub006/pkg/store"
)

// ErrVerifyFailed is returned by verify when the store has problems.
var ErrVerifyFailed = errors.New("verification found problems")

// openRepo opens the store under dbPath; the server must not be running.
func openRepo(dbPath string, create bool) (*repository.Repository, func(), error) {
	paths := state.PathsFor(dbPath)
	if create {
		if err := state.EnsureDirs(paths); err != nil {
			return nil, nil, err
		}
	} else if _, err := os.Stat(paths.Store); err != nil {
		return nil, nil, errors.Wrapf(err, "no store under %s", paths.DB)
	}
	db, err := store.Open(store.Options{Path: paths.Store, Sync: true})
	if err != nil {
		return nil, nil, err
	}
	return repository.New(db), func() { _ = db.Close() }, nil
}

func addDBFlag(cmd *cobra.Command, dst *string) {
	cmd.Flags().StringVar(dst, "db", "./.database", "data directory of a stopped server")
}

func newExportCmd() *cobra.Command {
	var dbPath, out string
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write threads and messages as JSON lines",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			repo, closeFn, err := openRepo(dbPath, false)
			if err != nil {
				return err
			}
			defer closeFn()

			var w io.Writer = cmd.OutOrStdout()
			if out != "" && out != "-" {
				f, err := os.OpenFile(out, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
				if err != nil {
					return err
				}
				defer f.Close()
				w = f
			}
			c, err := maintenance.Export(cmd.Context(), repo, w)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "exported %s threads, %s messages\n",
				humanize.Comma(int64(c.Threads)), humanize.Comma(int64(c.Messages)))
			return nil
		},
	}
	addDBFlag(cmd, &dbPath)
	cmd.Flags().StringVarP(&out, "output", "o", "-", "output file, - for stdout")
	return cmd
}

func newImportCmd() *cobra.Command {
	var dbPath, in string
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Restore an export and rebuild projections",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			repo, closeFn, err := openRepo(dbPath, true)
			if err != nil {
				return err
			}
			defer closeFn()

			var r io.Reader = cmd.InOrStdin()
			if in != "" && in != "-" {
				f, err := os.Open(in)
				if err != nil {
					return err
				}
				defer f.Close()
				r = f
			}
			c, err := maintenance.Import(cmd.Context(), repo, r)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "imported %s threads, %s messages\n",
				humanize.Comma(int64(c.Threads)), humanize.Comma(int64(c.Messages)))
			return nil
		},
	}
	addDBFlag(cmd, &dbPath)
	cmd.Flags().StringVarP(&in, "input", "i", "-", "input file, - for stdin")
	return cmd
}

func newVerifyCmd() *cobra.Command {
	var (
		dbPath  string
		asJSON  bool
		showMax int
	)
	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Check counters, ordering and projections for every thread",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			repo, closeFn, err := openRepo(dbPath, false)
			if err != nil {
				return err
			}
			defer closeFn()

			rep, err := maintenance.Verify(cmd.Context(), repo)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				if err := enc.Encode(rep); err != nil {
					return err
				}
			} else {
				printReport(out, rep, showMax)
			}
			if !rep.OK() {
				return ErrVerifyFailed
			}
			return nil
		},
	}
	addDBFlag(cmd, &dbPath)
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the report as JSON")
	cmd.Flags().IntVar(&showMax, "max-problems", 50, "problems to list, 0 for all")
	return cmd
}

func printReport(w io.Writer, rep maintenance.Report, max int) {
	fmt.Fprintf(w, "threads:     %s\n", humanize.Comma(int64(rep.Threads)))
	fmt.Fprintf(w, "messages:    %s\n", humanize.Comma(int64(rep.Messages)))
	fmt.Fprintf(w, "projections: %s\n", humanize.Comma(int64(rep.Projections)))
	if rep.OK() {
		fmt.Fprintln(w, "ok")
		return
	}
	fmt.Fprintf(w, "problems:    %d\n", len(rep.Problems))
	for i, p := range rep.Problems {
		if max > 0 && i >= max {
			fmt.Fprintf(w, "  ... %d more\n", len(rep.Problems)-max)
			break
		}
		fmt.Fprintf(w, "  %s: %s\n", p.ThreadID, p.Detail)
	}
}

func newReindexCmd() *cobra.Command {
	var dbPath string
	cmd := &cobra.Command{
		Use:   "reindex",
		Short: "Drop and rebuild every participant projection",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			repo, closeFn, err := openRepo(dbPath, false)
			if err != nil {
				return err
			}
			defer closeFn()
			n, err := maintenance.Reindex(cmd.Context(), repo)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "reindexed %s threads\n", humanize.Comma(int64(n)))
			return nil
		},
	}
	addDBFlag(cmd, &dbPath)
	return cmd
}
