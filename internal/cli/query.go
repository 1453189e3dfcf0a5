package cli

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mvp-joe/harvest/internal/query"
	"github.com/mvp-joe/harvest/internal/snapshot"
)

var queryFilter query.Filter

var queryCmd = &cobra.Command{
	Use:   "query <snapshot>",
	Short: "Filter a snapshot's files or chunks",
	Long: `Query prints the files (default) or chunks of a snapshot that match every
given filter, one JSON object per line. With --fields only the named fields
are printed, tab-separated, after a header line.

Examples:
  harvest query snap.harvest.json --language python --path-glob 'src/**'
  harvest query snap.harvest.json --entity chunks --kind class --public true
  harvest query snap.harvest.db --entity chunks --fields file_path,symbol,start_line`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		f := queryFilter
		entity, _ := cmd.Flags().GetString("entity")
		f.Entity = query.Entity(entity)

		public, _ := cmd.Flags().GetString("public")
		if public != "" {
			b, err := strconv.ParseBool(public)
			if err != nil {
				return fmt.Errorf("--public must be true or false, got %q", public)
			}
			f.Public = &b
		}
		return runQuery(cmd.OutOrStdout(), args[0], f)
	},
}

func init() {
	rootCmd.AddCommand(queryCmd)
	flags := queryCmd.Flags()
	flags.String("entity", "files", "files or chunks")
	flags.StringVar(&queryFilter.Language, "language", "", "language name")
	flags.StringVar(&queryFilter.Kind, "kind", "", "chunk kind (chunks only)")
	flags.StringVar(&queryFilter.PathGlob, "path-glob", "", "glob over the relative path; * crosses directories")
	flags.StringVar(&queryFilter.PathRegex, "path-regex", "", "regular expression searched in the relative path")
	flags.StringVar(&queryFilter.SymbolRegex, "symbol-regex", "", "regular expression searched in the symbol (chunks only)")
	flags.String("public", "", "true or false (chunks only)")
	flags.IntVar(&queryFilter.MinLines, "min-lines", 0, "minimum chunk length in lines (chunks only)")
	flags.IntVar(&queryFilter.MaxLines, "max-lines", 0, "maximum chunk length in lines (chunks only)")
	flags.StringVar(&queryFilter.ExportNamed, "export-named", "", "files exporting this name (files only)")
	flags.BoolVar(&queryFilter.HasDefault, "has-default-export", false, "files with a default export (files only)")
	flags.StringSliceVar(&queryFilter.Fields, "fields", nil, "print only these fields")
}

// runQuery loads the snapshot at path and writes the matching items to w.
func runQuery(w io.Writer, path string, f query.Filter) error {
	q, err := query.Compile(f)
	if err != nil {
		return err
	}
	snap, err := snapshot.Load(path)
	if err != nil {
		return fmt.Errorf("failed to open snapshot %s: %w", path, err)
	}
	items, err := q.Run(snap)
	if err != nil {
		return err
	}

	bw := bufio.NewWriter(w)
	if fields := q.Fields(); len(fields) > 0 {
		fmt.Fprintln(bw, strings.Join(fields, "\t"))
		for _, it := range items {
			fmt.Fprintln(bw, strings.Join(it.(query.Record).Values(fields), "\t"))
		}
		return bw.Flush()
	}

	enc := json.NewEncoder(bw)
	enc.SetEscapeHTML(false)
	for _, it := range items {
		if err := enc.Encode(it); err != nil {
			return err
		}
	}
	return bw.Flush()
}
