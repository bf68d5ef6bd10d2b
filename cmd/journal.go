package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/mit-pdos/go-dboe/config"
	"github.com/mit-pdos/go-dboe/disk"
	"github.com/mit-pdos/go-dboe/journal"
	"github.com/mit-pdos/go-dboe/txn"
)

var (
	journalCmd = &cobra.Command{
		Use:   "journal",
		Short: "Inspect the journal",
	}
	dumpCmd = &cobra.Command{
		Use:   "dump",
		Short: "List the durable journal entries without replaying them",
		Long: `List the durable journal entries without replaying them.

The journal is the one named by --journal, or the configured one. Entries
of components the configuration knows are shown by name.`,
		Args:    cobra.NoArgs,
		PreRunE: bindFlags,
		RunE:    dump,
	}
)

func init() {
	journalCmd.AddCommand(dumpCmd)

	key := "journal"
	dumpCmd.Flags().String(key, "", "journal file; the configured one when empty")
	key = "num-blocks"
	dumpCmd.Flags().Uint64(key, 0, "journal size in blocks; the configured size when 0")
}

// componentNames maps the ids of c's components to their names.
func componentNames(c *config.Config) (map[txn.ComponentKey]string, error) {
	base, err := txn.ParseComponentId("system", c.SystemId)
	if err != nil {
		return nil, err
	}
	names := map[txn.ComponentKey]string{config.BlocksId(base).Key(): "blocks"}
	for _, cell := range c.Cells {
		names[config.CellId(base, cell.Name).Key()] = cell.Name
	}
	return names, nil
}

func dump(cmd *cobra.Command, _ []string) error {
	c, err := loadConfig()
	if err != nil {
		return err
	}
	path := c.Journal.Path
	if p := viper.GetString("journal"); p != "" {
		path = p
	}
	numBlocks := c.Journal.NumBlocks
	if n := viper.GetUint64("num-blocks"); n != 0 {
		numBlocks = n
	}
	if _, err := os.Stat(path); err != nil {
		return errors.Wrap(err, "journal")
	}
	names, err := componentNames(c)
	if err != nil {
		return err
	}

	d, err := disk.NewFileDisk(path, numBlocks)
	if err != nil {
		return err
	}
	j, err := journal.Open(d)
	if err != nil {
		d.Close()
		return errors.Wrapf(err, "journal %s", path)
	}
	defer j.Close()
	entries, err := j.Entries()
	if err != nil {
		return err
	}
	return printEntries(cmd.OutOrStdout(), path, j, entries, names)
}

func printEntries(w io.Writer, path string, j *journal.Journal, entries []journal.Entry, names map[txn.ComponentKey]string) error {
	fmt.Fprintf(w, "%s: %d entries, %d of %d bytes\n", path, len(entries), j.Position(), j.Capacity())
	for i, e := range entries {
		switch e.Type {
		case journal.COMMIT, journal.ABORT:
			fmt.Fprintf(w, "%5d  %s\n", i, e.Type)
			continue
		}
		id, err := txn.ComponentIdFromBytes("", e.Component[:])
		if err != nil {
			return err
		}
		name, ok := names[id.Key()]
		if !ok {
			name = id.String()
		}
		fmt.Fprintf(w, "%5d  %-6s %s len=%d\n", i, e.Type, name, len(e.Payload))
	}
	return nil
}
