package cmd

import (
	"fmt"
	"strconv"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/mit-pdos/go-dboe/config"
	"github.com/mit-pdos/go-dboe/txn"
)

var (
	cellCmd = &cobra.Command{
		Use:   "cell",
		Short: "Read or change a configured value cell",
	}
	cellGetCmd = &cobra.Command{
		Use:     "get NAME",
		Short:   "Print the committed value of a cell",
		Args:    cobra.ExactArgs(1),
		PreRunE: bindFlags,
		RunE:    cellGet,
	}
	cellSetCmd = &cobra.Command{
		Use:     "set NAME VALUE",
		Short:   "Change a cell in a write transaction",
		Args:    cobra.ExactArgs(2),
		PreRunE: bindFlags,
		RunE:    cellSet,
	}
)

func init() {
	cellCmd.AddCommand(cellGetCmd)
	cellCmd.AddCommand(cellSetCmd)
}

var errNoCell = errors.New("no such cell")

func cellGet(cmd *cobra.Command, args []string) (err error) {
	s, err := openSystem()
	if err != nil {
		return err
	}
	defer closeSystem(s, &err)
	name := args[0]
	if x, ok := s.Integer(name); ok {
		v, err := txn.CalculateRead(s.Coordinator(), x.Get)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), v)
		return nil
	}
	if x, ok := s.Blob(name); ok {
		v, err := txn.CalculateRead(s.Coordinator(), x.Get)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(v))
		return nil
	}
	return errors.Wrap(errNoCell, name)
}

func cellSet(cmd *cobra.Command, args []string) (err error) {
	s, err := openSystem()
	if err != nil {
		return err
	}
	defer closeSystem(s, &err)
	name, value := args[0], args[1]
	if x, ok := s.Integer(name); ok {
		v, err := strconv.ParseUint(value, 10, 64)
		if err != nil {
			return errors.Wrapf(err, "cell %s", name)
		}
		return txn.ExecuteWrite(s.Coordinator(), func(t *txn.Transaction) error {
			return x.Set(t, v)
		})
	}
	if x, ok := s.Blob(name); ok {
		return txn.ExecuteWrite(s.Coordinator(), func(t *txn.Transaction) error {
			return x.Set(t, []byte(value))
		})
	}
	return errors.Wrap(errNoCell, name)
}

func closeSystem(s *config.System, err *error) {
	if cerr := s.Close(); *err == nil {
		*err = cerr
	}
}
