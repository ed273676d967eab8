package main

import (
	"bufio"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
)

func keysCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keys",
		Short: "Manage key inventory",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "add <variant> [file]",
		Short: "Add keys, one per line, from a file or stdin",
		Args:  cobra.RangeArgs(1, 2),
		RunE:  runKeysAdd,
	}, &cobra.Command{
		Use:   "count <variant>",
		Short: "Show available keys of a variant",
		Args:  cobra.ExactArgs(1),
		RunE:  runKeysCount,
	})
	return cmd
}

func runKeysAdd(cmd *cobra.Command, args []string) error {
	var in io.Reader = cmd.InOrStdin()
	if len(args) == 2 {
		f, err := os.Open(args[1])
		if err != nil {
			return err
		}
		defer f.Close()
		in = f
	}

	var keys []string
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		keys = append(keys, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return err
	}

	a, err := newApp(cmd.Context(), loadConfig())
	if err != nil {
		return err
	}
	defer a.Close()

	available, err := a.service.AddKeys(cmd.Context(), args[0], keys)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s: %d available\n", args[0], available)
	return nil
}

func runKeysCount(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd.Context(), loadConfig())
	if err != nil {
		return err
	}
	defer a.Close()

	available, err := a.service.AvailableCount(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s: %d available\n", args[0], available)
	return nil
}
