package main

import (
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"shroomdump/internal/bundle"
)

func newBundleCommand() *cobra.Command {
	bundleCmd := &cobra.Command{
		Use:         "bundle",
		Short:       "Inspect and build bundle files",
		Annotations: map[string]string{"skipConfigLoad": "true"},
	}

	bundleCmd.AddCommand(newBundleInspectCommand())
	bundleCmd.AddCommand(newBundleUnpackCommand())
	bundleCmd.AddCommand(newBundlePackCommand())
	return bundleCmd
}

type bundleEntryJSON struct {
	Name        string `json:"name"`
	Compression string `json:"compression"`
	RawSize     int    `json:"raw_size"`
	StoredSize  int    `json:"stored_size"`
	Offset      int    `json:"offset"`
}

type bundleInfoJSON struct {
	Path    string            `json:"path"`
	Digest  string            `json:"digest"`
	Entries []bundleEntryJSON `json:"entries"`
}

func newBundleInspectCommand() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "inspect <file>",
		Short: "List the entries of a bundle",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := args[0]
			infos, digest, err := bundle.OpenInfo(path)
			if err != nil {
				return err
			}

			if jsonOutput {
				out := bundleInfoJSON{Path: path, Digest: digest, Entries: make([]bundleEntryJSON, 0, len(infos))}
				for _, info := range infos {
					out.Entries = append(out.Entries, bundleEntryJSON{
						Name:        info.Name,
						Compression: info.Compression.String(),
						RawSize:     info.RawSize,
						StoredSize:  info.StoredSize,
						Offset:      info.Offset,
					})
				}
				return writeJSON(cmd, out)
			}

			var raw, stored int
			rows := make([][]string, 0, len(infos))
			for i, info := range infos {
				raw += info.RawSize
				stored += info.StoredSize
				rows = append(rows, []string{
					strconv.Itoa(i + 1),
					info.Name,
					info.Compression.String(),
					humanize.IBytes(uint64(info.RawSize)),
					humanize.IBytes(uint64(info.StoredSize)),
				})
			}
			fmt.Fprintln(cmd.OutOrStdout(), tableView{
				title:   path,
				headers: []string{"#", "Name", "Compression", "Raw", "Stored"},
				aligns:  []columnAlignment{alignRight, alignLeft, alignLeft, alignRight, alignRight},
				rows:    rows,
				footer:  []string{"", fmt.Sprintf("%d entries", len(infos)), "", humanize.IBytes(uint64(raw)), humanize.IBytes(uint64(stored))},
			}.render())
			fmt.Fprintf(cmd.OutOrStdout(), "BLAKE3: %s\n", digest)
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	return cmd
}

func newBundleUnpackCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "unpack <file> <dir>",
		Short: "Write every entry of a bundle into a directory",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			b, err := bundle.Open(args[0])
			if err != nil {
				return err
			}
			written, err := bundle.Unpack(b, args[1])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Unpacked %d entries into %s\n", len(written), args[1])
			return nil
		},
	}
}

func newBundlePackCommand() *cobra.Command {
	var overwrite bool

	cmd := &cobra.Command{
		Use:   "pack <dir> <file>",
		Short: "Build a bundle from the files in a directory",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, target := args[0], args[1]
			if !overwrite {
				if _, err := os.Stat(target); err == nil {
					return fmt.Errorf("%s already exists (use --overwrite to replace it)", target)
				} else if !errors.Is(err, os.ErrNotExist) {
					return fmt.Errorf("check target: %w", err)
				}
			}
			data, err := bundle.PackDir(dir)
			if err != nil {
				return err
			}
			if err := bundle.WriteFile(target, data); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s (%s, BLAKE3 %s)\n", target, humanize.IBytes(uint64(len(data))), bundle.Digest(data))
			return nil
		},
	}
	cmd.Flags().BoolVar(&overwrite, "overwrite", false, "Replace an existing bundle")
	return cmd
}
