package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/rushteam/reminsight/artifact"
)

func runVersions(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	fs := artifact.NewFileStore(cfg.Artifacts.Root,
		artifact.WithVersionPrefix(cfg.Artifacts.VersionPrefix),
		artifact.WithProvenanceFile(cfg.Artifacts.ProvenanceFile),
	)
	versions, err := fs.ListVersions(cmd.Context())
	if err != nil {
		return err
	}
	return printVersions(cmd.OutOrStdout(), versions, cfg.Artifacts.PinnedVersion, versionsJSON)
}

func printVersions(out io.Writer, versions []string, pinned string, asJSON bool) error {
	latest := ""
	if len(versions) > 0 {
		latest = versions[len(versions)-1]
	}
	if asJSON {
		return writeJSON(out, map[string]any{"versions": versions, "latest": latest, "pinned": pinned})
	}
	if len(versions) == 0 {
		fmt.Fprintln(out, "no model versions found")
		return nil
	}
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "VERSION\tLATEST\tPINNED")
	for _, v := range versions {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", v, mark(v == latest), mark(v == pinned))
	}
	return tw.Flush()
}

func mark(b bool) string {
	if b {
		return "*"
	}
	return ""
}

func runInspect(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	// inspect 不需要历史与在线特征
	cfg.History.Enabled = false
	cfg.Feast.Enabled = false

	a, err := newApp(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer a.Close(cmd.Context())

	version := ""
	if len(args) == 1 {
		version = args[0]
	}
	info, err := a.predictor.Describe(cmd.Context(), version)
	if err != nil {
		return err
	}
	return writeJSON(cmd.OutOrStdout(), info)
}

func writeJSON(out io.Writer, v any) error {
	if out == nil {
		out = os.Stdout
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
