package main

import (
	"github.com/spf13/cobra"
)

var (
	configPath string

	predictRows    string
	predictFormat  string
	predictVersion string
	predictExplain bool
	predictTopK    int
	predictSubject string

	versionsJSON bool

	rootCmd = &cobra.Command{
		Use:           "reminsight",
		Short:         "Versioned sleep-questionnaire model serving with feature attribution",
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP prediction service",
		RunE:  runServe, // cmd_serve.go
	}

	versionsCmd = &cobra.Command{
		Use:   "versions",
		Short: "List model versions found under the artifact root",
		RunE:  runVersions, // cmd_inspect.go
	}

	inspectCmd = &cobra.Command{
		Use:   "inspect [version]",
		Short: "Load a model version and print its features, runtime and provenance",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runInspect, // cmd_inspect.go
	}

	predictCmd = &cobra.Command{
		Use:   "predict",
		Short: "Score a JSON or CSV rows file and print the results as JSON",
		RunE:  runPredict, // cmd_predict.go
	}
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to a YAML config file")

	versionsCmd.Flags().BoolVar(&versionsJSON, "json", false, "print versions as JSON")

	predictCmd.Flags().StringVarP(&predictRows, "rows", "r", "", "rows file (.json or .csv), - for stdin")
	predictCmd.Flags().StringVar(&predictFormat, "format", "", "input format: json or csv (default: by file extension)")
	predictCmd.Flags().StringVar(&predictVersion, "version", "", "model version (default: pinned version or latest)")
	predictCmd.Flags().BoolVar(&predictExplain, "explain", false, "include feature attributions")
	predictCmd.Flags().IntVar(&predictTopK, "top-k", 0, "number of attributions per row")
	predictCmd.Flags().StringVar(&predictSubject, "subject-id", "", "subject id for history and online features")
	_ = predictCmd.MarkFlagRequired("rows")

	rootCmd.AddCommand(serveCmd, versionsCmd, inspectCmd, predictCmd)
}
