package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rushteam/reminsight/core"
	"github.com/rushteam/reminsight/server"
)

func runPredict(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	req, err := readRows(cmd.InOrStdin(), predictRows, predictFormat)
	if err != nil {
		return err
	}
	req.ModelVersion = predictVersion
	req.Explain = predictExplain
	req.TopK = predictTopK
	if predictSubject != "" {
		req.SubjectID = predictSubject
	}

	a, err := newApp(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer a.Close(cmd.Context())

	resp, err := a.predictor.Predict(cmd.Context(), req)
	if err != nil {
		return err
	}
	return writeJSON(cmd.OutOrStdout(), map[string]any{
		"model_version": resp.ModelVersion,
		"results":       resp.Results,
	})
}

// readRows 读取 JSON（单个对象 / {"rows": [...]} / 数组）或带表头的 CSV
func readRows(stdin io.Reader, path, format string) (*core.MLPredictRequest, error) {
	var src io.Reader = stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		src = f
	}
	if format == "" {
		format = "json"
		if strings.EqualFold(filepath.Ext(path), ".csv") {
			format = "csv"
		}
	}

	switch strings.ToLower(format) {
	case "csv":
		rows, err := server.ParseCSV(src)
		if err != nil {
			return nil, err
		}
		return &core.MLPredictRequest{Rows: rows}, nil
	case "json":
		data, err := io.ReadAll(src)
		if err != nil {
			return nil, err
		}
		body, err := server.ParsePredictBody(data)
		if err != nil {
			return nil, err
		}
		return &core.MLPredictRequest{Rows: body.Rows, SubjectID: body.SubjectID}, nil
	default:
		return nil, fmt.Errorf("unknown input format %q (supported: json, csv)", format)
	}
}
