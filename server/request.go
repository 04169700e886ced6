package server

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/rushteam/reminsight/pkg/conv"
)

// PredictBody 是解析后的 /predict 请求体
type PredictBody struct {
	Rows      []map[string]any
	SubjectID string
	// Single 请求体是单个对象，响应也返回单个结果
	Single bool
}

// ParsePredictBody 支持三种请求体：
//
//	{"a": 1, "b": 2}                            单行
//	{"rows": [{...}, {...}], "subject_id": "x"} 批量
//	[{...}, {...}]                              批量
func ParsePredictBody(data []byte) (*PredictBody, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, errors.New("request body is empty")
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	switch data[0] {
	case '[':
		var rows []map[string]any
		if err := dec.Decode(&rows); err != nil {
			return nil, fmt.Errorf("invalid JSON array of rows: %w", err)
		}
		return &PredictBody{Rows: rows}, nil
	case '{':
		var obj map[string]any
		if err := dec.Decode(&obj); err != nil {
			return nil, fmt.Errorf("invalid JSON object: %w", err)
		}
		subject, _ := conv.ToString(obj["subject_id"])
		raw, batch := obj["rows"]
		if !batch {
			// subject_id 是请求元数据，不作为特征
			delete(obj, "subject_id")
			return &PredictBody{Rows: []map[string]any{obj}, SubjectID: subject, Single: true}, nil
		}
		list, ok := raw.([]any)
		if !ok {
			return nil, errors.New(`"rows" must be an array of objects`)
		}
		rows := make([]map[string]any, len(list))
		for i, item := range list {
			row, ok := item.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("row %d is not an object", i)
			}
			rows[i] = row
		}
		return &PredictBody{Rows: rows, SubjectID: subject}, nil
	default:
		return nil, errors.New("request body must be a JSON object or array")
	}
}

// ParseCSV 读取带表头的 CSV，空单元格视为缺失
func ParseCSV(r io.Reader) ([]map[string]any, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("csv is empty")
		}
		return nil, fmt.Errorf("invalid csv header: %w", err)
	}
	for i, name := range header {
		header[i] = strings.TrimSpace(strings.TrimPrefix(name, "\ufeff"))
	}

	var rows []map[string]any
	for line := 2; ; line++ {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("invalid csv at line %d: %w", line, err)
		}
		if len(record) > len(header) {
			return nil, fmt.Errorf("csv line %d has %d fields, header has %d", line, len(record), len(header))
		}
		row := make(map[string]any, len(header))
		for i, v := range record {
			if header[i] == "" || strings.TrimSpace(v) == "" {
				continue
			}
			row[header[i]] = v
		}
		rows = append(rows, row)
	}
	if len(rows) == 0 {
		return nil, errors.New("csv has no data rows")
	}
	return rows, nil
}

// predictOptions 是 /predict 的查询参数
type predictOptions struct {
	Version string
	Explain bool
	TopK    int
	Subject string
}

func parsePredictOptions(c *gin.Context) (predictOptions, error) {
	opts := predictOptions{
		Version: strings.TrimSpace(c.Query("version")),
		Subject: c.Query("subject_id"),
	}
	for _, key := range []string{"explain", "shap"} {
		v, ok := c.GetQuery(key)
		if !ok || v == "" {
			continue
		}
		b, ok := conv.ToBool(v)
		if !ok {
			return opts, fmt.Errorf("query parameter %s must be a boolean", key)
		}
		opts.Explain = opts.Explain || b
	}
	if v := c.Query("top_k"); v != "" {
		k, err := strconv.Atoi(v)
		if err != nil || k <= 0 {
			return opts, errors.New("query parameter top_k must be a positive integer")
		}
		opts.TopK = k
	}
	return opts, nil
}
