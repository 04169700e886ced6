package server

import (
	"crypto/subtle"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/rushteam/reminsight/core"
)

func (s *Server) handleHealth(c *gin.Context) {
	ctx := c.Request.Context()
	resp := gin.H{
		"status":       "ok",
		"model_loaded": false,
		"features":     0,
	}
	if err := s.predictor.Health(ctx); err != nil {
		resp["status"] = "degraded"
		resp["error"] = err.Error()
		c.JSON(http.StatusOK, resp)
		return
	}
	if info, err := s.predictor.Describe(ctx, ""); err == nil {
		resp["model_loaded"] = true
		resp["model_version"] = info.Version
		resp["features"] = len(info.Features)
		resp["runtime"] = info.Runtime
	}
	resp["explain_enabled"] = s.predictor.Engine().Enabled()
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleFeatures(c *gin.Context) {
	features, version, err := s.predictor.Features(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusOK, gin.H{"features": []string{}, "model_version": nil})
		return
	}
	c.JSON(http.StatusOK, gin.H{"features": features, "model_version": version})
}

func (s *Server) handleVersions(c *gin.Context) {
	r := s.predictor.Resolver()
	versions, err := r.Versions(c.Request.Context())
	if err != nil {
		s.fail(c, err, false)
		return
	}
	resp := gin.H{"versions": versions, "latest": nil, "active": nil}
	if len(versions) > 0 {
		resp["latest"] = versions[len(versions)-1]
	}
	if v := s.predictor.PinnedVersion(); v != "" {
		resp["active"] = v
	} else if b := r.Latest(); b != nil {
		resp["active"] = b.Version
	}
	resp["state"] = r.State()
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleDescribe(c *gin.Context) {
	version := c.Param("version")
	info, err := s.predictor.Describe(c.Request.Context(), version)
	if err != nil {
		s.fail(c, err, true)
		return
	}
	c.JSON(http.StatusOK, info)
}

func (s *Server) handleMonitor(c *gin.Context) {
	m := s.predictor.Monitor()
	if m == nil {
		c.JSON(http.StatusOK, gin.H{"rows": 0, "features": []any{}, "extra_fields": gin.H{}})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"rows":         m.Rows(),
		"features":     m.Snapshot(),
		"extra_fields": m.ExtraFields(),
	})
}

func (s *Server) readBody(c *gin.Context) ([]byte, bool) {
	body := http.MaxBytesReader(c.Writer, c.Request.Body, s.maxUpload())
	data, err := io.ReadAll(body)
	if err != nil {
		badRequest(c, "failed to read request body: "+err.Error())
		return nil, false
	}
	return data, true
}

func (s *Server) maxUpload() int64 {
	if s.cfg.MaxUploadBytes > 0 {
		return s.cfg.MaxUploadBytes
	}
	return 10 << 20
}

func (s *Server) handlePredict(c *gin.Context) {
	opts, err := parsePredictOptions(c)
	if err != nil {
		badRequest(c, err.Error())
		return
	}
	data, ok := s.readBody(c)
	if !ok {
		return
	}
	body, err := ParsePredictBody(data)
	if err != nil {
		badRequest(c, err.Error())
		return
	}
	subject := opts.Subject
	if subject == "" {
		subject = body.SubjectID
	}

	resp, err := s.predictor.Predict(c.Request.Context(), &core.MLPredictRequest{
		Rows:         body.Rows,
		ModelVersion: opts.Version,
		Explain:      opts.Explain,
		TopK:         opts.TopK,
		SubjectID:    subject,
	})
	if err != nil {
		s.fail(c, err, opts.Version != "")
		return
	}
	if body.Single {
		c.JSON(http.StatusOK, resp.Results[0])
		return
	}
	c.JSON(http.StatusOK, gin.H{"results": resp.Results, "model_version": resp.ModelVersion})
}

func (s *Server) handlePredictCSV(c *gin.Context) {
	opts, err := parsePredictOptions(c)
	if err != nil {
		badRequest(c, err.Error())
		return
	}

	var src io.Reader
	if strings.HasPrefix(c.ContentType(), "multipart/") {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, s.maxUpload())
		fh, err := c.FormFile("file")
		if err != nil {
			badRequest(c, `multipart request must carry a "file" field`)
			return
		}
		f, err := fh.Open()
		if err != nil {
			badRequest(c, "failed to open uploaded file: "+err.Error())
			return
		}
		defer f.Close()
		src = f
	} else {
		src = http.MaxBytesReader(c.Writer, c.Request.Body, s.maxUpload())
	}

	rows, err := ParseCSV(src)
	if err != nil {
		badRequest(c, err.Error())
		return
	}
	resp, err := s.predictor.Predict(c.Request.Context(), &core.MLPredictRequest{
		Rows:         rows,
		ModelVersion: opts.Version,
		Explain:      opts.Explain,
		TopK:         opts.TopK,
		SubjectID:    opts.Subject,
	})
	if err != nil {
		s.fail(c, err, opts.Version != "")
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"results":       resp.Results,
		"model_version": resp.ModelVersion,
		"rows":          len(resp.Results),
	})
}

func (s *Server) handleReload(c *gin.Context) {
	if s.cfg.ReloadSecret == "" {
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": errorBody{
			Code:    core.ErrorCodeNotSupported,
			Module:  "http",
			Message: "reload is disabled",
		}})
		return
	}
	given := c.GetHeader("X-Reload-Secret")
	if subtle.ConstantTimeCompare([]byte(given), []byte(s.cfg.ReloadSecret)) != 1 {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errorBody{
			Code:    core.ErrorCodeInvalidInput,
			Module:  "http",
			Message: "invalid reload secret",
		}})
		return
	}

	r := s.predictor.Resolver()
	r.Invalidate()
	if m := s.predictor.Monitor(); m != nil {
		m.Reset()
	}
	b, err := r.Refresh(c.Request.Context())
	if err != nil {
		s.fail(c, err, false)
		return
	}
	s.logger.Infow("model reloaded", "version", b.Version)
	c.JSON(http.StatusOK, gin.H{"status": "reloaded", "model_version": b.Version, "runtime": b.Runtime()})
}

func (s *Server) handleHistory(c *gin.Context) {
	limit := 0
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			badRequest(c, "query parameter limit must be a non-negative integer")
			return
		}
		limit = n
	}
	subject := c.Param("subject_id")
	entries, err := s.predictor.History().List(c.Request.Context(), subject, limit)
	if err != nil {
		s.fail(c, err, false)
		return
	}
	c.JSON(http.StatusOK, gin.H{"subject_id": subject, "entries": entries})
}

func (s *Server) handleLastHistory(c *gin.Context) {
	entry, err := s.predictor.History().Last(c.Request.Context(), c.Param("subject_id"))
	if err != nil {
		// 受试者没有记录时返回 404
		s.fail(c, err, true)
		return
	}
	c.JSON(http.StatusOK, entry)
}

func (s *Server) handleClearHistory(c *gin.Context) {
	subject := c.Param("subject_id")
	if err := s.predictor.History().Clear(c.Request.Context(), subject); err != nil {
		s.fail(c, err, false)
		return
	}
	c.Status(http.StatusNoContent)
}
