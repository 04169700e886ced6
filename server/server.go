// Package server 提供预测服务的 HTTP 接口（gin）。
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rushteam/reminsight/config"
	"github.com/rushteam/reminsight/pkg/logger"
	"github.com/rushteam/reminsight/service"
)

const shutdownTimeout = 10 * time.Second

// Server 把 service.Predictor 暴露为 HTTP 接口
type Server struct {
	predictor *service.Predictor
	cfg       config.ServerConfig
	engine    *gin.Engine
	logger    *logger.Logger
}

// New 创建 Server 并注册路由
func New(p *service.Predictor, cfg config.ServerConfig, l *logger.Logger) *Server {
	if l == nil {
		l = logger.Get()
	}
	s := &Server{
		predictor: p,
		cfg:       cfg,
		engine:    gin.New(),
		logger:    l.With("component", "http"),
	}
	s.engine.Use(gin.Recovery(), requestLogger(s.logger), cors(cfg.AllowedOrigins))
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	r := s.engine
	r.GET("/health", s.handleHealth)
	r.GET("/features", s.handleFeatures)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.GET("/versions", s.handleVersions)
	r.GET("/versions/:version", s.handleDescribe)
	r.GET("/monitor/features", s.handleMonitor)

	r.POST("/predict", s.handlePredict)
	r.POST("/predict_csv", s.handlePredictCSV)
	r.POST("/reload", s.handleReload)

	if s.predictor.History() != nil {
		r.GET("/history/:subject_id", s.handleHistory)
		r.GET("/history/:subject_id/latest", s.handleLastHistory)
		r.DELETE("/history/:subject_id", s.handleClearHistory)
	}
}

// Handler 返回 http.Handler，测试中直接使用
func (s *Server) Handler() http.Handler { return s.engine }

// Run 监听 cfg.Addr()，ctx 结束后优雅退出
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:         s.cfg.Addr(),
		Handler:      s.engine,
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Infow("http server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	s.logger.Infow("shutting down http server")
	return srv.Shutdown(shutdownCtx)
}
