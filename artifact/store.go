package artifact

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/rushteam/reminsight/core"
	"github.com/rushteam/reminsight/feature"
	"github.com/rushteam/reminsight/model"
	"github.com/rushteam/reminsight/pkg/logger"
)

const (
	DefaultVersionPrefix  = "v"
	DefaultProvenanceFile = "training_provenance.json"
	ImportanceFile        = "shap_feature_importance.json"
	ImputerFile           = "imputer.json"
	ScalerFile            = "scaler.json"
)

// 特征列表文件，按优先级排列
var featureFiles = []string{"features_full.json", "features.json"}

// FileStore 基于本地目录的版本存储
type FileStore struct {
	root           string
	prefix         string
	provenanceFile string
	logger         *logger.Logger
}

// FileStoreOption 配置 FileStore
type FileStoreOption func(*FileStore)

// WithVersionPrefix 设置版本目录前缀，默认 "v"
func WithVersionPrefix(prefix string) FileStoreOption {
	return func(s *FileStore) {
		s.prefix = prefix
	}
}

// WithProvenanceFile 设置溯源文件名，默认 training_provenance.json
func WithProvenanceFile(name string) FileStoreOption {
	return func(s *FileStore) {
		if name != "" {
			s.provenanceFile = name
		}
	}
}

// WithLogger 设置 logger
func WithLogger(l *logger.Logger) FileStoreOption {
	return func(s *FileStore) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewFileStore 创建以 root 为根目录的版本存储
func NewFileStore(root string, opts ...FileStoreOption) *FileStore {
	s := &FileStore{
		root:           root,
		prefix:         DefaultVersionPrefix,
		provenanceFile: DefaultProvenanceFile,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = logger.Get()
	}
	s.logger = s.logger.With("component", "artifact")
	return s
}

// Root 返回根目录
func (s *FileStore) Root() string { return s.root }

// Prefix 返回版本目录前缀
func (s *FileStore) Prefix() string { return s.prefix }

// ListVersions 返回所有版本，按名称升序。根目录不存在时返回空列表。
func (s *FileStore) ListVersions(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(s.root)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return []string{}, nil
		}
		return nil, core.WrapDomainError(core.ModuleArtifact, core.ErrorCodeUnavailable, err, "failed to read artifact root %s", s.root)
	}
	versions := make([]string, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if strings.HasPrefix(name, ".") || !strings.HasPrefix(name, s.prefix) {
			continue
		}
		if !s.isDir(e) {
			continue
		}
		versions = append(versions, name)
	}
	slices.Sort(versions)
	return versions, nil
}

func (s *FileStore) isDir(e os.DirEntry) bool {
	if e.IsDir() {
		return true
	}
	if e.Type()&os.ModeSymlink == 0 {
		return false
	}
	info, err := os.Stat(filepath.Join(s.root, e.Name()))
	return err == nil && info.IsDir()
}

// LatestVersion 返回名称最大的版本
func (s *FileStore) LatestVersion(ctx context.Context) (string, error) {
	versions, err := s.ListVersions(ctx)
	if err != nil {
		return "", err
	}
	if len(versions) == 0 {
		return "", core.NewDomainError(core.ModuleArtifact, core.ErrorCodeNotFound,
			fmt.Sprintf("no model versions found under %s", s.root))
	}
	return versions[len(versions)-1], nil
}

// LoadBundle 加载指定版本，version 为空时加载最新版本。
func (s *FileStore) LoadBundle(ctx context.Context, version string) (*Bundle, error) {
	if version == "" {
		latest, err := s.LatestVersion(ctx)
		if err != nil {
			return nil, err
		}
		version = latest
	} else if err := validateVersion(version); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	dir := filepath.Join(s.root, version)
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() || !strings.HasPrefix(version, s.prefix) {
		return nil, core.NewDomainError(core.ModuleArtifact, core.ErrorCodeNotFound,
			fmt.Sprintf("model version %q not found", version))
	}

	// 先确认模型文件存在：缺模型是 NOT_FOUND，优先于特征列表的 CORRUPT_ARTIFACT
	entry, err := findModel(dir)
	if err != nil {
		return nil, err
	}

	b := &Bundle{Version: version, Dir: dir}
	b.FeatureFile, b.Features, err = loadFeatures(dir)
	if err != nil {
		return nil, err
	}

	if err := s.loadModel(b, entry); err != nil {
		return nil, err
	}
	if err := s.loadPreprocessing(b); err != nil {
		b.Close()
		return nil, err
	}
	s.loadMetadata(b)

	b.LoadedAt = time.Now()
	s.logger.Infow("loaded model bundle",
		"version", b.Version,
		"features", len(b.Features),
		"feature_file", b.FeatureFile,
		"model_file", b.ModelFile,
		"runtime", b.Runtime(),
		"imputer", b.Imputer != nil,
		"scaler", b.Scaler != nil,
	)
	return b, nil
}

func validateVersion(version string) error {
	if version == "." || strings.Contains(version, "..") || strings.ContainsAny(version, `/\`) {
		return core.NewDomainError(core.ModuleArtifact, core.ErrorCodeInvalidInput,
			fmt.Sprintf("invalid model version %q", version))
	}
	return nil
}

func corrupt(err error, format string, args ...any) error {
	return core.WrapDomainError(core.ModuleArtifact, core.ErrorCodeCorruptArtifact, err, format, args...)
}

func loadFeatures(dir string) (string, []string, error) {
	for _, name := range featureFiles {
		data, err := os.ReadFile(filepath.Join(dir, name))
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			return "", nil, corrupt(err, "failed to read %s", name)
		}
		features, err := parseFeatureList(data)
		if err != nil {
			return "", nil, corrupt(err, "invalid %s", name)
		}
		return name, features, nil
	}
	return "", nil, core.NewDomainError(core.ModuleArtifact, core.ErrorCodeCorruptArtifact,
		fmt.Sprintf("no %s found in %s", strings.Join(featureFiles, " or "), dir))
}

// parseFeatureList 兼容 ["a","b"] 与 {"features": ["a","b"]} 两种写法
func parseFeatureList(data []byte) ([]string, error) {
	var features []string
	if err := json.Unmarshal(data, &features); err != nil {
		var wrapped struct {
			Features []string `json:"features"`
		}
		if err2 := json.Unmarshal(data, &wrapped); err2 != nil {
			return nil, err
		}
		features = wrapped.Features
	}
	if len(features) == 0 {
		return nil, fmt.Errorf("feature list is empty")
	}
	seen := make(map[string]struct{}, len(features))
	for _, f := range features {
		if strings.TrimSpace(f) == "" {
			return nil, fmt.Errorf("feature list contains an empty name")
		}
		if _, dup := seen[f]; dup {
			return nil, fmt.Errorf("duplicate feature %q", f)
		}
		seen[f] = struct{}{}
	}
	return features, nil
}

// findModel 按注册顺序返回第一个存在的模型文件
func findModel(dir string) (loaderEntry, error) {
	for _, e := range registeredLoaders() {
		if _, err := os.Stat(filepath.Join(dir, e.file)); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return loaderEntry{}, corrupt(err, "failed to stat %s", e.file)
		}
		return e, nil
	}
	return loaderEntry{}, core.NewDomainError(core.ModuleArtifact, core.ErrorCodeNotFound,
		fmt.Sprintf("no model file in %s (supported: %s)", dir, describeLoaders()))
}

func (s *FileStore) loadModel(b *Bundle, e loaderEntry) error {
	m, err := e.loader(b.Dir, e.file)
	if err != nil {
		return corrupt(err, "failed to load %s", e.file)
	}
	adapter, err := model.NewAdapter(m)
	if err != nil {
		if c, ok := m.(model.Closer); ok {
			c.Close()
		}
		return corrupt(err, "unusable model in %s", e.file)
	}
	if w := adapter.NumFeatures(); w > 0 && w != len(b.Features) {
		adapter.Close()
		return core.NewDomainError(core.ModuleArtifact, core.ErrorCodeCorruptArtifact,
			fmt.Sprintf("%s expects %d features but %s lists %d", e.file, w, b.FeatureFile, len(b.Features)))
	}
	b.ModelFile = e.file
	b.Model = adapter
	return nil
}

func (s *FileStore) loadPreprocessing(b *Bundle) error {
	path := filepath.Join(b.Dir, ImputerFile)
	if exists, err := fileExists(path); err != nil {
		return corrupt(err, "failed to stat %s", ImputerFile)
	} else if exists {
		imp, err := feature.LoadImputerFromFile(path, b.Features)
		if err != nil {
			return corrupt(err, "invalid %s", ImputerFile)
		}
		b.Imputer = imp
	}

	path = filepath.Join(b.Dir, ScalerFile)
	if exists, err := fileExists(path); err != nil {
		return corrupt(err, "failed to stat %s", ScalerFile)
	} else if exists {
		sc, err := feature.LoadScalerFromFile(path, b.Features)
		if err != nil {
			return corrupt(err, "invalid %s", ScalerFile)
		}
		b.Scaler = sc
	}
	return nil
}

// loadMetadata 加载展示用的元数据，解析失败只记录日志
func (s *FileStore) loadMetadata(b *Bundle) {
	for _, name := range s.provenanceFiles() {
		p, err := LoadProvenance(filepath.Join(b.Dir, name))
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			s.logger.Warnw("ignoring unreadable provenance", "version", b.Version, "file", name, "error", err)
			continue
		}
		b.Provenance = p
		break
	}

	imp, err := LoadImportance(filepath.Join(b.Dir, ImportanceFile))
	switch {
	case err == nil:
		b.Importance = imp
	case !errors.Is(err, os.ErrNotExist):
		s.logger.Warnw("ignoring unreadable global importance", "version", b.Version, "error", err)
	}
}

func (s *FileStore) provenanceFiles() []string {
	if s.provenanceFile == "provenance.json" {
		return []string{s.provenanceFile}
	}
	return []string{s.provenanceFile, "provenance.json"}
}

func fileExists(path string) (bool, error) {
	_, err := os.Stat(path)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	return false, err
}
