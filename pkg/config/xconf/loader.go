package xconf

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"

	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

// Format 配置文件格式。
type Format string

// 支持的配置格式。
const (
	// FormatYAML YAML 格式（推荐用于 K8s ConfigMap）。
	FormatYAML Format = "yaml"

	// FormatJSON JSON 格式。
	FormatJSON Format = "json"
)

// Loader 持有当前配置快照，支持并发读与原子替换。
type Loader struct {
	path   string
	format Format
	cur    atomic.Pointer[AgentConfig]
}

// Load 从文件加载配置。格式由扩展名检测（.yaml/.yml/.json）。
// 文件中未出现的键保持默认值。
func Load(path string) (*Loader, error) {
	if path == "" {
		return nil, ErrEmptyPath
	}
	format, err := detectFormat(path)
	if err != nil {
		return nil, err
	}
	l := &Loader{path: path, format: format}
	if err := l.Reload(); err != nil {
		return nil, err
	}
	return l, nil
}

// LoadBytes 从字节数据加载配置，需要显式指定格式。
// 适用于内嵌配置与测试；产出的 Loader 不支持 Reload 与 Watch。
func LoadBytes(data []byte, format Format) (*Loader, error) {
	cfg, err := parse(data, format)
	if err != nil {
		return nil, err
	}
	l := &Loader{format: format}
	l.cur.Store(cfg)
	return l, nil
}

// Config 返回当前配置快照。快照不可变：热更新整体替换指针。
func (l *Loader) Config() *AgentConfig {
	return l.cur.Load()
}

// Path 返回配置文件路径；LoadBytes 创建的 Loader 返回空串。
func (l *Loader) Path() string { return l.path }

// Format 返回配置格式。
func (l *Loader) Format() Format { return l.format }

// Reload 重新读取并解析配置文件，校验通过后原子替换快照。
// 解析或校验失败时保留旧快照。
func (l *Loader) Reload() error {
	if l.path == "" {
		return fmt.Errorf("%w: loader created from bytes", ErrLoadFailed)
	}
	data, err := os.ReadFile(l.path)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrLoadFailed, err)
	}
	cfg, err := parse(data, l.format)
	if err != nil {
		return err
	}
	l.cur.Store(cfg)
	return nil
}

func detectFormat(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML, nil
	case ".json":
		return FormatJSON, nil
	default:
		return "", fmt.Errorf("%w: unknown extension %q", ErrUnsupportedFormat, filepath.Ext(path))
	}
}

func parse(data []byte, format Format) (*AgentConfig, error) {
	var parser koanf.Parser
	switch format {
	case FormatYAML:
		parser = yaml.Parser()
	case FormatJSON:
		parser = json.Parser()
	default:
		return nil, ErrUnsupportedFormat
	}

	k := koanf.New(".")
	if len(data) > 0 {
		if err := k.Load(rawbytes.Provider(data), parser); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrParseFailed, err)
		}
	}

	cfg := Default()
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrParseFailed, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
