package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"
)

// EnvPrefix prefixes every environment variable the CLI reads.
const EnvPrefix = "BACKLOG_"

// ErrNotFound is returned when an explicitly named config file does not exist.
var ErrNotFound = errors.New("config file not found")

// Source loads configuration values into a koanf instance. Sources are
// applied in ascending Priority order so later sources override earlier ones.
//
// Built-in priorities:
//   - DefaultSource (10)
//   - FileSource (20)
//   - EnvSource (30)
//   - FlagSource (40)
type Source interface {
	Name() string
	Priority() int
	Load(k *koanf.Koanf) error
}

// DefaultSource loads Default().
type DefaultSource struct{}

func (s *DefaultSource) Name() string  { return "defaults" }
func (s *DefaultSource) Priority() int { return 10 }

func (s *DefaultSource) Load(k *koanf.Koanf) error {
	if err := k.Load(confmap.Provider(DefaultAsMap(), "."), nil); err != nil {
		return fmt.Errorf("load defaults: %w", err)
	}
	return nil
}

// FileSource loads a YAML file. An empty Path is skipped. A missing file
// is skipped unless Required is set.
type FileSource struct {
	Path     string
	Required bool
}

func (s *FileSource) Name() string  { return "file:" + s.Path }
func (s *FileSource) Priority() int { return 20 }

func (s *FileSource) Load(k *koanf.Koanf) error {
	if s.Path == "" {
		return nil
	}

	if _, err := os.Stat(s.Path); err != nil {
		if os.IsNotExist(err) {
			if s.Required {
				return fmt.Errorf("%w: %s", ErrNotFound, s.Path)
			}
			return nil
		}
		return fmt.Errorf("check config file %s: %w", s.Path, err)
	}

	if err := k.Load(file.Provider(s.Path), yaml.Parser()); err != nil {
		return fmt.Errorf("load config file %s: %w", s.Path, err)
	}
	return nil
}

// EnvSource loads BACKLOG_* variables. The first underscore after the
// prefix separates the section from the key:
//
//	BACKLOG_LOG_LEVEL            -> log.level
//	BACKLOG_WORKER_POLL_INTERVAL -> worker.poll_interval
//	BACKLOG_STORE_URL            -> store.url
type EnvSource struct {
	Prefix string
}

func (s *EnvSource) Name() string  { return "env" }
func (s *EnvSource) Priority() int { return 30 }

func (s *EnvSource) Load(k *koanf.Koanf) error {
	prefix := s.Prefix
	if prefix == "" {
		prefix = EnvPrefix
	}

	if err := k.Load(env.Provider(prefix, ".", func(key string) string {
		key = strings.ToLower(strings.TrimPrefix(key, prefix))
		return strings.Replace(key, "_", ".", 1)
	}), nil); err != nil {
		return fmt.Errorf("load environment: %w", err)
	}
	return nil
}

// flagKeys maps CLI flag names onto config keys. Flags not listed here
// are not configuration and are ignored.
var flagKeys = map[string]string{
	"concurrency": "worker.concurrency",
	"store":       "store.driver",
	"store-url":   "store.url",
	"output":      "output",
}

// FlagSource loads command-line flags. Only flags the user changed
// override values from earlier sources.
type FlagSource struct {
	Flags *pflag.FlagSet
	Debug bool
}

func (s *FlagSource) Name() string  { return "flags" }
func (s *FlagSource) Priority() int { return 40 }

func (s *FlagSource) Load(k *koanf.Koanf) error {
	if s.Flags != nil {
		fs := s.Flags
		provider := posflag.ProviderWithFlag(fs, ".", k, func(f *pflag.Flag) (string, interface{}) {
			key, ok := flagKeys[f.Name]
			if !ok {
				return "", nil
			}
			return key, posflag.FlagVal(fs, f)
		})
		if err := k.Load(provider, nil); err != nil {
			return fmt.Errorf("load flags: %w", err)
		}
	}

	if s.Debug {
		_ = k.Set("log.level", "debug")
	}
	return nil
}

// DefaultSources returns defaults -> file -> env -> flags. A non-empty
// path was named by the user and therefore must exist.
func DefaultSources(path string, flags *pflag.FlagSet, debug bool) []Source {
	return []Source{
		&DefaultSource{},
		&FileSource{Path: path, Required: path != ""},
		&EnvSource{Prefix: EnvPrefix},
		&FlagSource{Flags: flags, Debug: debug},
	}
}
