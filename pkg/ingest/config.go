package ingest

import (
	"fmt"
	"os"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config holds the per-deployment vocabulary of the engine. It is passed to
// the registry and the graph at construction so deployments can change the
// accepted file and relationship types without a code change.
type Config struct {
	FileTypes         []FileType `yaml:"file_types"`
	RelationshipTypes []string   `yaml:"relationship_types"`
	// EntityKinds lists the corpus entity kinds edges may point at. The file
	// kind is always accepted.
	EntityKinds []string `yaml:"entity_kinds"`
	// MaxFileSize in bytes, 0 disables the limit.
	MaxFileSize int64 `yaml:"max_file_size"`
	// KeywordTags are tagged on a file when they occur in its extracted text.
	KeywordTags []string `yaml:"keyword_tags"`
}

// DefaultConfig returns the vocabulary of the reference deployment.
func DefaultConfig() Config {
	return Config{
		FileTypes:         []FileType{FileTypePDF, FileTypeTXT, FileTypeMD, FileTypeDOCX},
		RelationshipTypes: []string{"inspired", "supports", "contradicts", "references", "contains"},
		EntityKinds:       []string{"rpe", "axiom", "concept"},
		MaxFileSize:       50 << 20,
	}
}

// LoadConfig reads a YAML config file. An empty path yields DefaultConfig.
// Lists and the size limit missing from the file fall back to the defaults.
func LoadConfig(path string) (Config, error) {
	if path == "" {
		return DefaultConfig(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	return ParseConfig(data)
}

// ParseConfig decodes a YAML document into a Config.
func ParseConfig(data []byte) (Config, error) {
	def := DefaultConfig()
	// An explicit max_file_size: 0 still disables the limit.
	cfg := Config{MaxFileSize: def.MaxFileSize}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config: %w", err)
	}

	if len(cfg.FileTypes) == 0 {
		cfg.FileTypes = def.FileTypes
	}
	if len(cfg.RelationshipTypes) == 0 {
		cfg.RelationshipTypes = def.RelationshipTypes
	}
	if len(cfg.EntityKinds) == 0 {
		cfg.EntityKinds = def.EntityKinds
	}
	if cfg.MaxFileSize < 0 {
		return Config{}, fmt.Errorf("max_file_size must not be negative")
	}

	for i := range cfg.FileTypes {
		cfg.FileTypes[i] = FileType(normalize(string(cfg.FileTypes[i])))
	}
	for i := range cfg.RelationshipTypes {
		cfg.RelationshipTypes[i] = normalize(cfg.RelationshipTypes[i])
	}
	for i := range cfg.EntityKinds {
		cfg.EntityKinds[i] = normalize(cfg.EntityKinds[i])
	}
	return cfg, nil
}

func (c Config) AllowsFileType(t FileType) bool {
	return slices.Contains(c.FileTypes, t)
}

func (c Config) AllowsRelationshipType(t string) bool {
	return slices.Contains(c.RelationshipTypes, t)
}

func (c Config) AllowsEntityKind(kind string) bool {
	return kind == EntityKindFile || slices.Contains(c.EntityKinds, kind)
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
