// Package neo4j projects stored relationships into a Neo4j database so the
// graph can be explored with Cypher. Postgres stays the source of truth.
package neo4j

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/OFFIS-RIT/ingest/backend/pkg/ingest"
	"github.com/OFFIS-RIT/ingest/backend/pkg/logger"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

type Config struct {
	URI      string
	User     string
	Password string
	Database string
	Timeout  time.Duration
	MaxPool  int
}

// Mirror implements graph.Mirror.
type Mirror struct {
	driver   neo4j.DriverWithContext
	database string

	schemaOnce sync.Once
}

// Connect creates the driver and verifies connectivity. It returns nil, nil
// when cfg.URI is empty.
func Connect(ctx context.Context, cfg Config) (*Mirror, error) {
	if strings.TrimSpace(cfg.URI) == "" {
		return nil, nil
	}
	if cfg.User == "" {
		cfg.User = "neo4j"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.MaxPool <= 0 {
		cfg.MaxPool = 50
	}

	driver, err := neo4j.NewDriverWithContext(cfg.URI, neo4j.BasicAuth(cfg.User, cfg.Password, ""), func(c *neo4j.Config) {
		c.MaxConnectionPoolSize = cfg.MaxPool
		c.SocketConnectTimeout = cfg.Timeout
	})
	if err != nil {
		return nil, fmt.Errorf("neo4j: init driver: %w", err)
	}

	verifyCtx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()
	if err := driver.VerifyConnectivity(verifyCtx); err != nil {
		_ = driver.Close(ctx)
		return nil, fmt.Errorf("neo4j: verify connectivity: %w", err)
	}

	return &Mirror{driver: driver, database: cfg.Database}, nil
}

func (m *Mirror) Close(ctx context.Context) error {
	if m == nil || m.driver == nil {
		return nil
	}
	return m.driver.Close(ctx)
}

// MirrorRelationship merges both endpoints and the edge. The edge is keyed by
// its id, so replaying an edge does not duplicate it.
func (m *Mirror) MirrorRelationship(ctx context.Context, rel ingest.Relationship) error {
	session := m.driver.NewSession(ctx, neo4j.SessionConfig{
		AccessMode:   neo4j.AccessModeWrite,
		DatabaseName: m.database,
	})
	defer session.Close(ctx)

	m.schemaOnce.Do(func() {
		res, err := session.Run(ctx, schemaCypher, nil)
		if err != nil {
			logger.Warn("[Neo4j] Schema init failed, continuing", "err", err)
			return
		}
		_, _ = res.Consume(ctx)
	})

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, MergeCypher(rel.Type), Params(rel))
		if err != nil {
			return nil, err
		}
		return res.Consume(ctx)
	})
	return err
}

const schemaCypher = `CREATE CONSTRAINT entity_ref_unique IF NOT EXISTS FOR (e:Entity) REQUIRE (e.kind, e.id) IS UNIQUE`

// MergeCypher returns the statement for an edge of relType. Relationship
// types cannot be parameters in Cypher, so the type is reduced to
// [A-Z0-9_] before it is spliced in.
func MergeCypher(relType string) string {
	return `
MERGE (s:Entity {kind: $source_kind, id: $source_id})
MERGE (t:Entity {kind: $target_kind, id: $target_id})
MERGE (s)-[r:` + Label(relType) + ` {id: $id}]->(t)
SET r.strength = $strength,
    r.confidence = $confidence,
    r.context = $context,
    r.created_at = $created_at
`
}

// Label maps a relationship type to a Cypher relationship label.
func Label(relType string) string {
	var b strings.Builder
	for _, r := range strings.ToUpper(relType) {
		switch {
		case r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
			b.WriteRune(r)
		case r == '-' || r == ' ':
			b.WriteRune('_')
		}
	}
	if b.Len() == 0 {
		return "RELATED"
	}
	return b.String()
}

// Params returns the statement parameters for rel.
func Params(rel ingest.Relationship) map[string]any {
	var contextText any
	if rel.ContextText != nil {
		contextText = *rel.ContextText
	}
	return map[string]any{
		"id":          rel.ID.String(),
		"source_kind": rel.Source.Kind,
		"source_id":   rel.Source.ID,
		"target_kind": rel.Target.Kind,
		"target_id":   rel.Target.ID,
		"strength":    rel.Strength,
		"confidence":  rel.Confidence,
		"context":     contextText,
		"created_at":  rel.CreatedAt,
	}
}
