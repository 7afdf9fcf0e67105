// Package graph maintains the directed, typed and weighted relationship graph
// between files and corpus entities. Edges are append-only: adding the same
// (source, target, type) twice yields two edges.
package graph

import (
	"context"
	"fmt"
	"iter"
	"slices"
	"strings"

	"github.com/OFFIS-RIT/ingest/backend/pkg/ingest"
	"github.com/OFFIS-RIT/ingest/backend/pkg/logger"
	"github.com/OFFIS-RIT/ingest/backend/pkg/store"
)

const defaultPageSize = 200

// Mirror receives every stored edge, e.g. to project the graph into a graph
// database. Failures are logged and never undo the stored edge.
type Mirror interface {
	MirrorRelationship(ctx context.Context, rel ingest.Relationship) error
}

type Graph struct {
	rels     store.RelationshipStore
	cfg      ingest.Config
	mirror   Mirror
	pageSize int
}

type Option func(*Graph)

func WithMirror(m Mirror) Option {
	return func(g *Graph) {
		g.mirror = m
	}
}

// WithPageSize sets how many edges RelationshipsFor loads per store call.
func WithPageSize(n int) Option {
	return func(g *Graph) {
		if n > 0 {
			g.pageSize = n
		}
	}
}

func New(rels store.RelationshipStore, cfg ingest.Config, opts ...Option) *Graph {
	g := &Graph{
		rels:     rels,
		cfg:      cfg,
		pageSize: defaultPageSize,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(g)
	}
	return g
}

// AddParams describes a new edge. Nil Strength and Confidence take the
// defaults; values outside [0,1] are rejected.
type AddParams struct {
	Source      ingest.EntityRef
	Target      ingest.EntityRef
	Type        string
	Strength    *float64
	ContextText *string
	Confidence  *float64
}

func (g *Graph) validateRef(ref ingest.EntityRef) error {
	if strings.TrimSpace(ref.ID) == "" {
		return fmt.Errorf("%w: entity id is empty", ingest.ErrInvalidInput)
	}
	if !g.cfg.AllowsEntityKind(ref.Kind) {
		return fmt.Errorf("%w: unknown entity kind %q", ingest.ErrInvalidInput, ref.Kind)
	}
	return nil
}

// AddRelationship validates and stores one edge.
func (g *Graph) AddRelationship(ctx context.Context, p AddParams) (ingest.Relationship, error) {
	if err := g.validateRef(p.Source); err != nil {
		return ingest.Relationship{}, err
	}
	if err := g.validateRef(p.Target); err != nil {
		return ingest.Relationship{}, err
	}
	if p.Source == p.Target {
		return ingest.Relationship{}, fmt.Errorf("%w: %s", ingest.ErrSelfLoop, p.Source)
	}
	if !g.cfg.AllowsRelationshipType(p.Type) {
		return ingest.Relationship{}, fmt.Errorf("%w: %q", ingest.ErrUnknownType, p.Type)
	}

	strength := ingest.DefaultRelationshipStrength
	if p.Strength != nil {
		strength = *p.Strength
	}
	confidence := ingest.DefaultRelationshipConfidence
	if p.Confidence != nil {
		confidence = *p.Confidence
	}
	if !ingest.InUnitRange(strength) {
		return ingest.Relationship{}, fmt.Errorf("%w: strength %v outside [0,1]", ingest.ErrInvalidInput, strength)
	}
	if !ingest.InUnitRange(confidence) {
		return ingest.Relationship{}, fmt.Errorf("%w: confidence %v outside [0,1]", ingest.ErrInvalidInput, confidence)
	}

	rel, err := g.rels.InsertRelationship(ctx, ingest.Relationship{
		ID:          store.NewID(),
		Source:      p.Source,
		Target:      p.Target,
		Type:        p.Type,
		Strength:    strength,
		ContextText: p.ContextText,
		Confidence:  confidence,
	})
	if err != nil {
		return ingest.Relationship{}, fmt.Errorf("failed to add relationship: %w", err)
	}

	if g.mirror != nil {
		if err := g.mirror.MirrorRelationship(ctx, rel); err != nil {
			logger.Warn("[Graph] Failed to mirror relationship", "id", rel.ID, "err", err)
		}
	}
	return rel, nil
}

// RelationshipsFor returns the edges touching entity in creation order. The
// sequence loads lazily, page by page, and starts over on every range. An
// error ends the sequence after being yielded once.
func (g *Graph) RelationshipsFor(
	ctx context.Context,
	entity ingest.EntityRef,
	dir ingest.Direction,
	types ...string,
) iter.Seq2[ingest.Relationship, error] {
	types = typeFilter(types)
	return func(yield func(ingest.Relationship, error) bool) {
		var after *store.Cursor
		for {
			page, err := g.rels.ListRelationships(ctx, store.RelationshipQuery{
				Entity:    entity,
				Direction: dir,
				Types:     types,
				After:     after,
				Limit:     g.pageSize,
			})
			if err != nil {
				yield(ingest.Relationship{}, err)
				return
			}
			for _, rel := range page {
				if !yield(rel, nil) {
					return
				}
			}
			if len(page) < g.pageSize {
				return
			}
			last := page[len(page)-1]
			after = &store.Cursor{CreatedAt: last.CreatedAt, ID: last.ID}
		}
	}
}

// Collect drains seq into a slice and stops at the first error.
func Collect(seq iter.Seq2[ingest.Relationship, error]) ([]ingest.Relationship, error) {
	out := make([]ingest.Relationship, 0)
	for rel, err := range seq {
		if err != nil {
			return nil, err
		}
		out = append(out, rel)
	}
	return out, nil
}

// Neighborhood is the one-hop view of an entity.
type Neighborhood struct {
	Entity    ingest.EntityRef      `json:"entity"`
	Outgoing  []ingest.Relationship `json:"outgoing"`
	Incoming  []ingest.Relationship `json:"incoming"`
	Neighbors []ingest.EntityRef    `json:"neighbors"`
}

// Neighborhood loads the outgoing and incoming edges of entity and the
// distinct entities on their other ends, in first-seen order.
func (g *Graph) Neighborhood(ctx context.Context, entity ingest.EntityRef) (Neighborhood, error) {
	out, err := Collect(g.RelationshipsFor(ctx, entity, ingest.DirectionOutgoing))
	if err != nil {
		return Neighborhood{}, err
	}
	in, err := Collect(g.RelationshipsFor(ctx, entity, ingest.DirectionIncoming))
	if err != nil {
		return Neighborhood{}, err
	}

	seen := make(map[ingest.EntityRef]struct{})
	neighbors := make([]ingest.EntityRef, 0)
	add := func(ref ingest.EntityRef) {
		if _, ok := seen[ref]; ok {
			return
		}
		seen[ref] = struct{}{}
		neighbors = append(neighbors, ref)
	}
	for _, rel := range out {
		add(rel.Target)
	}
	for _, rel := range in {
		add(rel.Source)
	}

	return Neighborhood{Entity: entity, Outgoing: out, Incoming: in, Neighbors: neighbors}, nil
}

// typeFilter normalizes requested relationship types the way the configured
// vocabulary is normalized. Blank and repeated entries are dropped; nil means
// no filter.
func typeFilter(types []string) []string {
	var out []string
	for _, t := range types {
		t = strings.ToLower(strings.TrimSpace(t))
		if t == "" || slices.Contains(out, t) {
			continue
		}
		out = append(out, t)
	}
	return out
}
