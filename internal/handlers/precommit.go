package handlers

import (
	"context"
	"errors"
	"fmt"

	"github.com/pbaity/hubscript/internal/host"
	"github.com/pbaity/hubscript/internal/logger"
	"github.com/pbaity/hubscript/pkg/models"
	"gopkg.in/yaml.v3"
)

// ExtensionClassificationName registers ExtensionClassification.
const ExtensionClassificationName = "extension_classification"

// ExtensionClassificationOptions configures pre-commit classification.
type ExtensionClassificationOptions struct {
	Property   string   `yaml:"property"`   // String property holding the file name
	Extensions []string `yaml:"extensions"` // Extensions that select the classification
	Relation   string   `yaml:"relation"`   // Single-parent relation to set
	Identifier string   `yaml:"identifier"` // Identifier of the classification entity
}

// ExtensionClassification links an entity whose file name carries a matching
// extension to a classification entity, as a mutation applied with the commit.
type ExtensionClassification struct {
	opts     ExtensionClassificationOptions
	matching ExtensionSet
}

// NewExtensionClassification validates opts, applies defaults and returns the handler.
func NewExtensionClassification(opts ExtensionClassificationOptions) (*ExtensionClassification, error) {
	if opts.Property == "" {
		opts.Property = models.PropertyFileName
	}
	if opts.Extensions == nil {
		opts.Extensions = DefaultWebExtensions
	}
	matching, err := NewExtensionSet(opts.Extensions)
	if err != nil {
		return nil, fmt.Errorf("'extensions': %w", err)
	}
	if opts.Relation == "" {
		opts.Relation = models.RelationAssetTypeToAsset
	}
	if opts.Identifier == "" {
		opts.Identifier = "M.AssetType.Web"
	}
	return &ExtensionClassification{opts: opts, matching: matching}, nil
}

func newExtensionClassification(node *yaml.Node) (Handler, error) {
	var opts ExtensionClassificationOptions
	if err := decodeOptions(node, &opts); err != nil {
		return nil, err
	}
	return NewExtensionClassification(opts)
}

// Handle implements Handler.
func (c *ExtensionClassification) Handle(ctx context.Context, ev models.Event, h host.Host) models.Outcome {
	target := ev.Target
	if target == nil {
		return models.Fatal(errors.New("event carries no target entity"))
	}
	spec := models.LoadSpec{Properties: []string{c.opts.Property}, Relations: []string{c.opts.Relation}}
	if err := h.Ensure(ctx, target, spec); err != nil {
		return models.Fatal(err)
	}

	filename := target.PropertyString(c.opts.Property)
	if filename == "" {
		return models.Allow()
	}
	ext, ok := Extension(filename)
	if !ok || !c.matching.Contains(ext) {
		return models.Allow()
	}

	l := logger.L().With("event_id", ev.ID, "entity_id", target.ID, "identifier", c.opts.Identifier)
	classID, err := h.Query.SingleIDByIdentifier(ctx, c.opts.Identifier)
	if err != nil {
		if errors.Is(err, host.ErrNotFound) {
			l.Warn("Classification entity not found, leaving entity unclassified")
			return models.Allow()
		}
		return models.Fatal(fmt.Errorf("look up classification %q: %w", c.opts.Identifier, err))
	}

	rel := target.Relation(c.opts.Relation)
	if rel == nil {
		return models.Allow()
	}
	if rel.Cardinality != models.ToOneParent {
		return models.Fatal(fmt.Errorf("relation %q is not single-parent: %w", c.opts.Relation, models.ErrConfiguration))
	}
	if rel.Parent != nil && *rel.Parent == classID {
		l.Debug("Entity already classified")
		return models.Allow()
	}

	return models.Mutate(models.Mutation{
		Kind:     models.MutationSetParent,
		EntityID: target.ID,
		Member:   c.opts.Relation,
		Parent:   classID,
	})
}
