package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/pbaity/hubscript/internal/host"
	"github.com/pbaity/hubscript/pkg/models"
	"gopkg.in/yaml.v3"
)

// MetadataAggregationName registers MetadataAggregation.
const MetadataAggregationName = "metadata_aggregation"

// MetadataAggregationOptions configures metadata aggregation.
type MetadataAggregationOptions struct {
	MasterRelation string `yaml:"master_relation"` // Relation on the file naming the asset(s) it is master of
	Property       string `yaml:"property"`        // Asset text property receiving the CSV
}

// MetadataAggregation writes the extracted metadata of a master file onto its
// asset as two CSV rows and saves the asset.
type MetadataAggregation struct {
	opts MetadataAggregationOptions
}

// NewMetadataAggregation applies defaults and returns the handler.
func NewMetadataAggregation(opts MetadataAggregationOptions) (*MetadataAggregation, error) {
	if opts.MasterRelation == "" {
		opts.MasterRelation = models.RelationMasterFile
	}
	if opts.Property == "" {
		opts.Property = models.PropertyMetadata
	}
	return &MetadataAggregation{opts: opts}, nil
}

func newMetadataAggregation(node *yaml.Node) (Handler, error) {
	var opts MetadataAggregationOptions
	if err := decodeOptions(node, &opts); err != nil {
		return nil, err
	}
	return NewMetadataAggregation(opts)
}

// Handle implements Handler.
func (m *MetadataAggregation) Handle(ctx context.Context, ev models.Event, h host.Host) models.Outcome {
	if ev.Asset == nil || ev.File == nil {
		return models.Fatal(errors.New("processing event carries no asset or file"))
	}
	if err := h.Ensure(ctx, ev.File, models.LoadSpec{Relations: []string{m.opts.MasterRelation}}); err != nil {
		return models.Fatal(err)
	}
	master := ev.File.Relation(m.opts.MasterRelation)
	if master == nil {
		return models.Fatal(&models.ConfigurationError{Object: "relation", Name: m.opts.MasterRelation})
	}
	if master.Empty() || !master.Contains(ev.Asset.ID) {
		return models.Allow()
	}

	text := FormatCSV(ev.Metadata)
	update := &models.Entity{ID: ev.Asset.ID, Definition: ev.Asset.Definition}
	update.SetProperty(m.opts.Property, text)
	if err := h.Entities.Save(ctx, update); err != nil {
		return models.Fatal(fmt.Errorf("save asset %d: %w", ev.Asset.ID, err))
	}

	return models.Persisted(models.Mutation{
		Kind:     models.MutationSetProperty,
		EntityID: ev.Asset.ID,
		Member:   m.opts.Property,
		Value:    text,
	})
}

// FormatCSV renders metadata as a header row of keys and a row of values,
// each joined by ", ", the rows separated by a newline. Cells containing a
// comma are wrapped in double quotes; nothing is escaped.
func FormatCSV(md models.Metadata) string {
	headers := make([]string, len(md))
	values := make([]string, len(md))
	for i, p := range md {
		headers[i] = csvValue(p.Key)
		values[i] = csvValue(p.Value)
	}
	return strings.Join(headers, ", ") + "\n" + strings.Join(values, ", ")
}

func csvValue(v any) string {
	var s string
	switch v := v.(type) {
	case nil:
	case json.RawMessage:
		s = string(v)
	case float64:
		s = strconv.FormatFloat(v, 'f', -1, 64)
	case float32:
		s = strconv.FormatFloat(float64(v), 'f', -1, 32)
	default:
		s = fmt.Sprint(v)
	}
	if strings.Contains(s, ",") {
		return `"` + s + `"`
	}
	return s
}
