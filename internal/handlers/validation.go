package handlers

import (
	"context"
	"errors"
	"fmt"

	"github.com/pbaity/hubscript/internal/host"
	"github.com/pbaity/hubscript/pkg/models"
	"gopkg.in/yaml.v3"
)

// ExtensionValidationName registers ExtensionValidation.
const ExtensionValidationName = "extension_validation"

// ExtensionValidationOptions configures the extension validation gate.
type ExtensionValidationOptions struct {
	Property       string   `yaml:"property"`        // String property holding the file name
	Extensions     []string `yaml:"extensions"`      // Allowed extensions
	Message        string   `yaml:"message"`         // Reject reason; may use {{value}} and {{extension}}
	FailureMessage string   `yaml:"failure_message"` // Message of the single validation failure
}

const (
	defaultValidationMessage = `The asset is not valid: "{{value}}".`
	defaultFailureMessage    = "The file's extension must be the extension of a valid web filetype."
)

// ExtensionValidation rejects entities whose file name carries an extension
// outside the allowed set. Missing names and names without an extension pass.
type ExtensionValidation struct {
	opts    ExtensionValidationOptions
	allowed ExtensionSet
}

// NewExtensionValidation validates opts, applies defaults and returns the gate.
func NewExtensionValidation(opts ExtensionValidationOptions) (*ExtensionValidation, error) {
	if opts.Property == "" {
		opts.Property = models.PropertyFileName
	}
	if opts.Extensions == nil {
		opts.Extensions = DefaultWebExtensions
	}
	allowed, err := NewExtensionSet(opts.Extensions)
	if err != nil {
		return nil, fmt.Errorf("'extensions': %w", err)
	}
	if opts.Message == "" {
		opts.Message = defaultValidationMessage
	}
	if opts.FailureMessage == "" {
		opts.FailureMessage = defaultFailureMessage
	}
	for _, tmpl := range []string{opts.Message, opts.FailureMessage} {
		if err := validateTemplate(tmpl, "value", "extension"); err != nil {
			return nil, err
		}
	}
	return &ExtensionValidation{opts: opts, allowed: allowed}, nil
}

func newExtensionValidation(node *yaml.Node) (Handler, error) {
	var opts ExtensionValidationOptions
	if err := decodeOptions(node, &opts); err != nil {
		return nil, err
	}
	return NewExtensionValidation(opts)
}

// Handle implements Handler.
func (v *ExtensionValidation) Handle(ctx context.Context, ev models.Event, h host.Host) models.Outcome {
	target := ev.Target
	if target == nil {
		return models.Fatal(errors.New("event carries no target entity"))
	}
	if err := h.Ensure(ctx, target, models.LoadSpec{Properties: []string{v.opts.Property}}); err != nil {
		return models.Fatal(err)
	}

	filename := target.PropertyString(v.opts.Property)
	if filename == "" {
		return models.Allow()
	}
	ext, ok := Extension(filename)
	if !ok || v.allowed.Contains(ext) {
		return models.Allow()
	}

	params := map[string]string{"value": filename, "extension": ext}
	return models.Invalid(
		expandTemplate(v.opts.Message, params),
		models.ValidationFailure{Message: expandTemplate(v.opts.FailureMessage, params), Value: filename},
	)
}
