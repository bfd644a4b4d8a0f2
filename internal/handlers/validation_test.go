package handlers

import (
	"context"
	"testing"

	"github.com/pbaity/hubscript/internal/host"
	"github.com/pbaity/hubscript/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fileEvent(filename any) models.Event {
	return models.Event{
		ID:               "ev-2",
		Kind:             models.EventKindCreation,
		TriggeringUserID: 100,
		Target: &models.Entity{ID: 1, Definition: "M.Asset", Properties: map[string]any{
			models.PropertyFileName: filename,
		}},
	}
}

func TestExtensionValidation(t *testing.T) {
	testInitLogger(t)
	v, err := NewExtensionValidation(ExtensionValidationOptions{})
	require.NoError(t, err)
	h := host.NewMemoryHost().Host()
	ctx := context.Background()

	tests := []struct {
		name     string
		filename any
		reject   bool
	}{
		{"allowed extension", "photo.jpg", false},
		{"upper case extension", "A.JPG", false},
		{"jpeg", "scan.jpeg", false},
		{"disallowed extension", "doc.pdf", true},
		{"no extension", "noext", false},
		{"empty filename", "", false},
		{"nil filename", nil, false},
		{"trailing dot", "photo.", true},
		{"last dot wins", "photo.jpg.exe", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := v.Handle(ctx, fileEvent(tt.filename), h)
			if !tt.reject {
				assert.Equal(t, models.OutcomeAllow, out.Kind)
				return
			}
			assert.Equal(t, models.OutcomeReject, out.Kind)
			assert.Equal(t, models.RejectValidation, out.RejectKind)
			require.Len(t, out.Failures, 1)
			assert.Equal(t, tt.filename, out.Failures[0].Value)
			assert.Contains(t, out.Reason, tt.filename)
		})
	}
}

func TestExtensionValidation_RejectDetails(t *testing.T) {
	testInitLogger(t)
	v, err := NewExtensionValidation(ExtensionValidationOptions{})
	require.NoError(t, err)

	out := v.Handle(context.Background(), fileEvent("doc.pdf"), host.NewMemoryHost().Host())
	assert.Equal(t, `The asset is not valid: "doc.pdf".`, out.Reason)
	assert.Equal(t, []models.ValidationFailure{{
		Message: "The file's extension must be the extension of a valid web filetype.",
		Value:   "doc.pdf",
	}}, out.Failures)
}

func TestExtensionValidation_LoadsMissingProperty(t *testing.T) {
	testInitLogger(t)
	mh := host.NewMemoryHost()
	mh.PutEntity(&models.Entity{ID: 1, Properties: map[string]any{"Name": "report.docx"}})
	v, err := NewExtensionValidation(ExtensionValidationOptions{Property: "Name", Extensions: []string{"pdf"}})
	require.NoError(t, err)
	ctx := context.Background()

	ev := fileEvent(nil)
	ev.Target.Properties = nil
	out := v.Handle(ctx, ev, mh.Host())
	assert.Equal(t, models.OutcomeReject, out.Kind)
	assert.Equal(t, "report.docx", out.Failures[0].Value)

	mh.SetFailure(host.OpLoad, host.ErrUnavailable)
	ev = fileEvent(nil)
	ev.Target.Properties = nil
	out = v.Handle(ctx, ev, mh.Host())
	assert.Equal(t, models.OutcomeFatal, out.Kind)
	assert.ErrorIs(t, out.Cause, host.ErrUnavailable)
}

func TestExtensionValidation_NoTarget(t *testing.T) {
	testInitLogger(t)
	v, err := NewExtensionValidation(ExtensionValidationOptions{})
	require.NoError(t, err)

	out := v.Handle(context.Background(), models.Event{Kind: models.EventKindCreation}, host.NewMemoryHost().Host())
	assert.Equal(t, models.OutcomeFatal, out.Kind)
}
