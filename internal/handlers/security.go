package handlers

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/pbaity/hubscript/internal/host"
	"github.com/pbaity/hubscript/pkg/models"
	"gopkg.in/yaml.v3"
)

// AuthorizationGateName registers AuthorizationGate.
const AuthorizationGateName = "authorization_gate"

// AuthorizationGateOptions configures the authorization gate.
type AuthorizationGateOptions struct {
	Group    string `yaml:"group"`    // Required user group name
	Relation string `yaml:"relation"` // User to group membership relation
	Message  string `yaml:"message"`  // Reject reason; may use {{group}} and {{user_id}}
}

const defaultAuthorizationMessage = "Only users of usergroup '{{group}}' are allowed to create or modify this entity."

// AuthorizationGate rejects entity events whose triggering user is not a
// member of the required group.
type AuthorizationGate struct {
	opts AuthorizationGateOptions
}

// NewAuthorizationGate validates opts, applies defaults and returns the gate.
func NewAuthorizationGate(opts AuthorizationGateOptions) (*AuthorizationGate, error) {
	if opts.Group == "" {
		return nil, errors.New("'group' is required")
	}
	if opts.Relation == "" {
		opts.Relation = models.RelationUserGroupToUser
	}
	if opts.Message == "" {
		opts.Message = defaultAuthorizationMessage
	}
	if err := validateTemplate(opts.Message, "group", "user_id"); err != nil {
		return nil, fmt.Errorf("'message': %w", err)
	}
	return &AuthorizationGate{opts: opts}, nil
}

func newAuthorizationGate(node *yaml.Node) (Handler, error) {
	var opts AuthorizationGateOptions
	if err := decodeOptions(node, &opts); err != nil {
		return nil, err
	}
	return NewAuthorizationGate(opts)
}

// Handle implements Handler.
func (g *AuthorizationGate) Handle(ctx context.Context, ev models.Event, h host.Host) models.Outcome {
	user, err := h.Entities.Get(ctx, ev.TriggeringUserID, models.LoadSpec{Relations: []string{g.opts.Relation}})
	if err != nil {
		if errors.Is(err, host.ErrNotFound) {
			return models.Fatal(fmt.Errorf("triggering user %d could not be found: %w", ev.TriggeringUserID, err))
		}
		return models.Fatal(fmt.Errorf("load triggering user %d: %w", ev.TriggeringUserID, err))
	}

	group, err := h.Groups.GroupByName(ctx, g.opts.Group)
	if err != nil {
		if errors.Is(err, host.ErrNotFound) {
			return models.Fatal(&models.ConfigurationError{Object: "user group", Name: g.opts.Group})
		}
		return models.Fatal(fmt.Errorf("look up user group %q: %w", g.opts.Group, err))
	}

	memberships := user.Relation(g.opts.Relation)
	if memberships == nil {
		return models.Fatal(&models.ConfigurationError{Object: "relation", Name: g.opts.Relation})
	}
	if !memberships.Contains(group.ID) {
		return models.Forbidden(expandTemplate(g.opts.Message, map[string]string{
			"group":   g.opts.Group,
			"user_id": strconv.FormatInt(ev.TriggeringUserID, 10),
		}))
	}
	return models.Allow()
}
