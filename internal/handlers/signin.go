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

// ClaimGroupSyncName registers ClaimGroupSync.
const ClaimGroupSyncName = "claim_group_sync"

// ClaimGroupSyncOptions configures sign-in group synchronisation.
type ClaimGroupSyncOptions struct {
	ClaimType    string `yaml:"claim_type"`    // Claim type whose values name groups
	DefaultGroup string `yaml:"default_group"` // Group used when the provider sent no claims
	Relation     string `yaml:"relation"`      // User to group membership relation
}

// ClaimGroupSync replaces the group memberships of an externally
// authenticated user with the groups named by their claims.
type ClaimGroupSync struct {
	opts ClaimGroupSyncOptions
}

// NewClaimGroupSync validates opts, applies defaults and returns the handler.
func NewClaimGroupSync(opts ClaimGroupSyncOptions) (*ClaimGroupSync, error) {
	if opts.ClaimType == "" {
		return nil, errors.New("'claim_type' is required")
	}
	if opts.DefaultGroup == "" {
		opts.DefaultGroup = "Everyone"
	}
	if opts.Relation == "" {
		opts.Relation = models.RelationUserGroupToUser
	}
	return &ClaimGroupSync{opts: opts}, nil
}

func newClaimGroupSync(node *yaml.Node) (Handler, error) {
	var opts ClaimGroupSyncOptions
	if err := decodeOptions(node, &opts); err != nil {
		return nil, err
	}
	return NewClaimGroupSync(opts)
}

// GroupNames returns the group names a sign-in derives: the values of claims
// of the configured type in claim order, or the default group when the
// provider sent no claim list at all. An empty list yields no groups.
func (s *ClaimGroupSync) GroupNames(info *models.ExternalUserInfo) []string {
	if info == nil || info.Claims == nil {
		return []string{s.opts.DefaultGroup}
	}
	names := []string{}
	seen := make(map[string]bool)
	for _, c := range info.Claims {
		if c.Type != s.opts.ClaimType || seen[c.Value] {
			continue
		}
		seen[c.Value] = true
		names = append(names, c.Value)
	}
	return names
}

// Handle implements Handler.
func (s *ClaimGroupSync) Handle(ctx context.Context, ev models.Event, h host.Host) models.Outcome {
	if ev.AuthenticationSource != models.AuthSourceExternal {
		return models.Allow()
	}
	user := ev.User
	if user == nil {
		return models.Fatal(errors.New("sign-in event carries no user"))
	}
	l := logger.L().With("event_id", ev.ID, "user_id", user.ID)

	names := s.GroupNames(ev.ExternalUserInfo)
	resolved, err := h.Groups.GroupIDs(ctx, names)
	if err != nil {
		return models.Fatal(fmt.Errorf("resolve user groups: %w", err))
	}
	ids := make([]int64, 0, len(names))
	for _, n := range names {
		if id, ok := resolved[n]; ok {
			ids = append(ids, id)
			continue
		}
		l.Debug("Dropping unresolved user group", "group", n)
	}

	if err := h.Ensure(ctx, user, models.LoadSpec{Relations: []string{s.opts.Relation}}); err != nil {
		return models.Fatal(err)
	}
	memberships := user.Relation(s.opts.Relation)
	if memberships == nil {
		return models.Fatal(&models.ConfigurationError{Object: "relation", Name: s.opts.Relation})
	}

	next := memberships.Clone()
	next.SetIDs(ids)
	update := &models.Entity{
		ID:         user.ID,
		Definition: user.Definition,
		Relations:  map[string]*models.Relation{s.opts.Relation: next},
	}
	if err := h.Entities.Save(ctx, update); err != nil {
		return models.Fatal(fmt.Errorf("save user %d: %w", user.ID, err))
	}
	l.Info("User groups synchronised", "groups", len(ids), "requested", len(names))

	return models.Persisted(models.Mutation{
		Kind:     models.MutationSetParents,
		EntityID: user.ID,
		Member:   s.opts.Relation,
		Parents:  ids,
	})
}
