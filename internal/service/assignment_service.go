package service

import (
	"context"
	"errors"
	"strings"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/spec-kit/ticket-triage/internal/domain"
	"github.com/spec-kit/ticket-triage/internal/repository"
)

// AssignmentResolver picks the responsible user for a triaged ticket:
// a moderator whose skills match the extracted tags, falling back to
// any admin. Finding nobody is a valid outcome (nil, nil), never an
// error.
type AssignmentResolver struct {
	users  repository.UserRepository
	logger *zap.Logger
}

// NewAssignmentResolver constructs the resolver.
func NewAssignmentResolver(users repository.UserRepository, logger *zap.Logger) *AssignmentResolver {
	return &AssignmentResolver{users: users, logger: logger}
}

// SkillPattern builds the case-insensitive alternation the store
// matches skills against. Tags are joined verbatim, without escaping
// regex metacharacters, matching upstream behavior.
func SkillPattern(relatedSkills []string) string {
	return strings.Join(relatedSkills, "|")
}

// Resolve returns the user to assign, or nil when no one is eligible.
func (r *AssignmentResolver) Resolve(ctx context.Context, relatedSkills []string) (*domain.User, error) {
	if len(relatedSkills) > 0 {
		pattern := SkillPattern(relatedSkills)
		moderator, err := r.users.FindOneModerator(ctx, pattern)
		if err != nil && !errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		if moderator != nil {
			return moderator, nil
		}
		r.logger.Debug("no moderator matched skills", zap.String("pattern", pattern))
	}

	admin, err := r.users.FindOneAdmin(ctx)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return admin, nil
}
