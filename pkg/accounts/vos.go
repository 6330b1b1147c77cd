package accounts

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"

	"github.com/geyslein/tsm-helmholtz-aai/pkg/auth"
)

// VOByEntitlement looks up a virtual organization by its entitlement string.
func (s *Store) VOByEntitlement(ctx context.Context, entitlement string) (*auth.VirtualOrganization, error) {
	vo := &auth.VirtualOrganization{}
	err := s.db.QueryRowContext(ctx, `
		SELECT id, group_id, eduperson_entitlement, created_at
		FROM virtual_organizations
		WHERE eduperson_entitlement = $1
	`, entitlement).Scan(&vo.ID, &vo.GroupID, &vo.Entitlement, &vo.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get virtual organization: %w", err)
	}
	return vo, nil
}

// CreateVO creates the group record and the virtual organization overlay for
// a newly observed entitlement. A concurrent creation of the same
// entitlement yields ErrUniqueViolation.
func (s *Store) CreateVO(ctx context.Context, entitlement string) (*auth.VirtualOrganization, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	vo := &auth.VirtualOrganization{Entitlement: entitlement}

	err = tx.QueryRowContext(ctx, `
		INSERT INTO groups (name)
		VALUES ($1)
		RETURNING id
	`, entitlement).Scan(&vo.GroupID)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("failed to create group for %s: %w", entitlement, ErrUniqueViolation)
		}
		return nil, fmt.Errorf("failed to create group: %w", err)
	}

	err = tx.QueryRowContext(ctx, `
		INSERT INTO virtual_organizations (group_id, eduperson_entitlement)
		VALUES ($1, $2)
		RETURNING id, created_at
	`, vo.GroupID, entitlement).Scan(&vo.ID, &vo.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("failed to create virtual organization %s: %w", entitlement, ErrUniqueViolation)
		}
		return nil, fmt.Errorf("failed to create virtual organization: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return vo, nil
}

// UserVOs lists the virtual organizations the user currently belongs to.
func (s *Store) UserVOs(ctx context.Context, userID int64) ([]*auth.VirtualOrganization, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT vo.id, vo.group_id, vo.eduperson_entitlement, vo.created_at
		FROM virtual_organizations vo
		JOIN group_members gm ON gm.group_id = vo.group_id
		WHERE gm.user_id = $1
		ORDER BY vo.eduperson_entitlement
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list user VOs: %w", err)
	}
	defer rows.Close()

	var vos []*auth.VirtualOrganization
	for rows.Next() {
		vo := &auth.VirtualOrganization{}
		if err := rows.Scan(&vo.ID, &vo.GroupID, &vo.Entitlement, &vo.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan virtual organization: %w", err)
		}
		vos = append(vos, vo)
	}
	return vos, rows.Err()
}

// AddMembership adds the user to the group. Adding an existing membership is
// a no-op.
func (s *Store) AddMembership(ctx context.Context, userID, groupID int64) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO group_members (user_id, group_id)
		VALUES ($1, $2)
		ON CONFLICT (user_id, group_id) DO NOTHING
	`, userID, groupID)
	if err != nil {
		return fmt.Errorf("failed to add membership: %w", err)
	}
	return nil
}

// RemoveMembership removes the user from the group.
func (s *Store) RemoveMembership(ctx context.Context, userID, groupID int64) error {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM group_members WHERE user_id = $1 AND group_id = $2
	`, userID, groupID)
	if err != nil {
		return fmt.Errorf("failed to remove membership: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("failed to remove membership: %w", ErrNotFound)
	}
	return nil
}

// RemoveEmptyVOs deletes virtual organizations without any members, together
// with their group records. Entitlements matching one of the exclude
// patterns are kept. It returns the removed entitlements.
//
// VOs are never pruned during login synchronization; this is a maintenance
// operation meant for a scheduled job or an operator command.
func (s *Store) RemoveEmptyVOs(ctx context.Context, exclude []*regexp.Regexp) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT vo.id, vo.group_id, vo.eduperson_entitlement
		FROM virtual_organizations vo
		LEFT JOIN group_members gm ON gm.group_id = vo.group_id
		WHERE gm.user_id IS NULL
		ORDER BY vo.eduperson_entitlement
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list empty VOs: %w", err)
	}
	defer rows.Close()

	type emptyVO struct {
		id, groupID int64
		entitlement string
	}
	var empty []emptyVO
	for rows.Next() {
		var vo emptyVO
		if err := rows.Scan(&vo.id, &vo.groupID, &vo.entitlement); err != nil {
			return nil, fmt.Errorf("failed to scan virtual organization: %w", err)
		}
		empty = append(empty, vo)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var removed []string
	for _, vo := range empty {
		if matchesAny(exclude, vo.entitlement) {
			continue
		}

		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return removed, fmt.Errorf("failed to begin transaction: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM virtual_organizations WHERE id = $1`, vo.id); err != nil {
			tx.Rollback()
			return removed, fmt.Errorf("failed to delete virtual organization %s: %w", vo.entitlement, err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM groups WHERE id = $1`, vo.groupID); err != nil {
			tx.Rollback()
			return removed, fmt.Errorf("failed to delete group for %s: %w", vo.entitlement, err)
		}
		if err := tx.Commit(); err != nil {
			return removed, fmt.Errorf("failed to commit transaction: %w", err)
		}
		removed = append(removed, vo.entitlement)
	}
	return removed, nil
}

func matchesAny(patterns []*regexp.Regexp, s string) bool {
	for _, p := range patterns {
		if p.MatchString(s) {
			return true
		}
	}
	return false
}
