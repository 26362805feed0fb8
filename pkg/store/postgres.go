package store

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/jackc/pgconn"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgtype"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/log/zapadapter"
	"github.com/jackc/pgx/v4/pgxpool"
	"go.uber.org/zap"

	"github.com/mahaj/community-chat/pkg/model"
)

// PostgresMembership stores groups and the (group, user) relation in
// Postgres. Membership rows cascade on group deletion; everything that
// needs multi-row consistency runs in a transaction.
type PostgresMembership struct {
	logger *zap.SugaredLogger
	db     *pgxpool.Pool
}

func NewPostgresMembership(ctx context.Context, logger *zap.SugaredLogger, cfg PostgresConfig) (*PostgresMembership, error) {
	config, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, err
	}
	config.ConnConfig.Logger = zapadapter.NewLogger(logger.Desugar())

	pool, err := pgxpool.ConnectConfig(ctx, config)
	if err != nil {
		return nil, model.Transient(err)
	}

	return &PostgresMembership{logger: logger, db: pool}, nil
}

func (s *PostgresMembership) Close() {
	s.db.Close()
}

func (s *PostgresMembership) CreateGroup(ctx context.Context, g model.Group) error {
	s.logger.Debugf("creating group %s (%s) with %d members", g.ID, g.Name, len(g.MemberIDs))

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return model.Transient(err)
	}
	// error handling can be omitted for rollback according to pgx docs
	defer tx.Rollback(context.Background())

	sql := "insert into groups (id, name, description, owner_id, created_at) values ($1, $2, $3, $4, $5)"
	if _, err := tx.Exec(ctx, sql, g.ID, g.Name, g.Description, g.OwnerID, g.CreatedAt); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return model.Validation("group already exists")
		}
		return model.Transient(err)
	}

	rows := make([]memberRow, 0, len(g.MemberIDs))
	for _, userID := range g.MemberIDs {
		rows = append(rows, memberRow{groupID: g.ID, userID: userID})
	}

	if _, err := tx.CopyFrom(ctx, pgx.Identifier{"group_members"}, []string{"group_id", "user_id"}, copyFromMembers(rows)); err != nil {
		return model.Transient(err)
	}

	if err := tx.Commit(ctx); err != nil {
		return model.Transient(err)
	}

	return nil
}

func (s *PostgresMembership) GetGroup(ctx context.Context, groupID string) (model.Group, error) {
	var g model.Group
	sql := "select id, name, description, owner_id, created_at from groups where id = $1"
	err := s.db.QueryRow(ctx, sql, groupID).Scan(&g.ID, &g.Name, &g.Description, &g.OwnerID, &g.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Group{}, model.ErrNotFound
		}
		return model.Group{}, model.Transient(err)
	}

	g.MemberIDs, err = s.MemberIDs(ctx, groupID)
	if err != nil {
		return model.Group{}, err
	}

	return g, nil
}

func (s *PostgresMembership) DeleteGroup(ctx context.Context, groupID string) error {
	tag, err := s.db.Exec(ctx, "delete from groups where id = $1", groupID)
	if err != nil {
		return model.Transient(err)
	}
	if tag.RowsAffected() == 0 {
		return model.ErrNotFound
	}
	return nil
}

func (s *PostgresMembership) RemoveMember(ctx context.Context, groupID, userID string) error {
	tag, err := s.db.Exec(ctx, "delete from group_members where group_id = $1 and user_id = $2", groupID, userID)
	if err != nil {
		return model.Transient(err)
	}
	if tag.RowsAffected() == 0 {
		return model.ErrNotAMember
	}
	return nil
}

func (s *PostgresMembership) UpdateOwner(ctx context.Context, groupID, newOwnerID string) error {
	tag, err := s.db.Exec(ctx, "update groups set owner_id = $1 where id = $2", newOwnerID, groupID)
	if err != nil {
		return model.Transient(err)
	}
	if tag.RowsAffected() == 0 {
		return model.ErrNotFound
	}
	return nil
}

func (s *PostgresMembership) IsMember(ctx context.Context, groupID, userID string) (bool, error) {
	var i int8
	sql := "select 1 from group_members where group_id = $1 and user_id = $2"
	err := s.db.QueryRow(ctx, sql, groupID, userID).Scan(&i)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, model.Transient(err)
	}
	return true, nil
}

func (s *PostgresMembership) MemberIDs(ctx context.Context, groupID string) ([]string, error) {
	rows, err := s.db.Query(ctx, "select user_id from group_members where group_id = $1 order by user_id", groupID)
	if err != nil {
		return nil, model.Transient(err)
	}
	defer rows.Close()

	var members []string
	for rows.Next() {
		var userID string
		if err := rows.Scan(&userID); err != nil {
			return nil, model.Transient(err)
		}
		members = append(members, userID)
	}
	if rows.Err() != nil {
		return nil, model.Transient(rows.Err())
	}

	return members, nil
}

// GroupsForUser returns every group the user belongs to, each with its
// full roster aggregated server-side.
func (s *PostgresMembership) GroupsForUser(ctx context.Context, userID string) ([]model.Group, error) {
	s.logger.Debugf("retrieving groups for user %s", userID)

	sql := ` -- groups of one user, with the roster of each
			with user_groups as (
				select groups.id,
					   groups.name,
					   groups.description,
					   groups.owner_id,
					   groups.created_at
				  from groups
				  join group_members
					on group_members.group_id = groups.id
				 where group_members.user_id = $1
			),

			members_per_group as (
				select group_id,
					   array_agg(jsonb_build_object('user_id', user_id) order by user_id) as members
				  from group_members
				 where group_id in (select id from user_groups)
				 group by group_id
			)

			select user_groups.id,
				   user_groups.name,
				   user_groups.description,
				   user_groups.owner_id,
				   user_groups.created_at,
				   members_per_group.members
			  from user_groups
			  join members_per_group
				on user_groups.id = members_per_group.group_id
			 order by user_groups.created_at`

	rows, err := s.db.Query(ctx, sql, userID)
	if err != nil {
		return nil, model.Transient(err)
	}
	defer rows.Close()

	var groups []model.Group
	for rows.Next() {
		var g model.Group
		var members pgtype.JSONBArray
		if err := rows.Scan(&g.ID, &g.Name, &g.Description, &g.OwnerID, &g.CreatedAt, &members); err != nil {
			return nil, model.Transient(err)
		}

		membersJSON := make([]string, len(members.Elements))
		if err := members.AssignTo(&membersJSON); err != nil {
			return nil, model.Transient(err)
		}

		for _, v := range membersJSON {
			var m struct {
				UserID string `json:"user_id"`
			}
			if err := json.Unmarshal([]byte(v), &m); err != nil {
				return nil, model.Transient(err)
			}
			g.MemberIDs = append(g.MemberIDs, m.UserID)
		}

		groups = append(groups, g)
	}
	if rows.Err() != nil {
		return nil, model.Transient(rows.Err())
	}

	s.logger.Debugf("retrieved %d groups", len(groups))

	return groups, nil
}
