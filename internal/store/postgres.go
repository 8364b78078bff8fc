package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/parley-chat/parley/internal/chat"
	"github.com/parley-chat/parley/internal/config"
)

// PostgresStore is the production Store backed by PostgreSQL via pgx.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a connection pool from the given configuration
// and verifies reachability.
//
// Precondition: cfg must contain valid database connection parameters.
// Postcondition: Returns a connected PostgresStore or a non-nil error. The
// store is ready for queries upon successful return.
func NewPostgresStore(ctx context.Context, cfg config.DatabaseConfig) (*PostgresStore, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("parsing database config: %w", err)
	}

	poolCfg.MaxConns = cfg.MaxConns
	poolCfg.MinConns = cfg.MinConns
	poolCfg.MaxConnLifetime = cfg.MaxConnLifetime

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	return &PostgresStore{pool: pool}, nil
}

// NewPostgresStoreFromPool wraps an existing pool, used by tests.
func NewPostgresStoreFromPool(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// IdentityByAddress implements Store.
func (s *PostgresStore) IdentityByAddress(ctx context.Context, address string) (chat.Identity, error) {
	var identity chat.Identity
	err := s.pool.QueryRow(ctx,
		`SELECT address, karma, flags, created_at
		 FROM identities WHERE address = $1`,
		address,
	).Scan(&identity.Address, &identity.Karma, &identity.Flags, &identity.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return chat.Identity{}, chat.ErrIdentityNotFound
		}
		return chat.Identity{}, fmt.Errorf("querying identity: %w", err)
	}
	return identity, nil
}

// CreateIdentity implements Store. Creating an existing address returns the
// existing record unchanged.
func (s *PostgresStore) CreateIdentity(ctx context.Context, address string) (chat.Identity, error) {
	var identity chat.Identity
	err := s.pool.QueryRow(ctx,
		`INSERT INTO identities (address)
		 VALUES ($1)
		 ON CONFLICT (address) DO UPDATE SET address = EXCLUDED.address
		 RETURNING address, karma, flags, created_at`,
		address,
	).Scan(&identity.Address, &identity.Karma, &identity.Flags, &identity.CreatedAt)
	if err != nil {
		return chat.Identity{}, fmt.Errorf("inserting identity: %w", err)
	}
	return identity, nil
}

// CreateGroup implements Store. The group row and the owner's membership row
// are written in one transaction so a group never exists without its owner
// in the member set.
func (s *PostgresStore) CreateGroup(ctx context.Context, name, description, ownerAddress string) (chat.Group, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return chat.Group{}, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	group := chat.Group{ID: NewGroupID()}
	err = tx.QueryRow(ctx,
		`INSERT INTO groups (id, name, description, owner_address)
		 VALUES ($1, $2, $3, $4)
		 RETURNING id, name, description, owner_address, private, created_at`,
		group.ID, name, description, ownerAddress,
	).Scan(&group.ID, &group.Name, &group.Description, &group.OwnerAddress, &group.Private, &group.CreatedAt)
	if err != nil {
		return chat.Group{}, fmt.Errorf("inserting group: %w", err)
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO group_members (group_id, address) VALUES ($1, $2)`,
		group.ID, ownerAddress,
	); err != nil {
		return chat.Group{}, fmt.Errorf("seeding owner membership: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return chat.Group{}, fmt.Errorf("committing group: %w", err)
	}

	group.Members = []string{ownerAddress}
	return group, nil
}

// GroupByID implements Store.
func (s *PostgresStore) GroupByID(ctx context.Context, groupID string) (chat.Group, error) {
	if !validID(groupID) {
		return chat.Group{}, chat.ErrGroupNotFound
	}

	var group chat.Group
	err := s.pool.QueryRow(ctx,
		`SELECT g.id, g.name, g.description, g.owner_address, g.private, g.created_at,
		        COALESCE(array_agg(m.address) FILTER (WHERE m.address IS NOT NULL), '{}')
		 FROM groups g
		 LEFT JOIN group_members m ON m.group_id = g.id
		 WHERE g.id = $1
		 GROUP BY g.id`,
		groupID,
	).Scan(&group.ID, &group.Name, &group.Description, &group.OwnerAddress,
		&group.Private, &group.CreatedAt, &group.Members)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return chat.Group{}, chat.ErrGroupNotFound
		}
		return chat.Group{}, fmt.Errorf("querying group: %w", err)
	}
	return group, nil
}

// ListGroups implements Store. Partition order (viewer's groups first) and
// newest-first creation order are both computed in SQL so pagination of this
// listing stays possible later without changing callers.
func (s *PostgresStore) ListGroups(ctx context.Context, viewerAddress string) ([]chat.Group, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT g.id, g.name, g.description, g.owner_address, g.private, g.created_at,
		        COALESCE(array_agg(m.address) FILTER (WHERE m.address IS NOT NULL), '{}')
		 FROM groups g
		 LEFT JOIN group_members m ON m.group_id = g.id
		 WHERE NOT g.private
		 GROUP BY g.id
		 ORDER BY COALESCE(bool_or(m.address = $1), FALSE) DESC, g.created_at DESC, g.id`,
		viewerAddress,
	)
	if err != nil {
		return nil, fmt.Errorf("querying groups: %w", err)
	}
	defer rows.Close()

	var groups []chat.Group
	for rows.Next() {
		var group chat.Group
		if err := rows.Scan(&group.ID, &group.Name, &group.Description, &group.OwnerAddress,
			&group.Private, &group.CreatedAt, &group.Members); err != nil {
			return nil, fmt.Errorf("scanning group: %w", err)
		}
		groups = append(groups, group)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading groups: %w", err)
	}
	return groups, nil
}

// AppendMember implements Store. Re-adding an existing member is a no-op on
// the durable record.
func (s *PostgresStore) AppendMember(ctx context.Context, groupID, address string) error {
	if !validID(groupID) {
		return chat.ErrGroupNotFound
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO group_members (group_id, address)
		 VALUES ($1, $2)
		 ON CONFLICT (group_id, address) DO NOTHING`,
		groupID, address,
	)
	if err != nil {
		if isForeignKeyError(err) {
			return chat.ErrGroupNotFound
		}
		return fmt.Errorf("appending member: %w", err)
	}
	return nil
}

// CreateMessage implements Store. The group's continued existence is not
// checked: messages carry no foreign key to groups, so sending into a group
// that no longer exists persists fine and simply broadcasts to nobody.
func (s *PostgresStore) CreateMessage(ctx context.Context, groupID, senderAddress, body string) (chat.Message, error) {
	if !validID(groupID) {
		return chat.Message{}, chat.ErrGroupNotFound
	}

	id, err := NewMessageID()
	if err != nil {
		return chat.Message{}, fmt.Errorf("generating message id: %w", err)
	}

	var msg chat.Message
	err = s.pool.QueryRow(ctx,
		`INSERT INTO messages (id, group_id, sender_address, body)
		 VALUES ($1, $2, $3, $4)
		 RETURNING id, group_id, sender_address, body, deleted, created_at`,
		id, groupID, senderAddress, body,
	).Scan(&msg.ID, &msg.GroupID, &msg.SenderAddress, &msg.Body, &msg.Deleted, &msg.CreatedAt)
	if err != nil {
		return chat.Message{}, fmt.Errorf("inserting message: %w", err)
	}
	return msg, nil
}

// LoadPage implements Store.
func (s *PostgresStore) LoadPage(ctx context.Context, groupID, beforeID string, limit int) ([]chat.Message, error) {
	if !validID(groupID) {
		return nil, chat.ErrGroupNotFound
	}

	var (
		rows pgx.Rows
		err  error
	)
	if beforeID != "" {
		rows, err = s.pool.Query(ctx,
			`SELECT id, group_id, sender_address, body, deleted, created_at
			 FROM messages
			 WHERE group_id = $1 AND NOT deleted AND id < $2
			 ORDER BY id DESC LIMIT $3`,
			groupID, beforeID, limit,
		)
	} else {
		rows, err = s.pool.Query(ctx,
			`SELECT id, group_id, sender_address, body, deleted, created_at
			 FROM messages
			 WHERE group_id = $1 AND NOT deleted
			 ORDER BY id DESC LIMIT $2`,
			groupID, limit,
		)
	}
	if err != nil {
		return nil, fmt.Errorf("querying messages: %w", err)
	}
	defer rows.Close()

	var messages []chat.Message
	for rows.Next() {
		var msg chat.Message
		if err := rows.Scan(&msg.ID, &msg.GroupID, &msg.SenderAddress, &msg.Body,
			&msg.Deleted, &msg.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning message: %w", err)
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading messages: %w", err)
	}
	return messages, nil
}

// Ping implements Store.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close implements Store.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

// isForeignKeyError checks if a pgx error is a foreign key violation.
func isForeignKeyError(err error) bool {
	// pgx wraps PostgreSQL errors; check for SQLSTATE 23503 (foreign_key_violation)
	var pgErr interface{ SQLState() string }
	if errors.As(err, &pgErr) {
		return pgErr.SQLState() == "23503"
	}
	return false
}
