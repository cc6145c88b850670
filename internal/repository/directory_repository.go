package repository

import (
	"context"
	"database/sql"

	"github.com/unclebandit/zapdispatch/internal/model"
)

// DirectoryRepositoryInterface is the read side used by the resolver plus
// the writes the seeder needs.
type DirectoryRepositoryInterface interface {
	FindContactsByTagIDs(ctx context.Context, tagIDs []int) ([]model.Contact, error)
	FindGroupsByIDs(ctx context.Context, ids []int) ([]model.Group, error)
	CreateContact(ctx context.Context, c *model.Contact, tagIDs ...int) error
	CreateGroup(ctx context.Context, g *model.Group) error
}

type DirectoryRepository struct {
	DB     *sql.DB
	Driver string
}

func NewDirectoryRepository(db *sql.DB, driver string) *DirectoryRepository {
	return &DirectoryRepository{DB: db, Driver: driver}
}

// FindContactsByTagIDs returns each contact once, even when several tags match.
func (r *DirectoryRepository) FindContactsByTagIDs(ctx context.Context, tagIDs []int) ([]model.Contact, error) {
	if len(tagIDs) == 0 {
		return []model.Contact{}, nil
	}
	query := `
        SELECT DISTINCT c.id, c.name, c.phone
        FROM contacts c
        JOIN contact_tags ct ON ct.contact_id = c.id
        WHERE ct.tag_id IN (` + inList(1, len(tagIDs)) + `)
        ORDER BY c.id
    `
	rows, err := r.DB.QueryContext(ctx, rebind(r.Driver, query), intArgs(tagIDs)...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	contacts := []model.Contact{}
	for rows.Next() {
		var c model.Contact
		if err := rows.Scan(&c.ID, &c.Name, &c.Phone); err != nil {
			return nil, err
		}
		contacts = append(contacts, c)
	}
	return contacts, rows.Err()
}

func (r *DirectoryRepository) FindGroupsByIDs(ctx context.Context, ids []int) ([]model.Group, error) {
	if len(ids) == 0 {
		return []model.Group{}, nil
	}
	query := `
        SELECT id, name, remote_id
        FROM wa_groups
        WHERE id IN (` + inList(1, len(ids)) + `)
        ORDER BY id
    `
	rows, err := r.DB.QueryContext(ctx, rebind(r.Driver, query), intArgs(ids)...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	groups := []model.Group{}
	for rows.Next() {
		var g model.Group
		if err := rows.Scan(&g.ID, &g.Name, &g.RemoteID); err != nil {
			return nil, err
		}
		groups = append(groups, g)
	}
	return groups, rows.Err()
}

// CreateContact inserts the contact and links it to existing tags.
func (r *DirectoryRepository) CreateContact(ctx context.Context, c *model.Contact, tagIDs ...int) error {
	query := `INSERT INTO contacts (name, phone) VALUES ($1, $2) RETURNING id`
	if err := r.DB.QueryRowContext(ctx, rebind(r.Driver, query), c.Name, c.Phone).Scan(&c.ID); err != nil {
		return err
	}
	for _, tagID := range tagIDs {
		link := `INSERT INTO contact_tags (contact_id, tag_id) VALUES ($1, $2)`
		if _, err := r.DB.ExecContext(ctx, rebind(r.Driver, link), c.ID, tagID); err != nil {
			return err
		}
	}
	return nil
}

func (r *DirectoryRepository) CreateTag(ctx context.Context, name string) (int, error) {
	var id int
	query := `INSERT INTO tags (name) VALUES ($1) RETURNING id`
	err := r.DB.QueryRowContext(ctx, rebind(r.Driver, query), name).Scan(&id)
	return id, err
}

func (r *DirectoryRepository) CreateGroup(ctx context.Context, g *model.Group) error {
	query := `INSERT INTO wa_groups (name, remote_id) VALUES ($1, $2) RETURNING id`
	return r.DB.QueryRowContext(ctx, rebind(r.Driver, query), g.Name, g.RemoteID).Scan(&g.ID)
}

func intArgs(ids []int) []interface{} {
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return args
}

var _ DirectoryRepositoryInterface = (*DirectoryRepository)(nil)
