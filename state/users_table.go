package state

import (
	"database/sql"

	"github.com/jmoiron/sqlx"
)

// User is the slice of the platform's user record the realtime layer needs:
// display fields for formatting events and camp affiliation for scope maths.
type User struct {
	UserID       string         `db:"user_id"`
	FirstName    string         `db:"first_name"`
	LastName     string         `db:"last_name"`
	Role         string         `db:"role"`
	CampID       sql.NullString `db:"camp_id"`
	ProfileImage sql.NullString `db:"profile_image"`
	IsActive     bool           `db:"is_active"`
}

func (u *User) DisplayName() string {
	return u.FirstName + " " + u.LastName
}

// UsersTable reads user records. The REST layer owns writes to this table;
// the realtime layer only resolves identities and recipient sets from it.
type UsersTable struct {
	db *sqlx.DB
}

func NewUsersTable(db *sqlx.DB) *UsersTable {
	// make sure tables are made
	db.MustExec(`
	CREATE TABLE IF NOT EXISTS agape_users (
		user_id TEXT NOT NULL PRIMARY KEY,
		first_name TEXT NOT NULL,
		last_name TEXT NOT NULL,
		role TEXT NOT NULL DEFAULT 'member',
		camp_id TEXT,
		profile_image TEXT,
		is_active BOOLEAN NOT NULL DEFAULT TRUE
	);
	`)
	return &UsersTable{db}
}

// SelectUser returns the user with this ID, or nil if none exists.
func (t *UsersTable) SelectUser(userID string) (*User, error) {
	var u User
	err := t.db.Get(&u, `SELECT user_id, first_name, last_name, role, camp_id, profile_image, is_active
	FROM agape_users WHERE user_id=$1`, userID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (t *UsersTable) SelectCampMemberIDs(campID string) ([]string, error) {
	var ids []string
	err := t.db.Select(&ids, `SELECT user_id FROM agape_users WHERE camp_id=$1 AND is_active`, campID)
	return ids, err
}

func (t *UsersTable) SelectAllActiveUserIDs() ([]string, error) {
	var ids []string
	err := t.db.Select(&ids, `SELECT user_id FROM agape_users WHERE is_active`)
	return ids, err
}
