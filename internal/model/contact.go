// internal/model/contact.go
package model

type Contact struct {
	ID    int    `db:"id" json:"id"`
	Name  string `db:"name" json:"name"`
	Phone string `db:"phone" json:"phone"`
}

type Group struct {
	ID       int    `db:"id" json:"id"`
	Name     string `db:"name" json:"name"`
	RemoteID string `db:"remote_id" json:"remote_id"`
}
