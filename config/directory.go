package config

import (
	"context"
	"slices"
	"sort"
)

// DirectoryUser is one [[users]] entry of the workflow configuration file.
type DirectoryUser struct {
	Id          int      `toml:"id"`
	Name        string   `toml:"name"`
	Roles       []string `toml:"roles"`
	Permissions []string `toml:"permissions"`
	// Warehouses scopes approval roles; empty means every warehouse.
	Warehouses []int `toml:"warehouses"`
}

// StaticDirectory answers role, permission and approver lookups from configuration.
// It is read-only after construction and safe for concurrent use.
type StaticDirectory struct {
	users map[int]DirectoryUser
	ids   []int
}

func NewStaticDirectory(users []DirectoryUser) *StaticDirectory {
	d := &StaticDirectory{users: make(map[int]DirectoryUser, len(users))}
	for _, u := range users {
		if u.Id <= 0 {
			continue
		}
		if _, ok := d.users[u.Id]; !ok {
			d.ids = append(d.ids, u.Id)
		}
		d.users[u.Id] = u
	}
	sort.Ints(d.ids)
	return d
}

func (d *StaticDirectory) User(userId int) (DirectoryUser, bool) {
	u, ok := d.users[userId]
	return u, ok
}

func (d *StaticDirectory) HasRole(_ context.Context, userId int, role string) bool {
	u, ok := d.users[userId]
	if !ok || role == "" {
		return false
	}
	return slices.Contains(u.Roles, role)
}

func (d *StaticDirectory) HasPermission(_ context.Context, userId int, permission string) bool {
	u, ok := d.users[userId]
	if !ok || permission == "" {
		return false
	}
	return slices.Contains(u.Permissions, permission)
}

// FindApproverForLevel returns the lowest user id holding role for warehouseId.
func (d *StaticDirectory) FindApproverForLevel(_ context.Context, warehouseId int, role string) (int, bool, error) {
	for _, id := range d.ids {
		u := d.users[id]
		if !slices.Contains(u.Roles, role) {
			continue
		}
		if len(u.Warehouses) == 0 || slices.Contains(u.Warehouses, warehouseId) {
			return id, true, nil
		}
	}
	return 0, false, nil
}
