package middleware

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAppUserCan(t *testing.T) {
	var nobody *AppUser
	assert.False(t, nobody.Can(PermissionIngest))

	viewer := &AppUser{UserID: "1", Role: "user", Permissions: []string{PermissionViewGraph}}
	assert.True(t, viewer.Can(PermissionViewGraph))
	assert.True(t, viewer.Can(PermissionIngest, PermissionViewGraph))
	assert.False(t, viewer.Can(PermissionIngest))
	assert.False(t, viewer.Can())
}

func TestPermissionsFromClaim(t *testing.T) {
	tests := []struct {
		name  string
		claim any
		role  string
		want  []string
	}{
		{"list", []any{PermissionIngest, 7, PermissionViewQueue}, "user", []string{PermissionIngest, PermissionViewQueue}},
		{"missing", nil, "user", nil},
		{"wrong type", "knowledge.ingest", "user", nil},
		{"admin default", nil, "admin", allPermissions},
		{"admin explicit", []any{PermissionViewGraph}, "admin", []string{PermissionViewGraph}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, permissionsFromClaim(tt.claim, tt.role))
		})
	}
}
