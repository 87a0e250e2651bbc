package apikey

import (
	"testing"

	"github.com/aimerfeng/BioLink/internal/models"
	"github.com/stretchr/testify/assert"
	"pgregory.net/rapid"
)

func TestDefaultPermissions(t *testing.T) {
	p := DefaultPermissions()

	for _, res := range []models.Resource{models.ResourceProfile, models.ResourceLinks, models.ResourceTemplates} {
		assert.True(t, p.Allows(res, models.ActionRead), "%s should be readable", res)
		for _, act := range []models.Action{models.ActionWrite, models.ActionDelete, models.ActionApply} {
			assert.False(t, p.Allows(res, act), "%s:%s should be denied", res, act)
		}
	}
	assert.Equal(t, models.ResourcePermissions{}, p.Analytics)
}

func TestMergePermissions_PerResource(t *testing.T) {
	tests := []struct {
		name  string
		patch *PermissionsPatch
		check func(t *testing.T, p models.Permissions)
	}{
		{
			name:  "nil patch keeps defaults",
			patch: nil,
			check: func(t *testing.T, p models.Permissions) {
				assert.Equal(t, DefaultPermissions(), p)
			},
		},
		{
			name:  "profile write keeps profile read",
			patch: &PermissionsPatch{Profile: &ResourcePatch{Write: boolPtr(true)}},
			check: func(t *testing.T, p models.Permissions) {
				assert.Equal(t, models.ResourcePermissions{Read: true, Write: true}, p.Profile)
				assert.Equal(t, DefaultPermissions().Links, p.Links)
			},
		},
		{
			name:  "links read can be revoked",
			patch: &PermissionsPatch{Links: &ResourcePatch{Read: boolPtr(false), Delete: boolPtr(true)}},
			check: func(t *testing.T, p models.Permissions) {
				assert.Equal(t, models.ResourcePermissions{Delete: true}, p.Links)
			},
		},
		{
			name:  "templates apply",
			patch: &PermissionsPatch{Templates: &ResourcePatch{Apply: boolPtr(true)}},
			check: func(t *testing.T, p models.Permissions) {
				assert.Equal(t, models.ResourcePermissions{Read: true, Apply: true}, p.Templates)
			},
		},
		{
			name:  "analytics read",
			patch: &PermissionsPatch{Analytics: &ResourcePatch{Read: boolPtr(true)}},
			check: func(t *testing.T, p models.Permissions) {
				assert.Equal(t, models.ResourcePermissions{Read: true}, p.Analytics)
				assert.Equal(t, DefaultPermissions().Profile, p.Profile)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.check(t, MergePermissions(DefaultPermissions(), tt.patch))
		})
	}
}

func optionalBool(rt *rapid.T, label string) *bool {
	if !rapid.Bool().Draw(rt, label+"Set") {
		return nil
	}
	v := rapid.Bool().Draw(rt, label)
	return &v
}

// Every action the patch omits keeps its base value.
func TestProperty_MergeOmittedFieldsKeepBase(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		patch := &ResourcePatch{
			Read:   optionalBool(rt, "read"),
			Write:  optionalBool(rt, "write"),
			Delete: optionalBool(rt, "delete"),
			Apply:  optionalBool(rt, "apply"),
		}
		base := DefaultPermissions()
		merged := MergePermissions(base, &PermissionsPatch{Links: patch})

		pick := func(p *bool, fallback bool) bool {
			if p == nil {
				return fallback
			}
			return *p
		}
		assert.Equal(rt, pick(patch.Read, base.Links.Read), merged.Links.Read)
		assert.Equal(rt, pick(patch.Write, base.Links.Write), merged.Links.Write)
		assert.Equal(rt, pick(patch.Delete, base.Links.Delete), merged.Links.Delete)
		assert.Equal(rt, pick(patch.Apply, base.Links.Apply), merged.Links.Apply)
		assert.Equal(rt, base.Profile, merged.Profile)
		assert.Equal(rt, base.Templates, merged.Templates)
		assert.Equal(rt, base.Analytics, merged.Analytics)
	})
}
