package apikey

import "github.com/aimerfeng/BioLink/internal/models"

// DefaultPermissions grants read on profile, links and templates and nothing on analytics
func DefaultPermissions() models.Permissions {
	readOnly := models.ResourcePermissions{Read: true}
	return models.Permissions{
		Profile:   readOnly,
		Links:     readOnly,
		Templates: readOnly,
		Analytics: models.ResourcePermissions{},
	}
}

// ResourcePatch overrides individual actions; nil fields keep the base value
type ResourcePatch struct {
	Read   *bool `json:"read,omitempty"`
	Write  *bool `json:"write,omitempty"`
	Delete *bool `json:"delete,omitempty"`
	Apply  *bool `json:"apply,omitempty"`
}

// PermissionsPatch is a partial permission set as supplied by a caller
type PermissionsPatch struct {
	Profile   *ResourcePatch `json:"profile,omitempty"`
	Links     *ResourcePatch `json:"links,omitempty"`
	Templates *ResourcePatch `json:"templates,omitempty"`
	Analytics *ResourcePatch `json:"analytics,omitempty"`
}

// MergePermissions applies patch on top of base field by field.
// Anything the patch leaves out keeps its base value.
func MergePermissions(base models.Permissions, patch *PermissionsPatch) models.Permissions {
	if patch == nil {
		return base
	}
	return models.Permissions{
		Profile:   mergeResource(base.Profile, patch.Profile),
		Links:     mergeResource(base.Links, patch.Links),
		Templates: mergeResource(base.Templates, patch.Templates),
		Analytics: mergeResource(base.Analytics, patch.Analytics),
	}
}

func mergeResource(base models.ResourcePermissions, patch *ResourcePatch) models.ResourcePermissions {
	if patch == nil {
		return base
	}
	out := base
	if patch.Read != nil {
		out.Read = *patch.Read
	}
	if patch.Write != nil {
		out.Write = *patch.Write
	}
	if patch.Delete != nil {
		out.Delete = *patch.Delete
	}
	if patch.Apply != nil {
		out.Apply = *patch.Apply
	}
	return out
}
