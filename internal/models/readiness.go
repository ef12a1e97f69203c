package models

// Role names one input a downstream step needs for a run.
type Role string

const (
	RoleEchoImages  Role = "echo_images"
	RoleDenoised    Role = "denoised"
	RoleBoldXfm     Role = "xfm_bold"
	RoleAnatXfm     Role = "xfm_anat"
	RoleFsnativeXfm Role = "xfm_fsnative"
	RoleT1w         Role = "t1w"
	RoleBrainMask   Role = "t1w_mask"
)

// ReadinessRecord is a Run together with the resolution of every required role.
type ReadinessRecord struct {
	Run      Run
	Resolved map[Role]Artifact
	Missing  []Role // in required-list order
}

// Ready reports whether every required role resolved.
func (r ReadinessRecord) Ready() bool {
	return len(r.Missing) == 0
}

// Path returns the resolved path for role, or "" if it is absent.
func (r ReadinessRecord) Path(role Role) string {
	return r.Resolved[role].Path
}
