package models

// TenantConfig configures the Multi-Tenant Registry (C12): how workspace
// IDs are recognised in a request path, the default workspace to fall
// back to, and resource limits.
type TenantConfig struct {
	WorkspacePrefix      string // e.g. "/ws"; "" disables path-based extraction
	DefaultWorkspaceID   string
	MaxWorkspaces        int // 0 => unlimited
	GlobalLogCapacity    int // bounded request log aggregating all workspaces; default 10000
}
