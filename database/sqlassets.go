package sqlassets

import _ "embed"

// PlatformSQL creates the shared registry (schools), the unified user directory and memberships.
// Rendered through schematemplate with the platform schema as namespace.
//
//go:embed schema/platform/platform.sql
var PlatformSQL string

// TenantTemplateSQL is the default per-school namespace template.
//
//go:embed schema/tenant_space/template.sql
var TenantTemplateSQL string
