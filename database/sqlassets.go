package sqlassets

import _ "embed"

//go:embed schema/platform/organizations.sql
var OrganizationsSQL string

//go:embed schema/platform/memberships.sql
var MembershipsSQL string

//go:embed schema/platform/ownership_transfers.sql
var OwnershipTransfersSQL string

//go:embed schema/platform/invitations.sql
var InvitationsSQL string
