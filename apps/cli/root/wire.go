package root

import (
	"github.com/opsgate-labs/backoffice-core/apps/cli/cmd/bootstrap"
	"github.com/opsgate-labs/backoffice-core/apps/cli/cmd/org"
	"github.com/opsgate-labs/backoffice-core/apps/cli/cmd/token"
)

func init() {
	Root().AddCommand(token.Command())
	Root().AddCommand(bootstrap.Command())
	Root().AddCommand(org.Command())
}
