package root

import (
	"github.com/zenGate-Global/schoolspace/apps/cli/cmd/bootstrap"
	"github.com/zenGate-Global/schoolspace/apps/cli/cmd/migrate"
	"github.com/zenGate-Global/schoolspace/apps/cli/cmd/provision"
	"github.com/zenGate-Global/schoolspace/apps/cli/cmd/resolve"
)

func init() {
	Root().AddCommand(migrate.Command())
	Root().AddCommand(provision.Command())
	Root().AddCommand(resolve.Command())
	Root().AddCommand(bootstrap.Command())
}
