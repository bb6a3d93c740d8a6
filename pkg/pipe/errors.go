package pipe

import "github.com/arenaspawn/spawner/internal/xerrors"

func wrapSystem(msg string, cause error) error {
	return xerrors.System(msg, cause)
}
