package systems

import "errors"

func asFatal(err error, target **FatalError) bool { return errors.As(err, target) }
