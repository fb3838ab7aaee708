package async_log

import "github.com/pingcap/errors"

// ErrInvalidLoggerConfig is returned by NewLogger when the sinks cannot be built from the config
var ErrInvalidLoggerConfig = errors.Normalize(
	"invalid logger config: %s",
	errors.RFCCodeText("MW:ErrInvalidLoggerConfig"),
)
