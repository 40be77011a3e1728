package common

import (
	"io"

	"github.com/galacticcouncil/gen3-unbond-fix/log"
)

// CloseOrLog closes c, logging the error if any.
func CloseOrLog(c io.Closer, logger *log.Logger) {
	if err := c.Close(); err != nil {
		logger.Error("error closing resource", "err", err)
	}
}
