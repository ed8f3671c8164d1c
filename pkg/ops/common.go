package ops

import (
	"github.com/hashicorp/go-hclog"
)

type common struct {
	logger hclog.Logger
}

func (c *common) L() hclog.Logger {
	if c.logger == nil {
		c.logger = hclog.L()
	}

	return c.logger
}

func (c *common) SetLogger(l hclog.Logger) {
	c.logger = l
}
