package link

import (
	"io"
	"net"
	"time"
)

func NewTCP(opts Options, p Poster) Link {
	addr := opts.Address
	if addr == "" {
		addr = DefaultAddress
	}
	timeout := opts.DialTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &lineLink{
		name: "tcp " + addr,
		open: func() (io.ReadWriteCloser, error) {
			return net.DialTimeout("tcp", addr, timeout)
		},
		post: p,
		log:  loggerOf(opts),
	}
}
