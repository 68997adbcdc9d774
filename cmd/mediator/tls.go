package main

import (
	"crypto/tls"
	"net"

	"github.com/coregx/relay/mediator"
)

func tlsListen(addr string, cfg mediator.Config) (net.Listener, error) {
	return tls.Listen("tcp", addr, cfg.TLSConfig)
}
