// Package nats provides a JetStream backed event store.
package nats

import (
	"sync"

	natsgo "github.com/nats-io/nats.go"
)

type closeFunc = func()

// Connector opens a connection and returns the func that releases it.
type Connector func() (nc *natsgo.Conn, release closeFunc, err error)

// ReuseConnection shares one connection between all callers of connect. It is
// closed when the last lease is released. Releasing a lease twice is a no-op.
func ReuseConnection(connect Connector) Connector {
	var (
		mu       sync.Mutex
		nc       *natsgo.Conn
		closeCon closeFunc
		leases   int
	)
	return func() (*natsgo.Conn, closeFunc, error) {
		mu.Lock()
		defer mu.Unlock()
		if nc == nil {
			var err error
			if nc, closeCon, err = connect(); err != nil {
				nc = nil
				return nil, nil, err
			}
		}
		leases++
		conn := nc

		var once sync.Once
		release := func() {
			once.Do(func() {
				mu.Lock()
				defer mu.Unlock()
				leases--
				if leases == 0 && nc == conn {
					closeCon()
					nc = nil
				}
			})
		}
		return conn, release, nil
	}
}

func ConnectURL(natsURL string) Connector {
	return func() (*natsgo.Conn, closeFunc, error) {
		nc, err := natsgo.Connect(
			natsURL,
			natsgo.Name("estodo"),
			natsgo.MaxReconnects(3),
		)
		if err != nil {
			return nil, nil, err
		}
		return nc, func() { nc.Close() }, nil
	}
}

// ConnectDefault connects to the local default server.
func ConnectDefault() Connector { return ConnectURL(natsgo.DefaultURL) }
