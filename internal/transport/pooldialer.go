package transport

import (
	"context"

	"github.com/federatedfm/p2pcore/internal/pool"
)

// PoolDialer adapts a Transport into a pool.Dialer, so a connection
// pool can dial fresh peer connections without depending on the
// transport package's concrete *Conn type.
type PoolDialer struct {
	Transport *Transport
}

// Dial opens a new connection to peerID at addr.
func (d *PoolDialer) Dial(ctx context.Context, peerID, addr string) (pool.Conn, error) {
	return d.Transport.Dial(ctx, peerID, addr)
}
