package srv6

import (
	"github.com/newtron-network/srv6orch/pkg/util"
)

// Config holds engine-wide settings.
type Config struct {
	// EncapSource is the source address for P2P tunnels that must be
	// created on behalf of a PIC context whose endpoint has no tunnel yet.
	// Empty means such contexts are rejected until a route or next-hop
	// group has built the tunnel.
	EncapSource string

	// UnderlayRIF, when set, is written as the underlay interface of every
	// tunnel the engine creates.
	UnderlayRIF string
}

func (c Config) validate() error {
	if c.EncapSource == "" {
		return nil
	}
	if _, err := util.ParseIPv6(c.EncapSource); err != nil {
		return util.NewValidationError("encap source: " + err.Error())
	}
	return nil
}
