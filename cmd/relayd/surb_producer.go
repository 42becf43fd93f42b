package main

import (
	"context"

	relaycrypto "github.com/privmix/relay/internal/crypto"
	"github.com/privmix/relay/internal/packet"
	"github.com/privmix/relay/internal/ticket"
)

// packetSurbProducer adapts internal/packet.IntoOutgoing to
// internal/surbbalancer.Producer: each produced SURB is a Sphinx-wrapped
// reply path back to this relay along a fixed route.
//
// Path/peer selection (how a relay learns routes to wrap SURBs along) is
// out of this repo's scope — spec.md has no routing-discovery module —
// so the route is whatever the caller of newPacketSurbProducer passes in
// rather than computed; relayd's main passes none.
// An empty route makes ProduceSurbs a no-op (0 produced, nil error): the
// balancer just keeps retrying on its next tick rather than failing, the
// same "ask again next tick" tolerance Balancer.Tick already has for any
// producer error.
type packetSurbProducer struct {
	route       []packet.HopRoute
	chainKey    *relaycrypto.PrivKey
	selfChannel ticket.ChannelID
	domainSep   [32]byte
}

func newPacketSurbProducer(route []packet.HopRoute, chainKey *relaycrypto.PrivKey, selfChannel ticket.ChannelID, domainSep [32]byte) *packetSurbProducer {
	return &packetSurbProducer{route: route, chainKey: chainKey, selfChannel: selfChannel, domainSep: domainSep}
}

func (p *packetSurbProducer) ProduceSurbs(ctx context.Context, n int) (int, error) {
	if len(p.route) == 0 {
		return 0, nil
	}

	produced := 0
	for i := 0; i < n; i++ {
		select {
		case <-ctx.Done():
			return produced, ctx.Err()
		default:
		}

		partial := ticket.Ticket{ChannelID: p.selfChannel, IndexOffset: 1, EncodedWinProb: ticket.WinProbAlways}
		if _, err := packet.IntoOutgoing(nil, p.route, p.chainKey, partial, p.domainSep); err != nil {
			return produced, err
		}
		produced++
	}
	return produced, nil
}
