package gp

import (
	"math/rand/v2"
	"time"
)

// Forwarding delay bounds, A.3.6.3.1.
const (
	delayMinBidirectional  = 32 * time.Millisecond
	delayMinUnidirectional = 5 * time.Millisecond
	delayMax               = 100 * time.Millisecond
	delayLQIStep           = 8 * time.Millisecond
	delayRandom            = 5
)

// TunnelingDelay computes how long a proxy waits before tunneling a GPDF
// upward so that the best-placed proxy answers first and any reply lands
// in the GPD's receive window. lqi is the 2-bit link quality (0..3).
func TunnelingDelay(rxAfterTx bool, lqi uint8, firstToForward, noRoute bool) time.Duration {
	return tunnelingDelay(rxAfterTx, lqi, firstToForward, noRoute, rand.IntN)
}

func tunnelingDelay(rxAfterTx bool, lqi uint8, firstToForward, noRoute bool, intn func(int) int) time.Duration {
	d := delayMinUnidirectional
	if rxAfterTx {
		d = delayMinBidirectional
	}
	if firstToForward {
		return d
	}
	if lqi > 3 {
		lqi = 3
	}
	d += time.Duration(3-lqi) * delayLQIStep
	d += time.Duration(intn(delayRandom+1)) * time.Millisecond
	if noRoute {
		d += delayMax
	}
	return d
}

// linkQuality packs RSSI and LQI into the GPP-GPD link byte: RSSI is clamped
// to [-109, 8] dBm and mapped to 6 bits, LQI is reduced to 2 bits.
func linkQuality(rssi int8, lqi uint8) uint8 {
	r := int(rssi)
	if r > 8 {
		r = 8
	} else if r < -109 {
		r = -109
	}
	r = (r + 110) / 2
	q := uint8(0)
	if lqi != 0 {
		q = 2
	}
	return uint8(r)&0x3F | q<<6
}

// aliasAnnounceDelay is the random back-off before announcing a
// conflicting alias.
func aliasAnnounceDelay() time.Duration {
	return time.Duration(5+rand.IntN(101)) * time.Millisecond
}
