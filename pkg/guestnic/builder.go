package guestnic

import (
	"fmt"

	"github.com/sirupsen/logrus"
)

// Build returns the NIC-info blob for interfaceCount, with as many of its
// eth0..eth{cards-1} records patched with live data as the ioctls allow,
// where cards is NumCards(interfaceCount) (a single record, eth0, for a
// count of 1 or of 5 and more). A failed query for a given card is logged and the card's
// template placeholder bytes are left as-is — it does not abort the rest
// of the build.
func Build(interfaceCount int) []byte {
	cards, _ := NumCards(interfaceCount)
	blob := NewTemplate(interfaceCount)

	for k := 0; k < cards; k++ {
		name := fmt.Sprintf("eth%d", k)
		mac, ip, prefixLen, err := QueryInterface(name)
		if err != nil {
			logrus.Warnf("guestnic: skipping %s: %v", name, err)
			continue
		}
		PatchInterface(blob, k, mac[:], ip[:], prefixLen)
	}

	return blob
}
