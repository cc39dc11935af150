package chain

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strconv"
)

// Fingerprint identifies the work a chain performs. Chains applying the same
// transforms, in any order, to reach the same attributes share a fingerprint
// and are interchangeable.
type Fingerprint string

func FingerprintOf(l *Link) Fingerprint {
	steps := make([]string, 0, l.Depth())
	for _, link := range l.Links() {
		steps = append(steps, frame(link.step.ActionIdentity())+frame(link.step.To.Key()))
	}
	sort.Strings(steps)

	h := sha256.New()
	h.Write([]byte(strconv.Itoa(len(steps))))
	for _, s := range steps {
		h.Write([]byte(frame(s)))
	}
	if attrs := l.Attributes(); attrs != nil {
		h.Write([]byte(frame(attrs.Key())))
	}
	return Fingerprint(hex.EncodeToString(h.Sum(nil)))
}

func frame(s string) string {
	return strconv.Itoa(len(s)) + ":" + s
}
