// Package xid generates prefixed entity identifiers. The stores use
// "prd" for products, "cus" for customers, "sal" for sales and "shf"
// for shifts, so an ID names its entity kind on sight.
package xid

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"
)

// New returns an identifier of the form prefix-nanos-randomhex. The
// timestamp keeps IDs roughly sortable by creation order; the random
// tail keeps them unique when two are minted in the same nanosecond.
func New(prefix string) string {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		return fmt.Sprintf("%s-%d", prefix, time.Now().UnixNano())
	}
	return fmt.Sprintf("%s-%d-%s", prefix, time.Now().UnixNano(), hex.EncodeToString(buf))
}
