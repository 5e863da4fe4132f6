package testutil

import (
	"bytes"
	"math/rand"

	"github.com/jbenet/go-random"
)

var seedSeq int64

// RandomBytes returns a byte array of the given size with random values.
func RandomBytes(n int64) []byte {
	data := new(bytes.Buffer)
	_ = random.WritePseudoRandomBytes(n, data, seedSeq)
	seedSeq++
	return data.Bytes()
}

// GeneratePacketsOfSize generates n random packets of the given byte size.
func GeneratePacketsOfSize(n int, size int64) [][]byte {
	packets := make([][]byte, 0, n)
	for i := 0; i < n; i++ {
		packets = append(packets, RandomBytes(size))
	}
	return packets
}

// GeneratePackets generates n random packets with sizes between 1 and
// maxSize bytes.
func GeneratePackets(n int, maxSize int64) [][]byte {
	packets := make([][]byte, 0, n)
	for i := 0; i < n; i++ {
		packets = append(packets, RandomBytes(1+rand.Int63n(maxSize)))
	}
	return packets
}
