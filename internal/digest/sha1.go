package digest

import (
	"encoding/binary"
	"hash"
	"math/bits"
)

const (
	sha1Size      = 20
	sha1BlockSize = 64
)

const (
	sha1K0 = 0x5a827999
	sha1K1 = 0x6ed9eba1
	sha1K2 = 0x8f1bbcdc
	sha1K3 = 0xca62c1d6
)

// sha1Digest is a from-scratch streaming SHA-1 (FIPS 180-1).
type sha1Digest struct {
	h   [5]uint32
	x   [sha1BlockSize]byte
	nx  int
	len uint64
}

// NewSHA1 returns the pure-Go streaming SHA-1.
func NewSHA1() hash.Hash {
	d := &sha1Digest{}
	d.Reset()
	return d
}

func (d *sha1Digest) Reset() {
	d.h = [5]uint32{0x67452301, 0xefcdab89, 0x98badcfe, 0x10325476, 0xc3d2e1f0}
	d.nx = 0
	d.len = 0
}

func (d *sha1Digest) Size() int { return sha1Size }

func (d *sha1Digest) BlockSize() int { return sha1BlockSize }

func (d *sha1Digest) Write(p []byte) (int, error) {
	n := len(p)
	d.len += uint64(n)
	if d.nx > 0 {
		c := copy(d.x[d.nx:], p)
		d.nx += c
		p = p[c:]
		if d.nx == sha1BlockSize {
			d.block(d.x[:])
			d.nx = 0
		}
	}
	if len(p) >= sha1BlockSize {
		full := len(p) &^ (sha1BlockSize - 1)
		d.block(p[:full])
		p = p[full:]
	}
	if len(p) > 0 {
		d.nx = copy(d.x[:], p)
	}
	return n, nil
}

func (d *sha1Digest) Sum(in []byte) []byte {
	c := *d
	var tmp [sha1BlockSize + 8]byte
	tmp[0] = 0x80
	pad := 56 - int(c.len%sha1BlockSize)
	if pad <= 0 {
		pad += sha1BlockSize
	}
	binary.BigEndian.PutUint64(tmp[pad:], c.len<<3)
	c.Write(tmp[:pad+8])

	var out [sha1Size]byte
	for i, v := range c.h {
		binary.BigEndian.PutUint32(out[i*4:], v)
	}
	return append(in, out[:]...)
}

func (d *sha1Digest) block(p []byte) {
	var w [80]uint32
	for len(p) >= sha1BlockSize {
		for i := 0; i < 16; i++ {
			w[i] = binary.BigEndian.Uint32(p[i*4:])
		}
		for i := 16; i < 80; i++ {
			w[i] = bits.RotateLeft32(w[i-3]^w[i-8]^w[i-14]^w[i-16], 1)
		}

		a, b, c, dd, e := d.h[0], d.h[1], d.h[2], d.h[3], d.h[4]
		for i := 0; i < 80; i++ {
			var f, k uint32
			switch {
			case i < 20:
				f = (b & c) | (^b & dd)
				k = sha1K0
			case i < 40:
				f = b ^ c ^ dd
				k = sha1K1
			case i < 60:
				f = (b & c) | (b & dd) | (c & dd)
				k = sha1K2
			default:
				f = b ^ c ^ dd
				k = sha1K3
			}
			t := bits.RotateLeft32(a, 5) + f + e + k + w[i]
			e = dd
			dd = c
			c = bits.RotateLeft32(b, 30)
			b = a
			a = t
		}

		d.h[0] += a
		d.h[1] += b
		d.h[2] += c
		d.h[3] += dd
		d.h[4] += e
		p = p[sha1BlockSize:]
	}
}
