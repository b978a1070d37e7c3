package digest

import (
	"encoding/binary"
	"hash"
	"math/bits"
)

const (
	md5Size      = 16
	md5BlockSize = 64
)

// md5K holds floor(abs(sin(i+1)) * 2^32), the per-round additive constants.
var md5K = [64]uint32{
	0xd76aa478, 0xe8c7b756, 0x242070db, 0xc1bdceee, 0xf57c0faf, 0x4787c62a, 0xa8304613, 0xfd469501,
	0x698098d8, 0x8b44f7af, 0xffff5bb1, 0x895cd7be, 0x6b901122, 0xfd987193, 0xa679438e, 0x49b40821,
	0xf61e2562, 0xc040b340, 0x265e5a51, 0xe9b6c7aa, 0xd62f105d, 0x02441453, 0xd8a1e681, 0xe7d3fbc8,
	0x21e1cde6, 0xc33707d6, 0xf4d50d87, 0x455a14ed, 0xa9e3e905, 0xfcefa3f8, 0x676f02d9, 0x8d2a4c8a,
	0xfffa3942, 0x8771f681, 0x6d9d6122, 0xfde5380c, 0xa4beea44, 0x4bdecfa9, 0xf6bb4b60, 0xbebfbc70,
	0x289b7ec6, 0xeaa127fa, 0xd4ef3085, 0x04881d05, 0xd9d4d039, 0xe6db99e5, 0x1fa27cf8, 0xc4ac5665,
	0xf4292244, 0x432aff97, 0xab9423a7, 0xfc93a039, 0x655b59c3, 0x8f0ccc92, 0xffeff47d, 0x85845dd1,
	0x6fa87e4f, 0xfe2ce6e0, 0xa3014314, 0x4e0811a1, 0xf7537e82, 0xbd3af235, 0x2ad7d2bb, 0xeb86d391,
}

// md5Shift holds the per-round left rotation amounts.
var md5Shift = [64]int{
	7, 12, 17, 22, 7, 12, 17, 22, 7, 12, 17, 22, 7, 12, 17, 22,
	5, 9, 14, 20, 5, 9, 14, 20, 5, 9, 14, 20, 5, 9, 14, 20,
	4, 11, 16, 23, 4, 11, 16, 23, 4, 11, 16, 23, 4, 11, 16, 23,
	6, 10, 15, 21, 6, 10, 15, 21, 6, 10, 15, 21, 6, 10, 15, 21,
}

// md5Digest is a from-scratch streaming MD5 (RFC 1321).
type md5Digest struct {
	s   [4]uint32
	x   [md5BlockSize]byte
	nx  int
	len uint64
}

// NewMD5 returns the pure-Go streaming MD5. It does not depend on crypto/md5,
// so it keeps working where the runtime refuses non-approved algorithms.
func NewMD5() hash.Hash {
	d := &md5Digest{}
	d.Reset()
	return d
}

func (d *md5Digest) Reset() {
	d.s = [4]uint32{0x67452301, 0xefcdab89, 0x98badcfe, 0x10325476}
	d.nx = 0
	d.len = 0
}

func (d *md5Digest) Size() int { return md5Size }

func (d *md5Digest) BlockSize() int { return md5BlockSize }

func (d *md5Digest) Write(p []byte) (int, error) {
	n := len(p)
	d.len += uint64(n)
	if d.nx > 0 {
		c := copy(d.x[d.nx:], p)
		d.nx += c
		p = p[c:]
		if d.nx == md5BlockSize {
			d.block(d.x[:])
			d.nx = 0
		}
	}
	if len(p) >= md5BlockSize {
		full := len(p) &^ (md5BlockSize - 1)
		d.block(p[:full])
		p = p[full:]
	}
	if len(p) > 0 {
		d.nx = copy(d.x[:], p)
	}
	return n, nil
}

func (d *md5Digest) Sum(in []byte) []byte {
	// Finalize a copy so the caller can keep writing.
	c := *d
	var tmp [md5BlockSize + 8]byte
	tmp[0] = 0x80
	pad := 56 - int(c.len%md5BlockSize)
	if pad <= 0 {
		pad += md5BlockSize
	}
	binary.LittleEndian.PutUint64(tmp[pad:], c.len<<3)
	c.Write(tmp[:pad+8])

	var out [md5Size]byte
	for i, v := range c.s {
		binary.LittleEndian.PutUint32(out[i*4:], v)
	}
	return append(in, out[:]...)
}

func (d *md5Digest) block(p []byte) {
	var m [16]uint32
	for len(p) >= md5BlockSize {
		for i := range m {
			m[i] = binary.LittleEndian.Uint32(p[i*4:])
		}

		a, b, c, dd := d.s[0], d.s[1], d.s[2], d.s[3]
		for i := 0; i < 64; i++ {
			var f uint32
			var g int
			switch {
			case i < 16:
				f = (b & c) | (^b & dd)
				g = i
			case i < 32:
				f = (dd & b) | (^dd & c)
				g = (5*i + 1) % 16
			case i < 48:
				f = b ^ c ^ dd
				g = (3*i + 5) % 16
			default:
				f = c ^ (b | ^dd)
				g = (7 * i) % 16
			}
			f += a + md5K[i] + m[g]
			a = dd
			dd = c
			c = b
			b += bits.RotateLeft32(f, md5Shift[i])
		}

		d.s[0] += a
		d.s[1] += b
		d.s[2] += c
		d.s[3] += dd
		p = p[md5BlockSize:]
	}
}
