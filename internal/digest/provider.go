package digest

import (
	"bytes"
	"crypto/md5"
	"crypto/sha1"
	"encoding"
	"encoding/hex"
	"hash"
	"sync"
)

// Provider supplies MD5 and SHA-1 implementations.
type Provider interface {
	Name() string
	NewMD5() hash.Hash
	NewSHA1() hash.Hash
}

type pureProvider struct{}

func (pureProvider) Name() string { return "pure" }
func (pureProvider) NewMD5() hash.Hash { return NewMD5() }
func (pureProvider) NewSHA1() hash.Hash { return NewSHA1() }

type nativeProvider struct{}

func (nativeProvider) Name() string { return "native" }
func (nativeProvider) NewMD5() hash.Hash { return md5.New() }
func (nativeProvider) NewSHA1() hash.Hash { return sha1.New() }

var (
	// Pure is the from-scratch implementation. Always available.
	Pure Provider = pureProvider{}

	// Native delegates to crypto/md5 and crypto/sha1.
	Native Provider = nativeProvider{}
)

// Known-answer vectors for "abc".
const (
	md5ABC  = "900150983cd24fb0d6963f7d28e17f72"
	sha1ABC = "a9993e364706816aba3e25717850c26c9cd0d89d"
)

// nativeAvailable probes the runtime digests once. A FIPS-only runtime may
// refuse MD5 and SHA-1, which shows up as a panic here.
var nativeAvailable = sync.OnceValue(func() (ok bool) {
	defer func() {
		if recover() != nil {
			ok = false
		}
	}()
	return probe(Native)
})

func probe(p Provider) bool {
	m := p.NewMD5()
	m.Write([]byte("abc"))
	s := p.NewSHA1()
	s.Write([]byte("abc"))
	return hex.EncodeToString(m.Sum(nil)) == md5ABC && hex.EncodeToString(s.Sum(nil)) == sha1ABC
}

// SelectProvider returns Native when preferNative is set and the runtime
// digests pass the known-answer probe, otherwise Pure.
func SelectProvider(preferNative bool) Provider {
	if preferNative && nativeAvailable() {
		return Native
	}
	return Pure
}

// cloneHash copies the running state of h without finalizing it.
func cloneHash(h hash.Hash, fresh func() hash.Hash) hash.Hash {
	switch v := h.(type) {
	case *sha1Digest:
		c := *v
		return &c
	case *md5Digest:
		c := *v
		return &c
	}
	m, ok := h.(encoding.BinaryMarshaler)
	if !ok {
		panic("digest: hash state cannot be copied")
	}
	state, err := m.MarshalBinary()
	if err != nil {
		panic("digest: " + err.Error())
	}
	c := fresh()
	u, ok := c.(encoding.BinaryUnmarshaler)
	if !ok {
		panic("digest: hash state cannot be restored")
	}
	if err := u.UnmarshalBinary(bytes.Clone(state)); err != nil {
		panic("digest: " + err.Error())
	}
	return c
}
