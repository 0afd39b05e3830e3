package store

import "encoding/binary"

// Namespace returns the length-prefixed encoding of name, so that one
// namespace can never be a byte prefix of another.
func Namespace(name string) []byte {
	out := make([]byte, 2, 2+len(name))
	binary.BigEndian.PutUint16(out, uint16(len(name)))
	return append(out, name...)
}

// Key joins a namespace with length-prefixed components followed by a raw
// trailing component.
func Key(namespace string, parts ...[]byte) []byte {
	k := Namespace(namespace)
	for i, p := range parts {
		if i < len(parts)-1 {
			var n [2]byte
			binary.BigEndian.PutUint16(n[:], uint16(len(p)))
			k = append(k, n[:]...)
		}
		k = append(k, p...)
	}
	return k
}

// Uint64Key encodes n big-endian so byte order matches numeric order.
func Uint64Key(n uint64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], n)
	return b[:]
}

// PrefixEnd returns the smallest key greater than every key starting with
// prefix, or nil if no such key exists.
func PrefixEnd(prefix []byte) []byte {
	end := append([]byte(nil), prefix...)
	for i := len(end) - 1; i >= 0; i-- {
		if end[i] < 0xff {
			end[i]++
			return end[:i+1]
		}
	}
	return nil
}

func concat(a, b []byte) []byte {
	out := make([]byte, 0, len(a)+len(b))
	out = append(out, a...)
	return append(out, b...)
}
