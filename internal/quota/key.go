package quota

import (
	"crypto/md5" //nolint:gosec // key derivation, not a security boundary
	"encoding"
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"reflect"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"
)

const (
	DefaultKeyPrefix  = "tj"
	DefaultHashLength = 12
)

// HashAlgorithm names the digest used to shorten subjects into keys.
type HashAlgorithm string

const (
	// HashMD5 produces base64(md5(subject)), the layout of existing "tj:" keys.
	HashMD5 HashAlgorithm = "md5"
	// HashXXH64 produces unpadded base64url(xxhash64(subject)).
	HashXXH64 HashAlgorithm = "xxh64"
)

// ParseHashAlgorithm resolves a configured algorithm name. Empty selects md5.
func ParseHashAlgorithm(name string) (HashAlgorithm, error) {
	switch HashAlgorithm(strings.ToLower(name)) {
	case "", HashMD5:
		return HashMD5, nil
	case HashXXH64, "xxhash":
		return HashXXH64, nil
	default:
		return "", fmt.Errorf("unknown hash algorithm %q", name)
	}
}

// KeyDeriver turns (action, subject) into prefix:action:truncated-hash.
type KeyDeriver struct {
	Prefix     string
	HashLength int
	Algorithm  HashAlgorithm
}

// DefaultKeyDeriver returns the tj / 12 / md5 layout.
func DefaultKeyDeriver() KeyDeriver {
	return KeyDeriver{
		Prefix:     DefaultKeyPrefix,
		HashLength: DefaultHashLength,
		Algorithm:  HashMD5,
	}
}

// Derive builds the store key. Callers must reject empty input first.
func (d KeyDeriver) Derive(action string, subject []byte) string {
	hash := d.digest(subject)
	if d.HashLength > 0 && d.HashLength < len(hash) {
		hash = hash[:d.HashLength]
	}

	return d.Prefix + ":" + action + ":" + hash
}

func (d KeyDeriver) digest(subject []byte) string {
	if d.Algorithm == HashXXH64 {
		var sum [8]byte
		binary.BigEndian.PutUint64(sum[:], xxhash.Sum64(subject))

		return base64.RawURLEncoding.EncodeToString(sum[:])
	}

	sum := md5.Sum(subject) //nolint:gosec // see import

	return base64.StdEncoding.EncodeToString(sum[:])
}

// SubjectBytes serializes a subject for hashing. Strings, byte slices,
// text marshalers, stringers and integers are accepted.
func SubjectBytes(subject any) ([]byte, error) {
	var b []byte

	switch v := subject.(type) {
	case nil:
		return nil, ErrSubjectRequired
	case string:
		b = []byte(v)
	case []byte:
		b = v
	case encoding.TextMarshaler:
		text, err := v.MarshalText()
		if err != nil {
			return nil, fmt.Errorf("marshal subject: %w", err)
		}

		b = text
	case fmt.Stringer:
		b = []byte(v.String())
	default:
		rv := reflect.ValueOf(subject)

		switch rv.Kind() {
		case reflect.String:
			b = []byte(rv.String())
		case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
			b = strconv.AppendInt(nil, rv.Int(), 10)
		case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
			b = strconv.AppendUint(nil, rv.Uint(), 10)
		default:
			return nil, fmt.Errorf("%w: %T", ErrUnsupportedSubject, subject)
		}
	}

	if len(b) == 0 {
		return nil, ErrSubjectRequired
	}

	return b, nil
}
