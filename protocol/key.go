package protocol

import (
	"net/url"
	"strconv"
)

// IsValidKey reports whether key can be sent in a text protocol get command.
func IsValidKey(key string) bool {
	if len(key) == 0 || len(key) > MaxKeyLength {
		return false
	}

	for _, b := range []byte(key) {
		if b <= 32 || b == 127 {
			return false
		}
	}

	return true
}

// DecodeListingKey decodes a key as printed by the LRU crawler, which
// percent-encodes every byte outside [A-Za-z0-9-._~].
func DecodeListingKey(raw []byte) (string, error) {
	for _, b := range raw {
		if b == '%' {
			return url.PathUnescape(string(raw))
		}
	}
	return string(raw), nil
}

// AppendListingLine appends entry to dst as a metadump line that
// ListingParser reads back.
func AppendListingLine(dst []byte, entry ListingEntry) []byte {
	dst = append(dst, MarkerKey...)
	dst = append(dst, url.PathEscape(entry.Key)...)
	dst = append(dst, ' ')
	dst = append(dst, MarkerExpiry...)
	dst = strconv.AppendInt(dst, int64(entry.Expiry), 10)
	dst = append(dst, ' ')
	dst = append(dst, MarkerLastAccess...)
	dst = strconv.AppendInt(dst, entry.LastAccess, 10)
	return append(dst, RecordEnd...)
}
