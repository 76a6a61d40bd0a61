package session

import (
	"crypto/sha1"
	"encoding/hex"
	"strconv"
	"strings"
	"time"
	"unicode"
)

// fingerprintBucket is the timestamp granularity folded into chunk
// fingerprints. Replays of the same utterance land in the same bucket even
// when the sender's clock jitters by a few hundred milliseconds.
const fingerprintBucket = 2 * time.Second

// Fingerprint derives the dedup key for a transcript chunk: a SHA-1 over the
// normalised text and the 2-second bucket of its timestamp. Identical text in
// different buckets is a legitimate repeat ("yes ... yes"), not a replay.
func Fingerprint(text string, ts time.Time) string {
	bucket := ts.UnixNano() / int64(fingerprintBucket)
	sum := sha1.Sum([]byte(normalizeText(text) + "|" + strconv.FormatInt(bucket, 10)))
	return hex.EncodeToString(sum[:])
}

// normalizeText lowercases, strips punctuation, and collapses runs of
// whitespace so cosmetic differences between retransmissions hash equal.
func normalizeText(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	lastSpace := true
	for _, r := range strings.ToLower(s) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
			lastSpace = false
		case unicode.IsSpace(r):
			if !lastSpace {
				b.WriteByte(' ')
				lastSpace = true
			}
		}
	}
	return strings.TrimSpace(b.String())
}
