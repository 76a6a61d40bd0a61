package session

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/openminutes/openminutes/pkg/types"
)

// meetingIDLen is the length of the derived meeting id in hex characters.
const meetingIDLen = 12

// DeriveMeetingID produces the stable meeting identifier from the platform,
// the meeting URL, and the calendar day (UTC). Reconnects during the same
// call land on the same session; the same recurring meeting on a different
// day gets a fresh one.
func DeriveMeetingID(platform types.MeetingPlatform, meetingURL string, at time.Time) string {
	seed := fmt.Sprintf("%s|%s|%s", platform.Normalize(), meetingURL, at.UTC().Format("2006-01-02"))
	sum := sha1.Sum([]byte(seed))
	return hex.EncodeToString(sum[:])[:meetingIDLen]
}
