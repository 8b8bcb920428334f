package session

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// OutcomeHash computes the commitment binding a finished match: session id,
// both wallet addresses, both final scores and the start timestamp, joined
// with a literal separator so adjacent fields cannot collide by
// concatenation. Hex-encoded lowercase.
func OutcomeHash(sessionID, localWallet, opponentWallet string, localScore, opponentScore, startMillis int64) string {
	message := fmt.Sprintf("%s|%s|%s|%d|%d|%d",
		sessionID,
		localWallet,
		opponentWallet,
		localScore,
		opponentScore,
		startMillis)

	sum := sha256.Sum256([]byte(message))

	return hex.EncodeToString(sum[:])
}
