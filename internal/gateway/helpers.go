package gateway

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	"github.com/fetchwell/ingestcore/internal/envelope"
)

func marshalEnvelope(e *envelope.Envelope) ([]byte, error) {
	return json.Marshal(e)
}

func sha256Hex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
