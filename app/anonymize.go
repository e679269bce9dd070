package app

import (
	"encoding/hex"

	"github.com/zeebo/blake3"
)

// anonDomainTag provides domain separation: a hash computed here can
// never collide with a keyed hash of the same subject computed for any
// other purpose under the same salt.
var anonDomainTag = []byte("maya.anon.user.v1")

// AnonUserID derives the stable pseudonymous storage key for an
// identity-provider subject. BLAKE3 keyed hash with the process salt;
// deterministic, one-way without the salt, no error path. The raw
// subject id never reaches storage.
func AnonUserID(salt []byte, subject string) string {
	hasher, err := blake3.NewKeyed(salt)
	if err != nil {
		// NewKeyed only fails on a wrong-size key, which LoadSecrets
		// already guarantees against.
		panic("anonymize: BLAKE3 keyed hash init failed: " + err.Error())
	}
	hasher.Write(anonDomainTag)
	hasher.Write([]byte(subject))
	sum := hasher.Sum(nil)
	return hex.EncodeToString(sum[:16])
}
