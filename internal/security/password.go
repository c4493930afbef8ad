package security

import "golang.org/x/crypto/bcrypt"

// MinCost is the lowest bcrypt work factor a Hasher will use.
const MinCost = 12

// Hasher hashes and verifies passwords with bcrypt. Each hash carries its own
// random salt and cost, so changing the cost does not invalidate stored hashes.
type Hasher struct {
	cost int
	// compared against when the account does not exist
	dummy []byte
}

func NewHasher(cost int) *Hasher {
	if cost < MinCost {
		cost = MinCost
	}
	if cost > bcrypt.MaxCost {
		cost = bcrypt.MaxCost
	}

	dummy, err := bcrypt.GenerateFromPassword([]byte("storefront-dummy-password"), cost)
	if err != nil {
		// only possible for an out-of-range cost, which is clamped above
		panic(err)
	}

	return &Hasher{cost: cost, dummy: dummy}
}

func (h *Hasher) Cost() int {
	return h.cost
}

// Hash hashes a plain text password with bcrypt.
func (h *Hasher) Hash(plain string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(plain), h.cost)

	if err != nil {
		return "", err
	}

	return string(hash), nil
}

// Verify compares a bcrypt hash with a plaintext password.
func (h *Hasher) Verify(hash, plain string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(plain)) == nil
}

// VerifyDummy spends one comparison's worth of CPU so that a lookup miss
// costs about the same as a wrong password.
func (h *Hasher) VerifyDummy(plain string) {
	_ = bcrypt.CompareHashAndPassword(h.dummy, []byte(plain))
}
