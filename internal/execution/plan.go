package execution

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

// Plan statuses recorded by the store. A ready plan has everything
// submission needs; a blocked plan carries a quote shortfall and stays
// blocked until it is rebuilt with a better quote or a wider slippage
// tolerance.
const (
	PlanStatusReady   = "ready"
	PlanStatusBlocked = "blocked"
)

func NewPlanID() string {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "plan-unknown"
	}
	return fmt.Sprintf("plan_%s", hex.EncodeToString(b))
}
